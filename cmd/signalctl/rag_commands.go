package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marketpulse/signals/engine/domain"
	"github.com/marketpulse/signals/engine/rag"
)

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var (
		topK   int
		sector string
		symbol string
		kind   string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find stocks and articles similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := ctx.ensureEngines(cmd.Context())
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			results, err := e.searcher.Search(cmd.Context(), query, topK, rag.Filters{
				Sector: sector, Symbol: symbol, Kind: domain.Kind(kind),
			})
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, results)
			}
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "No results")
				return nil
			}
			rows := make([][]string, 0, len(results))
			for i, r := range results {
				rows = append(rows, []string{
					fmt.Sprint(i + 1),
					string(r.Ref.Kind),
					r.Ref.ID,
					truncateCell(r.Name(), 48),
					r.Sector(),
					fmt.Sprintf("%.1f%%", r.Score*100),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Kind", "ID", "Name", "Sector", "Similarity"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "Number of results (1-20)")
	cmd.Flags().StringVar(&sector, "sector", "", "Only match this sector")
	cmd.Flags().StringVar(&symbol, "symbol", "", "Only match this ticker")
	cmd.Flags().StringVar(&kind, "kind", "", "Only match stock or article")
	return cmd
}

func newAskCommand(ctx *commandContext) *cobra.Command {
	var (
		topK   int
		system string
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from retrieved market data",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := ctx.ensureEngines(cmd.Context())
			if err != nil {
				return err
			}
			ans, err := e.asker.Query(cmd.Context(), strings.Join(args, " "), topK, system)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, ans)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, strings.TrimSpace(ans.Response))
			if len(ans.SourceIDs) > 0 {
				fmt.Fprintf(out, "\nSources (%d): %s\n", ans.SourceCount, strings.Join(ans.SourceIDs, ", "))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "Number of records retrieved as context (1-20)")
	cmd.Flags().StringVar(&system, "system-prompt", "", "Override the system prompt")
	return cmd
}

func newCompareCommand(ctx *commandContext) *cobra.Command {
	var analysis string

	cmd := &cobra.Command{
		Use:   "compare <symbol-a> <symbol-b>",
		Short: "Compare two stocks side by side",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := ctx.ensureEngines(cmd.Context())
			if err != nil {
				return err
			}
			out := e.comparer.Compare(cmd.Context(), args[0], args[1], rag.ParseAnalysisType(analysis))
			if !out.Succeeded() {
				return out.Err()
			}
			c := out.Value()
			if ctx.jsonOutput {
				return writeJSON(cmd, c)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s vs %s (%s)\n\n", c.IDA, c.IDB, c.AnalysisType)
			fmt.Fprintln(w, strings.TrimSpace(c.Text))
			return nil
		},
	}

	cmd.Flags().StringVarP(&analysis, "type", "t", string(rag.AnalysisComprehensive), "Analysis type: comprehensive, valuation or profitability")
	return cmd
}
