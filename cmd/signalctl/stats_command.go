package main

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show enrichment coverage of stored articles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := ctx.ensureEngines(cmd.Context())
			if err != nil {
				return err
			}
			st, err := e.stats.EvaluationStats(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, st)
			}

			rows := [][]string{
				{"Articles", strconv.FormatInt(st.Total, 10)},
				{"Evaluated", strconv.FormatInt(st.Evaluated, 10)},
				{"Unevaluated", strconv.FormatInt(st.Unevaluated, 10)},
				{"Evaluation rate", fmt.Sprintf("%.1f%%", st.EvaluationRate)},
				{"Average score", fmt.Sprintf("%.3f", st.AverageScore)},
				{"Translated", strconv.FormatInt(st.Translated, 10)},
			}
			dirs := make([]string, 0, len(st.ByDirection))
			for d := range st.ByDirection {
				dirs = append(dirs, d)
			}
			slices.Sort(dirs)
			for _, d := range dirs {
				rows = append(rows, []string{"  " + d, strconv.FormatInt(st.ByDirection[d], 10)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}
