package main

import (
	"github.com/spf13/cobra"

	"github.com/marketpulse/signals/engine/domain"
	"github.com/marketpulse/signals/engine/index"
)

func newIndexCommand(ctx *commandContext) *cobra.Command {
	var (
		bf     batchFlags
		sector string
		symbol string
		limit  int
	)

	cmd := &cobra.Command{
		Use:       "index <stocks|articles> [id...]",
		Short:     "Embed stocks or articles into the vector index",
		Long:      "Embed the named stocks (by symbol) or articles (by id). With no ids, stocks are selected by --sector and articles by --symbol, newest first.",
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: []string{"stocks", "articles"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ids := args[0], args[1:]
			if kind != "stocks" && kind != "articles" {
				return domain.NewValidationError("kind", kind, domain.ErrUnknownOption)
			}
			e, err := ctx.ensureEngines(cmd.Context())
			if err != nil {
				return err
			}
			width, delay := bf.resolve(e)
			req := index.Request{IDs: ids, Sector: sector, Symbol: symbol, Limit: limit, Width: width, Delay: delay}

			if kind == "stocks" {
				sum, err := e.indexer.IndexStocks(cmd.Context(), req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput {
					return writeJSON(cmd, sum)
				}
				return printSummary(cmd, "index stocks", sum)
			}
			sum, err := e.indexer.IndexArticles(cmd.Context(), req)
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, sum)
			}
			return printSummary(cmd, "index articles", sum)
		},
	}

	bf.register(cmd)
	cmd.Flags().StringVar(&sector, "sector", "", "Only index stocks in this sector")
	cmd.Flags().StringVar(&symbol, "symbol", "", "Only index articles about this ticker")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum records selected when no ids are given")
	return cmd
}
