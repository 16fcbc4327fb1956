package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketpulse/signals/engine/batch"
	"github.com/marketpulse/signals/engine/domain"
	"github.com/marketpulse/signals/engine/enrich"
)

// batchFlags are shared by every command that runs the scheduler. Zero
// values fall back to the configured defaults.
type batchFlags struct {
	width int
	delay time.Duration
}

func (f *batchFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.width, "batch-size", 0, "Items processed concurrently per chunk (default from config)")
	cmd.Flags().DurationVar(&f.delay, "delay", -1, "Pause between chunks (default from config)")
}

func (f batchFlags) resolve(e *engines) (int, time.Duration) {
	width, delay := f.width, f.delay
	if width == 0 {
		width = e.width
	}
	if delay < 0 {
		delay = e.delay
	}
	return width, delay
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
		if err != nil || id < 1 {
			return nil, domain.NewValidationError("id", a, domain.ErrOutOfRange)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func newEvaluateCommand(ctx *commandContext) *cobra.Command {
	var (
		bf          batchFlags
		unevaluated bool
		limit       int
		symbol      string
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate [article-id...]",
		Short: "Score articles for expected price impact",
		Long: "Score the named articles, or with --unevaluated the newest articles that have no score yet.\n" +
			"Already scored articles are skipped unless --force is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !unevaluated {
				return domain.NewValidationError("ids", "", domain.ErrMissingIDs)
			}
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			e, err := ctx.ensureEngines(cmd.Context())
			if err != nil {
				return err
			}
			width, delay := bf.resolve(e)

			var sum batch.Summary[int64, enrich.EvaluationReport]
			if unevaluated {
				sum, err = e.evaluator.EvaluateUnevaluated(cmd.Context(), enrich.UnevaluatedRequest{
					Limit: limit, Symbol: symbol, Width: width, Delay: delay,
				})
			} else {
				sum, err = e.evaluator.EvaluateBatch(cmd.Context(), enrich.BatchRequest{
					IDs: ids, Width: width, Delay: delay, Force: force,
				})
			}
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, sum)
			}
			return printSummary(cmd, "evaluate", sum)
		},
	}

	bf.register(cmd)
	cmd.Flags().BoolVar(&unevaluated, "unevaluated", false, "Select the newest unscored articles instead of explicit ids")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum articles selected with --unevaluated (1-200)")
	cmd.Flags().StringVar(&symbol, "symbol", "", "Only select articles about this ticker")
	cmd.Flags().BoolVar(&force, "force", false, "Re-score articles that already have a score")
	return cmd
}

func newTranslateCommand(ctx *commandContext) *cobra.Command {
	var (
		bf           batchFlags
		limit        int
		untranslated bool
		force        bool
	)

	cmd := &cobra.Command{
		Use:   "translate [article-id...]",
		Short: "Translate article bodies into the configured target language",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			e, err := ctx.ensureEngines(cmd.Context())
			if err != nil {
				return err
			}
			width, delay := bf.resolve(e)
			sum, err := e.translator.TranslateBatch(cmd.Context(), enrich.TranslateRequest{
				IDs:              ids,
				Limit:            limit,
				UntranslatedOnly: untranslated,
				Force:            force,
				BatchSize:        width,
				Delay:            delay,
			})
			if err != nil {
				return err
			}
			if ctx.jsonOutput {
				return writeJSON(cmd, sum)
			}
			return printSummary(cmd, "translate", sum)
		},
	}

	bf.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum articles selected when no ids are given (default 50)")
	cmd.Flags().BoolVar(&untranslated, "untranslated", true, "Only select articles without a translation")
	cmd.Flags().BoolVar(&force, "force", false, "Translate again even when a translation exists")
	return cmd
}
