package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketpulse/signals/engine/events"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream enrichment and batch events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := ctx.ensureEngines(cmd.Context())
			if err != nil {
				return err
			}
			if e.watch == nil {
				return errNoEvents
			}
			out := cmd.OutOrStdout()
			return e.watch(cmd.Context(), func(subject string, ev events.Event[json.RawMessage]) {
				if ctx.jsonOutput {
					_ = writeJSON(cmd, ev)
					return
				}
				fmt.Fprintf(out, "%s  %-28s %s\n", ev.At.Local().Format(time.TimeOnly), subject, ev.Data)
			})
		},
	}
}
