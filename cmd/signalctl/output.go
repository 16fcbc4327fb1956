package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/marketpulse/signals/engine/batch"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func statusColor(s batch.Status) string {
	switch s {
	case batch.StatusSucceeded:
		return ansiGreen
	case batch.StatusSkipped:
		return ansiYellow
	default:
		return ansiRed
	}
}

func colorize(s, color string, on bool) string {
	if !on || color == "" {
		return s
	}
	return color + s + ansiReset
}

// printSummary writes the counts line and, when any item failed, a table
// of the error preview.
func printSummary[ID comparable, T any](cmd *cobra.Command, op string, sum batch.Summary[ID, T]) error {
	out := cmd.OutOrStdout()
	color := shouldColorize(out)

	line := fmt.Sprintf("%s: %d total, %d successful (%d skipped), %d failed, %.1f%% success",
		op, sum.Total, sum.Successful, sum.Skipped, sum.Failed, sum.SuccessRate())
	switch {
	case sum.Failed == 0:
		line = colorize(line, ansiGreen, color)
	case sum.Successful == 0:
		line = colorize(line, ansiRed, color)
	default:
		line = colorize(line, ansiYellow, color)
	}
	fmt.Fprintln(out, line)

	if len(sum.Errors) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(sum.Errors))
	for _, r := range sum.Errors {
		rows = append(rows, []string{fmt.Sprint(r.ID), colorize(string(r.Status), statusColor(r.Status), color), r.Reason})
	}
	fmt.Fprintln(out, renderTable([]string{"ID", "Status", "Reason"}, rows, nil))
	if sum.Failed > len(sum.Errors) {
		fmt.Fprintf(out, "(%d more failures not shown)\n", sum.Failed-len(sum.Errors))
	}
	return nil
}

func truncateCell(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
