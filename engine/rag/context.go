package rag

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/marketpulse/signals/engine/domain"
	"github.com/marketpulse/signals/pkg/textutil"
)

// NoDataMarker stands in for the result sections when nothing relevant was
// retrieved, so a prompt never silently loses its context.
const NoDataMarker = "No relevant market data was found for this query."

// Context block limits.
const (
	// MaxSnippetRunes bounds the article excerpt in one section.
	MaxSnippetRunes = 300
	// MaxContextRunes bounds the whole block. Sections that would exceed
	// it are omitted and counted in a trailing line.
	MaxContextRunes = 12000
)

const sectionDelimiter = "---"

// BuildContext renders ranked results as a delimited block for a prompt.
// The output depends only on its inputs and their order.
func BuildContext(query string, results []Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Market data relevant to: %s ===\n\n", textutil.Truncate(textutil.Squash(query), 200))
	if len(results) == 0 {
		b.WriteString(NoDataMarker)
		b.WriteString("\n")
		return b.String()
	}

	used := utf8.RuneCountInString(b.String())
	for i, r := range results {
		section := formatSection(i+1, r)
		n := utf8.RuneCountInString(section)
		if used+n > MaxContextRunes && i > 0 {
			fmt.Fprintf(&b, "(%d more results omitted)\n", len(results)-i)
			break
		}
		b.WriteString(section)
		used += n
	}
	return b.String()
}

func formatSection(n int, r Result) string {
	var b strings.Builder
	switch {
	case r.Stock != nil:
		writeStock(&b, n, r)
	case r.Article != nil:
		writeArticle(&b, n, r)
	default:
		fmt.Fprintf(&b, "[%d] %s\nSimilarity: %s\n", n, r.Ref, similarity(r.Score))
	}
	b.WriteString(sectionDelimiter)
	b.WriteString("\n")
	return b.String()
}

func writeStock(b *strings.Builder, n int, r Result) {
	s := r.Stock
	fmt.Fprintf(b, "[%d] %s - %s (stock)\n", n, s.Symbol, s.Name)
	fmt.Fprintf(b, "Similarity: %s\n", similarity(r.Score))
	if s.Sector != "" {
		sector := s.Sector
		if s.Industry != "" {
			sector += " / " + s.Industry
		}
		fmt.Fprintf(b, "Sector: %s\n", sector)
	}
	price := fmt.Sprintf("Price: %.2f", s.Price)
	if s.ChangePercent != nil {
		price += fmt.Sprintf(" (%+.2f%%)", *s.ChangePercent)
	}
	b.WriteString(price + "\n")
	if s.MarketCap != nil {
		fmt.Fprintf(b, "Market cap: %s\n", HumanNumber(*s.MarketCap))
	}
	if ratios := stockRatios(*s); len(ratios) > 0 {
		b.WriteString(strings.Join(ratios, " | "))
		b.WriteString("\n")
	}
}

func writeArticle(b *strings.Builder, n int, r Result) {
	a := r.Article
	fmt.Fprintf(b, "[%d] article %d - %s (news)\n", n, a.ID, textutil.Squash(a.Title))
	fmt.Fprintf(b, "Similarity: %s\n", similarity(r.Score))
	if sym := a.SymbolOr(""); sym != "" {
		fmt.Fprintf(b, "Symbol: %s\n", sym)
	}
	if !a.PublishedAt.IsZero() {
		fmt.Fprintf(b, "Published: %s\n", a.PublishedAt.UTC().Format(time.DateOnly))
	}
	if ev := a.Evaluation; ev != nil {
		fmt.Fprintf(b, "Impact: %.2f %s\n", ev.Score, ev.Direction)
	}
	if snippet := textutil.Truncate(textutil.PlainText(a.Body), MaxSnippetRunes); snippet != "" {
		fmt.Fprintf(b, "Excerpt: %s\n", strings.ReplaceAll(snippet, "\n", " "))
	}
}

// stockRatios formats the ratios that are present. ROE, profit margin
// and dividend yield are stored as fractions.
func stockRatios(s domain.Stock) []string {
	var out []string
	add := func(label string, v *float64, pct bool) {
		if v == nil {
			return
		}
		if pct {
			out = append(out, fmt.Sprintf("%s: %.2f%%", label, *v*100))
			return
		}
		out = append(out, fmt.Sprintf("%s: %.2f", label, *v))
	}
	add("P/E", s.PERatio, false)
	add("P/B", s.PBRatio, false)
	add("ROE", s.ROE, true)
	add("Profit margin", s.ProfitMargin, true)
	add("Dividend yield", s.DividendYield, true)
	add("Debt/Equity", s.DebtToEquity, false)
	return out
}

func similarity(score float32) string {
	return fmt.Sprintf("%.1f%%", float64(score)*100)
}

// HumanNumber abbreviates large values: 2.95T, 310.00B, 12.50M.
func HumanNumber(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1e12:
		return fmt.Sprintf("%.2fT", v/1e12)
	case abs >= 1e9:
		return fmt.Sprintf("%.2fB", v/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%.2fM", v/1e6)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
