package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/marketpulse/signals/engine/domain"
	"github.com/marketpulse/signals/pkg/llm"
)

// AnalysisType selects the focus of a comparison.
type AnalysisType string

const (
	AnalysisComprehensive AnalysisType = "comprehensive"
	AnalysisValuation     AnalysisType = "valuation"
	AnalysisProfitability AnalysisType = "profitability"
)

// ParseAnalysisType maps unrecognised values to AnalysisComprehensive.
func ParseAnalysisType(s string) AnalysisType {
	switch t := AnalysisType(strings.ToLower(strings.TrimSpace(s))); t {
	case AnalysisValuation, AnalysisProfitability:
		return t
	default:
		return AnalysisComprehensive
	}
}

// Comparison is the model's side-by-side analysis of two stocks.
type Comparison struct {
	IDA          string       `json:"id_a"`
	IDB          string       `json:"id_b"`
	AnalysisType AnalysisType `json:"analysis_type"`
	Text         string       `json:"comparison"`
	Timestamp    time.Time    `json:"timestamp"`
	A            domain.Stock `json:"stock_a"`
	B            domain.Stock `json:"stock_b"`
}

// StockReader loads current stock snapshots.
type StockReader interface {
	GetStocks(ctx context.Context, symbols []string) (map[string]domain.Stock, error)
}

const comparisonSystemPrompt = "You are an equity research analyst. Compare the two companies using only the figures provided. Be specific, cite the numbers, and end with a short balanced conclusion. Do not give investment advice."

// Comparer produces structured comparisons of two stocks. It makes one
// completion call per comparison and does not retry.
type Comparer struct {
	stocks    StockReader
	completer llm.Completer
	params    llm.Params
	now       func() time.Time
	logger    *slog.Logger
}

// NewComparer creates a Comparer. completer should not retry on its own;
// failures are surfaced to the caller as they are.
func NewComparer(stocks StockReader, completer llm.Completer, logger *slog.Logger) *Comparer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Comparer{
		stocks:    stocks,
		completer: completer,
		params:    llm.Params{SystemPrompt: comparisonSystemPrompt, Temperature: 0.3, MaxTokens: 1200},
		now:       time.Now,
		logger:    logger,
	}
}

// Compare fetches both stocks from the store and asks the model to compare
// them. If either symbol is unknown the outcome is NotFound naming it, and
// the model is not called.
func (c *Comparer) Compare(ctx context.Context, idA, idB string, typ AnalysisType) domain.Outcome[Comparison] {
	if err := domain.ValidateIdentifier("id_a", idA); err != nil {
		return domain.Invalid[Comparison](err)
	}
	if err := domain.ValidateIdentifier("id_b", idB); err != nil {
		return domain.Invalid[Comparison](err)
	}
	a, b := strings.ToUpper(strings.TrimSpace(idA)), strings.ToUpper(strings.TrimSpace(idB))
	if a == b {
		return domain.Invalid[Comparison](domain.NewValidationError("id_b", idB, domain.ErrSameIdentifier))
	}
	typ = ParseAnalysisType(string(typ))

	found, err := c.stocks.GetStocks(ctx, []string{a, b})
	if err != nil {
		return domain.Upstream[Comparison]("load stocks", err)
	}
	var missing []string
	for _, id := range []string{a, b} {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		c.logger.Info("comparison target not found", "missing", missing)
		return domain.NotFound[Comparison]("stock", missing...)
	}

	sa, sb := found[a], found[b]
	text, err := c.completer.Complete(ctx, ComparisonPrompt(sa, sb, typ), c.params)
	if err != nil {
		return domain.Upstream[Comparison]("complete", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Upstream[Comparison]("complete", llm.ErrEmptyResponse)
	}
	return domain.Ok(Comparison{
		IDA: a, IDB: b, AnalysisType: typ, Text: text,
		Timestamp: c.now().UTC(), A: sa, B: sb,
	})
}

var analysisFocus = map[AnalysisType]string{
	AnalysisComprehensive: "Give a comprehensive comparison covering business profile, valuation, profitability, financial health and recent price momentum.",
	AnalysisValuation:     "Focus on valuation: P/E, P/B, market capitalisation and dividend yield. State which looks cheaper relative to the other and why.",
	AnalysisProfitability: "Focus on profitability and efficiency: ROE, profit margin and leverage. State which converts capital into earnings more effectively.",
}

// ComparisonPrompt renders the comparison instruction for a and b.
func ComparisonPrompt(a, b domain.Stock, typ AnalysisType) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Compare %s (%s) and %s (%s).\n\n", a.Name, a.Symbol, b.Name, b.Symbol)
	writeFacts(&sb, a)
	writeFacts(&sb, b)
	sb.WriteString("Task: ")
	sb.WriteString(analysisFocus[ParseAnalysisType(string(typ))])
	sb.WriteString("\nStructure the answer with a short heading per aspect.")
	return sb.String()
}

func writeFacts(sb *strings.Builder, s domain.Stock) {
	fmt.Fprintf(sb, "## %s\n", s.Symbol)
	fmt.Fprintf(sb, "Name: %s\n", s.Name)
	if s.Sector != "" {
		fmt.Fprintf(sb, "Sector: %s\n", s.Sector)
	}
	if s.Industry != "" {
		fmt.Fprintf(sb, "Industry: %s\n", s.Industry)
	}
	fmt.Fprintf(sb, "Price: %.2f\n", s.Price)
	if s.ChangePercent != nil {
		fmt.Fprintf(sb, "Change: %+.2f%%\n", *s.ChangePercent)
	}
	if s.MarketCap != nil {
		fmt.Fprintf(sb, "Market cap: %s\n", HumanNumber(*s.MarketCap))
	}
	for _, r := range stockRatios(s) {
		sb.WriteString(r)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}
