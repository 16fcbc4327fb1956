// Package domain defines the records the engines enrich and retrieve,
// the tagged outcome type returned by single-item operations, and the
// validation gate applied before any external call is made.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the expected price effect of an article.
type Direction string

const (
	DirectionPositive Direction = "positive"
	DirectionNegative Direction = "negative"
	DirectionNeutral  Direction = "neutral"
)

// ParseDirection accepts the three directions case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case DirectionPositive, DirectionNegative, DirectionNeutral:
		return d, nil
	default:
		return "", fmt.Errorf("%w: unknown direction %q", ErrMalformedOutput, s)
	}
}

// Evaluation is the impact assessment of one article. The four fields are
// persisted together or not at all.
type Evaluation struct {
	Score     float64   `json:"score"`
	Direction Direction `json:"direction"`
	Reasoning string    `json:"reasoning"`
	ScoredAt  time.Time `json:"scored_at"`
}

// ClampScore bounds an impact score to [0,1].
func ClampScore(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Article is a news item, optionally tied to a ticker.
type Article struct {
	ID             int64       `json:"id"`
	Symbol         *string     `json:"symbol,omitempty"`
	Title          string      `json:"title"`
	Body           string      `json:"body"`
	SourceURL      string      `json:"source_url"`
	PublishedAt    time.Time   `json:"published_at"`
	Language       string      `json:"language"`
	TranslatedBody *string     `json:"translated_body,omitempty"`
	Evaluation     *Evaluation `json:"evaluation,omitempty"`
}

// Evaluated reports whether the article carries a complete evaluation.
func (a Article) Evaluated() bool { return a.Evaluation != nil }

// Translated reports whether a non-blank translation exists.
func (a Article) Translated() bool {
	return a.TranslatedBody != nil && strings.TrimSpace(*a.TranslatedBody) != ""
}

// SymbolOr returns the ticker or fallback for general news.
func (a Article) SymbolOr(fallback string) string {
	if a.Symbol == nil || *a.Symbol == "" {
		return fallback
	}
	return *a.Symbol
}

// Stock is the current snapshot of a listed company. Ratios the source did
// not report are nil rather than zero.
type Stock struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name"`
	Sector        string    `json:"sector"`
	Industry      string    `json:"industry,omitempty"`
	Price         float64   `json:"price"`
	ChangePercent *float64  `json:"change_percent,omitempty"`
	MarketCap     *float64  `json:"market_cap,omitempty"`
	Volume        *int64    `json:"volume,omitempty"`
	PERatio       *float64  `json:"pe_ratio,omitempty"`
	PBRatio       *float64  `json:"pb_ratio,omitempty"`
	DividendYield *float64  `json:"dividend_yield,omitempty"`
	ROE           *float64  `json:"roe,omitempty"`
	ProfitMargin  *float64  `json:"profit_margin,omitempty"`
	DebtToEquity  *float64  `json:"debt_to_equity,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Kind names the entity type behind an embedding.
type Kind string

const (
	KindStock   Kind = "stock"
	KindArticle Kind = "article"
)

// Ref identifies an embedded entity. For stocks ID is the symbol, for
// articles the decimal article ID.
type Ref struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

func (r Ref) String() string { return string(r.Kind) + ":" + r.ID }

// Float returns a pointer to v, for populating optional fields.
func Float(v float64) *float64 { return &v }

// String returns a pointer to s.
func String(s string) *string { return &s }
