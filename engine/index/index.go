// Package index embeds stocks and articles and writes them to the vector
// index. Indexing runs through the batch scheduler, so it is paced and
// isolated per item like enrichment.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/marketpulse/signals/engine/batch"
	"github.com/marketpulse/signals/engine/domain"
	"github.com/marketpulse/signals/engine/graph"
	"github.com/marketpulse/signals/engine/semantic"
	"github.com/marketpulse/signals/engine/store"
	"github.com/marketpulse/signals/pkg/llm"
	"github.com/marketpulse/signals/pkg/textutil"
)

// MaxArticleRunes bounds the article text sent for embedding.
const MaxArticleRunes = 6000

// Category metadata values.
const (
	CategoryProfile = "profile"
	CategoryNews    = "news"
)

// Source is the part of the record store the indexer reads.
type Source interface {
	GetStock(ctx context.Context, symbol string) (domain.Stock, error)
	ListStocks(ctx context.Context, sector string, limit int) ([]domain.Stock, error)
	GetArticle(ctx context.Context, id int64) (domain.Article, error)
	SelectArticleIDs(ctx context.Context, sel store.Selector) ([]int64, error)
}

// Writer is the part of the vector index the indexer writes to.
type Writer interface {
	Upsert(ctx context.Context, records []semantic.Record) error
}

// CompanyGraph receives company nodes for indexed stocks.
type CompanyGraph interface {
	SaveCompanies(ctx context.Context, companies []graph.Company) (int, error)
}

// Report is the outcome payload of indexing one entity.
type Report struct {
	Ref        domain.Ref        `json:"ref"`
	Dimensions int               `json:"dimensions"`
	Meta       map[string]string `json:"meta"`
}

// Request selects what to index. IDs, when set, are symbols for stocks
// and decimal article ids for articles.
type Request struct {
	IDs    []string
	Sector string
	Symbol string
	Limit  int
	Width  int
	Delay  time.Duration
}

// Indexer owns embedding writes. It is safe for concurrent use.
type Indexer struct {
	source    Source
	embedder  llm.Embedder
	index     Writer
	scheduler *batch.Scheduler
	graph     CompanyGraph
	dims      int
	logger    *slog.Logger
}

type Option func(*Indexer)

// WithGraph mirrors indexed stocks into the company graph.
func WithGraph(g CompanyGraph) Option { return func(x *Indexer) { x.graph = g } }

// WithDimensions rejects embeddings of any other length.
func WithDimensions(n int) Option { return func(x *Indexer) { x.dims = n } }

func WithLogger(l *slog.Logger) Option { return func(x *Indexer) { x.logger = l } }

func New(source Source, embedder llm.Embedder, index Writer, scheduler *batch.Scheduler, opts ...Option) *Indexer {
	x := &Indexer{source: source, embedder: embedder, index: index, scheduler: scheduler, logger: slog.Default()}
	for _, o := range opts {
		o(x)
	}
	if x.scheduler == nil {
		x.scheduler = batch.New(batch.WithLogger(x.logger))
	}
	return x
}

// IndexStock embeds the profile of one stock.
func (x *Indexer) IndexStock(ctx context.Context, symbol string) domain.Outcome[Report] {
	st, err := x.source.GetStock(ctx, symbol)
	if err != nil {
		return domain.FromError[Report]("load stock", err)
	}
	meta := map[string]string{
		semantic.MetaSymbol:   st.Symbol,
		semantic.MetaSector:   st.Sector,
		semantic.MetaCategory: CategoryProfile,
	}
	out := x.write(ctx, domain.Ref{Kind: domain.KindStock, ID: st.Symbol}, StockText(st), meta)
	if out.Kind() == domain.OutcomeOK && x.graph != nil {
		if _, err := x.graph.SaveCompanies(ctx, []graph.Company{graph.CompanyOf(st)}); err != nil {
			x.logger.Warn("index: company graph update failed", "symbol", st.Symbol, "err", err)
		}
	}
	return out
}

// IndexArticle embeds one article's title and plain-text body.
func (x *Indexer) IndexArticle(ctx context.Context, id int64) domain.Outcome[Report] {
	a, err := x.source.GetArticle(ctx, id)
	if err != nil {
		return domain.FromError[Report]("load article", err)
	}
	text := ArticleText(a)
	if text == "" {
		return domain.Invalid[Report](domain.NewValidationError("body", strconv.FormatInt(id, 10), domain.ErrEmptyBody))
	}
	meta := map[string]string{
		semantic.MetaSymbol:   a.SymbolOr(""),
		semantic.MetaCategory: CategoryNews,
	}
	if a.Evaluation != nil {
		meta["direction"] = string(a.Evaluation.Direction)
	}
	return x.write(ctx, domain.Ref{Kind: domain.KindArticle, ID: strconv.FormatInt(id, 10)}, text, meta)
}

func (x *Indexer) write(ctx context.Context, ref domain.Ref, text string, meta map[string]string) domain.Outcome[Report] {
	vec, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return domain.Upstream[Report]("embed", err)
	}
	if x.dims > 0 && len(vec) != x.dims {
		return domain.Upstream[Report]("embed", fmt.Errorf("embedding has %d dimensions, want %d", len(vec), x.dims))
	}
	if err := x.index.Upsert(ctx, []semantic.Record{{Ref: ref, Vector: vec, Meta: meta}}); err != nil {
		return domain.Upstream[Report]("upsert", err)
	}
	x.logger.Debug("indexed", "ref", ref.String(), "dims", len(vec))
	return domain.Ok(Report{Ref: ref, Dimensions: len(vec), Meta: meta})
}

// IndexStocks embeds the requested symbols, or every stock (optionally of
// one sector, up to Limit) when none are named.
func (x *Indexer) IndexStocks(ctx context.Context, req Request) (batch.Summary[string, Report], error) {
	ids := req.IDs
	if len(ids) == 0 {
		if err := domain.ValidateBatchParams(req.Width, req.Delay); err != nil {
			return batch.Summary[string, Report]{}, err
		}
		stocks, err := x.source.ListStocks(ctx, req.Sector, req.Limit)
		if err != nil {
			return batch.Summary[string, Report]{}, domain.NewUpstreamError("list stocks", err)
		}
		for _, st := range stocks {
			ids = append(ids, st.Symbol)
		}
	}
	job := batch.Job[string]{IDs: ids, Width: req.Width, Delay: req.Delay}
	return batch.RunPaged(ctx, x.scheduler, "index_stock", job, x.IndexStock)
}

// IndexArticles embeds the requested article ids, or the newest articles
// (optionally for one symbol, up to Limit) when none are named.
func (x *Indexer) IndexArticles(ctx context.Context, req Request) (batch.Summary[int64, Report], error) {
	var zero batch.Summary[int64, Report]
	if err := domain.ValidateBatchParams(req.Width, req.Delay); err != nil {
		return zero, err
	}
	var ids []int64
	for _, s := range req.IDs {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return zero, domain.NewValidationError("ids", s, domain.ErrOutOfRange)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		var err error
		ids, err = x.source.SelectArticleIDs(ctx, store.Selector{Symbol: req.Symbol, Limit: req.Limit})
		if err != nil {
			return zero, domain.NewUpstreamError("select articles", err)
		}
	}
	job := batch.Job[int64]{IDs: ids, Width: req.Width, Delay: req.Delay}
	return batch.RunPaged(ctx, x.scheduler, "index_article", job, x.IndexArticle)
}

// StockText is the embedded description of a stock.
func StockText(s domain.Stock) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", s.Name, s.Symbol)
	if s.Sector != "" {
		fmt.Fprintf(&b, " is a %s company", s.Sector)
		if s.Industry != "" {
			fmt.Fprintf(&b, " in %s", s.Industry)
		}
	}
	b.WriteString(".")
	if s.MarketCap != nil {
		fmt.Fprintf(&b, " Market cap %.0f.", *s.MarketCap)
	}
	if s.PERatio != nil {
		fmt.Fprintf(&b, " P/E %.2f.", *s.PERatio)
	}
	if s.DividendYield != nil {
		fmt.Fprintf(&b, " Dividend yield %.2f%%.", *s.DividendYield*100)
	}
	return b.String()
}

// ArticleText is the embedded text of an article: title, then body, with
// markup removed and length bounded.
func ArticleText(a domain.Article) string {
	title := textutil.Squash(a.Title)
	body := textutil.PlainText(a.Body)
	if body == "" {
		return ""
	}
	return textutil.Truncate(title+"\n\n"+body, MaxArticleRunes)
}
