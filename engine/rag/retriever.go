// Package rag answers market questions from retrieved records. A query is
// embedded, matched against the vector index, joined with current store
// data, ranked, rendered into a bounded context block and handed to a
// completion model. Two-company comparisons read the store directly.
package rag

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/marketpulse/signals/engine/domain"
	"github.com/marketpulse/signals/engine/semantic"
	"github.com/marketpulse/signals/pkg/fn"
	"github.com/marketpulse/signals/pkg/llm"
)

// Records is the part of the record store hits are joined against.
type Records interface {
	GetStocks(ctx context.Context, symbols []string) (map[string]domain.Stock, error)
	GetArticles(ctx context.Context, ids []int64) (map[int64]domain.Article, error)
}

// Searcher is the vector index as seen by the retriever.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int, filters semantic.Filters) ([]semantic.Hit, error)
}

// Filters narrow a search by index metadata. Empty fields match anything.
type Filters struct {
	Sector string
	Symbol string
	Kind   domain.Kind
}

func (f Filters) index() semantic.Filters {
	out := semantic.Filters{}
	if f.Sector != "" {
		out[semantic.MetaSector] = f.Sector
	}
	if f.Symbol != "" {
		out[semantic.MetaSymbol] = f.Symbol
	}
	if f.Kind != "" {
		out[semantic.MetaKind] = string(f.Kind)
	}
	return out
}

// Result is a ranked hit with the record it points at. Exactly one of
// Stock and Article is set.
type Result struct {
	Ref     domain.Ref        `json:"ref"`
	Score   float32           `json:"similarity_score"`
	Meta    map[string]string `json:"meta,omitempty"`
	Stock   *domain.Stock     `json:"stock,omitempty"`
	Article *domain.Article   `json:"article,omitempty"`
}

// Name is the display name of the backing record.
func (r Result) Name() string {
	switch {
	case r.Stock != nil && r.Stock.Name != "":
		return r.Stock.Name
	case r.Article != nil:
		return r.Article.Title
	default:
		return r.Ref.ID
	}
}

// Sector is the stock's sector, or the indexed sector for articles.
func (r Result) Sector() string {
	if r.Stock != nil {
		return r.Stock.Sector
	}
	return r.Meta[semantic.MetaSector]
}

// Retriever embeds queries and returns enriched, ranked hits.
type Retriever struct {
	embedder llm.Embedder
	index    Searcher
	records  Records
	logger   *slog.Logger
}

func NewRetriever(embedder llm.Embedder, index Searcher, records Records, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, index: index, records: records, logger: logger}
}

type searchIn struct {
	query   string
	topK    int
	filters semantic.Filters
}

// Search returns at most topK results for query, most similar first. Hits
// whose backing record no longer exists are dropped, so fewer than topK
// results may come back even when the index had enough.
func (r *Retriever) Search(ctx context.Context, query string, topK int, f Filters) ([]Result, error) {
	if err := domain.ValidateQuery(query); err != nil {
		return nil, err
	}
	if err := domain.ValidateTopK(topK); err != nil {
		return nil, err
	}

	pipeline := fn.Then(
		fn.Traced("rag.embed_search", r.embedAndSearch),
		fn.Traced("rag.enrich", r.enrich),
	)
	results, err := pipeline(ctx, searchIn{query: query, topK: topK, filters: f.index()}).Unwrap()
	if err != nil {
		return nil, err
	}
	r.logger.Info("rag search done", "top_k", topK, "results", len(results))
	return results, nil
}

type ranked struct {
	hits []semantic.Hit
	topK int
}

func (r *Retriever) embedAndSearch(ctx context.Context, in searchIn) fn.Result[ranked] {
	vec, err := r.embedder.Embed(ctx, in.query)
	if err != nil {
		return fn.Err[ranked](domain.NewUpstreamError("embed query", err))
	}
	hits, err := r.index.Search(ctx, vec, in.topK, in.filters)
	if err != nil {
		return fn.Err[ranked](domain.NewUpstreamError("vector search", err))
	}
	return fn.Ok(ranked{hits: Rank(hits, in.topK), topK: in.topK})
}

func (r *Retriever) enrich(ctx context.Context, in ranked) fn.Result[[]Result] {
	var symbols []string
	var articleIDs []int64
	for _, h := range in.hits {
		switch h.Ref.Kind {
		case domain.KindStock:
			symbols = append(symbols, h.Ref.ID)
		case domain.KindArticle:
			if id, err := strconv.ParseInt(h.Ref.ID, 10, 64); err == nil {
				articleIDs = append(articleIDs, id)
			}
		}
	}

	stocks, err := r.records.GetStocks(ctx, symbols)
	if err != nil {
		return fn.Err[[]Result](domain.NewUpstreamError("load stocks", err))
	}
	articles, err := r.records.GetArticles(ctx, articleIDs)
	if err != nil {
		return fn.Err[[]Result](domain.NewUpstreamError("load articles", err))
	}

	out := fn.FilterMap(in.hits, func(h semantic.Hit) (Result, bool) {
		res := Result{Ref: h.Ref, Score: h.Score, Meta: h.Meta}
		switch h.Ref.Kind {
		case domain.KindStock:
			st, ok := stocks[h.Ref.ID]
			if !ok {
				break
			}
			res.Stock = &st
			return res, true
		case domain.KindArticle:
			id, _ := strconv.ParseInt(h.Ref.ID, 10, 64)
			a, ok := articles[id]
			if !ok {
				break
			}
			res.Article = &a
			return res, true
		}
		r.logger.Debug("rag dropping hit without record", "ref", h.Ref.String())
		return Result{}, false
	})
	return fn.Ok(out)
}

// Rank orders hits by descending score, breaking ties by ref ID and then
// kind, and keeps the first topK. Article IDs compare numerically. The input
// is not modified.
func Rank(hits []semantic.Hit, topK int) []semantic.Hit {
	out := slices.Clone(hits)
	slices.SortStableFunc(out, func(a, b semantic.Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(tieKey(a.Ref), tieKey(b.Ref)); c != 0 {
			return c
		}
		return cmp.Compare(a.Ref.Kind, b.Ref.Kind)
	})
	if topK >= 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// tieKey zero-pads numeric article IDs so "9" sorts before "10".
func tieKey(r domain.Ref) string {
	if r.Kind == domain.KindArticle {
		if n, err := strconv.ParseInt(r.ID, 10, 64); err == nil && n >= 0 {
			return fmt.Sprintf("%020d", n)
		}
	}
	return r.ID
}
