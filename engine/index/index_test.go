package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marketpulse/signals/engine/batch"
	"github.com/marketpulse/signals/engine/domain"
	"github.com/marketpulse/signals/engine/graph"
	"github.com/marketpulse/signals/engine/semantic"
	"github.com/marketpulse/signals/engine/store"
	"github.com/marketpulse/signals/pkg/llm"
)

type memSource struct {
	stocks   map[string]domain.Stock
	articles map[int64]domain.Article
	sel      store.Selector
}

func (m *memSource) GetStock(_ context.Context, symbol string) (domain.Stock, error) {
	st, ok := m.stocks[symbol]
	if !ok {
		return domain.Stock{}, domain.NewNotFoundError("stock", symbol)
	}
	return st, nil
}

func (m *memSource) ListStocks(_ context.Context, sector string, _ int) ([]domain.Stock, error) {
	var out []domain.Stock
	for _, sym := range []string{"AAPL", "JPM", "MSFT"} {
		if st, ok := m.stocks[sym]; ok && (sector == "" || st.Sector == sector) {
			out = append(out, st)
		}
	}
	return out, nil
}

func (m *memSource) GetArticle(_ context.Context, id int64) (domain.Article, error) {
	a, ok := m.articles[id]
	if !ok {
		return domain.Article{}, domain.NewNotFoundError("article", fmt.Sprint(id))
	}
	return a, nil
}

func (m *memSource) SelectArticleIDs(_ context.Context, sel store.Selector) ([]int64, error) {
	m.sel = sel
	return []int64{1, 2}, nil
}

type memIndex struct {
	mu      sync.Mutex
	records []semantic.Record
	err     error
}

func (m *memIndex) Upsert(_ context.Context, records []semantic.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, records...)
	return nil
}

type memGraph struct {
	mu    sync.Mutex
	saved []graph.Company
}

func (m *memGraph) SaveCompanies(_ context.Context, cs []graph.Company) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, cs...)
	return len(cs), nil
}

func fixedEmbedder(dims int) llm.Embedder {
	return llm.EmbedderFunc(func(context.Context, string) ([]float32, error) {
		return make([]float32, dims), nil
	})
}

func noSleep(context.Context, time.Duration) error { return nil }

func newSource() *memSource {
	return &memSource{
		stocks: map[string]domain.Stock{
			"AAPL": {Symbol: "AAPL", Name: "Apple Inc.", Sector: "Technology", Industry: "Consumer Electronics"},
			"MSFT": {Symbol: "MSFT", Name: "Microsoft", Sector: "Technology"},
			"JPM":  {Symbol: "JPM", Name: "JPMorgan Chase", Sector: "Financials"},
		},
		articles: map[int64]domain.Article{
			1: {ID: 1, Symbol: domain.String("AAPL"), Title: "Apple event", Body: "<p>New phones.</p>"},
			2: {ID: 2, Title: "Empty", Body: "   "},
		},
	}
}

func TestIndexStock(t *testing.T) {
	idx, g := &memIndex{}, &memGraph{}
	x := New(newSource(), fixedEmbedder(4), idx, nil, WithGraph(g), WithDimensions(4))

	out := x.IndexStock(context.Background(), "AAPL")
	if out.Kind() != domain.OutcomeOK {
		t.Fatalf("expected ok, got %v", out)
	}
	if len(idx.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(idx.records))
	}
	rec := idx.records[0]
	if rec.Ref != (domain.Ref{Kind: domain.KindStock, ID: "AAPL"}) {
		t.Errorf("unexpected ref %v", rec.Ref)
	}
	if rec.Meta[semantic.MetaSector] != "Technology" || rec.Meta[semantic.MetaCategory] != CategoryProfile {
		t.Errorf("unexpected meta %v", rec.Meta)
	}
	if len(g.saved) != 1 || g.saved[0].Industry != "Consumer Electronics" {
		t.Errorf("expected company saved to graph, got %v", g.saved)
	}
}

func TestIndexStock_Failures(t *testing.T) {
	x := New(newSource(), fixedEmbedder(3), &memIndex{}, nil, WithDimensions(4))
	if out := x.IndexStock(context.Background(), "AAPL"); out.Kind() != domain.OutcomeUpstream {
		t.Errorf("dimension mismatch: expected upstream, got %v", out)
	}
	if out := x.IndexStock(context.Background(), "NOPE"); out.Kind() != domain.OutcomeNotFound {
		t.Errorf("missing stock: expected not found, got %v", out)
	}
	x = New(newSource(), fixedEmbedder(4), &memIndex{err: errors.New("qdrant down")}, nil)
	if out := x.IndexStock(context.Background(), "AAPL"); out.Kind() != domain.OutcomeUpstream {
		t.Errorf("upsert failure: expected upstream, got %v", out)
	}
}

func TestIndexStocks_BySector(t *testing.T) {
	idx := &memIndex{}
	x := New(newSource(), fixedEmbedder(2), idx, batch.New(batch.WithSleeper(noSleep)))

	sum, err := x.IndexStocks(context.Background(), Request{Sector: "Technology", Width: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Total != 2 || sum.Successful != 2 || len(idx.records) != 2 {
		t.Fatalf("unexpected summary %+v, records %d", sum, len(idx.records))
	}
}

func TestIndexArticles(t *testing.T) {
	src := newSource()
	idx := &memIndex{}
	x := New(src, fixedEmbedder(2), idx, batch.New(batch.WithSleeper(noSleep)))

	sum, err := x.IndexArticles(context.Background(), Request{Symbol: "AAPL", Limit: 10, Width: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.sel.Symbol != "AAPL" || src.sel.Limit != 10 {
		t.Errorf("unexpected selector %+v", src.sel)
	}
	if sum.Total != 2 || sum.Successful != 1 || sum.Failed != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.Results[1].Kind != domain.OutcomeInvalid {
		t.Errorf("empty article should be invalid, got %v", sum.Results[1].Kind)
	}
	if got := idx.records[0].Meta[semantic.MetaSymbol]; got != "AAPL" {
		t.Errorf("expected symbol meta, got %q", got)
	}
}

func TestIndexArticles_BadID(t *testing.T) {
	x := New(newSource(), fixedEmbedder(2), &memIndex{}, nil)
	_, err := x.IndexArticles(context.Background(), Request{IDs: []string{"12x"}, Width: 1})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTexts(t *testing.T) {
	st := domain.Stock{Symbol: "KO", Name: "Coca-Cola", Sector: "Consumer Staples", Industry: "Beverages", DividendYield: domain.Float(0.031)}
	if got := StockText(st); got != "Coca-Cola (KO) is a Consumer Staples company in Beverages. Dividend yield 3.10%." {
		t.Errorf("unexpected stock text %q", got)
	}
	a := domain.Article{Title: "  Big   news ", Body: "<div><p>First.</p><p>Second.</p></div>"}
	if got := ArticleText(a); got != "Big news\n\nFirst.\nSecond." {
		t.Errorf("unexpected article text %q", got)
	}
	if got := ArticleText(domain.Article{Title: "t"}); got != "" {
		t.Errorf("expected empty text for empty body, got %q", got)
	}
	if !strings.HasPrefix(ArticleText(domain.Article{Title: "x", Body: strings.Repeat("a ", 5000)}), "x") {
		t.Error("expected title first")
	}
}
