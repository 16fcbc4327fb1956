package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/marketpulse/signals/engine/app"
	"github.com/marketpulse/signals/engine/batch"
	"github.com/marketpulse/signals/engine/domain"
	"github.com/marketpulse/signals/engine/enrich"
	"github.com/marketpulse/signals/engine/events"
	"github.com/marketpulse/signals/engine/index"
	"github.com/marketpulse/signals/engine/rag"
	"github.com/marketpulse/signals/engine/store"
	"github.com/marketpulse/signals/pkg/config"
	"github.com/marketpulse/signals/pkg/natsutil"
)

type evaluatorAPI interface {
	EvaluateBatch(ctx context.Context, req enrich.BatchRequest) (batch.Summary[int64, enrich.EvaluationReport], error)
	EvaluateUnevaluated(ctx context.Context, req enrich.UnevaluatedRequest) (batch.Summary[int64, enrich.EvaluationReport], error)
}

type translatorAPI interface {
	TranslateBatch(ctx context.Context, req enrich.TranslateRequest) (batch.Summary[int64, enrich.TranslationReport], error)
}

type indexerAPI interface {
	IndexStocks(ctx context.Context, req index.Request) (batch.Summary[string, index.Report], error)
	IndexArticles(ctx context.Context, req index.Request) (batch.Summary[int64, index.Report], error)
}

type searcherAPI interface {
	Search(ctx context.Context, query string, topK int, f rag.Filters) ([]rag.Result, error)
}

type askerAPI interface {
	Query(ctx context.Context, query string, topK int, systemPrompt string) (rag.Answer, error)
}

type comparerAPI interface {
	Compare(ctx context.Context, idA, idB string, typ rag.AnalysisType) domain.Outcome[rag.Comparison]
}

type statsAPI interface {
	EvaluationStats(ctx context.Context) (store.Stats, error)
}

// watchFunc delivers every lifecycle event until ctx ends.
type watchFunc func(ctx context.Context, handle func(subject string, ev events.Event[json.RawMessage])) error

// engines is what commands run against. Tests substitute fakes.
type engines struct {
	evaluator  evaluatorAPI
	translator translatorAPI
	indexer    indexerAPI
	searcher   searcherAPI
	asker      askerAPI
	comparer   comparerAPI
	stats      statsAPI
	watch      watchFunc
	width      int
	delay      time.Duration
	close      func() error
}

type engineBuilder func(ctx context.Context, cfg config.Config, verbose bool) (*engines, error)

type commandContext struct {
	configPath string
	jsonOutput bool
	verbose    bool

	build engineBuilder

	once    sync.Once
	engines *engines
	err     error
}

func newCommandContext(build engineBuilder) *commandContext {
	return &commandContext{build: build}
}

// ensureEngines loads configuration and builds the engines once per
// process.
func (c *commandContext) ensureEngines(ctx context.Context) (*engines, error) {
	c.once.Do(func() {
		if path := strings.TrimSpace(c.configPath); path != "" {
			if err := os.Setenv(config.PathEnv, path); err != nil {
				c.err = err
				return
			}
		}
		cfg, err := config.Load()
		if err != nil {
			c.err = err
			return
		}
		c.engines, c.err = c.build(ctx, cfg, c.verbose)
	})
	return c.engines, c.err
}

func (c *commandContext) close() error {
	if c.engines == nil || c.engines.close == nil {
		return nil
	}
	err := c.engines.close()
	c.engines.close = nil
	return err
}

// buildEngines wires the production stack.
func buildEngines(ctx context.Context, cfg config.Config, verbose bool) (*engines, error) {
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	a, err := app.Build(ctx, cfg, app.NewLogger(level, false))
	if err != nil {
		return nil, err
	}
	e := &engines{
		evaluator:  a.Evaluator,
		translator: a.Translator,
		indexer:    a.Indexer,
		searcher:   a.RAG.Retriever(),
		asker:      a.RAG,
		comparer:   a.Comparer,
		stats:      a.Store,
		width:      cfg.Batch.Width,
		delay:      cfg.Batch.Delay,
		close:      a.Close,
	}
	if a.NATS != nil {
		nc := a.NATS
		e.watch = func(ctx context.Context, handle func(string, events.Event[json.RawMessage])) error {
			sub, err := natsutil.Subscribe(nc, events.SubjectAll, func(_ context.Context, subject string, ev events.Event[json.RawMessage]) {
				handle(subject, ev)
			})
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()
			<-ctx.Done()
			return nil
		}
	}
	return e, nil
}

var errNoEvents = errors.New("event stream unavailable: set nats.url in the configuration")
