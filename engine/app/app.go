// Package app wires configuration into the engines. Both binaries build
// the same graph of collaborators through Build.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/nats-io/nats.go"
	"golang.org/x/text/language"

	"github.com/marketpulse/signals/engine/batch"
	"github.com/marketpulse/signals/engine/enrich"
	"github.com/marketpulse/signals/engine/events"
	"github.com/marketpulse/signals/engine/graph"
	"github.com/marketpulse/signals/engine/index"
	"github.com/marketpulse/signals/engine/rag"
	"github.com/marketpulse/signals/engine/semantic"
	"github.com/marketpulse/signals/engine/store"
	"github.com/marketpulse/signals/pkg/config"
	"github.com/marketpulse/signals/pkg/llm/provider"
	"github.com/marketpulse/signals/pkg/metrics"
	"github.com/marketpulse/signals/pkg/natsutil"
)

// App holds every long-lived handle. Graph and NATS are nil when not
// configured or unreachable.
type App struct {
	Config     config.Config
	Logger     *slog.Logger
	Metrics    *metrics.Registry
	Store      *store.SQLStore
	Index      semantic.Index
	Graph      *graph.GraphStore
	NATS       *nats.Conn
	Scheduler  *batch.Scheduler
	Evaluator  *enrich.Evaluator
	Translator *enrich.Translator
	Indexer    *index.Indexer
	RAG        *rag.Service
	Comparer   *rag.Comparer

	closers []func() error
}

// NewLogger builds the process logger. JSON output suits servers, text
// output suits terminals.
func NewLogger(level string, json bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// Build connects to every configured backend. Required backends (record
// store, vector index client, model providers) fail the build; optional
// ones (graph, NATS) are logged and skipped.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	target, err := language.Parse(cfg.Translation.Target)
	if err != nil {
		return nil, fmt.Errorf("app: translation target %q: %w", cfg.Translation.Target, err)
	}

	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	a.Store, err = store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return nil, err
	}
	a.onClose(a.Store.Close)

	if err := a.openIndex(ctx); err != nil {
		return nil, err
	}
	a.openGraph(ctx)
	a.openNATS()

	clients, err := provider.New(ctx, cfg, a.Metrics, logger)
	if err != nil {
		return nil, err
	}

	schedOpts := []batch.Option{
		batch.WithLogger(logger),
		batch.WithMetrics(a.Metrics),
		batch.WithItemTimeout(cfg.Batch.ItemTimeout),
	}
	var evOpts []enrich.EvaluatorOption
	var trOpts []enrich.TranslatorOption
	if a.NATS != nil {
		pub := events.NewPublisher(a.NATS, logger)
		schedOpts = append(schedOpts, batch.WithNotifier(pub))
		evOpts = append(evOpts, enrich.WithEvaluatorEvents(pub))
		trOpts = append(trOpts, enrich.WithTranslatorEvents(pub))
	}
	a.Scheduler = batch.New(schedOpts...)

	evOpts = append(evOpts, enrich.WithEvaluatorLogger(logger))
	trOpts = append(trOpts, enrich.WithTranslatorLogger(logger))
	a.Evaluator = enrich.NewEvaluator(a.Store, clients.Completer, a.Scheduler, evOpts...)
	a.Translator = enrich.NewTranslator(a.Store, clients.Completer, a.Scheduler, target, trOpts...)

	idxOpts := []index.Option{index.WithLogger(logger), index.WithDimensions(cfg.Vector.Dimensions)}
	var peers rag.PeerFinder
	if a.Graph != nil {
		idxOpts = append(idxOpts, index.WithGraph(a.Graph))
		peers = a.Graph
	}
	a.Indexer = index.New(a.Store, clients.Embedder, a.Index, a.Scheduler, idxOpts...)

	ragOpts := rag.DefaultOptions()
	ragOpts.Temperature = cfg.LLM.Temperature
	ragOpts.MaxTokens = cfg.LLM.MaxTokens
	ragOpts.UseGraph = a.Graph != nil
	retriever := rag.NewRetriever(clients.Embedder, a.Index, a.Store, logger)
	a.RAG = rag.New(retriever, clients.Completer, peers, ragOpts, logger)
	a.Comparer = rag.NewComparer(a.Store, clients.CompleterOnce, logger)

	ok = true
	return a, nil
}

func (a *App) openIndex(ctx context.Context) error {
	cfg := a.Config.Vector
	switch cfg.Backend {
	case "qdrant":
		q, err := semantic.NewQdrant(cfg.Addr, cfg.Collection)
		if err != nil {
			return err
		}
		a.onClose(q.Close)
		a.Index = q
	case "pgvector":
		a.Index = semantic.NewPGVector(a.Store.DB(), cfg.Collection)
	default:
		return fmt.Errorf("app: unknown vector backend %q", cfg.Backend)
	}
	if err := a.Index.EnsureCollection(ctx, cfg.Dimensions); err != nil {
		a.Logger.Warn("vector index not ready, searches will fail until it is", "backend", cfg.Backend, "err", err)
	}
	return nil
}

func (a *App) openGraph(ctx context.Context) {
	cfg := a.Config.Neo4j
	if strings.TrimSpace(cfg.URL) == "" {
		return
	}
	g, err := graph.Open(ctx, cfg.URL, cfg.User, cfg.Pass)
	if err != nil {
		a.Logger.Warn("company graph unavailable, continuing without", "err", err)
		return
	}
	if err := g.EnsureSchema(ctx); err != nil {
		a.Logger.Warn("company graph schema", "err", err)
	}
	a.onClose(func() error { return g.Close(context.Background()) })
	a.Graph = g
}

func (a *App) openNATS() {
	url := strings.TrimSpace(a.Config.NATS.URL)
	if url == "" {
		return
	}
	nc, err := natsutil.Connect(url, "signals", a.Logger)
	if err != nil {
		a.Logger.Warn("nats unavailable, events disabled", "err", err)
		return
	}
	a.onClose(func() error { nc.Close(); return nil })
	a.NATS = nc
}

func (a *App) onClose(f func() error) { a.closers = append(a.closers, f) }

// Close releases handles in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
