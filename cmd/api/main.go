// Package main implements the market signals API server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marketpulse/signals/engine/app"
	"github.com/marketpulse/signals/pkg/config"
	"github.com/marketpulse/signals/pkg/mid"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

func main() {
	cfg, err := config.Load()
	logger := app.NewLogger(cfg.LogLevel, true)
	slog.SetDefault(logger)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	mux := newMux(deps{
		evaluator:  a.Evaluator,
		translator: a.Translator,
		searcher:   a.RAG.Retriever(),
		rag:        a.RAG,
		comparer:   a.Comparer,
		stats:      a.Store,
		defaults:   batchDefaults{Width: cfg.Batch.Width, Delay: cfg.Batch.Delay},
		logger:     logger,
	})
	mux.Handle("GET /metrics", a.Metrics.Handler())

	handler := mid.Chain(mux,
		mid.OTel("signals-api"),
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.Server.CORSOrigin),
		mid.Metrics(a.Metrics),
		mid.MaxBody(maxRequestBody),
	)

	// Batch runs are paced, so the write timeout leaves room for a full
	// 100-item run at the default delay.
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Server.Port,
			"vector", cfg.Vector.Backend, "graph", a.Graph != nil, "events", a.NATS != nil)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
