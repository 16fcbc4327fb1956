package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/marketpulse/signals/engine/domain"
	"github.com/marketpulse/signals/engine/graph"
	"github.com/marketpulse/signals/pkg/llm"
)

const tracerName = "github.com/marketpulse/signals/engine/rag"

// PeerFinder optionally adds sector peers of the retrieved stocks to the
// context.
type PeerFinder interface {
	SectorPeers(ctx context.Context, symbols []string, limit int) ([]graph.Peer, error)
}

// Options configures the query pipeline.
type Options struct {
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
	UseGraph     bool
	PeerLimit    int
}

func DefaultOptions() Options {
	return Options{
		SystemPrompt: defaultSystemPrompt,
		Temperature:  0.3,
		MaxTokens:    1024,
		UseGraph:     true,
		PeerLimit:    graph.DefaultPeerLimit,
	}
}

const defaultSystemPrompt = `You are a financial markets assistant.
Answer the user's question using ONLY the market data provided in the context.
If the context does not contain enough information, say so plainly.
Refer to companies by ticker and quote the figures you rely on.`

// Service answers questions over retrieved market data.
type Service struct {
	retriever *Retriever
	completer llm.Completer
	peers     PeerFinder
	opts      Options
	logger    *slog.Logger
}

// New creates a Service. peers may be nil.
func New(retriever *Retriever, completer llm.Completer, peers PeerFinder, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	return &Service{retriever: retriever, completer: completer, peers: peers, opts: opts, logger: logger}
}

// Retriever exposes the underlying retriever for plain searches.
func (s *Service) Retriever() *Retriever { return s.retriever }

// ContextResult is a rendered context block and the data behind it.
type ContextResult struct {
	Query   string   `json:"query"`
	Context string   `json:"context"`
	Sources []Result `json:"source_data"`
	Total   int      `json:"total_results"`
}

// Context retrieves up to topK results and renders them.
func (s *Service) Context(ctx context.Context, query string, topK int) (ContextResult, error) {
	results, err := s.retriever.Search(ctx, query, topK, Filters{})
	if err != nil {
		return ContextResult{}, err
	}
	return ContextResult{
		Query:   query,
		Context: s.render(ctx, query, results),
		Sources: results,
		Total:   len(results),
	}, nil
}

// Answer is the model's reply together with what it was given.
type Answer struct {
	Query       string   `json:"query"`
	Response    string   `json:"response"`
	SourceIDs   []string `json:"source_ids"`
	SourceCount int      `json:"source_data_count"`
}

// Query retrieves context for query and asks the model to answer from it.
// An empty systemPrompt uses the configured one.
func (s *Service) Query(ctx context.Context, query string, topK int, systemPrompt string) (Answer, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "rag.query")
	defer span.End()
	span.SetAttributes(attribute.Int("rag.top_k", topK))

	ans, err := s.query(ctx, query, topK, systemPrompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Answer{}, err
	}
	span.SetAttributes(attribute.Int("rag.sources", ans.SourceCount))
	return ans, nil
}

func (s *Service) query(ctx context.Context, query string, topK int, systemPrompt string) (Answer, error) {
	s.logger.Info("rag query start", "query_len", len(query), "top_k", topK)
	results, err := s.retriever.Search(ctx, query, topK, Filters{})
	if err != nil {
		return Answer{}, err
	}

	params := llm.Params{SystemPrompt: s.opts.SystemPrompt, Temperature: s.opts.Temperature, MaxTokens: s.opts.MaxTokens}
	if strings.TrimSpace(systemPrompt) != "" {
		params.SystemPrompt = systemPrompt
	}
	prompt := fmt.Sprintf("%s\nQuestion: %s", s.render(ctx, query, results), query)
	reply, err := s.completer.Complete(ctx, prompt, params)
	if err != nil {
		return Answer{}, domain.NewUpstreamError("complete", err)
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Ref.ID
	}
	return Answer{Query: query, Response: strings.TrimSpace(reply), SourceIDs: ids, SourceCount: len(results)}, nil
}

// render builds the context block and appends graph peers when enabled.
func (s *Service) render(ctx context.Context, query string, results []Result) string {
	block := BuildContext(query, results)
	if !s.opts.UseGraph || s.peers == nil || len(results) == 0 {
		return block
	}
	if peers := s.peerContext(ctx, results); peers != "" {
		block += "\n" + peers
	}
	return block
}

// peerContext lists sector peers of the retrieved stocks. Failures are
// logged and skipped.
func (s *Service) peerContext(ctx context.Context, results []Result) string {
	var symbols []string
	for _, r := range results {
		if r.Stock != nil {
			symbols = append(symbols, r.Stock.Symbol)
		}
	}
	if len(symbols) == 0 {
		return ""
	}
	peers, err := s.peers.SectorPeers(ctx, symbols, s.opts.PeerLimit)
	if err != nil {
		s.logger.Warn("rag: graph enrichment failed, continuing without", "err", err)
		return ""
	}
	if len(peers) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Sector peers from the company graph:\n")
	for _, p := range peers {
		rel := "same sector"
		if p.SameIndustry {
			rel = "same industry"
		}
		fmt.Fprintf(&b, "- %s: %s (%s, %s, %s)\n", p.Of, p.Symbol, p.Name, p.Sector, rel)
	}
	return b.String()
}
