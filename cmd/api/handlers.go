package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/marketpulse/signals/engine/batch"
	"github.com/marketpulse/signals/engine/domain"
	"github.com/marketpulse/signals/engine/enrich"
	"github.com/marketpulse/signals/engine/rag"
	"github.com/marketpulse/signals/engine/store"
)

// defaultTopK applies when a retrieval request omits top_k.
const defaultTopK = 5

// defaultUnevaluatedLimit applies when evaluate-unevaluated omits limit.
const defaultUnevaluatedLimit = 50

type evaluator interface {
	Evaluate(ctx context.Context, id int64, force bool) domain.Outcome[enrich.EvaluationReport]
	EvaluateBatch(ctx context.Context, req enrich.BatchRequest) (batch.Summary[int64, enrich.EvaluationReport], error)
	EvaluateUnevaluated(ctx context.Context, req enrich.UnevaluatedRequest) (batch.Summary[int64, enrich.EvaluationReport], error)
}

type translator interface {
	Translate(ctx context.Context, id int64, force bool) domain.Outcome[enrich.TranslationReport]
	TranslateBatch(ctx context.Context, req enrich.TranslateRequest) (batch.Summary[int64, enrich.TranslationReport], error)
}

type searcher interface {
	Search(ctx context.Context, query string, topK int, f rag.Filters) ([]rag.Result, error)
}

type ragService interface {
	Context(ctx context.Context, query string, topK int) (rag.ContextResult, error)
	Query(ctx context.Context, query string, topK int, systemPrompt string) (rag.Answer, error)
}

type comparer interface {
	Compare(ctx context.Context, idA, idB string, typ rag.AnalysisType) domain.Outcome[rag.Comparison]
}

type statsReader interface {
	EvaluationStats(ctx context.Context) (store.Stats, error)
	Ping(ctx context.Context) error
}

// batchDefaults fill batch_size and delay when a request omits them.
type batchDefaults struct {
	Width int
	Delay time.Duration
}

type deps struct {
	evaluator  evaluator
	translator translator
	searcher   searcher
	rag        ragService
	comparer   comparer
	stats      statsReader
	defaults   batchDefaults
	logger     *slog.Logger
}

func newMux(d deps) *http.ServeMux {
	if d.logger == nil {
		d.logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth(d.stats))
	mux.HandleFunc("GET /api/articles/stats", handleStats(d.stats, d.logger))
	mux.HandleFunc("POST /api/articles/{id}/evaluate", handleEvaluate(d.evaluator, d.logger))
	mux.HandleFunc("POST /api/articles/evaluate/batch", handleEvaluateBatch(d.evaluator, d.defaults, d.logger))
	mux.HandleFunc("POST /api/articles/evaluate/unevaluated", handleEvaluateUnevaluated(d.evaluator, d.defaults, d.logger))
	mux.HandleFunc("POST /api/articles/{id}/translate", handleTranslate(d.translator, d.logger))
	mux.HandleFunc("POST /api/articles/translate/batch", handleTranslateBatch(d.translator, d.defaults, d.logger))
	mux.HandleFunc("POST /api/rag/search", handleSearch(d.searcher, d.logger))
	mux.HandleFunc("POST /api/rag/context", handleContext(d.rag, d.logger))
	mux.HandleFunc("POST /api/rag/query", handleQuery(d.rag, d.logger))
	mux.HandleFunc("POST /api/rag/compare", handleCompare(d.comparer, d.logger))
	return mux
}

// --- Encoding ---

// failure is the body of every non-success response.
type failure struct {
	Status string `json:"status"`
	ID     any    `json:"id,omitempty"`
	Reason string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// decodeBody reads an optional JSON body. An empty body leaves v as is.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return domain.NewValidationError("body", "", err)
}

// statusOf maps the error taxonomy onto HTTP.
func statusOf(err error) (int, string) {
	var nf *domain.NotFoundError
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, domain.OutcomeInvalid.String()
	case errors.As(err, &nf):
		return http.StatusNotFound, domain.OutcomeNotFound.String()
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway, domain.OutcomeUpstream.String()
	default:
		return http.StatusInternalServerError, "error"
	}
}

func kindStatus(k domain.OutcomeKind) int {
	switch k {
	case domain.OutcomeOK, domain.OutcomeSkipped:
		return http.StatusOK
	case domain.OutcomeNotFound:
		return http.StatusNotFound
	case domain.OutcomeInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, id any, err error) {
	code, status := statusOf(err)
	if code >= http.StatusInternalServerError {
		logger.Warn("request failed", "id", id, "err", err)
	}
	writeJSON(w, code, failure{Status: status, ID: id, Reason: err.Error()})
}

func writeOutcomeError[T any](w http.ResponseWriter, logger *slog.Logger, id any, out domain.Outcome[T]) {
	code := kindStatus(out.Kind())
	if code >= http.StatusInternalServerError {
		logger.Warn("request failed", "id", id, "outcome", out.String())
	}
	writeJSON(w, code, failure{Status: out.Kind().String(), ID: id, Reason: out.Reason()})
}

func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, domain.NewValidationError("id", raw, domain.ErrOutOfRange)
	}
	return id, nil
}

func forceParam(r *http.Request) bool {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	return force
}

// seconds converts a request delay; nil keeps the fallback.
func seconds(v *float64, fallback time.Duration) time.Duration {
	if v == nil {
		return fallback
	}
	return time.Duration(*v * float64(time.Second))
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

// --- Health and statistics ---

func handleHealth(stats statsReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if stats != nil {
			if err := stats.Ping(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type statsResponse struct {
	Status string `json:"status"`
	store.Stats
}

func handleStats(stats statsReader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := stats.EvaluationStats(r.Context())
		if err != nil {
			writeError(w, logger, nil, domain.NewUpstreamError("stats", err))
			return
		}
		writeJSON(w, http.StatusOK, statsResponse{Status: domain.OutcomeOK.String(), Stats: st})
	}
}

// --- Evaluation ---

type evaluateResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	enrich.EvaluationReport
}

func handleEvaluate(ev evaluator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, nil, err)
			return
		}
		out := ev.Evaluate(r.Context(), id, forceParam(r))
		if !out.Succeeded() {
			writeOutcomeError(w, logger, id, out)
			return
		}
		writeJSON(w, http.StatusOK, evaluateResponse{
			Status:           out.Kind().String(),
			Reason:           out.Reason(),
			EvaluationReport: out.Value(),
		})
	}
}

type evaluateBatchRequest struct {
	IDs       []int64  `json:"ids"`
	BatchSize *int     `json:"batch_size"`
	Delay     *float64 `json:"delay"`
	Force     bool     `json:"force"`
}

type evaluationSummary struct {
	Status      string  `json:"status"`
	SuccessRate float64 `json:"success_rate"`
	batch.Summary[int64, enrich.EvaluationReport]
}

func summarize(sum batch.Summary[int64, enrich.EvaluationReport]) evaluationSummary {
	if sum.Errors == nil {
		sum.Errors = []batch.ItemResult[int64, enrich.EvaluationReport]{}
	}
	return evaluationSummary{Status: domain.OutcomeOK.String(), SuccessRate: sum.SuccessRate(), Summary: sum}
}

func handleEvaluateBatch(ev evaluator, def batchDefaults, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req evaluateBatchRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, logger, nil, err)
			return
		}
		sum, err := ev.EvaluateBatch(r.Context(), enrich.BatchRequest{
			IDs:   req.IDs,
			Width: intOr(req.BatchSize, def.Width),
			Delay: seconds(req.Delay, def.Delay),
			Force: req.Force,
		})
		if err != nil {
			writeError(w, logger, nil, err)
			return
		}
		writeJSON(w, http.StatusOK, summarize(sum))
	}
}

type unevaluatedRequest struct {
	Limit     *int     `json:"limit"`
	Symbol    string   `json:"symbol"`
	BatchSize *int     `json:"batch_size"`
	Delay     *float64 `json:"delay"`
}

func handleEvaluateUnevaluated(ev evaluator, def batchDefaults, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req unevaluatedRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, logger, nil, err)
			return
		}
		sum, err := ev.EvaluateUnevaluated(r.Context(), enrich.UnevaluatedRequest{
			Limit:  intOr(req.Limit, defaultUnevaluatedLimit),
			Symbol: req.Symbol,
			Width:  intOr(req.BatchSize, def.Width),
			Delay:  seconds(req.Delay, def.Delay),
		})
		if err != nil {
			writeError(w, logger, nil, err)
			return
		}
		writeJSON(w, http.StatusOK, summarize(sum))
	}
}

// --- Translation ---

type translateResponse struct {
	Status  string `json:"status"`
	ID      int64  `json:"id"`
	Message string `json:"message"`
}

func handleTranslate(tr translator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, nil, err)
			return
		}
		out := tr.Translate(r.Context(), id, forceParam(r))
		if !out.Succeeded() {
			writeOutcomeError(w, logger, id, out)
			return
		}
		msg := out.Reason()
		if out.Kind() == domain.OutcomeOK {
			rep := out.Value()
			msg = fmt.Sprintf("translated %d characters to %s", rep.Characters, rep.Language)
		}
		writeJSON(w, http.StatusOK, translateResponse{Status: out.Kind().String(), ID: id, Message: msg})
	}
}

type translateBatchRequest struct {
	IDs              []int64  `json:"ids"`
	Limit            int      `json:"limit"`
	UntranslatedOnly bool     `json:"untranslated_only"`
	Force            bool     `json:"force"`
	BatchSize        *int     `json:"batch_size"`
	Delay            *float64 `json:"delay"`
}

type summaryCounts struct {
	Total       int     `json:"total"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	Skipped     int     `json:"skipped"`
	SuccessRate float64 `json:"success_rate"`
}

type translateBatchResponse struct {
	Status  string        `json:"status"`
	Summary summaryCounts `json:"summary"`
	Errors  []itemFailure `json:"errors"`
}

type itemFailure = batch.ItemResult[int64, enrich.TranslationReport]

func handleTranslateBatch(tr translator, def batchDefaults, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req translateBatchRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, logger, nil, err)
			return
		}
		sum, err := tr.TranslateBatch(r.Context(), enrich.TranslateRequest{
			IDs:              req.IDs,
			Limit:            req.Limit,
			UntranslatedOnly: req.UntranslatedOnly,
			Force:            req.Force,
			BatchSize:        intOr(req.BatchSize, def.Width),
			Delay:            seconds(req.Delay, def.Delay),
		})
		if err != nil {
			writeError(w, logger, nil, err)
			return
		}
		errs := sum.Errors
		if errs == nil {
			errs = []itemFailure{}
		}
		writeJSON(w, http.StatusOK, translateBatchResponse{
			Status: domain.OutcomeOK.String(),
			Summary: summaryCounts{
				Total:       sum.Total,
				Successful:  sum.Successful,
				Failed:      sum.Failed,
				Skipped:     sum.Skipped,
				SuccessRate: sum.SuccessRate(),
			},
			Errors: errs,
		})
	}
}

// --- Retrieval ---

type searchRequest struct {
	Query  string `json:"query"`
	TopK   *int   `json:"top_k"`
	Sector string `json:"sector"`
	Symbol string `json:"symbol"`
	Kind   string `json:"kind"`
}

type searchItem struct {
	ID      string          `json:"id"`
	Kind    domain.Kind     `json:"kind"`
	Name    string          `json:"name"`
	Score   float32         `json:"similarity_score"`
	Sector  string          `json:"sector,omitempty"`
	Stock   *domain.Stock   `json:"stock,omitempty"`
	Article *domain.Article `json:"article,omitempty"`
}

type searchResponse struct {
	Status  string       `json:"status"`
	Query   string       `json:"query"`
	Total   int          `json:"total_results"`
	Results []searchItem `json:"results"`
}

func handleSearch(s searcher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, logger, nil, err)
			return
		}
		f := rag.Filters{Sector: req.Sector, Symbol: req.Symbol, Kind: domain.Kind(req.Kind)}
		results, err := s.Search(r.Context(), req.Query, intOr(req.TopK, defaultTopK), f)
		if err != nil {
			writeError(w, logger, nil, err)
			return
		}
		items := make([]searchItem, 0, len(results))
		for _, res := range results {
			items = append(items, searchItem{
				ID:      res.Ref.ID,
				Kind:    res.Ref.Kind,
				Name:    res.Name(),
				Score:   res.Score,
				Sector:  res.Sector(),
				Stock:   res.Stock,
				Article: res.Article,
			})
		}
		writeJSON(w, http.StatusOK, searchResponse{
			Status:  domain.OutcomeOK.String(),
			Query:   req.Query,
			Total:   len(items),
			Results: items,
		})
	}
}

type contextRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k"`
}

type contextResponse struct {
	Status string `json:"status"`
	rag.ContextResult
}

func handleContext(svc ragService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req contextRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, logger, nil, err)
			return
		}
		res, err := svc.Context(r.Context(), req.Query, intOr(req.TopK, defaultTopK))
		if err != nil {
			writeError(w, logger, nil, err)
			return
		}
		if res.Sources == nil {
			res.Sources = []rag.Result{}
		}
		writeJSON(w, http.StatusOK, contextResponse{Status: domain.OutcomeOK.String(), ContextResult: res})
	}
}

type queryRequest struct {
	Query        string `json:"query"`
	TopK         *int   `json:"top_k"`
	SystemPrompt string `json:"system_prompt"`
}

type queryResponse struct {
	Status string `json:"status"`
	rag.Answer
}

func handleQuery(svc ragService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, logger, nil, err)
			return
		}
		ans, err := svc.Query(r.Context(), req.Query, intOr(req.TopK, defaultTopK), req.SystemPrompt)
		if err != nil {
			writeError(w, logger, nil, err)
			return
		}
		if ans.SourceIDs == nil {
			ans.SourceIDs = []string{}
		}
		writeJSON(w, http.StatusOK, queryResponse{Status: domain.OutcomeOK.String(), Answer: ans})
	}
}

type compareRequest struct {
	IDA          string `json:"id_a"`
	IDB          string `json:"id_b"`
	AnalysisType string `json:"analysis_type"`
}

type compareResponse struct {
	Status string `json:"status"`
	rag.Comparison
}

func handleCompare(c comparer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req compareRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, logger, nil, err)
			return
		}
		out := c.Compare(r.Context(), req.IDA, req.IDB, rag.ParseAnalysisType(req.AnalysisType))
		if !out.Succeeded() {
			writeOutcomeError(w, logger, nil, out)
			return
		}
		writeJSON(w, http.StatusOK, compareResponse{Status: out.Kind().String(), Comparison: out.Value()})
	}
}
