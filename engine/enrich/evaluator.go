package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/marketpulse/signals/engine/batch"
	"github.com/marketpulse/signals/engine/domain"
	"github.com/marketpulse/signals/engine/store"
	"github.com/marketpulse/signals/pkg/llm"
	"github.com/marketpulse/signals/pkg/textutil"
)

// MaxPromptBodyRunes bounds the article body placed into a scoring prompt.
const MaxPromptBodyRunes = 4000

// GeneralMarket stands in for the ticker of untagged articles.
const GeneralMarket = "the general market"

// ReasonAlreadyEvaluated is the skip reason for scored articles.
const ReasonAlreadyEvaluated = "already evaluated"

// EvaluationReport is the outcome payload of one scoring.
type EvaluationReport struct {
	ID        int64            `json:"id"`
	Symbol    string           `json:"symbol,omitempty"`
	Score     float64          `json:"score"`
	Direction domain.Direction `json:"direction"`
	Reasoning string           `json:"reasoning"`
	ScoredAt  time.Time        `json:"scored_at"`
	// Updated is false when the stored evaluation was returned unchanged.
	Updated bool `json:"updated"`
}

// UnevaluatedRequest scores the newest unscored articles.
type UnevaluatedRequest struct {
	Limit  int
	Symbol string
	Width  int
	Delay  time.Duration
}

const evaluatorSystemPrompt = "You are a financial news analyst. You rate how strongly a news article is likely to move the price of the stock it concerns. Answer with a single JSON object and nothing else."

// Evaluator scores articles for expected price impact.
type Evaluator struct {
	records   Articles
	completer llm.Completer
	scheduler *batch.Scheduler
	params    llm.Params
	maxBody   int
	now       func() time.Time
	events    Events
	logger    *slog.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithParams overrides the completion parameters. JSON output is always
// requested.
func WithParams(p llm.Params) EvaluatorOption { return func(e *Evaluator) { e.params = p } }

// WithMaxBodyRunes overrides MaxPromptBodyRunes.
func WithMaxBodyRunes(n int) EvaluatorOption { return func(e *Evaluator) { e.maxBody = n } }

func WithEvaluatorClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

func WithEvaluatorEvents(ev Events) EvaluatorOption { return func(e *Evaluator) { e.events = ev } }

func WithEvaluatorLogger(l *slog.Logger) EvaluatorOption { return func(e *Evaluator) { e.logger = l } }

// NewEvaluator creates an Evaluator. A nil scheduler gets the defaults.
func NewEvaluator(records Articles, completer llm.Completer, scheduler *batch.Scheduler, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		records:   records,
		completer: completer,
		scheduler: scheduler,
		params:    llm.Params{SystemPrompt: evaluatorSystemPrompt, Temperature: 0.1, MaxTokens: 400},
		maxBody:   MaxPromptBodyRunes,
		now:       time.Now,
		events:    noEvents{},
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.scheduler == nil {
		e.scheduler = batch.New(batch.WithLogger(e.logger))
	}
	e.params.JSON = true
	return e
}

// Evaluate scores one article. An article that already carries a complete
// evaluation is returned as Skipped without calling the model, unless force
// is set.
func (e *Evaluator) Evaluate(ctx context.Context, id int64, force bool) domain.Outcome[EvaluationReport] {
	a, err := e.records.GetArticle(ctx, id)
	if err != nil {
		return domain.FromError[EvaluationReport]("load article", err)
	}
	if a.Evaluated() && !force {
		return domain.Skipped(reportOf(a, false), ReasonAlreadyEvaluated)
	}
	if strings.TrimSpace(a.Body) == "" {
		return domain.Invalid[EvaluationReport](domain.NewValidationError("body", strconv.FormatInt(id, 10), domain.ErrEmptyBody))
	}

	raw, err := e.completer.Complete(ctx, e.prompt(a), e.params)
	if err != nil {
		return domain.Upstream[EvaluationReport]("complete", err)
	}
	ev, err := ParseEvaluation(raw)
	if err != nil {
		e.logger.Warn("unparseable evaluation", "id", id, "err", err, "output", textutil.Truncate(raw, 200))
		return domain.Upstream[EvaluationReport]("parse evaluation", err)
	}
	ev.ScoredAt = e.now().UTC()

	if err := e.records.SaveEvaluation(ctx, id, ev); err != nil {
		return domain.FromError[EvaluationReport]("save evaluation", err)
	}
	a.Evaluation = &ev
	r := reportOf(a, true)
	e.events.ArticleScored(ctx, r)
	e.logger.Debug("article scored", "id", id, "score", ev.Score, "direction", ev.Direction)
	return domain.Ok(r)
}

// EvaluateBatch scores explicit ids through the scheduler.
func (e *Evaluator) EvaluateBatch(ctx context.Context, req BatchRequest) (batch.Summary[int64, EvaluationReport], error) {
	return batch.Run(ctx, e.scheduler, "evaluate", batch.Job[int64]{IDs: req.IDs, Width: req.Width, Delay: req.Delay}, e.op(req.Force))
}

// EvaluateUnevaluated selects up to req.Limit unscored articles, newest
// first, and scores them. Selections above the per-run id cap run as
// consecutive scheduler runs merged into one summary.
func (e *Evaluator) EvaluateUnevaluated(ctx context.Context, req UnevaluatedRequest) (batch.Summary[int64, EvaluationReport], error) {
	var zero batch.Summary[int64, EvaluationReport]
	if err := domain.ValidateLimit(req.Limit, domain.MaxUnevaluatedLimit); err != nil {
		return zero, err
	}
	if err := domain.ValidateBatchParams(req.Width, req.Delay); err != nil {
		return zero, err
	}
	ids, err := e.records.SelectArticleIDs(ctx, store.Selector{Unevaluated: true, Symbol: req.Symbol, Limit: req.Limit})
	if err != nil {
		return zero, domain.NewUpstreamError("select unevaluated", err)
	}
	e.logger.Info("evaluating unevaluated articles", "selected", len(ids), "limit", req.Limit, "symbol", req.Symbol)
	return batch.RunPaged(ctx, e.scheduler, "evaluate", batch.Job[int64]{IDs: ids, Width: req.Width, Delay: req.Delay}, e.op(false))
}

func (e *Evaluator) op(force bool) batch.Op[int64, EvaluationReport] {
	return func(ctx context.Context, id int64) domain.Outcome[EvaluationReport] {
		return e.Evaluate(ctx, id, force)
	}
}

func (e *Evaluator) prompt(a domain.Article) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assess the likely price impact of this news on %s.\n\n", a.SymbolOr(GeneralMarket))
	fmt.Fprintf(&b, "Title: %s\n", textutil.Squash(a.Title))
	if !a.PublishedAt.IsZero() {
		fmt.Fprintf(&b, "Published: %s\n", a.PublishedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Body:\n%s\n\n", textutil.Truncate(textutil.PlainText(a.Body), e.maxBody))
	b.WriteString(`Respond with JSON of the form {"score": <number between 0 and 1>, "direction": "positive" | "negative" | "neutral", "reasoning": "<two or three sentences>"}. `)
	b.WriteString("A score of 0 means no expected impact and 1 means a major move.")
	return b.String()
}

type evaluationJSON struct {
	Score     json.RawMessage `json:"score"`
	Direction string          `json:"direction"`
	Reasoning string          `json:"reasoning"`
}

// ParseEvaluation extracts an evaluation from model output. Surrounding
// prose and code fences are tolerated. The score is clamped to [0,1]; a
// missing or non-numeric score, an unknown direction or an empty
// reasoning wrap domain.ErrMalformedOutput.
func ParseEvaluation(raw string) (domain.Evaluation, error) {
	body := textutil.StripCodeFence(raw)
	start, end := strings.IndexByte(body, '{'), strings.LastIndexByte(body, '}')
	if start < 0 || end <= start {
		return domain.Evaluation{}, fmt.Errorf("%w: no JSON object", domain.ErrMalformedOutput)
	}
	var out evaluationJSON
	if err := json.Unmarshal([]byte(body[start:end+1]), &out); err != nil {
		return domain.Evaluation{}, fmt.Errorf("%w: %v", domain.ErrMalformedOutput, err)
	}
	score, err := parseScore(out.Score)
	if err != nil {
		return domain.Evaluation{}, err
	}
	dir, err := domain.ParseDirection(out.Direction)
	if err != nil {
		return domain.Evaluation{}, err
	}
	reasoning := strings.TrimSpace(out.Reasoning)
	if reasoning == "" {
		return domain.Evaluation{}, fmt.Errorf("%w: empty reasoning", domain.ErrMalformedOutput)
	}
	return domain.Evaluation{Score: domain.ClampScore(score), Direction: dir, Reasoning: reasoning}, nil
}

// parseScore accepts a JSON number or a numeric string.
func parseScore(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("%w: missing score", domain.ErrMalformedOutput)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: non-numeric score %s", domain.ErrMalformedOutput, raw)
}

func reportOf(a domain.Article, updated bool) EvaluationReport {
	r := EvaluationReport{ID: a.ID, Symbol: a.SymbolOr(""), Updated: updated}
	if ev := a.Evaluation; ev != nil {
		r.Score, r.Direction, r.Reasoning, r.ScoredAt = ev.Score, ev.Direction, ev.Reasoning, ev.ScoredAt
	}
	return r
}
