package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/marketpulse/signals/engine/batch"
	"github.com/marketpulse/signals/engine/domain"
	"github.com/marketpulse/signals/engine/store"
	"github.com/marketpulse/signals/pkg/llm"
	"github.com/marketpulse/signals/pkg/textutil"
)

// DefaultTranslateLimit is the selection size when a request names no ids
// and no limit.
const DefaultTranslateLimit = 50

// Skip reasons.
const (
	ReasonAlreadyTranslated = "already translated"
	ReasonSameLanguage      = "already in target language"
)

// TranslationReport is the outcome payload of one translation.
type TranslationReport struct {
	ID         int64  `json:"id"`
	Language   string `json:"language"`
	Characters int    `json:"characters"`
	Updated    bool   `json:"updated"`
}

// TranslateRequest runs translation over explicit ids or, when IDs is
// empty, over the newest articles up to Limit.
type TranslateRequest struct {
	IDs              []int64
	Limit            int
	UntranslatedOnly bool
	Force            bool
	BatchSize        int
	Delay            time.Duration
}

// Translator writes a target-language copy of article bodies.
type Translator struct {
	records   Articles
	completer llm.Completer
	scheduler *batch.Scheduler
	target    language.Tag
	name      string
	params    llm.Params
	maxBody   int
	events    Events
	logger    *slog.Logger
}

type TranslatorOption func(*Translator)

func WithTranslatorParams(p llm.Params) TranslatorOption { return func(t *Translator) { t.params = p } }

func WithTranslatorEvents(ev Events) TranslatorOption { return func(t *Translator) { t.events = ev } }

func WithTranslatorLogger(l *slog.Logger) TranslatorOption {
	return func(t *Translator) { t.logger = l }
}

// WithTranslatorMaxBodyRunes bounds the body text sent per completion call;
// longer bodies are translated in segments.
func WithTranslatorMaxBodyRunes(n int) TranslatorOption { return func(t *Translator) { t.maxBody = n } }

// NewTranslator creates a Translator into target.
func NewTranslator(records Articles, completer llm.Completer, scheduler *batch.Scheduler, target language.Tag, opts ...TranslatorOption) *Translator {
	t := &Translator{
		records:   records,
		completer: completer,
		scheduler: scheduler,
		target:    target,
		name:      LanguageName(target),
		maxBody:   3 * MaxPromptBodyRunes,
		events:    noEvents{},
		logger:    slog.Default(),
	}
	t.params = llm.Params{
		SystemPrompt: fmt.Sprintf("You are a professional financial translator. Translate the user's text into %s. Preserve every figure, name and ticker exactly. Return only the translation.", t.name),
		Temperature:  0.2,
		MaxTokens:    2000,
	}
	for _, o := range opts {
		o(t)
	}
	if t.scheduler == nil {
		t.scheduler = batch.New(batch.WithLogger(t.logger))
	}
	return t
}

// LanguageName renders tag in English, e.g. "German" for "de".
func LanguageName(tag language.Tag) string {
	if n := display.English.Languages().Name(tag); n != "" {
		return n
	}
	return tag.String()
}

// Target is the language translations are written in.
func (t *Translator) Target() language.Tag { return t.target }

// Translate writes the translated body of one article. Articles that already
// carry a translation are skipped unless force is set; articles written in
// the target language are always skipped.
func (t *Translator) Translate(ctx context.Context, id int64, force bool) domain.Outcome[TranslationReport] {
	a, err := t.records.GetArticle(ctx, id)
	if err != nil {
		return domain.FromError[TranslationReport]("load article", err)
	}
	r := TranslationReport{ID: id, Language: t.target.String()}
	if a.Translated() && !force {
		r.Characters = utf8.RuneCountInString(*a.TranslatedBody)
		return domain.Skipped(r, ReasonAlreadyTranslated)
	}
	if t.sameLanguage(a.Language) {
		return domain.Skipped(r, ReasonSameLanguage)
	}
	segs := textutil.Segments(textutil.PlainText(a.Body), t.maxBody)
	if len(segs) == 0 {
		return domain.Invalid[TranslationReport](domain.NewValidationError("body", fmt.Sprint(id), domain.ErrEmptyBody))
	}

	var b strings.Builder
	for i, seg := range segs {
		out, err := t.completer.Complete(ctx, t.prompt(a, seg, i, len(segs)), t.params)
		if err != nil {
			return domain.Upstream[TranslationReport]("complete", err)
		}
		part := textutil.StripCodeFence(out)
		if part == "" {
			return domain.Upstream[TranslationReport]("translate", llm.ErrEmptyResponse)
		}
		b.WriteString(part)
		if i < len(segs)-1 {
			b.WriteString(joiner(seg))
		}
	}
	text := b.String()
	if err := t.records.SaveTranslation(ctx, id, text); err != nil {
		return domain.FromError[TranslationReport]("save translation", err)
	}
	r.Characters = utf8.RuneCountInString(text)
	r.Updated = true
	t.events.ArticleTranslated(ctx, r)
	t.logger.Debug("article translated", "id", id, "language", r.Language, "chars", r.Characters)
	return domain.Ok(r)
}

// TranslateBatch translates the requested articles through the scheduler.
func (t *Translator) TranslateBatch(ctx context.Context, req TranslateRequest) (batch.Summary[int64, TranslationReport], error) {
	var zero batch.Summary[int64, TranslationReport]
	job := batch.Job[int64]{IDs: req.IDs, Width: req.BatchSize, Delay: req.Delay}
	if len(req.IDs) > 0 {
		return batch.Run(ctx, t.scheduler, "translate", job, t.op(req.Force))
	}

	limit := req.Limit
	if limit == 0 {
		limit = DefaultTranslateLimit
	}
	if err := domain.ValidateLimit(limit, domain.MaxUnevaluatedLimit); err != nil {
		return zero, err
	}
	if err := domain.ValidateBatchParams(req.BatchSize, req.Delay); err != nil {
		return zero, err
	}
	ids, err := t.records.SelectArticleIDs(ctx, store.Selector{Untranslated: req.UntranslatedOnly, Limit: limit})
	if err != nil {
		return zero, domain.NewUpstreamError("select articles", err)
	}
	job.IDs = ids
	t.logger.Info("translating articles", "selected", len(ids), "untranslated_only", req.UntranslatedOnly, "target", t.target)
	return batch.RunPaged(ctx, t.scheduler, "translate", job, t.op(req.Force))
}

func (t *Translator) op(force bool) batch.Op[int64, TranslationReport] {
	return func(ctx context.Context, id int64) domain.Outcome[TranslationReport] {
		return t.Translate(ctx, id, force)
	}
}

func (t *Translator) sameLanguage(tag string) bool {
	src, err := language.Parse(strings.TrimSpace(tag))
	if err != nil {
		return false
	}
	sb, _ := src.Base()
	tb, _ := t.target.Base()
	return sb == tb
}

// prompt carries the title with the first segment only so the model does
// not repeat it in later parts.
func (t *Translator) prompt(a domain.Article, body string, part, parts int) string {
	var b strings.Builder
	if parts == 1 {
		fmt.Fprintf(&b, "Translate the following financial news article into %s.\n\n", t.name)
	} else {
		fmt.Fprintf(&b, "Translate part %d of %d of the following financial news article into %s.\n\n", part+1, parts, t.name)
	}
	if part == 0 {
		fmt.Fprintf(&b, "Title: %s\n\n", textutil.Squash(a.Title))
	}
	b.WriteString(strings.TrimSpace(body))
	return b.String()
}

// joiner keeps a line break between translated segments that were cut at
// one.
func joiner(seg string) string {
	if strings.HasSuffix(seg, "\n") {
		return "\n"
	}
	return " "
}
