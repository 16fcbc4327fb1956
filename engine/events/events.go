// Package events publishes enrichment and batch lifecycle events to NATS.
// Publishing is best effort: a failed publish is logged and never fails
// the operation that produced the event.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/marketpulse/signals/engine/batch"
	"github.com/marketpulse/signals/engine/enrich"
	"github.com/marketpulse/signals/pkg/natsutil"
)

// Subjects.
const (
	SubjectArticleScored     = "signals.article.scored"
	SubjectArticleTranslated = "signals.article.translated"
	SubjectBatchCompleted    = "signals.batch.completed"
	// SubjectAll matches every subject above.
	SubjectAll = "signals.>"
)

// Event is the envelope every message is wrapped in.
type Event[T any] struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data T         `json:"data"`
}

// Publisher implements batch.Notifier and enrich.Events.
type Publisher struct {
	conn   natsutil.MsgPublisher
	now    func() time.Time
	logger *slog.Logger
}

var (
	_ batch.Notifier = (*Publisher)(nil)
	_ enrich.Events  = (*Publisher)(nil)
)

func NewPublisher(conn natsutil.MsgPublisher, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, now: time.Now, logger: logger}
}

func (p *Publisher) ArticleScored(ctx context.Context, r enrich.EvaluationReport) {
	publish(ctx, p, SubjectArticleScored, r)
}

func (p *Publisher) ArticleTranslated(ctx context.Context, r enrich.TranslationReport) {
	publish(ctx, p, SubjectArticleTranslated, r)
}

func (p *Publisher) BatchCompleted(ctx context.Context, ev batch.Completed) {
	publish(ctx, p, SubjectBatchCompleted, ev)
}

func publish[T any](ctx context.Context, p *Publisher, subject string, v T) {
	ev := Event[T]{Type: subject, At: p.now().UTC(), Data: v}
	if err := natsutil.Publish(ctx, p.conn, subject, ev); err != nil {
		p.logger.Warn("events: publish failed", "subject", subject, "err", err)
	}
}
