// Package enrich scores and translates articles with a completion model.
// Each operation is idempotent: an article that already carries the
// enrichment is skipped without calling the model unless forced.
package enrich

import (
	"context"
	"time"

	"github.com/marketpulse/signals/engine/domain"
	"github.com/marketpulse/signals/engine/store"
)

// Articles is the slice of the record store the enrichers use.
type Articles interface {
	GetArticle(ctx context.Context, id int64) (domain.Article, error)
	SelectArticleIDs(ctx context.Context, sel store.Selector) ([]int64, error)
	SaveEvaluation(ctx context.Context, id int64, ev domain.Evaluation) error
	SaveTranslation(ctx context.Context, id int64, text string) error
}

// Events is told about every successful write. Implementations must not
// block for long.
type Events interface {
	ArticleScored(ctx context.Context, r EvaluationReport)
	ArticleTranslated(ctx context.Context, r TranslationReport)
}

type noEvents struct{}

func (noEvents) ArticleScored(context.Context, EvaluationReport)      {}
func (noEvents) ArticleTranslated(context.Context, TranslationReport) {}

// BatchRequest runs an operation over explicit ids.
type BatchRequest struct {
	IDs   []int64
	Width int
	Delay time.Duration
	Force bool
}

