package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/marketpulse/signals/engine/domain"
)

var articleColumns = []string{
	"id", "symbol", "title", "body", "source_url", "published_at", "language",
	"translated_body", "impact_score", "impact_direction", "impact_reasoning", "scored_at",
}

// unevaluated matches rows missing any of the four evaluation columns, so
// a partially written row is treated as not evaluated.
var unevaluated = sq.Or{
	sq.Eq{"impact_score": nil},
	sq.Eq{"impact_direction": nil},
	sq.Eq{"impact_reasoning": nil},
	sq.Eq{"scored_at": nil},
}

var evaluated = sq.And{
	sq.NotEq{"impact_score": nil},
	sq.NotEq{"impact_direction": nil},
	sq.NotEq{"impact_reasoning": nil},
	sq.NotEq{"scored_at": nil},
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (domain.Article, error) {
	var (
		a          domain.Article
		symbol     sql.NullString
		translated sql.NullString
		score      sql.NullFloat64
		direction  sql.NullString
		reasoning  sql.NullString
		scoredAt   sql.NullTime
	)
	if err := row.Scan(&a.ID, &symbol, &a.Title, &a.Body, &a.SourceURL, &a.PublishedAt, &a.Language,
		&translated, &score, &direction, &reasoning, &scoredAt); err != nil {
		return domain.Article{}, err
	}
	a.Symbol = stringPtr(symbol)
	a.TranslatedBody = stringPtr(translated)
	if score.Valid && direction.Valid && reasoning.Valid && scoredAt.Valid {
		a.Evaluation = &domain.Evaluation{
			Score:     score.Float64,
			Direction: domain.Direction(direction.String),
			Reasoning: reasoning.String,
			ScoredAt:  scoredAt.Time,
		}
	}
	return a, nil
}

// InsertArticle stores a new article and returns its ID. Evaluation and
// translation fields are written as given.
func (s *SQLStore) InsertArticle(ctx context.Context, a domain.Article) (int64, error) {
	var (
		score     sql.NullFloat64
		direction sql.NullString
		reasoning sql.NullString
		scoredAt  sql.NullTime
	)
	if ev := a.Evaluation; ev != nil {
		score = sql.NullFloat64{Float64: ev.Score, Valid: true}
		direction = sql.NullString{String: string(ev.Direction), Valid: true}
		reasoning = sql.NullString{String: ev.Reasoning, Valid: true}
		scoredAt = sql.NullTime{Time: ev.ScoredAt.UTC(), Valid: true}
	}
	lang := a.Language
	if lang == "" {
		lang = "en"
	}

	query, args, err := s.sb.Insert("articles").
		Columns(articleColumns[1:]...).
		Values(nullString(a.Symbol), a.Title, a.Body, a.SourceURL, a.PublishedAt.UTC(), lang,
			nullString(a.TranslatedBody), score, direction, reasoning, scoredAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("store: insert article: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: insert article: %w", err)
	}
	return id, nil
}

func (s *SQLStore) GetArticle(ctx context.Context, id int64) (domain.Article, error) {
	query, args, err := s.sb.Select(articleColumns...).From("articles").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Article{}, fmt.Errorf("store: get article: %w", err)
	}
	a, err := scanArticle(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Article{}, domain.NewNotFoundError("article", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return domain.Article{}, fmt.Errorf("store: get article %d: %w", id, err)
	}
	return a, nil
}

// GetArticles returns the articles that exist among ids. Missing ids are
// absent from the map.
func (s *SQLStore) GetArticles(ctx context.Context, ids []int64) (map[int64]domain.Article, error) {
	out := make(map[int64]domain.Article, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := s.sb.Select(articleColumns...).From("articles").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: get articles: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get articles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan article: %w", err)
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

// Selector narrows SelectArticleIDs.
type Selector struct {
	Unevaluated  bool
	Untranslated bool
	// Symbol, when set, restricts to one ticker.
	Symbol string
	// Limit of zero means no limit.
	Limit int
}

// SelectArticleIDs returns matching ids, newest first.
func (s *SQLStore) SelectArticleIDs(ctx context.Context, sel Selector) ([]int64, error) {
	b := s.sb.Select("id").From("articles").OrderBy("published_at DESC", "id DESC")
	if sel.Unevaluated {
		b = b.Where(unevaluated)
	}
	if sel.Untranslated {
		b = b.Where(sq.Or{sq.Eq{"translated_body": nil}, sq.Eq{"translated_body": ""}})
	}
	if sel.Symbol != "" {
		b = b.Where(sq.Eq{"symbol": sel.Symbol})
	}
	if sel.Limit > 0 {
		b = b.Limit(uint64(sel.Limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: select article ids: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: select article ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveEvaluation writes all four evaluation fields in one statement.
func (s *SQLStore) SaveEvaluation(ctx context.Context, id int64, ev domain.Evaluation) error {
	scoredAt := ev.ScoredAt
	if scoredAt.IsZero() {
		scoredAt = s.now()
	}
	return s.updateArticle(ctx, "save evaluation", id, map[string]any{
		"impact_score":     domain.ClampScore(ev.Score),
		"impact_direction": string(ev.Direction),
		"impact_reasoning": ev.Reasoning,
		"scored_at":        scoredAt.UTC(),
	})
}

func (s *SQLStore) SaveTranslation(ctx context.Context, id int64, text string) error {
	return s.updateArticle(ctx, "save translation", id, map[string]any{"translated_body": text})
}

// ClearEvaluation resets the four evaluation fields together.
func (s *SQLStore) ClearEvaluation(ctx context.Context, id int64) error {
	return s.updateArticle(ctx, "clear evaluation", id, map[string]any{
		"impact_score":     nil,
		"impact_direction": nil,
		"impact_reasoning": nil,
		"scored_at":        nil,
	})
}

func (s *SQLStore) updateArticle(ctx context.Context, op string, id int64, fields map[string]any) error {
	query, args, err := s.sb.Update("articles").SetMap(fields).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: %s %d: %w", op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s %d: %w", op, id, err)
	}
	if n == 0 {
		return domain.NewNotFoundError("article", strconv.FormatInt(id, 10))
	}
	return nil
}

func (s *SQLStore) DeleteArticle(ctx context.Context, id int64) error {
	query, args, err := s.sb.Delete("articles").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("store: delete article: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: delete article %d: %w", id, err)
	}
	return nil
}

// SetClock replaces the time source used for defaulted timestamps.
func (s *SQLStore) SetClock(now func() time.Time) { s.now = now }
