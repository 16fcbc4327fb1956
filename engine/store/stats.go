package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
)

// Stats summarises enrichment coverage.
type Stats struct {
	Total          int64            `json:"total"`
	Evaluated      int64            `json:"evaluated"`
	Unevaluated    int64            `json:"unevaluated"`
	AverageScore   float64          `json:"average_score"`
	EvaluationRate float64          `json:"evaluation_rate"`
	Translated     int64            `json:"translated"`
	ByDirection    map[string]int64 `json:"by_direction"`
}

// EvaluationStats scans null status of the enrichment columns.
func (s *SQLStore) EvaluationStats(ctx context.Context) (Stats, error) {
	st := Stats{ByDirection: map[string]int64{}}

	query, args, err := s.sb.Select("COUNT(*)").From("articles").ToSql()
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&st.Total); err != nil {
		return Stats{}, fmt.Errorf("store: stats total: %w", err)
	}

	var avg sql.NullFloat64
	query, args, err = s.sb.Select("COUNT(*)", "AVG(impact_score)").From("articles").Where(evaluated).ToSql()
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&st.Evaluated, &avg); err != nil {
		return Stats{}, fmt.Errorf("store: stats evaluated: %w", err)
	}

	query, args, err = s.sb.Select("COUNT(*)").From("articles").
		Where("translated_body IS NOT NULL AND translated_body <> ''").ToSql()
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&st.Translated); err != nil {
		return Stats{}, fmt.Errorf("store: stats translated: %w", err)
	}

	query, args, err = s.sb.Select("impact_direction", "COUNT(*)").From("articles").
		Where(evaluated).GroupBy("impact_direction").ToSql()
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats directions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var dir string
		var n int64
		if err := rows.Scan(&dir, &n); err != nil {
			return Stats{}, fmt.Errorf("store: stats directions: %w", err)
		}
		st.ByDirection[dir] = n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("store: stats directions: %w", err)
	}

	st.Unevaluated = st.Total - st.Evaluated
	if avg.Valid {
		st.AverageScore = round(avg.Float64, 3)
	}
	if st.Total > 0 {
		st.EvaluationRate = round(float64(st.Evaluated)/float64(st.Total)*100, 1)
	}
	return st, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
