// Package store persists articles and stock snapshots in SQLite or
// Postgres. Statements are built with squirrel so one code path serves
// both dialects.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	"go.nhat.io/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	_ "modernc.org/sqlite"

	"github.com/marketpulse/signals/engine/domain"
)

// Dialect selects SQL flavour.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Records is everything the engines and binaries read or write.
type Records interface {
	GetArticle(ctx context.Context, id int64) (domain.Article, error)
	GetArticles(ctx context.Context, ids []int64) (map[int64]domain.Article, error)
	SelectArticleIDs(ctx context.Context, sel Selector) ([]int64, error)
	SaveEvaluation(ctx context.Context, id int64, ev domain.Evaluation) error
	SaveTranslation(ctx context.Context, id int64, text string) error
	GetStock(ctx context.Context, symbol string) (domain.Stock, error)
	GetStocks(ctx context.Context, symbols []string) (map[string]domain.Stock, error)
	ListStocks(ctx context.Context, sector string, limit int) ([]domain.Stock, error)
	EvaluationStats(ctx context.Context) (Stats, error)
}

var _ Records = (*SQLStore)(nil)

// SQLStore is safe for concurrent use.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	sb      sq.StatementBuilderType
	logger  *slog.Logger
	now     func() time.Time
}

var (
	pgOnce   sync.Once
	pgDriver string
	pgErr    error
)

// postgresDriver registers the traced lib/pq driver once per process.
func postgresDriver() (string, error) {
	pgOnce.Do(func() {
		pgDriver, pgErr = otelsql.Register("postgres",
			otelsql.TraceQueryWithoutArgs(),
			otelsql.TraceRowsClose(),
			otelsql.TraceRowsAffected(),
			otelsql.WithSystem(semconv.DBSystemPostgreSQL),
		)
	})
	return pgDriver, pgErr
}

// Open connects to driver ("sqlite" or "postgres") at dsn and applies the
// schema. Postgres connections are traced through otelsql.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*SQLStore, error) {
	var (
		db  *sql.DB
		err error
	)
	switch Dialect(driver) {
	case SQLite:
		db, err = sql.Open("sqlite", dsn)
		if err == nil {
			// One writer at a time; concurrent workers queue on the pool.
			db.SetMaxOpenConns(1)
		}
	case Postgres:
		var name string
		if name, err = postgresDriver(); err == nil {
			db, err = sql.Open(name, dsn)
		}
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", driver, err)
	}

	s := New(db, Dialect(driver), logger)
	if Dialect(driver) == SQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: pragma: %w", err)
		}
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle. The schema is not touched.
func New(db *sql.DB, dialect Dialect, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	var ph sq.PlaceholderFormat = sq.Question
	if dialect == Postgres {
		ph = sq.Dollar
	}
	return &SQLStore{
		db:      db,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(ph),
		logger:  logger,
		now:     time.Now,
	}
}

func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Dialect() Dialect { return s.dialect }

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// EnsureSchema creates the tables if they do not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: ensure schema: %w", err)
		}
	}
	return nil
}

func schema(d Dialect) []string {
	idCol, tsType, realType := "id INTEGER PRIMARY KEY AUTOINCREMENT", "TIMESTAMP", "REAL"
	if d == Postgres {
		idCol, tsType, realType = "id BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ", "DOUBLE PRECISION"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS articles (
			` + idCol + `,
			symbol TEXT,
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			source_url TEXT NOT NULL UNIQUE,
			published_at ` + tsType + ` NOT NULL,
			language TEXT NOT NULL DEFAULT 'en',
			translated_body TEXT,
			impact_score ` + realType + `,
			impact_direction TEXT,
			impact_reasoning TEXT,
			scored_at ` + tsType + `
		)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_symbol ON articles (symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_scored_at ON articles (scored_at)`,
		`CREATE TABLE IF NOT EXISTS stocks (
			symbol TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			sector TEXT NOT NULL DEFAULT '',
			industry TEXT NOT NULL DEFAULT '',
			price ` + realType + ` NOT NULL DEFAULT 0,
			change_percent ` + realType + `,
			market_cap ` + realType + `,
			volume BIGINT,
			pe_ratio ` + realType + `,
			pb_ratio ` + realType + `,
			dividend_yield ` + realType + `,
			roe ` + realType + `,
			profit_margin ` + realType + `,
			debt_to_equity ` + realType + `,
			updated_at ` + tsType + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stocks_sector ON stocks (sector)`,
	}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}
