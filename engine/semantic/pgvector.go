package semantic

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/pgvector/pgvector-go"

	"github.com/marketpulse/signals/engine/domain"
)

// PGVectorIndex keeps embeddings in a Postgres table next to the records.
type PGVectorIndex struct {
	db    *sql.DB
	table string
	sb    sq.StatementBuilderType
}

// NewPGVector uses db, which must be a Postgres handle.
func NewPGVector(db *sql.DB, table string) *PGVectorIndex {
	if table == "" {
		table = "embeddings"
	}
	return &PGVectorIndex{db: db, table: table, sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

// EnsureCollection creates the extension, table and HNSW index.
func (p *PGVectorIndex) EnsureCollection(ctx context.Context, dims int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			point_id UUID PRIMARY KEY,
			ref_kind TEXT NOT NULL,
			ref_id TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'
		)`, p.table, dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_hnsw ON %[1]s USING hnsw (embedding vector_cosine_ops)`, p.table),
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("semantic: pgvector schema: %w", err)
		}
	}
	return nil
}

func (p *PGVectorIndex) upsertQuery(r Record) (string, []any, error) {
	meta := make(map[string]string, len(r.Meta)+1)
	for k, v := range r.Meta {
		meta[k] = v
	}
	meta[MetaKind] = string(r.Ref.Kind)
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", nil, err
	}
	return p.sb.Insert(p.table).
		Columns("point_id", "ref_kind", "ref_id", "embedding", "metadata").
		Values(PointID(r.Ref), string(r.Ref.Kind), r.Ref.ID, pgvector.NewVector(r.Vector), string(raw)).
		Suffix("ON CONFLICT (point_id) DO UPDATE SET embedding = excluded.embedding, metadata = excluded.metadata").
		ToSql()
}

// Upsert writes all records in one transaction.
func (p *PGVectorIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("semantic: pgvector begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, r := range records {
		query, args, err := p.upsertQuery(r)
		if err != nil {
			return fmt.Errorf("semantic: pgvector upsert %s: %w", r.Ref, err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("semantic: pgvector upsert %s: %w", r.Ref, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("semantic: pgvector commit: %w", err)
	}
	return nil
}

func (p *PGVectorIndex) searchQuery(vector []float32, topK int, filters Filters) (string, []any, error) {
	vec := pgvector.NewVector(vector)
	b := p.sb.Select("ref_kind", "ref_id", "metadata").
		Column(sq.Expr("1 - (embedding <=> ?)", vec)).
		From(p.table).
		OrderByClause("embedding <=> ?", vec).
		Limit(uint64(topK))
	for _, k := range sortedKeys(filters) {
		b = b.Where(sq.Expr("metadata->>? = ?", k, filters[k]))
	}
	return b.ToSql()
}

func (p *PGVectorIndex) Search(ctx context.Context, vector []float32, topK int, filters Filters) ([]Hit, error) {
	query, args, err := p.searchQuery(vector, topK, filters)
	if err != nil {
		return nil, fmt.Errorf("semantic: pgvector search: %w", err)
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("semantic: pgvector search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h    Hit
			kind string
			raw  []byte
		)
		if err := rows.Scan(&kind, &h.Ref.ID, &raw, &h.Score); err != nil {
			return nil, fmt.Errorf("semantic: pgvector scan: %w", err)
		}
		h.Ref.Kind = domain.Kind(kind)
		if err := json.Unmarshal(raw, &h.Meta); err != nil {
			return nil, fmt.Errorf("semantic: pgvector metadata: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (p *PGVectorIndex) Delete(ctx context.Context, refs ...domain.Ref) error {
	if len(refs) == 0 {
		return nil
	}
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = PointID(r)
	}
	query, args, err := p.sb.Delete(p.table).Where(sq.Eq{"point_id": ids}).ToSql()
	if err != nil {
		return fmt.Errorf("semantic: pgvector delete: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("semantic: pgvector delete: %w", err)
	}
	return nil
}
