// Package semantic stores entity embeddings and answers nearest-neighbour
// queries. Two backends exist: Qdrant over gRPC and Postgres with
// pgvector.
package semantic

import (
	"context"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/marketpulse/signals/engine/domain"
)

// Metadata keys written with every record.
const (
	MetaKind     = "kind"
	MetaSymbol   = "symbol"
	MetaSector   = "sector"
	MetaCategory = "category"
)

// Record is one embedded entity. Records are never mutated; Upsert with the
// same Ref replaces the previous vector.
type Record struct {
	Ref    domain.Ref
	Vector []float32
	Meta   map[string]string
}

// Hit is a single search result. Score is the backend's cosine similarity.
type Hit struct {
	Ref   domain.Ref        `json:"ref"`
	Score float32           `json:"score"`
	Meta  map[string]string `json:"meta"`
}

// Filters are exact-match constraints on metadata keys.
type Filters map[string]string

// Index is implemented by QdrantIndex and PGVectorIndex.
type Index interface {
	EnsureCollection(ctx context.Context, dims int) error
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, vector []float32, topK int, filters Filters) ([]Hit, error)
	Delete(ctx context.Context, refs ...domain.Ref) error
}

var (
	_ Index = (*QdrantIndex)(nil)
	_ Index = (*PGVectorIndex)(nil)
)

// PointID is the deterministic UUIDv5 of ref.
func PointID(ref domain.Ref) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(ref.String())).String()
}

func sortedKeys(f Filters) []string { return slices.Sorted(maps.Keys(f)) }
