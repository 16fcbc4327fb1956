package semantic

import (
	"context"
	"errors"
	"strings"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/marketpulse/signals/engine/domain"
)

type mockPoints struct {
	upserted  *pb.UpsertPoints
	deleted   *pb.DeletePoints
	searched  *pb.SearchPoints
	searchOut *pb.SearchResponse
	err       error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upserted = in
	return &pb.PointsOperationResponse{}, m.err
}

func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.deleted = in
	return &pb.PointsOperationResponse{}, m.err
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searched = in
	return m.searchOut, m.err
}

type mockCollections struct {
	existing []string
	created  *pb.CreateCollection
	listErr  error
}

func (m *mockCollections) List(context.Context, *pb.ListCollectionsRequest, ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	resp := &pb.ListCollectionsResponse{}
	for _, n := range m.existing {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: n})
	}
	return resp, m.listErr
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = in
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func str(s string) *pb.Value { return stringValue(s) }

func TestPointIDDeterministic(t *testing.T) {
	a := PointID(domain.Ref{Kind: domain.KindStock, ID: "AAPL"})
	b := PointID(domain.Ref{Kind: domain.KindStock, ID: "AAPL"})
	c := PointID(domain.Ref{Kind: domain.KindArticle, ID: "AAPL"})
	if a != b {
		t.Errorf("same ref produced %s and %s", a, b)
	}
	if a == c {
		t.Error("kind must be part of the point id")
	}
}

func TestEnsureCollection(t *testing.T) {
	cols := &mockCollections{existing: []string{"market_signals"}}
	q := NewQdrantWithClients(&mockPoints{}, cols, "market_signals")
	if err := q.EnsureCollection(context.Background(), 1536); err != nil {
		t.Fatal(err)
	}
	if cols.created != nil {
		t.Error("existing collection should not be recreated")
	}

	cols = &mockCollections{}
	q = NewQdrantWithClients(&mockPoints{}, cols, "market_signals")
	if err := q.EnsureCollection(context.Background(), 768); err != nil {
		t.Fatal(err)
	}
	if cols.created == nil || cols.created.GetVectorsConfig().GetParams().GetSize() != 768 {
		t.Errorf("created = %+v", cols.created)
	}

	cols = &mockCollections{listErr: errors.New("unavailable")}
	q = NewQdrantWithClients(&mockPoints{}, cols, "x")
	if err := q.EnsureCollection(context.Background(), 4); err == nil {
		t.Error("expected list error")
	}
}

func TestQdrantUpsertPayload(t *testing.T) {
	pts := &mockPoints{}
	q := NewQdrantWithClients(pts, &mockCollections{}, "c")
	ref := domain.Ref{Kind: domain.KindStock, ID: "MSFT"}
	err := q.Upsert(context.Background(), []Record{{
		Ref:    ref,
		Vector: []float32{0.1, 0.2},
		Meta:   map[string]string{MetaSector: "Technology", MetaSymbol: "MSFT"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	p := pts.upserted.GetPoints()[0]
	if p.GetId().GetUuid() != PointID(ref) {
		t.Errorf("id = %s", p.GetId().GetUuid())
	}
	pl := p.GetPayload()
	if pl[payloadRefKind].GetStringValue() != "stock" || pl[payloadRefID].GetStringValue() != "MSFT" {
		t.Errorf("payload ref = %v", pl)
	}
	if pl[MetaSector].GetStringValue() != "Technology" || pl[MetaKind].GetStringValue() != "stock" {
		t.Errorf("payload meta = %v", pl)
	}
	if !pts.upserted.GetWait() {
		t.Error("upsert should wait")
	}
}

func TestQdrantUpsertEmpty(t *testing.T) {
	pts := &mockPoints{}
	if err := NewQdrantWithClients(pts, nil, "c").Upsert(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if pts.upserted != nil {
		t.Error("no call expected for empty upsert")
	}
}

func TestQdrantSearch(t *testing.T) {
	pts := &mockPoints{searchOut: &pb.SearchResponse{Result: []*pb.ScoredPoint{
		{Score: 0.91, Payload: map[string]*pb.Value{payloadRefKind: str("stock"), payloadRefID: str("AAPL"), MetaSector: str("Technology")}},
		{Score: 0.5, Payload: map[string]*pb.Value{MetaSector: str("Energy")}},
	}}}
	q := NewQdrantWithClients(pts, nil, "c")
	hits, err := q.Search(context.Background(), []float32{1}, 5, Filters{MetaSector: "Technology", MetaKind: "stock"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %+v, want the ref-less point dropped", hits)
	}
	if hits[0].Ref.String() != "stock:AAPL" || hits[0].Score != 0.91 || hits[0].Meta[MetaSector] != "Technology" {
		t.Errorf("hit = %+v", hits[0])
	}
	must := pts.searched.GetFilter().GetMust()
	if len(must) != 2 || must[0].GetField().GetKey() != MetaKind || must[1].GetField().GetKey() != MetaSector {
		t.Errorf("filter = %v", must)
	}
	if pts.searched.GetLimit() != 5 {
		t.Errorf("limit = %d", pts.searched.GetLimit())
	}
}

func TestQdrantSearchError(t *testing.T) {
	q := NewQdrantWithClients(&mockPoints{err: errors.New("deadline")}, nil, "c")
	if _, err := q.Search(context.Background(), []float32{1}, 1, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestQdrantDelete(t *testing.T) {
	pts := &mockPoints{}
	q := NewQdrantWithClients(pts, nil, "c")
	ref := domain.Ref{Kind: domain.KindArticle, ID: "42"}
	if err := q.Delete(context.Background(), ref); err != nil {
		t.Fatal(err)
	}
	ids := pts.deleted.GetPoints().GetPoints().GetIds()
	if len(ids) != 1 || ids[0].GetUuid() != PointID(ref) {
		t.Errorf("deleted = %v", ids)
	}
}

func TestPGVectorSearchQuery(t *testing.T) {
	p := NewPGVector(nil, "")
	query, args, err := p.searchQuery([]float32{0.1, 0.2}, 3, Filters{MetaSector: "Technology"})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"1 - (embedding <=> $1)",
		"FROM embeddings",
		"metadata->>$2 = $3",
		"ORDER BY embedding <=> $4",
		"LIMIT 3",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query %q missing %q", query, want)
		}
	}
	if len(args) != 4 || args[1] != MetaSector || args[2] != "Technology" {
		t.Errorf("args = %v", args)
	}
}

func TestPGVectorUpsertQuery(t *testing.T) {
	p := NewPGVector(nil, "vectors")
	ref := domain.Ref{Kind: domain.KindArticle, ID: "7"}
	query, args, err := p.upsertQuery(Record{Ref: ref, Vector: []float32{1}, Meta: map[string]string{MetaSymbol: "AAPL"}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(query, "INSERT INTO vectors") || !strings.Contains(query, "ON CONFLICT (point_id)") {
		t.Errorf("query = %q", query)
	}
	if args[0] != PointID(ref) || args[2] != "7" {
		t.Errorf("args = %v", args)
	}
	if meta, _ := args[4].(string); !strings.Contains(meta, `"kind":"article"`) || !strings.Contains(meta, `"symbol":"AAPL"`) {
		t.Errorf("metadata = %v", args[4])
	}
}
