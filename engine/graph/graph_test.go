package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/marketpulse/signals/engine/domain"
)

type mockResult struct {
	records []*neo4j.Record
	pos     int
	err     error
}

func newMockResult(records ...*neo4j.Record) *mockResult {
	return &mockResult{records: records, pos: -1}
}

func (r *mockResult) Next(context.Context) bool {
	r.pos++
	return r.pos < len(r.records)
}

func (r *mockResult) Record() *neo4j.Record { return r.records[r.pos] }
func (r *mockResult) Err() error            { return r.err }

// mockTx records every statement run through it.
type mockTx struct {
	queries []string
	params  []map[string]any
	failOn  string
}

func (t *mockTx) Run(_ context.Context, cypher string, params map[string]any) (CypherResult, error) {
	if t.failOn != "" && strings.Contains(cypher, t.failOn) {
		return nil, errors.New("constraint violation")
	}
	t.queries = append(t.queries, cypher)
	t.params = append(t.params, params)
	return newMockResult(), nil
}

type mockSession struct {
	tx        *mockTx
	runResult *mockResult
	runErr    error
	lastQuery string
	lastArgs  map[string]any
	closed    int
}

func (s *mockSession) Run(_ context.Context, cypher string, params map[string]any) (CypherResult, error) {
	s.lastQuery, s.lastArgs = cypher, params
	if s.runErr != nil {
		return nil, s.runErr
	}
	if s.runResult == nil {
		return newMockResult(), nil
	}
	return s.runResult, nil
}

func (s *mockSession) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	if s.tx == nil {
		s.tx = &mockTx{}
	}
	return work(s.tx)
}

func (s *mockSession) Close(context.Context) error { s.closed++; return nil }

type mockOpener struct {
	session *mockSession
}

func (o *mockOpener) OpenSession(context.Context) CypherSession { return o.session }

func newMockStore(sess *mockSession) *GraphStore {
	return NewWithOpener(&mockOpener{session: sess})
}

func peerRecord(of, symbol, name, sector string, same bool) *neo4j.Record {
	return &neo4j.Record{
		Keys:   []string{"of", "symbol", "name", "sector", "same_industry"},
		Values: []any{of, symbol, name, sector, same},
	}
}

func TestCompanyOf(t *testing.T) {
	c := CompanyOf(domain.Stock{Symbol: "aapl", Name: "Apple Inc.", Sector: "Technology", Industry: "Consumer Electronics"})
	if c.Symbol != "AAPL" || c.Industry != "Consumer Electronics" {
		t.Fatalf("unexpected company %+v", c)
	}
}

func TestEnsureSchema(t *testing.T) {
	sess := &mockSession{}
	if err := newMockStore(sess).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(sess.lastQuery, "REQUIRE c.symbol IS UNIQUE") {
		t.Errorf("unexpected query %q", sess.lastQuery)
	}
	if sess.closed != 1 {
		t.Errorf("expected session closed once, got %d", sess.closed)
	}

	sess = &mockSession{runErr: errors.New("unauthorized")}
	if err := newMockStore(sess).EnsureSchema(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSaveCompanies(t *testing.T) {
	sess := &mockSession{}
	gs := newMockStore(sess)

	n, err := gs.SaveCompanies(context.Background(), []Company{
		{Symbol: "aapl", Name: "Apple Inc.", Sector: "Technology", Industry: "Consumer Electronics"},
		{Symbol: "MSFT", Name: "Microsoft", Sector: "Technology"},
		{Symbol: "XYZ", Name: "No sector"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 saved, got %d", n)
	}
	// AAPL: company + industry; MSFT: company only.
	if len(sess.tx.queries) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(sess.tx.queries))
	}
	if sess.tx.params[0]["symbol"] != "AAPL" {
		t.Errorf("expected upper-cased symbol, got %v", sess.tx.params[0]["symbol"])
	}
	if !strings.Contains(sess.tx.queries[1], "IN_INDUSTRY") {
		t.Errorf("expected industry statement, got %q", sess.tx.queries[1])
	}
}

func TestSaveCompanies_Error(t *testing.T) {
	sess := &mockSession{tx: &mockTx{failOn: "Industry"}}
	n, err := newMockStore(sess).SaveCompanies(context.Background(), []Company{
		{Symbol: "MSFT", Sector: "Technology"},
		{Symbol: "AAPL", Sector: "Technology", Industry: "Consumer Electronics"},
	})
	if err == nil || !strings.Contains(err.Error(), "industry of AAPL") {
		t.Fatalf("expected industry error, got %v", err)
	}
	if n != 1 {
		t.Errorf("expected partial count 1, got %d", n)
	}
}

func TestSectorPeers(t *testing.T) {
	sess := &mockSession{runResult: newMockResult(
		peerRecord("AAPL", "DELL", "Dell Technologies", "Technology", true),
		peerRecord("AAPL", "MSFT", "Microsoft", "Technology", false),
	)}
	peers, err := newMockStore(sess).SectorPeers(context.Background(), []string{"aapl"}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(peers))
	}
	if peers[0] != (Peer{Of: "AAPL", Symbol: "DELL", Name: "Dell Technologies", Sector: "Technology", SameIndustry: true}) {
		t.Errorf("unexpected peer %+v", peers[0])
	}
	if got := sess.lastArgs["symbols"].([]string); got[0] != "AAPL" {
		t.Errorf("expected upper-cased symbols, got %v", got)
	}
	if sess.lastArgs["limit"] != int64(DefaultPeerLimit) {
		t.Errorf("expected default limit, got %v", sess.lastArgs["limit"])
	}
}

func TestSectorPeers_NoSymbols(t *testing.T) {
	sess := &mockSession{runErr: errors.New("must not be called")}
	peers, err := newMockStore(sess).SectorPeers(context.Background(), nil, 5)
	if err != nil || peers != nil {
		t.Fatalf("expected no-op, got %v, %v", peers, err)
	}
}

func TestSectorPeers_Errors(t *testing.T) {
	sess := &mockSession{runErr: errors.New("connection reset")}
	if _, err := newMockStore(sess).SectorPeers(context.Background(), []string{"AAPL"}, 3); err == nil {
		t.Fatal("expected run error")
	}

	bad := &neo4j.Record{Keys: []string{"of", "symbol"}, Values: []any{"AAPL", int64(7)}}
	sess = &mockSession{runResult: newMockResult(bad)}
	if _, err := newMockStore(sess).SectorPeers(context.Background(), []string{"AAPL"}, 3); err == nil {
		t.Fatal("expected decode error for non-string symbol")
	}

	res := newMockResult()
	res.err = errors.New("stream closed")
	sess = &mockSession{runResult: res}
	if _, err := newMockStore(sess).SectorPeers(context.Background(), []string{"AAPL"}, 3); err == nil {
		t.Fatal("expected result error")
	}
}

func TestNodeCounts(t *testing.T) {
	sess := &mockSession{runResult: newMockResult(
		&neo4j.Record{Keys: []string{"label", "count"}, Values: []any{"Company", int64(12)}},
		&neo4j.Record{Keys: []string{"label", "count"}, Values: []any{"Sector", int64(3)}},
	)}
	counts, err := newMockStore(sess).NodeCounts(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts["Company"] != 12 || counts["Sector"] != 3 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestClose(t *testing.T) {
	if err := newMockStore(&mockSession{}).Close(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
