// Package graph keeps a Neo4j graph of listed companies and the sectors and
// industries they belong to, and answers peer queries used to enrich RAG
// context.
package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/marketpulse/signals/engine/domain"
)

// Company is a Company node.
type Company struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Sector   string `json:"sector"`
	Industry string `json:"industry,omitempty"`
}

// CompanyOf projects a stock snapshot onto its graph node.
func CompanyOf(s domain.Stock) Company {
	return Company{Symbol: strings.ToUpper(s.Symbol), Name: s.Name, Sector: s.Sector, Industry: s.Industry}
}

// Peer is a company sharing a sector with Of.
type Peer struct {
	Of           string `json:"of"`
	Symbol       string `json:"symbol"`
	Name         string `json:"name"`
	Sector       string `json:"sector"`
	SameIndustry bool   `json:"same_industry"`
}

// DefaultPeerLimit bounds SectorPeers when the caller passes no limit.
const DefaultPeerLimit = 10

// GraphStore reads and writes the company graph.
type GraphStore struct {
	opener SessionOpener
	closer func(context.Context) error
}

// Open connects to Neo4j at url and verifies connectivity.
func Open(ctx context.Context, url, user, pass string) (*GraphStore, error) {
	driver, err := neo4j.NewDriverWithContext(url, neo4j.BasicAuth(user, pass, ""))
	if err != nil {
		return nil, fmt.Errorf("graph: driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("graph: connect %s: %w", url, err)
	}
	return &GraphStore{opener: driverOpener{driver: driver}, closer: driver.Close}, nil
}

// NewWithOpener creates a GraphStore over custom sessions.
func NewWithOpener(o SessionOpener) *GraphStore {
	return &GraphStore{opener: o, closer: func(context.Context) error { return nil }}
}

func (g *GraphStore) Close(ctx context.Context) error { return g.closer(ctx) }

const constraintCypher = `CREATE CONSTRAINT company_symbol IF NOT EXISTS FOR (c:Company) REQUIRE c.symbol IS UNIQUE`

// EnsureSchema creates the uniqueness constraint on Company.symbol.
func (g *GraphStore) EnsureSchema(ctx context.Context) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	if _, err := sess.Run(ctx, constraintCypher, nil); err != nil {
		return fmt.Errorf("graph: ensure schema: %w", err)
	}
	return nil
}

const saveCompanyCypher = `MERGE (c:Company {symbol: $symbol})
SET c.name = $name
MERGE (s:Sector {name: $sector})
MERGE (c)-[:IN_SECTOR]->(s)`

const saveIndustryCypher = `MATCH (c:Company {symbol: $symbol}), (s:Sector {name: $sector})
MERGE (i:Industry {name: $industry})
MERGE (c)-[:IN_INDUSTRY]->(i)
MERGE (i)-[:PART_OF]->(s)`

// SaveCompanies merges the companies and their sector memberships in one
// write transaction. Companies without a sector are skipped.
func (g *GraphStore) SaveCompanies(ctx context.Context, companies []Company) (int, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	saved, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		n := 0
		for _, c := range companies {
			if c.Symbol == "" || c.Sector == "" {
				continue
			}
			params := companyParams(c)
			if _, err := tx.Run(ctx, saveCompanyCypher, params); err != nil {
				return n, fmt.Errorf("company %s: %w", c.Symbol, err)
			}
			if c.Industry != "" {
				if _, err := tx.Run(ctx, saveIndustryCypher, params); err != nil {
					return n, fmt.Errorf("industry of %s: %w", c.Symbol, err)
				}
			}
			n++
		}
		return n, nil
	})
	n, _ := saved.(int)
	if err != nil {
		return n, fmt.Errorf("graph: save companies: %w", err)
	}
	return n, nil
}

func companyParams(c Company) map[string]any {
	return map[string]any{
		"symbol":   strings.ToUpper(c.Symbol),
		"name":     c.Name,
		"sector":   c.Sector,
		"industry": c.Industry,
	}
}

const peersCypher = `MATCH (c:Company)-[:IN_SECTOR]->(s:Sector)<-[:IN_SECTOR]-(p:Company)
WHERE c.symbol IN $symbols AND NOT p.symbol IN $symbols
OPTIONAL MATCH (c)-[:IN_INDUSTRY]->(i:Industry)<-[:IN_INDUSTRY]-(p)
WITH c, p, s, count(i) > 0 AS same_industry
RETURN c.symbol AS of, p.symbol AS symbol, p.name AS name, s.name AS sector, same_industry
ORDER BY of, same_industry DESC, symbol
LIMIT $limit`

// SectorPeers returns companies sharing a sector with any of symbols,
// excluding the symbols themselves. Peers in the same industry come first.
func (g *GraphStore) SectorPeers(ctx context.Context, symbols []string, limit int) ([]Peer, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultPeerLimit
	}
	upper := make([]string, len(symbols))
	for i, s := range symbols {
		upper[i] = strings.ToUpper(s)
	}

	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	res, err := sess.Run(ctx, peersCypher, map[string]any{"symbols": upper, "limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("graph: sector peers: %w", err)
	}
	var peers []Peer
	for res.Next(ctx) {
		p, err := peerFromRecord(res.Record())
		if err != nil {
			return nil, fmt.Errorf("graph: sector peers: %w", err)
		}
		peers = append(peers, p)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("graph: sector peers: %w", err)
	}
	return peers, nil
}

func peerFromRecord(rec *neo4j.Record) (Peer, error) {
	var p Peer
	var err error
	if p.Of, _, err = neo4j.GetRecordValue[string](rec, "of"); err != nil {
		return p, err
	}
	if p.Symbol, _, err = neo4j.GetRecordValue[string](rec, "symbol"); err != nil {
		return p, err
	}
	p.Name = strValue(rec, "name")
	p.Sector = strValue(rec, "sector")
	if v, ok := rec.Get("same_industry"); ok {
		p.SameIndustry, _ = v.(bool)
	}
	return p, nil
}

func strValue(rec *neo4j.Record, key string) string {
	if v, ok := rec.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

const countsCypher = `MATCH (n) WHERE n:Company OR n:Sector OR n:Industry
RETURN labels(n)[0] AS label, count(*) AS count`

// NodeCounts returns node counts by label.
func (g *GraphStore) NodeCounts(ctx context.Context) (map[string]int64, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, countsCypher, nil)
	if err != nil {
		return nil, fmt.Errorf("graph: node counts: %w", err)
	}
	counts := make(map[string]int64)
	for res.Next(ctx) {
		rec := res.Record()
		label := strValue(rec, "label")
		if c, ok := rec.Get("count"); ok && label != "" {
			if n, ok := c.(int64); ok {
				counts[label] = n
			}
		}
	}
	return counts, res.Err()
}
