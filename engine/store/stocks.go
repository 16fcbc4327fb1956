package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/marketpulse/signals/engine/domain"
)

var stockColumns = []string{
	"symbol", "name", "sector", "industry", "price", "change_percent", "market_cap", "volume",
	"pe_ratio", "pb_ratio", "dividend_yield", "roe", "profit_margin", "debt_to_equity", "updated_at",
}

func scanStock(row rowScanner) (domain.Stock, error) {
	var (
		st                                    domain.Stock
		change, mcap, pe, pb, dy, roe, pm, de sql.NullFloat64
		volume                                sql.NullInt64
	)
	if err := row.Scan(&st.Symbol, &st.Name, &st.Sector, &st.Industry, &st.Price, &change, &mcap, &volume,
		&pe, &pb, &dy, &roe, &pm, &de, &st.UpdatedAt); err != nil {
		return domain.Stock{}, err
	}
	st.ChangePercent = floatPtr(change)
	st.MarketCap = floatPtr(mcap)
	if volume.Valid {
		v := volume.Int64
		st.Volume = &v
	}
	st.PERatio = floatPtr(pe)
	st.PBRatio = floatPtr(pb)
	st.DividendYield = floatPtr(dy)
	st.ROE = floatPtr(roe)
	st.ProfitMargin = floatPtr(pm)
	st.DebtToEquity = floatPtr(de)
	return st, nil
}

// UpsertStock inserts or replaces the snapshot for st.Symbol.
func (s *SQLStore) UpsertStock(ctx context.Context, st domain.Stock) error {
	if err := domain.ValidateIdentifier("symbol", st.Symbol); err != nil {
		return err
	}
	updated := st.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	var volume sql.NullInt64
	if st.Volume != nil {
		volume = sql.NullInt64{Int64: *st.Volume, Valid: true}
	}

	sets := make([]string, 0, len(stockColumns)-1)
	for _, c := range stockColumns[1:] {
		sets = append(sets, c+" = excluded."+c)
	}
	query, args, err := s.sb.Insert("stocks").
		Columns(stockColumns...).
		Values(strings.ToUpper(st.Symbol), st.Name, st.Sector, st.Industry, st.Price,
			nullFloat(st.ChangePercent), nullFloat(st.MarketCap), volume,
			nullFloat(st.PERatio), nullFloat(st.PBRatio), nullFloat(st.DividendYield),
			nullFloat(st.ROE), nullFloat(st.ProfitMargin), nullFloat(st.DebtToEquity), updated.UTC()).
		Suffix("ON CONFLICT (symbol) DO UPDATE SET " + strings.Join(sets, ", ")).
		ToSql()
	if err != nil {
		return fmt.Errorf("store: upsert stock: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: upsert stock %s: %w", st.Symbol, err)
	}
	return nil
}

// GetStock looks a symbol up case-insensitively.
func (s *SQLStore) GetStock(ctx context.Context, symbol string) (domain.Stock, error) {
	query, args, err := s.sb.Select(stockColumns...).From("stocks").
		Where(sq.Eq{"symbol": strings.ToUpper(strings.TrimSpace(symbol))}).ToSql()
	if err != nil {
		return domain.Stock{}, fmt.Errorf("store: get stock: %w", err)
	}
	st, err := scanStock(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Stock{}, domain.NewNotFoundError("stock", symbol)
	}
	if err != nil {
		return domain.Stock{}, fmt.Errorf("store: get stock %s: %w", symbol, err)
	}
	return st, nil
}

// GetStocks returns the existing stocks among symbols keyed by upper-case
// symbol.
func (s *SQLStore) GetStocks(ctx context.Context, symbols []string) (map[string]domain.Stock, error) {
	out := make(map[string]domain.Stock, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	upper := make([]string, len(symbols))
	for i, sym := range symbols {
		upper[i] = strings.ToUpper(strings.TrimSpace(sym))
	}
	b := s.sb.Select(stockColumns...).From("stocks").Where(sq.Eq{"symbol": upper})
	if err := s.queryStocks(ctx, b, func(st domain.Stock) { out[st.Symbol] = st }); err != nil {
		return nil, err
	}
	return out, nil
}

// ListStocks returns stocks ordered by symbol, optionally by sector.
// A limit of zero means no limit.
func (s *SQLStore) ListStocks(ctx context.Context, sector string, limit int) ([]domain.Stock, error) {
	b := s.sb.Select(stockColumns...).From("stocks").OrderBy("symbol")
	if sector != "" {
		b = b.Where(sq.Eq{"sector": sector})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	var out []domain.Stock
	if err := s.queryStocks(ctx, b, func(st domain.Stock) { out = append(out, st) }); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLStore) queryStocks(ctx context.Context, b sq.SelectBuilder, each func(domain.Stock)) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("store: query stocks: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: query stocks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		st, err := scanStock(rows)
		if err != nil {
			return fmt.Errorf("store: scan stock: %w", err)
		}
		each(st)
	}
	return rows.Err()
}
