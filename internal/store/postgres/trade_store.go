package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantagelabs/crossarb/internal/domain"
)

// TradeStore implements domain.TradeStore on PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, ts, symbol, buy_venue, buy_price,
	sell_venue, sell_price, amount, fees, pnl, cumulative_pnl`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		if err := rows.Scan(
			&t.ID, &t.Timestamp, &t.Symbol,
			&t.BuyVenue, &t.BuyPrice,
			&t.SellVenue, &t.SellPrice,
			&t.Amount, &t.Fees, &t.PnL, &t.CumulativePnL,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert stores one completed trade. Re-inserting the same ID is a no-op so
// retries after transient failures stay idempotent.
func (s *TradeStore) Insert(ctx context.Context, trade domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			id, ts, symbol, buy_venue, buy_price,
			sell_venue, sell_price, amount, fees, pnl, cumulative_pnl
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query,
		trade.ID, trade.Timestamp, trade.Symbol,
		trade.BuyVenue, trade.BuyPrice,
		trade.SellVenue, trade.SellPrice,
		trade.Amount, trade.Fees, trade.PnL, trade.CumulativePnL,
	); err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", trade.ID, err)
	}
	return nil
}

// Recent returns up to limit trades, newest first.
func (s *TradeStore) Recent(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + tradeSelectCols + ` FROM trades ORDER BY ts DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent trades: %w", err)
	}
	return trades, nil
}

// ListBySymbol returns trades for one symbol inside the optional time range,
// newest first.
func (s *TradeStore) ListBySymbol(ctx context.Context, symbol string, since, until *time.Time, limit int) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE symbol = $1`
	args := []any{symbol}
	argIdx := 2

	if since != nil {
		query += fmt.Sprintf(" AND ts >= $%d", argIdx)
		args = append(args, *since)
		argIdx++
	}
	if until != nil {
		query += fmt.Sprintf(" AND ts <= $%d", argIdx)
		args = append(args, *until)
		argIdx++
	}
	query += " ORDER BY ts DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by symbol: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by symbol: %w", err)
	}
	return trades, nil
}

// ListBefore returns all trades strictly before the given time, oldest
// first, for archiving.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE ts < $1 ORDER BY ts ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}

// DeleteBefore removes trades older than the given time, returning the count.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
