package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"options-flow/internal/domain"
	"options-flow/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const tradeColumns = `
	id, trade_key, timestamp_ms, underlying, contract_symbol, side,
	strike, expiry, price, premium, size, exchange, conditions,
	action, source, raw_payload, significant, ingested_at
`

const insertTradeQuery = `
	INSERT INTO trades (` + tradeColumns + `) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10, $11, $12, $13,
		$14, $15, $16, $17, $18
	)
`

// Insert adds a new trade. Returns ErrDuplicateKey if the ID exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.Trade) error {
	if t == nil || t.ID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, insertTradeQuery, tradeArgs(t)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
func (s *TradeStore) InsertBulk(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range trades {
		if t == nil || t.ID == "" {
			return storage.ErrInvalidInput
		}
		if _, err := tx.Exec(ctx, insertTradeQuery, tradeArgs(t)...); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert trade in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByID(ctx context.Context, id string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = $1`

	t, err := scanTrade(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade by id: %w", err)
	}
	return t, nil
}

// GetByUnderlying retrieves trades for an underlying in [start, end], ordered by timestamp ASC.
func (s *TradeStore) GetByUnderlying(ctx context.Context, underlying string, start, end int64) ([]*domain.Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE underlying = $1 AND timestamp_ms >= $2 AND timestamp_ms <= $3
		ORDER BY timestamp_ms ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, underlying, start, end)
	if err != nil {
		return nil, fmt.Errorf("get trades by underlying: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// GetTopSignificant retrieves up to limit significant trades ordered by premium DESC.
func (s *TradeStore) GetTopSignificant(ctx context.Context, limit int) ([]*domain.Trade, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE significant AND premium IS NOT NULL
		ORDER BY premium DESC, timestamp_ms DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get top significant trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

func tradeArgs(t *domain.Trade) []any {
	conditions := make([]int32, len(t.Conditions))
	for i, c := range t.Conditions {
		conditions[i] = int32(c)
	}

	return []any{
		t.ID, t.TradeKey, t.Timestamp, t.Underlying, t.ContractSymbol, string(t.Side),
		nullDecimal(t.Strike), t.Expiry, nullDecimal(t.Price), nullDecimal(t.Premium),
		t.Size, t.Exchange, conditions,
		t.Action, string(t.Source), t.RawPayload, t.Significant, t.IngestedAt,
	}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

// scanTrade scans a single row into a Trade.
func scanTrade(row pgx.Row) (*domain.Trade, error) {
	var (
		t                      domain.Trade
		side, source           string
		strike, price, premium decimal.NullDecimal
		expiry                 *time.Time
		conditions             []int32
	)

	err := row.Scan(
		&t.ID, &t.TradeKey, &t.Timestamp, &t.Underlying, &t.ContractSymbol, &side,
		&strike, &expiry, &price, &premium, &t.Size, &t.Exchange, &conditions,
		&t.Action, &source, &t.RawPayload, &t.Significant, &t.IngestedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Side = domain.Side(side)
	t.Source = domain.Source(source)
	t.Strike = decimalPtr(strike)
	t.Price = decimalPtr(price)
	t.Premium = decimalPtr(premium)
	if expiry != nil {
		e := time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 0, 0, 0, 0, time.UTC)
		t.Expiry = &e
	}
	if len(conditions) > 0 {
		t.Conditions = make([]int, len(conditions))
		for i, c := range conditions {
			t.Conditions[i] = int(c)
		}
	}

	return &t, nil
}

// scanTrades scans multiple rows into a slice of Trade.
func scanTrades(rows pgx.Rows) ([]*domain.Trade, error) {
	var trades []*domain.Trade

	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}
