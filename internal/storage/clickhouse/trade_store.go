package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"options-flow/internal/domain"
	"options-flow/internal/storage"
)

// TradeStore implements storage.TradeStore using ClickHouse.
// MergeTree does not enforce uniqueness, so duplicates are checked before insert.
type TradeStore struct {
	conn *Conn
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(conn *Conn) *TradeStore {
	return &TradeStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const tradeColumns = `
	id, trade_key, timestamp_ms, underlying, contract_symbol, side,
	strike, expiry, price, premium, size, exchange, conditions,
	action, source, raw_payload, significant, ingested_at
`

// Insert adds a new trade. Returns ErrDuplicateKey if the ID exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.Trade) error {
	return s.InsertBulk(ctx, []*domain.Trade{t})
}

// InsertBulk adds multiple trades in one batch. Fails entire batch on any duplicate.
func (s *TradeStore) InsertBulk(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(trades))
	ids := make([]string, 0, len(trades))
	for _, t := range trades {
		if t == nil || t.ID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[t.ID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[t.ID] = struct{}{}
		ids = append(ids, t.ID)
	}

	exists, err := s.anyExists(ctx, ids)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO trades (`+tradeColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range trades {
		conditions := make([]int32, len(t.Conditions))
		for i, c := range t.Conditions {
			conditions[i] = int32(c)
		}
		var exchange *int32
		if t.Exchange != nil {
			v := int32(*t.Exchange)
			exchange = &v
		}
		var significant uint8
		if t.Significant {
			significant = 1
		}

		err = batch.Append(
			t.ID, t.TradeKey, t.Timestamp, t.Underlying, t.ContractSymbol, string(t.Side),
			t.Strike, t.Expiry, t.Price, t.Premium, t.Size, exchange, conditions,
			t.Action, string(t.Source), t.RawPayload, significant, t.IngestedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByID(ctx context.Context, id string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades FINAL WHERE id = ? LIMIT 1`

	rows, err := s.conn.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query trade by id: %w", err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, storage.ErrNotFound
	}
	return trades[0], nil
}

// GetByUnderlying retrieves trades for an underlying in [start, end], ordered by timestamp ASC.
func (s *TradeStore) GetByUnderlying(ctx context.Context, underlying string, start, end int64) ([]*domain.Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades FINAL
		WHERE underlying = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC, id ASC
	`

	rows, err := s.conn.Query(ctx, query, underlying, start, end)
	if err != nil {
		return nil, fmt.Errorf("query trades by underlying: %w", err)
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
		FROM trades FINAL
		WHERE significant = 1 AND premium IS NOT NULL
		ORDER BY premium DESC, timestamp_ms DESC
		LIMIT ?
	`

	rows, err := s.conn.Query(ctx, query, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("query top significant trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// anyExists reports whether any of ids is already stored.
func (s *TradeStore) anyExists(ctx context.Context, ids []string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count() FROM trades WHERE id IN (?)`, ids).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanTrades scans multiple rows.
func scanTrades(rows chRows) ([]*domain.Trade, error) {
	var trades []*domain.Trade

	for rows.Next() {
		var (
			t                      domain.Trade
			side, source           string
			strike, price, premium *decimal.Decimal
			expiry                 *time.Time
			exchange               *int32
			conditions             []int32
			significant            uint8
		)

		err := rows.Scan(
			&t.ID, &t.TradeKey, &t.Timestamp, &t.Underlying, &t.ContractSymbol, &side,
			&strike, &expiry, &price, &premium, &t.Size, &exchange, &conditions,
			&t.Action, &source, &t.RawPayload, &significant, &t.IngestedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}

		t.Side = domain.Side(side)
		t.Source = domain.Source(source)
		t.Strike = strike
		t.Price = price
		t.Premium = premium
		if expiry != nil {
			e := time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 0, 0, 0, 0, time.UTC)
			t.Expiry = &e
		}
		if exchange != nil {
			v := int(*exchange)
			t.Exchange = &v
		}
		if len(conditions) > 0 {
			t.Conditions = make([]int, len(conditions))
			for i, c := range conditions {
				t.Conditions[i] = int(c)
			}
		}
		t.Significant = significant == 1

		trades = append(trades, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}
