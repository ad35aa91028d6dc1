package clickhouse

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"trading-lab/internal/domain"
	"trading-lab/internal/storage"
)

// EquityStore implements storage.EquityStore using ClickHouse.
type EquityStore struct {
	conn *Conn
}

// NewEquityStore creates a new EquityStore.
func NewEquityStore(conn *Conn) *EquityStore {
	return &EquityStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EquityStore = (*EquityStore)(nil)

// Append adds one equity sample.
func (s *EquityStore) Append(ctx context.Context, p *domain.EquityPoint) error {
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO equity_curve (
			session_id, timestamp_ms, equity, cash, unrealized_pnl, open_positions
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		p.SessionID, uint64(p.Timestamp),
		p.Equity, p.Cash, p.UnrealizedPnl,
		uint32(p.OpenPositions),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// Range retrieves samples for a session within [from, to] (inclusive, Unix
// ms), ordered by timestamp ASC. Zero `to` means no upper bound.
func (s *EquityStore) Range(ctx context.Context, sessionID string, from, to int64) ([]*domain.EquityPoint, error) {
	query := `
		SELECT session_id, timestamp_ms, equity, cash, unrealized_pnl, open_positions
		FROM equity_curve
		WHERE session_id = ? AND timestamp_ms >= ?
	`
	args := []any{sessionID, uint64(from)}
	if to > 0 {
		query += ` AND timestamp_ms <= ?`
		args = append(args, uint64(to))
	}
	query += ` ORDER BY timestamp_ms ASC`

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query equity range: %w", err)
	}
	defer rows.Close()

	var points []*domain.EquityPoint
	for rows.Next() {
		var p domain.EquityPoint
		var ts uint64
		var openPositions uint32
		var equity, cash, unrealized decimal.Decimal

		if err := rows.Scan(&p.SessionID, &ts, &equity, &cash, &unrealized, &openPositions); err != nil {
			return nil, fmt.Errorf("scan equity row: %w", err)
		}

		p.Timestamp = int64(ts)
		p.Equity = equity
		p.Cash = cash
		p.UnrealizedPnl = unrealized
		p.OpenPositions = int(openPositions)
		points = append(points, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate equity rows: %w", err)
	}

	return points, nil
}
