package clickhouse

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"trading-lab/internal/domain"
	"trading-lab/internal/storage"
)

// EventArchive implements storage.EventArchive using ClickHouse.
//
// Replay order within one millisecond follows a writer-assigned seq counter.
// The counter is seeded from the wall clock, so sequences from successive
// recorder runs stay monotonic without reading the table back.
type EventArchive struct {
	conn *Conn
	seq  atomic.Uint64
}

// NewEventArchive creates a new EventArchive.
func NewEventArchive(conn *Conn) *EventArchive {
	a := &EventArchive{conn: conn}
	a.seq.Store(uint64(time.Now().UnixNano()))
	return a
}

// Compile-time interface check.
var _ storage.EventArchive = (*EventArchive)(nil)

// Append stores a batch of events.
func (a *EventArchive) Append(ctx context.Context, events []*domain.MarketEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO market_events (
			symbol, kind, timestamp_ms, seq, price, quantity, side
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.Symbol, string(e.Kind), uint64(e.Timestamp), a.seq.Add(1),
			e.Price, e.Quantity, string(e.Side),
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

// Replay retrieves events for (symbol, kind) within [from, to] (inclusive,
// Unix ms), in recorded order. Zero `to` means no upper bound.
func (a *EventArchive) Replay(ctx context.Context, symbol string, kind domain.EventKind, from, to int64) ([]*domain.MarketEvent, error) {
	query := `
		SELECT symbol, kind, timestamp_ms, price, quantity, side
		FROM market_events
		WHERE symbol = ? AND kind = ? AND timestamp_ms >= ?
	`
	args := []any{symbol, string(kind), uint64(from)}
	if to > 0 {
		query += ` AND timestamp_ms <= ?`
		args = append(args, uint64(to))
	}
	query += ` ORDER BY timestamp_ms ASC, seq ASC`

	rows, err := a.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query market events: %w", err)
	}
	defer rows.Close()

	var events []*domain.MarketEvent
	for rows.Next() {
		var e domain.MarketEvent
		var kindStr, sideStr string
		var ts uint64
		var price, quantity decimal.Decimal

		if err := rows.Scan(&e.Symbol, &kindStr, &ts, &price, &quantity, &sideStr); err != nil {
			return nil, fmt.Errorf("scan market event row: %w", err)
		}

		e.Kind = domain.EventKind(kindStr)
		e.Timestamp = int64(ts)
		e.Price = price
		e.Quantity = quantity
		e.Side = domain.Side(sideStr)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate market event rows: %w", err)
	}

	return events, nil
}
