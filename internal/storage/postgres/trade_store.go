package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trading-lab/internal/domain"
	"trading-lab/internal/storage"
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
	trade_id, session_id, symbol, side,
	quantity, entry_price, exit_price, entry_time, exit_time,
	exit_reason, realized_pnl, fees_paid, return_pct, hold_duration_ms
`

// Append adds a closed trade. Returns ErrDuplicateKey if trade_id exists.
func (s *TradeStore) Append(ctx context.Context, t *domain.ClosedTrade) error {
	query := `
		INSERT INTO closed_trades (` + tradeColumns + `) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14
		)
	`

	_, err := s.pool.Exec(ctx, query,
		t.TradeID, t.SessionID, t.Symbol, string(t.Side),
		t.Quantity.String(), t.EntryPrice.String(), t.ExitPrice.String(), t.EntryTime, t.ExitTime,
		string(t.ExitReason), t.RealizedPnl.String(), t.FeesPaid.String(), t.ReturnPct.String(), t.HoldDurationMs,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert closed trade: %w", err)
	}
	return nil
}

// ListBySession retrieves all trades for a session, ordered by exit_time
// ASC, trade_id ASC.
func (s *TradeStore) ListBySession(ctx context.Context, sessionID string) ([]*domain.ClosedTrade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM closed_trades
		WHERE session_id = $1
		ORDER BY exit_time ASC, trade_id ASC
	`

	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list trades by session: %w", err)
	}
	defer rows.Close()

	var trades []*domain.ClosedTrade
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

// scanTrade scans a single row into a ClosedTrade.
func scanTrade(row pgx.Row) (*domain.ClosedTrade, error) {
	var t domain.ClosedTrade
	var side, reason string
	var quantity, entryPrice, exitPrice string
	var realizedPnl, feesPaid, returnPct string

	err := row.Scan(
		&t.TradeID, &t.SessionID, &t.Symbol, &side,
		&quantity, &entryPrice, &exitPrice, &t.EntryTime, &t.ExitTime,
		&reason, &realizedPnl, &feesPaid, &returnPct, &t.HoldDurationMs,
	)
	if err != nil {
		return nil, err
	}

	t.Side = domain.PositionSide(side)
	t.ExitReason = domain.ExitReason(reason)

	if t.Quantity, err = parseDec(quantity); err != nil {
		return nil, err
	}
	if t.EntryPrice, err = parseDec(entryPrice); err != nil {
		return nil, err
	}
	if t.ExitPrice, err = parseDec(exitPrice); err != nil {
		return nil, err
	}
	if t.RealizedPnl, err = parseDec(realizedPnl); err != nil {
		return nil, err
	}
	if t.FeesPaid, err = parseDec(feesPaid); err != nil {
		return nil, err
	}
	if t.ReturnPct, err = parseDec(returnPct); err != nil {
		return nil, err
	}

	return &t, nil
}
