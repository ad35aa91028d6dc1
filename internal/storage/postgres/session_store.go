package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trading-lab/internal/domain"
	"trading-lab/internal/storage"
)

// SessionStore implements storage.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *Pool
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(pool *Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SessionStore = (*SessionStore)(nil)

const sessionColumns = `
	id, name, symbol, strategy_ref, mode, status,
	initial_capital, current_capital, realized_pnl, total_fees,
	stop_loss_pct, take_profit_pct, max_position_pct, max_open_positions, max_hold_time_ms,
	entry_fee_rate, exit_fee_rate, price_increment,
	open_positions,
	total_trades, winning_trades, losing_trades,
	last_price, created_at, started_at, stopped_at, last_event_at
`

// Create persists a new session. Returns ErrDuplicateKey if the id exists.
func (s *SessionStore) Create(ctx context.Context, snap *domain.SessionSnapshot) error {
	positions, err := marshalPositions(snap.OpenPositions)
	if err != nil {
		return fmt.Errorf("marshal open positions: %w", err)
	}

	query := `
		INSERT INTO sessions (` + sessionColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18,
			$19,
			$20, $21, $22,
			$23, $24, $25, $26, $27
		)
	`

	_, err = s.pool.Exec(ctx, query,
		snap.ID, snap.Name, snap.Symbol, snap.StrategyRef, string(snap.Mode), string(snap.Status),
		snap.InitialCapital.String(), snap.CurrentCapital.String(), snap.RealizedPnl.String(), snap.TotalFees.String(),
		snap.Risk.StopLossPct.String(), snap.Risk.TakeProfitPct.String(), snap.Risk.MaxPositionPct.String(),
		snap.Risk.MaxOpenPositions, snap.Risk.MaxHoldTimeMs,
		snap.Fees.EntryRate.String(), snap.Fees.ExitRate.String(), snap.Fees.PriceIncrement.String(),
		positions,
		snap.TotalTrades, snap.WinningTrades, snap.LosingTrades,
		snap.LastPrice.String(), snap.CreatedAt, snap.StartedAt, snap.StoppedAt, snap.LastEventAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get retrieves a session by id. Returns ErrNotFound if not exists.
func (s *SessionStore) Get(ctx context.Context, id string) (*domain.SessionSnapshot, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	snap, err := scanSession(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get session by id: %w", err)
	}
	return snap, nil
}

// List retrieves all sessions ordered by created_at ASC, id ASC.
func (s *SessionStore) List(ctx context.Context) ([]*domain.SessionSnapshot, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.SessionSnapshot
	for rows.Next() {
		snap, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}

	return sessions, nil
}

// UpdateSnapshot replaces the stored state. Returns ErrNotFound if the id
// does not exist.
func (s *SessionStore) UpdateSnapshot(ctx context.Context, snap *domain.SessionSnapshot) error {
	positions, err := marshalPositions(snap.OpenPositions)
	if err != nil {
		return fmt.Errorf("marshal open positions: %w", err)
	}

	query := `
		UPDATE sessions SET
			name = $2, symbol = $3, strategy_ref = $4, mode = $5, status = $6,
			initial_capital = $7, current_capital = $8, realized_pnl = $9, total_fees = $10,
			stop_loss_pct = $11, take_profit_pct = $12, max_position_pct = $13,
			max_open_positions = $14, max_hold_time_ms = $15,
			entry_fee_rate = $16, exit_fee_rate = $17, price_increment = $18,
			open_positions = $19,
			total_trades = $20, winning_trades = $21, losing_trades = $22,
			last_price = $23, created_at = $24, started_at = $25, stopped_at = $26, last_event_at = $27
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		snap.ID, snap.Name, snap.Symbol, snap.StrategyRef, string(snap.Mode), string(snap.Status),
		snap.InitialCapital.String(), snap.CurrentCapital.String(), snap.RealizedPnl.String(), snap.TotalFees.String(),
		snap.Risk.StopLossPct.String(), snap.Risk.TakeProfitPct.String(), snap.Risk.MaxPositionPct.String(),
		snap.Risk.MaxOpenPositions, snap.Risk.MaxHoldTimeMs,
		snap.Fees.EntryRate.String(), snap.Fees.ExitRate.String(), snap.Fees.PriceIncrement.String(),
		positions,
		snap.TotalTrades, snap.WinningTrades, snap.LosingTrades,
		snap.LastPrice.String(), snap.CreatedAt, snap.StartedAt, snap.StoppedAt, snap.LastEventAt,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete removes a stopped session. Returns ErrNotFound if the id does not
// exist and ErrInvalidInput if the session has not stopped.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM sessions WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("get session status: %w", err)
	}
	if domain.SessionStatus(status) != domain.StatusStopped {
		return storage.ErrInvalidInput
	}

	// Status may flip between the check and the delete; the guard in the
	// WHERE clause keeps the delete safe either way.
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1 AND status = $2`, id, string(domain.StatusStopped))
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrInvalidInput
	}
	return nil
}

// positionRecord is the JSONB shape of one open position.
type positionRecord struct {
	ID              string `json:"id"`
	Side            string `json:"side"`
	EntryPrice      string `json:"entry_price"`
	Quantity        string `json:"quantity"`
	NotionalAtEntry string `json:"notional_at_entry"`
	EntryFee        string `json:"entry_fee"`
	EntryTime       int64  `json:"entry_time"`
	StopLossPrice   string `json:"stop_loss_price"`
	TakeProfitPrice string `json:"take_profit_price"`
}

func marshalPositions(positions []domain.Position) ([]byte, error) {
	records := make([]positionRecord, 0, len(positions))
	for _, p := range positions {
		records = append(records, positionRecord{
			ID:              p.ID,
			Side:            string(p.Side),
			EntryPrice:      p.EntryPrice.String(),
			Quantity:        p.Quantity.String(),
			NotionalAtEntry: p.NotionalAtEntry.String(),
			EntryFee:        p.EntryFee.String(),
			EntryTime:       p.EntryTime,
			StopLossPrice:   p.StopLossPrice.String(),
			TakeProfitPrice: p.TakeProfitPrice.String(),
		})
	}
	return json.Marshal(records)
}

func unmarshalPositions(data []byte) ([]domain.Position, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var records []positionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}

	var positions []domain.Position
	for _, r := range records {
		p := domain.Position{
			ID:        r.ID,
			Side:      domain.PositionSide(r.Side),
			EntryTime: r.EntryTime,
		}
		var err error
		if p.EntryPrice, err = parseDec(r.EntryPrice); err != nil {
			return nil, err
		}
		if p.Quantity, err = parseDec(r.Quantity); err != nil {
			return nil, err
		}
		if p.NotionalAtEntry, err = parseDec(r.NotionalAtEntry); err != nil {
			return nil, err
		}
		if p.EntryFee, err = parseDec(r.EntryFee); err != nil {
			return nil, err
		}
		if p.StopLossPrice, err = parseDec(r.StopLossPrice); err != nil {
			return nil, err
		}
		if p.TakeProfitPrice, err = parseDec(r.TakeProfitPrice); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// scanSession scans a single row into a SessionSnapshot.
func scanSession(row pgx.Row) (*domain.SessionSnapshot, error) {
	var snap domain.SessionSnapshot
	var mode, status string
	var initialCap, currentCap, realizedPnl, totalFees string
	var stopLoss, takeProfit, maxPosition string
	var entryRate, exitRate, priceIncrement, lastPrice string
	var positions []byte

	err := row.Scan(
		&snap.ID, &snap.Name, &snap.Symbol, &snap.StrategyRef, &mode, &status,
		&initialCap, &currentCap, &realizedPnl, &totalFees,
		&stopLoss, &takeProfit, &maxPosition, &snap.Risk.MaxOpenPositions, &snap.Risk.MaxHoldTimeMs,
		&entryRate, &exitRate, &priceIncrement,
		&positions,
		&snap.TotalTrades, &snap.WinningTrades, &snap.LosingTrades,
		&lastPrice, &snap.CreatedAt, &snap.StartedAt, &snap.StoppedAt, &snap.LastEventAt,
	)
	if err != nil {
		return nil, err
	}

	snap.Mode = domain.SessionMode(mode)
	snap.Status = domain.SessionStatus(status)

	if snap.InitialCapital, err = parseDec(initialCap); err != nil {
		return nil, err
	}
	if snap.CurrentCapital, err = parseDec(currentCap); err != nil {
		return nil, err
	}
	if snap.RealizedPnl, err = parseDec(realizedPnl); err != nil {
		return nil, err
	}
	if snap.TotalFees, err = parseDec(totalFees); err != nil {
		return nil, err
	}
	if snap.Risk.StopLossPct, err = parseDec(stopLoss); err != nil {
		return nil, err
	}
	if snap.Risk.TakeProfitPct, err = parseDec(takeProfit); err != nil {
		return nil, err
	}
	if snap.Risk.MaxPositionPct, err = parseDec(maxPosition); err != nil {
		return nil, err
	}
	if snap.Fees.EntryRate, err = parseDec(entryRate); err != nil {
		return nil, err
	}
	if snap.Fees.ExitRate, err = parseDec(exitRate); err != nil {
		return nil, err
	}
	if snap.Fees.PriceIncrement, err = parseDec(priceIncrement); err != nil {
		return nil, err
	}
	if snap.LastPrice, err = parseDec(lastPrice); err != nil {
		return nil, err
	}
	if snap.OpenPositions, err = unmarshalPositions(positions); err != nil {
		return nil, fmt.Errorf("unmarshal open positions: %w", err)
	}

	return &snap, nil
}
