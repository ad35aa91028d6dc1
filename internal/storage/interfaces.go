package storage

import (
	"context"

	"trading-lab/internal/domain"
)

// SessionStore provides access to sessions storage. Snapshots are whole
// records; UpdateSnapshot replaces the stored state for the session id.
type SessionStore interface {
	// Create persists a new session. Returns ErrDuplicateKey if the id exists.
	Create(ctx context.Context, s *domain.SessionSnapshot) error

	// Get retrieves a session by id. Returns ErrNotFound if not exists.
	Get(ctx context.Context, id string) (*domain.SessionSnapshot, error)

	// List retrieves all sessions ordered by created_at ASC, id ASC.
	List(ctx context.Context) ([]*domain.SessionSnapshot, error)

	// UpdateSnapshot replaces the stored state. Returns ErrNotFound if the
	// id does not exist.
	UpdateSnapshot(ctx context.Context, s *domain.SessionSnapshot) error

	// Delete removes a stopped session. Returns ErrNotFound if the id does
	// not exist and ErrInvalidInput if the session has not stopped.
	Delete(ctx context.Context, id string) error
}

// TradeStore provides access to closed_trades storage, the append-only
// audit log of completed positions.
type TradeStore interface {
	// Append adds a closed trade. Returns ErrDuplicateKey if trade_id exists.
	Append(ctx context.Context, t *domain.ClosedTrade) error

	// ListBySession retrieves all trades for a session, ordered by
	// exit_time ASC, trade_id ASC.
	ListBySession(ctx context.Context, sessionID string) ([]*domain.ClosedTrade, error)
}

// EquityStore provides access to equity_curve storage.
type EquityStore interface {
	// Append adds one equity sample.
	Append(ctx context.Context, p *domain.EquityPoint) error

	// Range retrieves samples for a session within [from, to] (inclusive,
	// Unix ms), ordered by timestamp ASC. Zero `to` means no upper bound.
	Range(ctx context.Context, sessionID string, from, to int64) ([]*domain.EquityPoint, error)
}

// EventArchive provides access to recorded market events for replay.
type EventArchive interface {
	// Append stores a batch of events.
	Append(ctx context.Context, events []*domain.MarketEvent) error

	// Replay retrieves events for (symbol, kind) within [from, to]
	// (inclusive, Unix ms), in recorded order. Zero `to` means no upper
	// bound.
	Replay(ctx context.Context, symbol string, kind domain.EventKind, from, to int64) ([]*domain.MarketEvent, error)
}

// ResultStore provides access to backtest_results storage.
type ResultStore interface {
	// Put persists a result. Returns ErrDuplicateKey if run_id exists.
	Put(ctx context.Context, r *domain.BacktestResult) error

	// Get retrieves a result by run id. Returns ErrNotFound if not exists.
	Get(ctx context.Context, runID string) (*domain.BacktestResult, error)

	// List retrieves all results ordered by created_at ASC, run_id ASC.
	List(ctx context.Context) ([]*domain.BacktestResult, error)
}
