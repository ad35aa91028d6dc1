package session

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Engine errors.
var (
	// ErrNotFound is returned when no session exists for the id.
	ErrNotFound = errors.New("session not found")

	// ErrTerminal is returned when a transition is requested on a
	// stopped session. Stop itself is idempotent and never returns it.
	ErrTerminal = errors.New("session is stopped")

	// ErrInvalidConfig is returned by Create when the session config
	// fails validation.
	ErrInvalidConfig = errors.New("invalid session config")

	// ErrNoPosition is returned when a close is requested and no
	// position is open at that index.
	ErrNoPosition = errors.New("no open position")

	// ErrInsufficientCapital is returned when the sized entry cannot be
	// funded from current capital.
	ErrInsufficientCapital = errors.New("insufficient capital")
)

// InvariantError reports a capital-conservation breach. It carries the
// full account state for postmortem; the affected session is forced to
// stopped and other sessions keep running.
type InvariantError struct {
	SessionID      string
	InitialCapital decimal.Decimal
	CurrentCapital decimal.Decimal
	OpenNotional   decimal.Decimal
	RealizedPnl    decimal.Decimal
	Diff           decimal.Decimal // lhs - rhs of the conservation equation
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf(
		"capital invariant violated for session %s: current %s + open %s != initial %s + realized %s (diff %s)",
		e.SessionID, e.CurrentCapital, e.OpenNotional, e.InitialCapital, e.RealizedPnl, e.Diff,
	)
}
