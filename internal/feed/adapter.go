package feed

import (
	"context"
	"errors"

	"trading-lab/internal/domain"
)

// ErrClosed is returned when an adapter is used after Close.
var ErrClosed = errors.New("feed adapter closed")

// Adapter normalizes one exchange connection into a canonical MarketEvent
// sequence for a single (symbol, kind). After a successful Connect the
// adapter emits on Events until Close or a fatal protocol error, reconnecting
// internally on transport failures; consumers observe at most a gap, never
// duplicates or reordering.
type Adapter interface {
	// Connect establishes the upstream connection and starts emission.
	Connect(ctx context.Context) error

	// Events returns the emission channel. It is closed when the adapter
	// shuts down.
	Events() <-chan domain.MarketEvent

	// Close tears down the connection and closes Events. Idempotent.
	Close() error
}

// Factory creates a connected adapter for a stream key. The stream hub calls
// it once per key; implementations choose venue and transport.
type Factory func(ctx context.Context, key domain.StreamKey) (Adapter, error)
