package feed

import (
	"context"
	"sync/atomic"
	"time"

	"trading-lab/internal/domain"
)

// ReplayAdapter replays a recorded event sequence for one stream key. It
// drives deterministic re-runs and tests; events not matching the key are
// skipped, ordering violations are dropped like any live adapter would.
type ReplayAdapter struct {
	key    domain.StreamKey
	source []domain.MarketEvent
	pace   time.Duration

	events chan domain.MarketEvent
	guard  Guard
	done   chan struct{}
	closed atomic.Bool
}

var _ Adapter = (*ReplayAdapter)(nil)

// NewReplayAdapter creates a replay adapter over a recorded sequence. A zero
// pace emits as fast as the consumer drains.
func NewReplayAdapter(key domain.StreamKey, source []domain.MarketEvent, pace time.Duration) *ReplayAdapter {
	return &ReplayAdapter{
		key:    key,
		source: source,
		pace:   pace,
		events: make(chan domain.MarketEvent, 256),
		done:   make(chan struct{}),
	}
}

// Connect starts emission of the recorded sequence.
func (a *ReplayAdapter) Connect(ctx context.Context) error {
	if a.closed.Load() {
		return ErrClosed
	}

	go func() {
		defer close(a.events)
		for i, ev := range a.source {
			if ev.Key() != a.key {
				continue
			}
			// Position in the recording breaks timestamp ties, so
			// same-millisecond events survive replay like they did live
			if !a.guard.Admit(ev.Timestamp, int64(i)) {
				continue
			}
			if a.pace > 0 {
				select {
				case <-time.After(a.pace):
				case <-a.done:
					return
				case <-ctx.Done():
					return
				}
			}
			select {
			case a.events <- ev:
			case <-a.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Events returns the emission channel; closed when the sequence is exhausted.
func (a *ReplayAdapter) Events() <-chan domain.MarketEvent {
	return a.events
}

// Close stops emission. Idempotent.
func (a *ReplayAdapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	close(a.done)
	return nil
}
