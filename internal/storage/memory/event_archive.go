package memory

import (
	"context"
	"sync"

	"trading-lab/internal/domain"
	"trading-lab/internal/storage"
)

// EventArchive is an in-memory implementation of storage.EventArchive.
// Events are kept in append order per (symbol, kind), which is the replay
// order.
type EventArchive struct {
	mu   sync.RWMutex
	data map[domain.StreamKey][]*domain.MarketEvent
}

// NewEventArchive creates a new in-memory event archive.
func NewEventArchive() *EventArchive {
	return &EventArchive{
		data: make(map[domain.StreamKey][]*domain.MarketEvent),
	}
}

// Append stores a batch of events.
func (s *EventArchive) Append(_ context.Context, events []*domain.MarketEvent) error {
	if len(events) == 0 {
		return nil
	}
	for _, ev := range events {
		if ev == nil || ev.Symbol == "" || !domain.ValidKind(ev.Kind) {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		clone := *ev
		key := ev.Key()
		s.data[key] = append(s.data[key], &clone)
	}
	return nil
}

// Replay retrieves events for (symbol, kind) within [from, to] inclusive,
// in recorded order. Zero `to` means no upper bound.
func (s *EventArchive) Replay(_ context.Context, symbol string, kind domain.EventKind, from, to int64) ([]*domain.MarketEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.MarketEvent
	for _, ev := range s.data[domain.StreamKey{Symbol: symbol, Kind: kind}] {
		if ev.Timestamp < from {
			continue
		}
		if to > 0 && ev.Timestamp > to {
			continue
		}
		clone := *ev
		result = append(result, &clone)
	}
	return result, nil
}

var _ storage.EventArchive = (*EventArchive)(nil)
