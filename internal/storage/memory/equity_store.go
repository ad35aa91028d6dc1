package memory

import (
	"context"
	"sort"
	"sync"

	"trading-lab/internal/domain"
	"trading-lab/internal/storage"
)

// EquityStore is an in-memory implementation of storage.EquityStore.
type EquityStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.EquityPoint // keyed by session id, append order
}

// NewEquityStore creates a new in-memory equity store.
func NewEquityStore() *EquityStore {
	return &EquityStore{
		data: make(map[string][]*domain.EquityPoint),
	}
}

// Append adds one equity sample.
func (s *EquityStore) Append(_ context.Context, p *domain.EquityPoint) error {
	if p == nil || p.SessionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *p
	s.data[p.SessionID] = append(s.data[p.SessionID], &clone)
	return nil
}

// Range retrieves samples within [from, to] inclusive, ordered by
// timestamp ASC. Zero `to` means no upper bound.
func (s *EquityStore) Range(_ context.Context, sessionID string, from, to int64) ([]*domain.EquityPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EquityPoint
	for _, p := range s.data[sessionID] {
		if p.Timestamp < from {
			continue
		}
		if to > 0 && p.Timestamp > to {
			continue
		}
		clone := *p
		result = append(result, &clone)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})

	return result, nil
}

var _ storage.EquityStore = (*EquityStore)(nil)
