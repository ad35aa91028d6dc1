package memory

import (
	"context"
	"sort"
	"sync"

	"trading-lab/internal/domain"
	"trading-lab/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ClosedTrade // keyed by trade_id
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[string]*domain.ClosedTrade),
	}
}

// Append adds a closed trade. Returns ErrDuplicateKey if trade_id exists.
func (s *TradeStore) Append(_ context.Context, t *domain.ClosedTrade) error {
	if t == nil || t.TradeID == "" || t.SessionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.TradeID]; exists {
		return storage.ErrDuplicateKey
	}

	clone := *t
	s.data[t.TradeID] = &clone
	return nil
}

// ListBySession retrieves all trades for a session, ordered by exit_time
// ASC, trade_id ASC.
func (s *TradeStore) ListBySession(_ context.Context, sessionID string) ([]*domain.ClosedTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ClosedTrade
	for _, t := range s.data {
		if t.SessionID == sessionID {
			clone := *t
			result = append(result, &clone)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ExitTime != result[j].ExitTime {
			return result[i].ExitTime < result[j].ExitTime
		}
		return result[i].TradeID < result[j].TradeID
	})

	return result, nil
}

var _ storage.TradeStore = (*TradeStore)(nil)
