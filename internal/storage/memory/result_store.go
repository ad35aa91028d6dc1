package memory

import (
	"context"
	"sort"
	"sync"

	"trading-lab/internal/domain"
	"trading-lab/internal/storage"
)

// ResultStore is an in-memory implementation of storage.ResultStore.
type ResultStore struct {
	mu   sync.RWMutex
	data map[string]*domain.BacktestResult // keyed by run_id
}

// NewResultStore creates a new in-memory result store.
func NewResultStore() *ResultStore {
	return &ResultStore{
		data: make(map[string]*domain.BacktestResult),
	}
}

// Put persists a result. Returns ErrDuplicateKey if run_id exists.
func (s *ResultStore) Put(_ context.Context, r *domain.BacktestResult) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.RunID]; exists {
		return storage.ErrDuplicateKey
	}

	clone := *r
	s.data[r.RunID] = &clone
	return nil
}

// Get retrieves a result by run id. Returns ErrNotFound if not exists.
func (s *ResultStore) Get(_ context.Context, runID string) (*domain.BacktestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	clone := *r
	return &clone, nil
}

// List retrieves all results ordered by created_at ASC, run_id ASC.
func (s *ResultStore) List(_ context.Context) ([]*domain.BacktestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.BacktestResult, 0, len(s.data))
	for _, r := range s.data {
		clone := *r
		result = append(result, &clone)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].RunID < result[j].RunID
	})

	return result, nil
}

var _ storage.ResultStore = (*ResultStore)(nil)
