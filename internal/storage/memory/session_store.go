// Package memory provides in-memory store implementations for tests and
// single-process runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"trading-lab/internal/domain"
	"trading-lab/internal/storage"
)

// SessionStore is an in-memory implementation of storage.SessionStore.
type SessionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SessionSnapshot // keyed by session id
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		data: make(map[string]*domain.SessionSnapshot),
	}
}

// Create persists a new session. Returns ErrDuplicateKey if the id exists.
func (s *SessionStore) Create(_ context.Context, snap *domain.SessionSnapshot) error {
	if snap == nil || snap.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[snap.ID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[snap.ID] = cloneSnapshot(snap)
	return nil
}

// Get retrieves a session by id. Returns ErrNotFound if not exists.
func (s *SessionStore) Get(_ context.Context, id string) (*domain.SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	return cloneSnapshot(snap), nil
}

// List retrieves all sessions ordered by created_at ASC, id ASC.
func (s *SessionStore) List(_ context.Context) ([]*domain.SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.SessionSnapshot, 0, len(s.data))
	for _, snap := range s.data {
		result = append(result, cloneSnapshot(snap))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// UpdateSnapshot replaces the stored state. Returns ErrNotFound if the id
// does not exist.
func (s *SessionStore) UpdateSnapshot(_ context.Context, snap *domain.SessionSnapshot) error {
	if snap == nil || snap.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[snap.ID]; !exists {
		return storage.ErrNotFound
	}

	s.data[snap.ID] = cloneSnapshot(snap)
	return nil
}

// Delete removes a stopped session. Returns ErrInvalidInput for sessions
// that have not stopped.
func (s *SessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if snap.Status != domain.StatusStopped {
		return storage.ErrInvalidInput
	}

	delete(s.data, id)
	return nil
}

// cloneSnapshot copies a snapshot including its open positions slice.
func cloneSnapshot(snap *domain.SessionSnapshot) *domain.SessionSnapshot {
	clone := *snap
	if snap.OpenPositions != nil {
		clone.OpenPositions = make([]domain.Position, len(snap.OpenPositions))
		copy(clone.OpenPositions, snap.OpenPositions)
	}
	return &clone
}

var _ storage.SessionStore = (*SessionStore)(nil)
