package store

import (
	"context"
	"math"
	"sync"

	"envelope.lock/internal/models"
)

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

type MemoryStore struct {
	mu        sync.RWMutex
	envelopes map[uint64]*models.Envelope
	nextID    uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		envelopes: make(map[uint64]*models.Envelope),
	}
}

func (s *MemoryStore) Insert(ctx context.Context, env *models.Envelope) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nextID == math.MaxUint64 {
		return 0, ErrCapacity
	}

	id := s.nextID
	s.nextID++

	stored := *env
	stored.ID = id
	s.envelopes[id] = &stored
	return id, nil
}

func (s *MemoryStore) Get(ctx context.Context, id uint64) (*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	env, ok := s.envelopes[id]
	if !ok {
		return nil, ErrNotFound
	}

	snapshot := *env
	return &snapshot, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id uint64, status models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, ok := s.envelopes[id]
	if !ok {
		return ErrNotFound
	}

	env.Status = status
	return nil
}

func (s *MemoryStore) NextID(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.nextID, nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Envelope, 0)
	for id := uint64(0); id < s.nextID; id++ {
		env, ok := s.envelopes[id]
		if !ok || !f.Matches(env) {
			continue
		}
		snapshot := *env
		result = append(result, &snapshot)
	}
	return result, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.envelopes = nil
	return nil
}
