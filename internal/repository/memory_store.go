package repository

import (
	"context"
	"sync"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/models"
)

// MemoryStore keeps records in process memory. Used in tests and local runs.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*models.Submission
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*models.Submission)}
}

func (s *MemoryStore) Upsert(_ context.Context, sub *models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subs[id].Clone(), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
