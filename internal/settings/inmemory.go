package settings

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps the profile in process memory for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	profile Profile
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Load(_ context.Context) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile, nil
}

func (s *InMemoryStore) Save(_ context.Context, p Profile) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
