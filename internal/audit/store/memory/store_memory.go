package memory

import (
	"context"
	"sync"

	"fabrica/internal/audit"
	id "fabrica/pkg/domain"
)

// InMemoryStore keeps events per contract in insertion order. Used as the
// test fake and for local development without Postgres.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.ContractID][]audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.ContractID][]audit.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.ContractID][]audit.Event)
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ContractID] = append(s.events[event.ContractID], event)
	return nil
}

func (s *InMemoryStore) ListByContract(_ context.Context, contractID id.ContractID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[contractID]...), nil
}
