// Package memory provides an in-memory token store for tests and local
// development. All guarantees the postgres and redis stores make under
// concurrency hold here under a single mutex.
package memory

import (
	"context"
	"sync"
	"time"

	"fabrica/internal/token/models"
	id "fabrica/pkg/domain"
	"fabrica/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu sync.Mutex
	// newest last, per contract
	byContract map[id.ContractID][]*models.VerificationToken
	byID       map[id.TokenID]*models.VerificationToken
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byContract: make(map[id.ContractID][]*models.VerificationToken),
		byID:       make(map[id.TokenID]*models.VerificationToken),
	}
}

func (s *InMemoryStore) Replace(_ context.Context, tok *models.VerificationToken) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	superseded := false
	for _, prior := range s.byContract[tok.ContractID] {
		if prior.RecipientEmail == tok.RecipientEmail && !prior.Consumed {
			at := tok.CreatedAt
			prior.Consumed = true
			prior.ConsumedAt = &at
			superseded = true
		}
	}

	cp := *tok
	s.byContract[tok.ContractID] = append(s.byContract[tok.ContractID], &cp)
	s.byID[tok.ID] = &cp
	return superseded, nil
}

func (s *InMemoryStore) FindLatest(_ context.Context, contractID id.ContractID) (*models.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens := s.byContract[contractID]
	if len(tokens) == 0 {
		return nil, sentinel.ErrNotFound
	}
	cp := *tokens[len(tokens)-1]
	return &cp, nil
}

func (s *InMemoryStore) ListByContract(_ context.Context, contractID id.ContractID) ([]*models.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens := s.byContract[contractID]
	out := make([]*models.VerificationToken, 0, len(tokens))
	for i := len(tokens) - 1; i >= 0; i-- {
		cp := *tokens[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemoryStore) IncrementAttempts(_ context.Context, tokenID id.TokenID, ceiling int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.byID[tokenID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	if tok.Attempts >= ceiling {
		return tok.Attempts, sentinel.ErrAttemptsExhausted
	}
	tok.Attempts++
	return tok.Attempts, nil
}

func (s *InMemoryStore) MarkConsumed(_ context.Context, tokenID id.TokenID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.byID[tokenID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if tok.Consumed {
		return sentinel.ErrAlreadyUsed
	}
	tok.Consumed = true
	at := now
	tok.ConsumedAt = &at
	return nil
}
