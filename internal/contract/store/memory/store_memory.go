// Package memory provides an in-memory contract store for tests and local
// development.
package memory

import (
	"context"
	"sync"

	"fabrica/internal/contract/models"
	id "fabrica/pkg/domain"
	"fabrica/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu       sync.Mutex
	byID     map[id.ContractID]*models.Contract
	byNumber map[string]id.ContractID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:     make(map[id.ContractID]*models.Contract),
		byNumber: make(map[string]id.ContractID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, contract *models.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[contract.ID]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := s.byNumber[contract.Number]; exists {
		return sentinel.ErrConflict
	}
	cp := clone(contract)
	s.byID[contract.ID] = cp
	s.byNumber[contract.Number] = contract.ID
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, contractID id.ContractID) (*models.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contract, ok := s.byID[contractID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(contract), nil
}

// Execute runs validate then mutate on the contract while holding the store
// lock, mirroring the postgres store's SELECT FOR UPDATE semantics. A
// validation error aborts the operation without any write.
func (s *InMemoryStore) Execute(_ context.Context, contractID id.ContractID, validate func(*models.Contract) error, mutate func(*models.Contract)) (*models.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contract, ok := s.byID[contractID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(contract); err != nil {
		return nil, err
	}
	mutate(contract)
	return clone(contract), nil
}

func clone(contract *models.Contract) *models.Contract {
	cp := *contract
	if contract.Variables != nil {
		cp.Variables = make(map[string]string, len(contract.Variables))
		for k, v := range contract.Variables {
			cp.Variables[k] = v
		}
	}
	if contract.InternalSignature != nil {
		rec := *contract.InternalSignature
		cp.InternalSignature = &rec
	}
	if contract.ExternalSignature != nil {
		rec := *contract.ExternalSignature
		cp.ExternalSignature = &rec
	}
	if contract.FinalizedAt != nil {
		at := *contract.FinalizedAt
		cp.FinalizedAt = &at
	}
	if contract.CompletedAt != nil {
		at := *contract.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}
