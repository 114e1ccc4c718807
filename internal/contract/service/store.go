package service

import (
	"context"
	"errors"

	"fabrica/internal/contract/models"
	id "fabrica/pkg/domain"
	dErrors "fabrica/pkg/domain-errors"
	"fabrica/pkg/platform/sentinel"
)

// Store persists contract aggregates.
type Store interface {
	Create(ctx context.Context, contract *models.Contract) error
	Get(ctx context.Context, contractID id.ContractID) (*models.Contract, error)
	// Execute runs validate then mutate on the contract while holding a lock
	// on it (mutex or SELECT FOR UPDATE). A validation error aborts with no
	// write, which is what makes lifecycle transitions compare-and-set.
	Execute(ctx context.Context, contractID id.ContractID, validate func(*models.Contract) error, mutate func(*models.Contract)) (*models.Contract, error)
}

func wrapContractErr(err error) error {
	var transition *models.InvalidTransitionError
	switch {
	case errors.As(err, &transition):
		return dErrors.Wrap(err, dErrors.CodeConflict, transition.Error())
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "contract not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "contract conflict")
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "contract store failure")
	}
}
