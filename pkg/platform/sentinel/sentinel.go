package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors and token
// validation outcomes.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrExpired: verification token is past its expiry
// - ErrAlreadyUsed: token already consumed or superseded
// - ErrInvalidState: contract in wrong status for the requested transition
// - ErrAttemptsExhausted: token attempt counter reached its ceiling
// - ErrUnavailable: storage or broker temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrExpired           = errors.New("expired")
	ErrAlreadyUsed       = errors.New("already used")
	ErrInvalidState      = errors.New("invalid state")
	ErrAttemptsExhausted = errors.New("attempts exhausted")
	ErrUnavailable       = errors.New("unavailable")
)
