package models

import (
	"time"

	id "fabrica/pkg/domain"
)

// VerificationToken is a short-lived numeric credential that authorizes one
// external signature on one contract.
//
// Invariants:
//   - At most one active (unconsumed, unexpired) token exists per
//     (contract, recipient) pair; a new issuance supersedes the previous one.
//   - The code is stored only as a bcrypt hash; plaintext leaves the service
//     solely in the issuance response and, after a successful redemption, in
//     the signature evidence it authorized.
//   - Attempts never exceed MaxAttempts, even under concurrent validation.
type VerificationToken struct {
	ID             id.TokenID
	ContractID     id.ContractID
	RecipientEmail string
	CodeHash       string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Consumed       bool
	ConsumedAt     *time.Time
	Attempts       int
	MaxAttempts    int
}

// IsExpiredAt reports whether the token is past its expiry at now.
func (t *VerificationToken) IsExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IsActiveAt reports whether the token can still be redeemed at now.
func (t *VerificationToken) IsActiveAt(now time.Time) bool {
	return !t.Consumed && !t.IsExpiredAt(now)
}

// AttemptsExhausted reports whether the attempt ceiling has been reached.
func (t *VerificationToken) AttemptsExhausted() bool {
	return t.Attempts >= t.MaxAttempts
}

// Outcome classifies one validation attempt. Persisted in audit payloads, so
// the wire values are stable.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeMalformedCode   Outcome = "malformed_code"
	OutcomeNotFound        Outcome = "not_found"
	OutcomeExpired         Outcome = "expired"
	OutcomeTooManyAttempts Outcome = "too_many_attempts"
	OutcomeInvalidCode     Outcome = "invalid_code"
	OutcomeAlreadyConsumed Outcome = "already_consumed"
)

// ValidationResult reports the outcome of one redemption attempt. Token is
// populated only on success.
type ValidationResult struct {
	Outcome Outcome
	Token   *VerificationToken
}

// OK reports whether the attempt succeeded.
func (r *ValidationResult) OK() bool {
	return r != nil && r.Outcome == OutcomeSuccess
}

// AttemptEvidence carries the caller-side context of a validation attempt
// into audit payloads. Geolocation is best-effort and may be empty.
type AttemptEvidence struct {
	IP          string
	UserAgent   string
	Geolocation string
}
