package models

import (
	"strings"
	"time"

	id "fabrica/pkg/domain"
	dErrors "fabrica/pkg/domain-errors"
)

// InternalParty identifies the company-side signer.
type InternalParty struct {
	SignerID id.SignerID `json:"signer_id"`
	Name     string      `json:"name"`
	Email    string      `json:"email"`
}

// ExternalParty identifies the counter-party signer as declared on the
// contract. Name may be blank; display falls back to an email-derived name.
type ExternalParty struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	DocumentNumber string `json:"document_number"`
}

// Contract is the aggregate root for a commercial contract.
//
// Invariants:
//   - Number is non-empty and unique across contracts
//   - Status moves monotonically along the happy path; cancellation is the
//     only branch and only from non-terminal states
//   - Content mutates only while Status is draft or cancelled
//   - ContentHash is set exactly once, at finalization, and never overwritten;
//     CompletionHash is set exactly once, at completion
//   - A non-nil CompletedAt implies Status is completed and both signature
//     records are present
type Contract struct {
	ID     id.ContractID `json:"id"`
	Number string        `json:"number"`
	Title  string        `json:"title"`

	Content    string            `json:"content"`
	TemplateID string            `json:"template_id,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`

	InternalSigner InternalParty `json:"internal_signer"`
	ExternalSigner ExternalParty `json:"external_signer"`

	Status Status `json:"status"`

	ContentHash    string `json:"content_hash,omitempty"`
	CompletionHash string `json:"completion_hash,omitempty"`

	InternalSignature *SignatureRecord `json:"internal_signature,omitempty"`
	ExternalSignature *SignatureRecord `json:"external_signature,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CancelReason string `json:"cancel_reason,omitempty"`
}

func NewContract(contractID id.ContractID, number, title string, internal InternalParty, external ExternalParty, now time.Time) (*Contract, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "contract number cannot be empty")
	}
	if strings.TrimSpace(title) == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "contract title cannot be empty")
	}
	if strings.TrimSpace(external.Email) == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "external signer email cannot be empty")
	}
	return &Contract{
		ID:             contractID,
		Number:         number,
		Title:          title,
		InternalSigner: internal,
		ExternalSigner: external,
		Status:         StatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// CanMutateContent reports whether the body may still change.
// Cancelled contracts stay editable so their text can be corrected
// before being cloned into a new draft.
func (c *Contract) CanMutateContent() bool {
	return c.Status == StatusDraft || c.Status == StatusCancelled
}

// CanFinalize checks the finalize transition guard.
// Use with ApplyFinalize in Execute callbacks.
func (c *Contract) CanFinalize() error {
	if !c.Status.CanTransitionTo(StatusAwaitingInternalSignature) {
		return &InvalidTransitionError{From: c.Status, To: StatusAwaitingInternalSignature}
	}
	return nil
}

// ApplyFinalize freezes the content under its hash and moves the contract to
// awaiting internal signature. Call CanFinalize first.
func (c *Contract) ApplyFinalize(contentHash string, now time.Time) {
	c.ContentHash = contentHash
	c.Status = StatusAwaitingInternalSignature
	at := now
	c.FinalizedAt = &at
	c.UpdatedAt = now
}

// CanSignInternal checks the internal-signature transition guard.
func (c *Contract) CanSignInternal() error {
	if !c.Status.CanTransitionTo(StatusAwaitingExternalSignature) {
		return &InvalidTransitionError{From: c.Status, To: StatusAwaitingExternalSignature}
	}
	return nil
}

// ApplySignInternal records the qualified signature and moves the contract to
// awaiting external signature. Call CanSignInternal first.
func (c *Contract) ApplySignInternal(record SignatureRecord, now time.Time) {
	c.InternalSignature = &record
	c.Status = StatusAwaitingExternalSignature
	c.UpdatedAt = now
}

// CanSignExternal checks the completion transition guard.
func (c *Contract) CanSignExternal() error {
	if !c.Status.CanTransitionTo(StatusCompleted) {
		return &InvalidTransitionError{From: c.Status, To: StatusCompleted}
	}
	return nil
}

// ApplySignExternal records the token-verified signature, stamps the
// completion hash, and completes the contract. Call CanSignExternal first.
func (c *Contract) ApplySignExternal(record SignatureRecord, completionHash string, now time.Time) {
	c.ExternalSignature = &record
	c.CompletionHash = completionHash
	c.Status = StatusCompleted
	at := now
	c.CompletedAt = &at
	c.UpdatedAt = now
}

// CanCancel checks the cancel transition guard.
func (c *Contract) CanCancel() error {
	if !c.Status.CanTransitionTo(StatusCancelled) {
		return &InvalidTransitionError{From: c.Status, To: StatusCancelled}
	}
	return nil
}

// ApplyCancel moves the contract to cancelled. Call CanCancel first.
func (c *Contract) ApplyCancel(reason string, now time.Time) {
	c.Status = StatusCancelled
	c.CancelReason = reason
	c.UpdatedAt = now
}

// IsCompleted reports whether both signatures are present and the contract
// reached its terminal happy-path state.
func (c *Contract) IsCompleted() bool {
	return c.Status == StatusCompleted && c.InternalSignature != nil && c.ExternalSignature != nil
}
