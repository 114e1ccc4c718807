// Package domain defines typed identifiers for the contract core. Distinct
// types keep a token ID from ever being passed where a contract ID is
// expected; the compiler enforces what code review would otherwise have to.
package domain

import (
	"github.com/google/uuid"

	dErrors "fabrica/pkg/domain-errors"
)

// ContractID identifies a commercial contract.
type ContractID uuid.UUID

// TokenID identifies a verification token.
type TokenID uuid.UUID

// EventID identifies an audit event.
type EventID uuid.UUID

// SignerID identifies an internal signer (an identity-provider subject).
type SignerID uuid.UUID

func (id ContractID) String() string { return uuid.UUID(id).String() }
func (id TokenID) String() string    { return uuid.UUID(id).String() }
func (id EventID) String() string    { return uuid.UUID(id).String() }
func (id SignerID) String() string   { return uuid.UUID(id).String() }

func (id ContractID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id TokenID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id SignerID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

// The defined types do not inherit uuid.UUID's marshaling, so without these
// json.Marshal would render an ID as a 16-element byte array instead of its
// canonical string form.

func (id ContractID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id TokenID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id EventID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id SignerID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }

func (id *ContractID) UnmarshalText(text []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(text)
}

func (id *TokenID) UnmarshalText(text []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(text)
}

func (id *EventID) UnmarshalText(text []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(text)
}

func (id *SignerID) UnmarshalText(text []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(text)
}

// NewContractID returns a fresh random contract ID.
func NewContractID() ContractID { return ContractID(uuid.New()) }

// NewTokenID returns a fresh random token ID.
func NewTokenID() TokenID { return TokenID(uuid.New()) }

// NewEventID returns a fresh random event ID.
func NewEventID() EventID { return EventID(uuid.New()) }

// NewSignerID returns a fresh random signer ID.
func NewSignerID() SignerID { return SignerID(uuid.New()) }

// parseUUID enforces the trust-boundary invariant: IDs must be valid,
// non-empty, non-nil UUIDs.
func parseUUID(raw, kind string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s id is required", kind)
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s id is not a valid UUID", kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s id must not be the nil UUID", kind)
	}
	return parsed, nil
}

// ParseContractID parses and validates a contract ID from its string form.
func ParseContractID(raw string) (ContractID, error) {
	parsed, err := parseUUID(raw, "contract")
	if err != nil {
		return ContractID{}, err
	}
	return ContractID(parsed), nil
}

// ParseTokenID parses and validates a token ID from its string form.
func ParseTokenID(raw string) (TokenID, error) {
	parsed, err := parseUUID(raw, "token")
	if err != nil {
		return TokenID{}, err
	}
	return TokenID(parsed), nil
}

// ParseSignerID parses and validates a signer ID from its string form.
func ParseSignerID(raw string) (SignerID, error) {
	parsed, err := parseUUID(raw, "signer")
	if err != nil {
		return SignerID{}, err
	}
	return SignerID(parsed), nil
}
