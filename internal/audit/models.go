// Package audit is the append-only record of everything that happened to a
// contract. It is the system of record for "what happened", not "what should
// happen": no business validation occurs here. Only the contract lifecycle
// service and the token service are authorized to emit lifecycle- or
// security-relevant events, keeping the log single-sourced.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	id "fabrica/pkg/domain"
)

// Kind names one entry in the closed set of audit event kinds. The wire values
// are the legal vocabulary shared with the reporting side; extend only by
// agreement.
type Kind string

const (
	KindContractCreated   Kind = "contrato_criado"
	KindContractFinalized Kind = "contrato_finalizado"
	KindInternalSignature Kind = "assinatura_interna_realizada"
	KindTokenIssued       Kind = "token_emitido"
	KindAccessAttempt     Kind = "tentativa_acesso"
	KindContractCompleted Kind = "contrato_concluido"
	KindContractCancelled Kind = "contrato_cancelado"
	KindContractDeleted   Kind = "contrato_excluido"
	KindPDFGenerated      Kind = "pdf_gerado"
)

// Valid reports whether k belongs to the closed kind set.
func (k Kind) Valid() bool {
	switch k {
	case KindContractCreated, KindContractFinalized, KindInternalSignature,
		KindTokenIssued, KindAccessAttempt, KindContractCompleted,
		KindContractCancelled, KindContractDeleted, KindPDFGenerated:
		return true
	}
	return false
}

// Event is one immutable fact about a contract. Events are ordered by
// creation within a contract and never mutated after insertion.
type Event struct {
	ID          id.EventID
	ContractID  id.ContractID
	Kind        Kind
	Description string
	Payload     Payload
	// ActorID is nil for system-initiated events and for actions taken by the
	// external counter-party, who has no internal identity.
	ActorID   *id.SignerID
	CreatedAt time.Time
}

// Payload is the event-specific evidence attached to an event. Each kind has
// exactly one payload schema; the sum type keeps free-form JSON out of the
// log.
type Payload interface {
	isPayload()
}

// ContractCreatedPayload records the birth of a contract from a template.
type ContractCreatedPayload struct {
	ContractNumber string `json:"contract_number"`
	TemplateID     string `json:"template_id,omitempty"`
}

// ContractFinalizedPayload records the content freeze and its digest.
type ContractFinalizedPayload struct {
	ContentHash string `json:"content_hash"`
}

// InternalSignaturePayload records the qualified-certificate evidence of an
// internal signature.
type InternalSignaturePayload struct {
	SignerName    string    `json:"signer_name"`
	CertIssuer    string    `json:"cert_issuer"`
	CertNotBefore time.Time `json:"cert_not_before"`
	CertNotAfter  time.Time `json:"cert_not_after"`
}

// TokenIssuedPayload records a verification code dispatch. The code itself is
// never logged.
type TokenIssuedPayload struct {
	RecipientEmail string    `json:"recipient_email"`
	ValidUntil     time.Time `json:"valid_until"`
	Superseded     bool      `json:"superseded_previous"`
}

// AccessAttemptPayload records one external signing attempt, successful or
// not. The supplied code appears only redacted.
type AccessAttemptPayload struct {
	Success      bool   `json:"success"`
	Outcome      string `json:"outcome"`
	RedactedCode string `json:"redacted_code,omitempty"`
	CodeLength   int    `json:"code_length,omitempty"`
	IP           string `json:"ip,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
	Browser      string `json:"browser,omitempty"`
	OS           string `json:"os,omitempty"`
	Geolocation  string `json:"geolocation,omitempty"`
}

// ContractCompletedPayload records the final-state digest.
type ContractCompletedPayload struct {
	CompletionHash string `json:"completion_hash"`
	SignerName     string `json:"signer_name"`
}

// ContractCancelledPayload records a cancellation after the draft stage.
type ContractCancelledPayload struct {
	Reason string `json:"reason"`
}

// ContractDeletedPayload records removal of a draft.
type ContractDeletedPayload struct {
	Reason string `json:"reason"`
}

// PDFGeneratedPayload records a successful render by the PDF collaborator.
type PDFGeneratedPayload struct {
	Renderer  string `json:"renderer,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

func (ContractCreatedPayload) isPayload()   {}
func (ContractFinalizedPayload) isPayload() {}
func (InternalSignaturePayload) isPayload() {}
func (TokenIssuedPayload) isPayload()       {}
func (AccessAttemptPayload) isPayload()     {}
func (ContractCompletedPayload) isPayload() {}
func (ContractCancelledPayload) isPayload() {}
func (ContractDeletedPayload) isPayload()   {}
func (PDFGeneratedPayload) isPayload()      {}

// EncodePayload serializes a payload for storage.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// DecodePayload deserializes a stored payload according to the event kind.
func DecodePayload(kind Kind, raw []byte) (Payload, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	switch kind {
	case KindContractCreated:
		return decodeAs[ContractCreatedPayload](kind, raw)
	case KindContractFinalized:
		return decodeAs[ContractFinalizedPayload](kind, raw)
	case KindInternalSignature:
		return decodeAs[InternalSignaturePayload](kind, raw)
	case KindTokenIssued:
		return decodeAs[TokenIssuedPayload](kind, raw)
	case KindAccessAttempt:
		return decodeAs[AccessAttemptPayload](kind, raw)
	case KindContractCompleted:
		return decodeAs[ContractCompletedPayload](kind, raw)
	case KindContractCancelled:
		return decodeAs[ContractCancelledPayload](kind, raw)
	case KindContractDeleted:
		return decodeAs[ContractDeletedPayload](kind, raw)
	case KindPDFGenerated:
		return decodeAs[PDFGeneratedPayload](kind, raw)
	default:
		return nil, fmt.Errorf("unknown audit event kind %q", kind)
	}
}

func decodeAs[T Payload](kind Kind, raw []byte) (Payload, error) {
	var target T
	if err := json.Unmarshal(raw, &target); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return target, nil
}
