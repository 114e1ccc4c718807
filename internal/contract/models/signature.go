package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SignatureKind tags a SignatureRecord with the capability that produced it.
type SignatureKind string

const (
	SignatureInternalQualified     SignatureKind = "internal_qualified"
	SignatureExternalTokenVerified SignatureKind = "external_token_verified"
)

// SignatureEvidence is the capability-specific evidence bundle attached to a
// SignatureRecord. Exactly one concrete type exists per SignatureKind.
type SignatureEvidence interface {
	isSignatureEvidence()
}

// QualifiedEvidence backs an internal signature: the signer's certificate
// issuer and validity window, as attested by the identity provider.
type QualifiedEvidence struct {
	CertIssuer    string    `json:"cert_issuer"`
	CertNotBefore time.Time `json:"cert_not_before"`
	CertNotAfter  time.Time `json:"cert_not_after"`
}

// TokenEvidence backs an external signature: the client context of the
// successful code redemption. Geolocation is best-effort and may be empty.
type TokenEvidence struct {
	Code        string `json:"code"`
	IP          string `json:"ip"`
	UserAgent   string `json:"user_agent"`
	Browser     string `json:"browser,omitempty"`
	OS          string `json:"os,omitempty"`
	Mobile      bool   `json:"mobile,omitempty"`
	Geolocation string `json:"geolocation,omitempty"`
}

func (QualifiedEvidence) isSignatureEvidence() {}
func (TokenEvidence) isSignatureEvidence()     {}

// SignatureRecord is one applied signature. A contract carries at most one
// record per kind, and both must be present before completion.
type SignatureRecord struct {
	Kind       SignatureKind     `json:"kind"`
	SignerName string            `json:"signer_name"`
	SignedAt   time.Time         `json:"signed_at"`
	Evidence   SignatureEvidence `json:"evidence"`
}

// UnmarshalJSON decodes the evidence bundle into the concrete type selected
// by Kind.
func (r *SignatureRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind       SignatureKind   `json:"kind"`
		SignerName string          `json:"signer_name"`
		SignedAt   time.Time       `json:"signed_at"`
		Evidence   json.RawMessage `json:"evidence"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Kind = raw.Kind
	r.SignerName = raw.SignerName
	r.SignedAt = raw.SignedAt

	switch raw.Kind {
	case SignatureInternalQualified:
		var ev QualifiedEvidence
		if err := json.Unmarshal(raw.Evidence, &ev); err != nil {
			return err
		}
		r.Evidence = ev
	case SignatureExternalTokenVerified:
		var ev TokenEvidence
		if err := json.Unmarshal(raw.Evidence, &ev); err != nil {
			return err
		}
		r.Evidence = ev
	default:
		return fmt.Errorf("unknown signature kind %q", raw.Kind)
	}
	return nil
}
