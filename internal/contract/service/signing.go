package service

import (
	"context"
	"strings"
	"time"

	"github.com/mssola/useragent"

	"fabrica/internal/audit"
	"fabrica/internal/contract/models"
	"fabrica/internal/dispatch"
	"fabrica/internal/signer"
	tokenmodels "fabrica/internal/token/models"
	id "fabrica/pkg/domain"
	dErrors "fabrica/pkg/domain-errors"
	"fabrica/pkg/email"
	"fabrica/pkg/requestcontext"
)

// SignInternal applies the qualified internal signature and moves the
// contract to awaiting external signature. On success it issues the external
// signer's verification code and hands the delivery payload to the email
// gateway; a delivery failure is logged and swallowed since the issued token
// stays valid either way.
func (s *Service) SignInternal(ctx context.Context, contractID id.ContractID) (*models.Contract, error) {
	ctx, span := s.tracer.Start(ctx, "contract.SignInternal")
	defer span.End()

	cred, ok := signer.CredentialFrom(ctx)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "signer credential is required")
	}
	now := requestcontext.Now(ctx)
	if !cred.CanSignQualified(now) {
		return nil, dErrors.New(dErrors.CodeForbidden, "signer lacks a valid qualified-signature certificate")
	}

	record := models.SignatureRecord{
		Kind:       models.SignatureInternalQualified,
		SignerName: cred.Name,
		SignedAt:   now,
		Evidence: models.QualifiedEvidence{
			CertIssuer:    cred.CertIssuer,
			CertNotBefore: cred.CertNotBefore,
			CertNotAfter:  cred.CertNotAfter,
		},
	}

	contract, err := s.contracts.Execute(ctx, contractID,
		func(c *models.Contract) error { return c.CanSignInternal() },
		func(c *models.Contract) { c.ApplySignInternal(record, now) },
	)
	if err != nil {
		return nil, wrapContractErr(err)
	}

	if err := s.auditLog.Append(ctx, audit.Event{
		ContractID:  contract.ID,
		Kind:        audit.KindInternalSignature,
		Description: "assinatura interna qualificada registrada",
		Payload: audit.InternalSignaturePayload{
			SignerName:    cred.Name,
			CertIssuer:    cred.CertIssuer,
			CertNotBefore: cred.CertNotBefore,
			CertNotAfter:  cred.CertNotAfter,
		},
		ActorID: actorOrNil(ctx),
	}); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveSignature(string(models.SignatureInternalQualified))
	}

	if _, err := s.issueAndDeliver(ctx, contract); err != nil {
		return nil, err
	}
	return contract, nil
}

// DispatchResult reports a (re)issued code's delivery coordinates. The code
// itself travels only inside the delivery payload.
type DispatchResult struct {
	RecipientEmail string
	ValidUntil     time.Time
	Delivered      bool
}

// Dispatch re-issues the external signer's verification code, superseding
// the previous one, and hands it to the email gateway. Only contracts
// awaiting the external signature may dispatch.
func (s *Service) Dispatch(ctx context.Context, contractID id.ContractID) (*DispatchResult, error) {
	ctx, span := s.tracer.Start(ctx, "contract.Dispatch")
	defer span.End()

	contract, err := s.contracts.Get(ctx, contractID)
	if err != nil {
		return nil, wrapContractErr(err)
	}
	if contract.Status != models.StatusAwaitingExternalSignature {
		return nil, wrapContractErr(&models.InvalidTransitionError{From: contract.Status, To: models.StatusCompleted})
	}
	return s.issueAndDeliver(ctx, contract)
}

func (s *Service) issueAndDeliver(ctx context.Context, contract *models.Contract) (*DispatchResult, error) {
	tok, code, err := s.tokens.Issue(ctx, contract.ID, contract.ExternalSigner.Email)
	if err != nil {
		return nil, err
	}

	result := &DispatchResult{
		RecipientEmail: tok.RecipientEmail,
		ValidUntil:     tok.ExpiresAt.UTC(),
	}
	if s.dispatcher == nil {
		s.logger.WarnContext(ctx, "no dispatcher configured, verification code not delivered",
			"contract_id", contract.ID)
		return result, nil
	}

	delivery := dispatch.NewDelivery(contract, tok, code, s.signingBaseURL)
	if err := s.dispatcher.Send(ctx, delivery); err != nil {
		// The token outlives the failed delivery; the code can still reach
		// the signer through another channel.
		s.logger.ErrorContext(ctx, "verification code delivery failed, token remains valid",
			"contract_id", contract.ID, "error", err)
		return result, nil
	}
	result.Delivered = true
	return result, nil
}

// SignExternalResult carries the redemption outcome alongside the contract
// when the signature went through.
type SignExternalResult struct {
	Outcome  tokenmodels.Outcome
	Contract *models.Contract
}

// Signed reports whether the external signature was applied.
func (r *SignExternalResult) Signed() bool {
	return r.Outcome == tokenmodels.OutcomeSuccess
}

// SignExternal redeems a verification code on behalf of the counter-party
// and, when the code checks out, records the token-verified signature,
// stamps the completion hash, and completes the contract. Redemption
// failures leave the contract untouched; the token service has already
// logged the attempt.
func (s *Service) SignExternal(ctx context.Context, contractID id.ContractID, code string, evidence tokenmodels.AttemptEvidence) (*SignExternalResult, error) {
	ctx, span := s.tracer.Start(ctx, "contract.SignExternal")
	defer span.End()

	contract, err := s.contracts.Get(ctx, contractID)
	if err != nil {
		return nil, wrapContractErr(err)
	}
	if err := contract.CanSignExternal(); err != nil {
		return nil, wrapContractErr(err)
	}

	validation, err := s.tokens.Validate(ctx, contractID, code, evidence)
	if err != nil {
		return nil, err
	}
	if !validation.OK() {
		return &SignExternalResult{Outcome: validation.Outcome}, nil
	}

	now := requestcontext.Now(ctx)
	record := models.SignatureRecord{
		Kind:       models.SignatureExternalTokenVerified,
		SignerName: externalSignerName(contract),
		SignedAt:   now,
		Evidence:   buildTokenEvidence(code, evidence),
	}

	contract, err = s.contracts.Execute(ctx, contractID,
		func(c *models.Contract) error { return c.CanSignExternal() },
		func(c *models.Contract) {
			c.ApplySignExternal(record, s.integrity.Hash(completionArtifact(c, record), c.Number), now)
		},
	)
	if err != nil {
		return nil, wrapContractErr(err)
	}

	if err := s.auditLog.Append(ctx, audit.Event{
		ContractID:  contract.ID,
		Kind:        audit.KindContractCompleted,
		Description: "assinatura externa validada e contrato concluido",
		Payload: audit.ContractCompletedPayload{
			CompletionHash: contract.CompletionHash,
			SignerName:     record.SignerName,
		},
	}); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveSignature(string(models.SignatureExternalTokenVerified))
	}

	return &SignExternalResult{Outcome: validation.Outcome, Contract: contract}, nil
}

func externalSignerName(contract *models.Contract) string {
	if name := strings.TrimSpace(contract.ExternalSigner.Name); name != "" {
		return name
	}
	return email.DeriveNameFromEmail(contract.ExternalSigner.Email)
}

func buildTokenEvidence(code string, evidence tokenmodels.AttemptEvidence) models.TokenEvidence {
	ev := models.TokenEvidence{
		Code:        code,
		IP:          evidence.IP,
		UserAgent:   evidence.UserAgent,
		Geolocation: evidence.Geolocation,
	}
	if evidence.UserAgent != "" {
		ua := useragent.New(evidence.UserAgent)
		ev.Browser, _ = ua.Browser()
		ev.OS = ua.OS()
		ev.Mobile = ua.Mobile()
	}
	return ev
}

// completionArtifact is the byte sequence the completion hash binds: the
// frozen content plus both signatures' identifying metadata. It must stay
// deterministic; any format change invalidates previously stored hashes.
func completionArtifact(c *models.Contract, external models.SignatureRecord) []byte {
	var b strings.Builder
	b.WriteString(c.Content)
	b.WriteString("\n--assinaturas--\n")
	if c.InternalSignature != nil {
		b.WriteString(string(models.SignatureInternalQualified))
		b.WriteString("|")
		b.WriteString(c.InternalSignature.SignerName)
		b.WriteString("|")
		b.WriteString(c.InternalSignature.SignedAt.UTC().Format(time.RFC3339Nano))
		b.WriteString("\n")
	}
	b.WriteString(string(models.SignatureExternalTokenVerified))
	b.WriteString("|")
	b.WriteString(external.SignerName)
	b.WriteString("|")
	b.WriteString(external.SignedAt.UTC().Format(time.RFC3339Nano))
	b.WriteString("\n")
	return []byte(b.String())
}
