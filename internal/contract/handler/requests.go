package handler

import (
	"time"

	"fabrica/internal/audit"
	contractModel "fabrica/internal/contract/models"
	"fabrica/internal/contract/service"
	id "fabrica/pkg/domain"
)

type partyRequest struct {
	SignerID string `json:"signer_id,omitempty"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Document string `json:"document_number,omitempty"`
}

type createDraftRequest struct {
	Number         string            `json:"number"`
	Title          string            `json:"title"`
	Content        string            `json:"content"`
	TemplateID     string            `json:"template_id"`
	Variables      map[string]string `json:"variables"`
	InternalSigner partyRequest      `json:"internal_signer"`
	ExternalSigner partyRequest      `json:"external_signer"`
}

func (r createDraftRequest) toParams() service.CreateDraftParams {
	params := service.CreateDraftParams{
		Number:     r.Number,
		Title:      r.Title,
		Content:    r.Content,
		TemplateID: r.TemplateID,
		Variables:  r.Variables,
		InternalSigner: contractModel.InternalParty{
			Name:  r.InternalSigner.Name,
			Email: r.InternalSigner.Email,
		},
		ExternalSigner: contractModel.ExternalParty{
			Name:           r.ExternalSigner.Name,
			Email:          r.ExternalSigner.Email,
			DocumentNumber: r.ExternalSigner.Document,
		},
	}
	if signerID, err := id.ParseSignerID(r.InternalSigner.SignerID); err == nil {
		params.InternalSigner.SignerID = signerID
	}
	return params
}

type updateContentRequest struct {
	Content   string            `json:"content"`
	Variables map[string]string `json:"variables"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type verifyRequest struct {
	Content string `json:"content"`
}

type pdfGeneratedRequest struct {
	Renderer  string `json:"renderer"`
	SizeBytes int64  `json:"size_bytes"`
}

type dispatchResponse struct {
	RecipientEmail string    `json:"recipient_email"`
	ValidUntil     time.Time `json:"valid_until"`
	Delivered      bool      `json:"delivered"`
}

type verifyResponse struct {
	Match          bool       `json:"match"`
	ContentHash    string     `json:"content_hash"`
	CompletionHash string     `json:"completion_hash,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

type signatureResponse struct {
	Kind       string    `json:"kind"`
	SignerName string    `json:"signer_name"`
	SignedAt   time.Time `json:"signed_at"`
}

type contractResponse struct {
	ID                string             `json:"id"`
	Number            string             `json:"number"`
	Title             string             `json:"title"`
	Status            string             `json:"status"`
	ContentHash       string             `json:"content_hash,omitempty"`
	CompletionHash    string             `json:"completion_hash,omitempty"`
	InternalSignature *signatureResponse `json:"internal_signature,omitempty"`
	ExternalSignature *signatureResponse `json:"external_signature,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	FinalizedAt       *time.Time         `json:"finalized_at,omitempty"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
}

func newContractResponse(contract *contractModel.Contract) contractResponse {
	resp := contractResponse{
		ID:             contract.ID.String(),
		Number:         contract.Number,
		Title:          contract.Title,
		Status:         string(contract.Status),
		ContentHash:    contract.ContentHash,
		CompletionHash: contract.CompletionHash,
		CreatedAt:      contract.CreatedAt,
		UpdatedAt:      contract.UpdatedAt,
		FinalizedAt:    contract.FinalizedAt,
		CompletedAt:    contract.CompletedAt,
	}
	resp.InternalSignature = newSignatureResponse(contract.InternalSignature)
	resp.ExternalSignature = newSignatureResponse(contract.ExternalSignature)
	return resp
}

func newSignatureResponse(record *contractModel.SignatureRecord) *signatureResponse {
	if record == nil {
		return nil
	}
	return &signatureResponse{
		Kind:       string(record.Kind),
		SignerName: record.SignerName,
		SignedAt:   record.SignedAt,
	}
}

type eventResponse struct {
	ID          string        `json:"id"`
	Kind        string        `json:"kind"`
	Description string        `json:"description"`
	Payload     audit.Payload `json:"payload"`
	ActorID     *string       `json:"actor_id,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

func newEventsResponse(events []audit.Event) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		resp := eventResponse{
			ID:          ev.ID.String(),
			Kind:        string(ev.Kind),
			Description: ev.Description,
			Payload:     ev.Payload,
			CreatedAt:   ev.CreatedAt,
		}
		if ev.ActorID != nil {
			actor := ev.ActorID.String()
			resp.ActorID = &actor
		}
		out = append(out, resp)
	}
	return out
}
