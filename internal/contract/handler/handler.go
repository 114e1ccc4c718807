// Package handler exposes the authenticated contract management endpoints.
// The public external-signing entry point lives in internal/signing/handler.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fabrica/internal/audit"
	contractModel "fabrica/internal/contract/models"
	"fabrica/internal/contract/service"
	"fabrica/internal/platform/middleware"
	id "fabrica/pkg/domain"
	dErrors "fabrica/pkg/domain-errors"
	"fabrica/pkg/platform/httputil"
)

// Service defines the contract operations the handler depends on.
type Service interface {
	CreateDraft(ctx context.Context, params service.CreateDraftParams) (*contractModel.Contract, error)
	Get(ctx context.Context, contractID id.ContractID) (*contractModel.Contract, error)
	UpdateDraftContent(ctx context.Context, contractID id.ContractID, content string, variables map[string]string) (*contractModel.Contract, error)
	Finalize(ctx context.Context, contractID id.ContractID) (*contractModel.Contract, error)
	SignInternal(ctx context.Context, contractID id.ContractID) (*contractModel.Contract, error)
	Dispatch(ctx context.Context, contractID id.ContractID) (*service.DispatchResult, error)
	Cancel(ctx context.Context, contractID id.ContractID, reason string) (*contractModel.Contract, error)
	Events(ctx context.Context, contractID id.ContractID) ([]audit.Event, error)
	VerifyContent(ctx context.Context, contractID id.ContractID, content []byte) (*contractModel.Contract, bool, error)
	RecordPDFGenerated(ctx context.Context, contractID id.ContractID, renderer string, sizeBytes int64) error
}

// Handler serves the contract lifecycle endpoints.
type Handler struct {
	contracts Service
	logger    *slog.Logger
	validator middleware.CredentialValidator
}

func New(contracts Service, validator middleware.CredentialValidator, logger *slog.Logger) *Handler {
	return &Handler{
		contracts: contracts,
		logger:    logger,
		validator: validator,
	}
}

// Register mounts the contract routes. Every route requires an authenticated
// internal signer.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestTime)
	router.Use(middleware.ClientMetadata)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.ContentTypeJSON)
	router.Use(middleware.RequireSigner(h.validator, h.logger))

	router.Post("/", h.handleCreateDraft)
	router.Get("/{id}", h.handleGet)
	router.Put("/{id}/content", h.handleUpdateContent)
	router.Post("/{id}/finalize", h.handleFinalize)
	router.Post("/{id}/sign-internal", h.handleSignInternal)
	router.Post("/{id}/dispatch", h.handleDispatch)
	router.Post("/{id}/cancel", h.handleCancel)
	router.Get("/{id}/events", h.handleEvents)
	router.Post("/{id}/verify", h.handleVerify)
	router.Post("/{id}/pdf-generated", h.handlePDFGenerated)

	r.Mount("/contracts", router)
}

func (h *Handler) contractID(w http.ResponseWriter, r *http.Request) (id.ContractID, bool) {
	contractID, err := id.ParseContractID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid contract id"))
		return contractID, false
	}
	return contractID, true
}

func (h *Handler) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var req createDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	contract, err := h.contracts.CreateDraft(r.Context(), req.toParams())
	if err != nil {
		h.writeServiceError(r.Context(), w, "create draft", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, newContractResponse(contract))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	contractID, ok := h.contractID(w, r)
	if !ok {
		return
	}
	contract, err := h.contracts.Get(r.Context(), contractID)
	if err != nil {
		h.writeServiceError(r.Context(), w, "get contract", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newContractResponse(contract))
}

func (h *Handler) handleUpdateContent(w http.ResponseWriter, r *http.Request) {
	contractID, ok := h.contractID(w, r)
	if !ok {
		return
	}
	var req updateContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	contract, err := h.contracts.UpdateDraftContent(r.Context(), contractID, req.Content, req.Variables)
	if err != nil {
		h.writeServiceError(r.Context(), w, "update content", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newContractResponse(contract))
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	contractID, ok := h.contractID(w, r)
	if !ok {
		return
	}
	contract, err := h.contracts.Finalize(r.Context(), contractID)
	if err != nil {
		h.writeServiceError(r.Context(), w, "finalize contract", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newContractResponse(contract))
}

func (h *Handler) handleSignInternal(w http.ResponseWriter, r *http.Request) {
	contractID, ok := h.contractID(w, r)
	if !ok {
		return
	}
	contract, err := h.contracts.SignInternal(r.Context(), contractID)
	if err != nil {
		h.writeServiceError(r.Context(), w, "sign internal", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newContractResponse(contract))
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	contractID, ok := h.contractID(w, r)
	if !ok {
		return
	}
	result, err := h.contracts.Dispatch(r.Context(), contractID)
	if err != nil {
		h.writeServiceError(r.Context(), w, "dispatch token", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, dispatchResponse{
		RecipientEmail: result.RecipientEmail,
		ValidUntil:     result.ValidUntil,
		Delivered:      result.Delivered,
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	contractID, ok := h.contractID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	contract, err := h.contracts.Cancel(r.Context(), contractID, req.Reason)
	if err != nil {
		h.writeServiceError(r.Context(), w, "cancel contract", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newContractResponse(contract))
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	contractID, ok := h.contractID(w, r)
	if !ok {
		return
	}
	events, err := h.contracts.Events(r.Context(), contractID)
	if err != nil {
		h.writeServiceError(r.Context(), w, "list events", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newEventsResponse(events))
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	contractID, ok := h.contractID(w, r)
	if !ok {
		return
	}
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	contract, match, err := h.contracts.VerifyContent(r.Context(), contractID, []byte(req.Content))
	if err != nil {
		h.writeServiceError(r.Context(), w, "verify content", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, verifyResponse{
		Match:          match,
		ContentHash:    contract.ContentHash,
		CompletionHash: contract.CompletionHash,
		CompletedAt:    contract.CompletedAt,
	})
}

func (h *Handler) handlePDFGenerated(w http.ResponseWriter, r *http.Request) {
	contractID, ok := h.contractID(w, r)
	if !ok {
		return
	}
	var req pdfGeneratedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	if err := h.contracts.RecordPDFGenerated(r.Context(), contractID, req.Renderer, req.SizeBytes); err != nil {
		h.writeServiceError(r.Context(), w, "record pdf generation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "contract operation failed", "op", op, "error", err)
	} else {
		h.logger.WarnContext(ctx, "contract operation rejected", "op", op, "error", err)
	}
	httputil.WriteError(w, err)
}
