// Package handler exposes the public external-signing entry point. It is the
// only unauthenticated surface: the counter-party proves themselves with the
// verification code alone, so the handler captures client metadata for the
// audit trail and stays strict about input shape.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	contractModel "fabrica/internal/contract/models"
	contractsvc "fabrica/internal/contract/service"
	"fabrica/internal/platform/middleware"
	tokenmodels "fabrica/internal/token/models"
	tokensvc "fabrica/internal/token/service"
	id "fabrica/pkg/domain"
	dErrors "fabrica/pkg/domain-errors"
	"fabrica/pkg/platform/httputil"
	"fabrica/pkg/requestcontext"
)

// Service is the contract-side signing operation the handler delegates to.
type Service interface {
	SignExternal(ctx context.Context, contractID id.ContractID, code string, evidence tokenmodels.AttemptEvidence) (*contractsvc.SignExternalResult, error)
}

type Handler struct {
	contracts Service
	logger    *slog.Logger
}

func New(contracts Service, logger *slog.Logger) *Handler {
	return &Handler{contracts: contracts, logger: logger}
}

// Register mounts the public signing route.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestTime)
	router.Use(middleware.ClientMetadata)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(15 * time.Second))
	router.Use(middleware.ContentTypeJSON)

	router.Post("/{id}", h.handleSign)

	r.Mount("/signing", router)
}

type signRequest struct {
	Code        string `json:"code"`
	Geolocation string `json:"geolocation,omitempty"`
}

type signResponse struct {
	Outcome     string     `json:"outcome"`
	Status      string     `json:"status,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (h *Handler) handleSign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	contractID, err := id.ParseContractID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid contract id"))
		return
	}

	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	// Anything that is not exactly six ASCII digits is turned away at the
	// door, before the token service is involved.
	if !tokensvc.ValidCodeFormat(req.Code) {
		httputil.WriteJSON(w, http.StatusBadRequest, signResponse{
			Outcome: string(tokenmodels.OutcomeMalformedCode),
		})
		return
	}

	evidence := tokenmodels.AttemptEvidence{
		IP:          requestcontext.ClientIP(ctx),
		UserAgent:   requestcontext.UserAgent(ctx),
		Geolocation: req.Geolocation,
	}

	result, err := h.contracts.SignExternal(ctx, contractID, req.Code, evidence)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "external signing failed", "error", err)
		}
		httputil.WriteError(w, err)
		return
	}

	resp := signResponse{Outcome: string(result.Outcome)}
	if result.Signed() {
		resp.Status = string(contractModel.StatusCompleted)
		resp.CompletedAt = result.Contract.CompletedAt
		httputil.WriteJSON(w, http.StatusOK, resp)
		return
	}
	httputil.WriteJSON(w, outcomeStatus(result.Outcome), resp)
}

// outcomeStatus maps a failed redemption outcome to an HTTP status. The
// outcome string in the body is the contract; the status is a convenience.
func outcomeStatus(outcome tokenmodels.Outcome) int {
	switch outcome {
	case tokenmodels.OutcomeNotFound:
		return http.StatusNotFound
	case tokenmodels.OutcomeExpired:
		return http.StatusGone
	case tokenmodels.OutcomeTooManyAttempts:
		return http.StatusTooManyRequests
	case tokenmodels.OutcomeAlreadyConsumed:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
