// Package service orchestrates the contract lifecycle: drafting,
// finalization, both signatures, cancellation, and the audit emissions each
// step mandates.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"fabrica/internal/audit"
	"fabrica/internal/contract/models"
	"fabrica/internal/dispatch"
	"fabrica/internal/integrity"
	"fabrica/internal/platform/metrics"
	tokensvc "fabrica/internal/token/service"
	id "fabrica/pkg/domain"
	dErrors "fabrica/pkg/domain-errors"
	"fabrica/pkg/requestcontext"
)

// Service owns contract lifecycle transitions. Every transition goes through
// the store's Execute lock, and every mandatory audit emission happens here;
// no other component writes lifecycle events.
type Service struct {
	contracts  Store
	integrity  *integrity.Service
	tokens     *tokensvc.Service
	auditLog   *audit.Log
	dispatcher dispatch.Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer

	signingBaseURL string
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithDispatcher wires the email gateway collaborator. Without one,
// issuance succeeds and delivery is skipped with a warning.
func WithDispatcher(d dispatch.Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithSigningBaseURL sets the public base URL embedded in delivery payloads.
func WithSigningBaseURL(baseURL string) Option {
	return func(s *Service) { s.signingBaseURL = baseURL }
}

func New(contracts Store, integritySvc *integrity.Service, tokens *tokensvc.Service, auditLog *audit.Log, opts ...Option) (*Service, error) {
	if contracts == nil {
		return nil, errors.New("contract store is required")
	}
	if integritySvc == nil {
		return nil, errors.New("integrity service is required")
	}
	if tokens == nil {
		return nil, errors.New("token service is required")
	}
	if auditLog == nil {
		return nil, errors.New("audit log is required")
	}

	svc := &Service{
		contracts: contracts,
		integrity: integritySvc,
		tokens:    tokens,
		auditLog:  auditLog,
		logger:    slog.Default(),
		tracer:    otel.Tracer("fabrica/contract"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateDraftParams carries everything needed to open a draft contract. The
// content arrives template-substituted; TemplateID and Variables only record
// its provenance.
type CreateDraftParams struct {
	Number         string
	Title          string
	Content        string
	TemplateID     string
	Variables      map[string]string
	InternalSigner models.InternalParty
	ExternalSigner models.ExternalParty
}

func (s *Service) CreateDraft(ctx context.Context, params CreateDraftParams) (*models.Contract, error) {
	ctx, span := s.tracer.Start(ctx, "contract.CreateDraft")
	defer span.End()

	now := requestcontext.Now(ctx)
	contract, err := models.NewContract(id.NewContractID(), params.Number, params.Title, params.InternalSigner, params.ExternalSigner, now)
	if err != nil {
		return nil, err
	}
	contract.Content = params.Content
	contract.TemplateID = params.TemplateID
	contract.Variables = params.Variables

	if err := s.contracts.Create(ctx, contract); err != nil {
		return nil, wrapContractErr(err)
	}

	if err := s.auditLog.Append(ctx, audit.Event{
		ContractID:  contract.ID,
		Kind:        audit.KindContractCreated,
		Description: "contrato criado em rascunho",
		Payload: audit.ContractCreatedPayload{
			ContractNumber: contract.Number,
			TemplateID:     contract.TemplateID,
		},
		ActorID: actorOrNil(ctx),
	}); err != nil {
		return nil, err
	}
	return contract, nil
}

func (s *Service) Get(ctx context.Context, contractID id.ContractID) (*models.Contract, error) {
	contract, err := s.contracts.Get(ctx, contractID)
	if err != nil {
		return nil, wrapContractErr(err)
	}
	return contract, nil
}

// UpdateDraftContent replaces the body of a contract whose content is still
// mutable (draft or cancelled). Finalized content is frozen under its hash
// and rejects the mutation.
func (s *Service) UpdateDraftContent(ctx context.Context, contractID id.ContractID, content string, variables map[string]string) (*models.Contract, error) {
	ctx, span := s.tracer.Start(ctx, "contract.UpdateDraftContent")
	defer span.End()

	now := requestcontext.Now(ctx)
	contract, err := s.contracts.Execute(ctx, contractID,
		func(c *models.Contract) error {
			if !c.CanMutateContent() {
				return dErrors.Newf(dErrors.CodeConflict, "contract in status %q is no longer editable", c.Status)
			}
			return nil
		},
		func(c *models.Contract) {
			c.Content = content
			if variables != nil {
				c.Variables = variables
			}
			c.UpdatedAt = now
		},
	)
	if err != nil {
		return nil, wrapContractErr(err)
	}
	return contract, nil
}

// Finalize freezes the draft's content under its integrity hash and moves it
// to awaiting internal signature. A second call fails on the transition guard
// before any hashing or audit emission happens.
func (s *Service) Finalize(ctx context.Context, contractID id.ContractID) (*models.Contract, error) {
	ctx, span := s.tracer.Start(ctx, "contract.Finalize")
	defer span.End()

	now := requestcontext.Now(ctx)
	contract, err := s.contracts.Execute(ctx, contractID,
		func(c *models.Contract) error {
			if err := c.CanFinalize(); err != nil {
				return err
			}
			if strings.TrimSpace(c.Content) == "" {
				return dErrors.New(dErrors.CodeInvariantViolation, "cannot finalize a contract without content")
			}
			return nil
		},
		func(c *models.Contract) {
			c.ApplyFinalize(s.integrity.Hash([]byte(c.Content), c.Number), now)
		},
	)
	if err != nil {
		return nil, wrapContractErr(err)
	}

	if err := s.auditLog.Append(ctx, audit.Event{
		ContractID:  contract.ID,
		Kind:        audit.KindContractFinalized,
		Description: "contrato finalizado e hash de conteudo registrado",
		Payload:     audit.ContractFinalizedPayload{ContentHash: contract.ContentHash},
		ActorID:     actorOrNil(ctx),
	}); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ContractsFinalized.Inc()
	}
	return contract, nil
}

// Cancel moves a non-terminal contract to cancelled. Cancelling a draft is
// an exclusion (the contract never entered the signing flow); after that it
// is a cancellation proper, and the audit kinds differ accordingly.
func (s *Service) Cancel(ctx context.Context, contractID id.ContractID, reason string) (*models.Contract, error) {
	ctx, span := s.tracer.Start(ctx, "contract.Cancel")
	defer span.End()

	now := requestcontext.Now(ctx)
	var wasDraft bool
	contract, err := s.contracts.Execute(ctx, contractID,
		func(c *models.Contract) error {
			if err := c.CanCancel(); err != nil {
				return err
			}
			wasDraft = c.Status == models.StatusDraft
			return nil
		},
		func(c *models.Contract) {
			c.ApplyCancel(reason, now)
		},
	)
	if err != nil {
		return nil, wrapContractErr(err)
	}

	event := audit.Event{
		ContractID: contract.ID,
		ActorID:    actorOrNil(ctx),
	}
	if wasDraft {
		event.Kind = audit.KindContractDeleted
		event.Description = "rascunho de contrato excluido"
		event.Payload = audit.ContractDeletedPayload{Reason: reason}
	} else {
		event.Kind = audit.KindContractCancelled
		event.Description = "contrato cancelado"
		event.Payload = audit.ContractCancelledPayload{Reason: reason}
	}
	if err := s.auditLog.Append(ctx, event); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ContractsCancelled.Inc()
	}
	return contract, nil
}

// Events returns the contract's audit trail in emission order.
func (s *Service) Events(ctx context.Context, contractID id.ContractID) ([]audit.Event, error) {
	if _, err := s.contracts.Get(ctx, contractID); err != nil {
		return nil, wrapContractErr(err)
	}
	events, err := s.auditLog.StreamFor(ctx, contractID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit trail")
	}
	return events, nil
}

// VerifyContent recomputes the integrity hash over the supplied bytes and
// compares it to the hash stored at finalization. The returned contract
// carries the stored hashes and completion timestamp verbatim, never
// recomputed, so a printed copy stays independently checkable.
func (s *Service) VerifyContent(ctx context.Context, contractID id.ContractID, content []byte) (*models.Contract, bool, error) {
	contract, err := s.contracts.Get(ctx, contractID)
	if err != nil {
		return nil, false, wrapContractErr(err)
	}
	if contract.ContentHash == "" {
		return nil, false, dErrors.New(dErrors.CodeConflict, "contract has not been finalized")
	}
	return contract, s.integrity.Verify(content, contract.Number, contract.ContentHash), nil
}

// RecordPDFGenerated logs the external renderer's success. Renderer failures
// never roll anything back and are not recorded here.
func (s *Service) RecordPDFGenerated(ctx context.Context, contractID id.ContractID, renderer string, sizeBytes int64) error {
	contract, err := s.contracts.Get(ctx, contractID)
	if err != nil {
		return wrapContractErr(err)
	}
	return s.auditLog.Append(ctx, audit.Event{
		ContractID:  contract.ID,
		Kind:        audit.KindPDFGenerated,
		Description: "pdf do contrato gerado",
		Payload:     audit.PDFGeneratedPayload{Renderer: renderer, SizeBytes: sizeBytes},
		ActorID:     actorOrNil(ctx),
	})
}

func actorOrNil(ctx context.Context) *id.SignerID {
	actor := requestcontext.ActorID(ctx)
	if actor.IsNil() {
		return nil
	}
	return &actor
}
