package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mssola/useragent"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"fabrica/internal/audit"
	"fabrica/internal/platform/metrics"
	"fabrica/internal/token/models"
	id "fabrica/pkg/domain"
	dErrors "fabrica/pkg/domain-errors"
	"fabrica/pkg/platform/sentinel"
	"fabrica/pkg/requestcontext"
)

// Store persists verification tokens. Implementations must make Replace,
// IncrementAttempts, and MarkConsumed atomic: the attempt ceiling and the
// consume-exactly-once guarantee depend on it.
type Store interface {
	// Replace supersedes any active token for the same (contract, recipient)
	// pair and inserts tok, atomically. Returns whether a predecessor was
	// superseded.
	Replace(ctx context.Context, tok *models.VerificationToken) (bool, error)
	// FindLatest returns the most recently issued token for the contract,
	// consumed or not. Returns sentinel.ErrNotFound when none exists.
	FindLatest(ctx context.Context, contractID id.ContractID) (*models.VerificationToken, error)
	// ListByContract returns every token issued for the contract, newest
	// first. Used to recognize superseded codes.
	ListByContract(ctx context.Context, contractID id.ContractID) ([]*models.VerificationToken, error)
	// IncrementAttempts adds one failed attempt if and only if the counter is
	// below ceiling, returning the new count. Returns
	// sentinel.ErrAttemptsExhausted when the counter is already at ceiling.
	IncrementAttempts(ctx context.Context, tokenID id.TokenID, ceiling int) (int, error)
	// MarkConsumed consumes the token exactly once. Returns
	// sentinel.ErrAlreadyUsed when it was consumed before.
	MarkConsumed(ctx context.Context, tokenID id.TokenID, now time.Time) error
}

// Service issues and validates the numeric codes that authorize external
// signatures.
type Service struct {
	store       Store
	auditLog    *audit.Log
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	ttl         time.Duration
	maxAttempts int
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTTL overrides the 24h default token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithMaxAttempts overrides the default attempt ceiling of 5.
func WithMaxAttempts(max int) Option {
	return func(s *Service) { s.maxAttempts = max }
}

func New(store Store, auditLog *audit.Log, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("token store is required")
	}
	if auditLog == nil {
		return nil, errors.New("audit log is required")
	}

	svc := &Service{
		store:       store,
		auditLog:    auditLog,
		logger:      slog.Default(),
		tracer:      otel.Tracer("fabrica/token"),
		ttl:         24 * time.Hour,
		maxAttempts: 5,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// Issue mints a fresh code for the contract's external signer, superseding
// any still-active predecessor for the same recipient. The plaintext code is
// returned once for out-of-band delivery and never stored or logged.
func (s *Service) Issue(ctx context.Context, contractID id.ContractID, recipientEmail string) (*models.VerificationToken, string, error) {
	ctx, span := s.tracer.Start(ctx, "token.Issue")
	defer span.End()

	recipientEmail = strings.TrimSpace(strings.ToLower(recipientEmail))
	if contractID.IsNil() {
		return nil, "", dErrors.New(dErrors.CodeBadRequest, "contract id is required")
	}
	if recipientEmail == "" {
		return nil, "", dErrors.New(dErrors.CodeBadRequest, "recipient email is required")
	}

	code, err := GenerateCode()
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate code")
	}
	hash, err := HashCode(code)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash code")
	}

	now := requestcontext.Now(ctx)
	tok := &models.VerificationToken{
		ID:             id.NewTokenID(),
		ContractID:     contractID,
		RecipientEmail: recipientEmail,
		CodeHash:       hash,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
		MaxAttempts:    s.maxAttempts,
	}

	superseded, err := s.store.Replace(ctx, tok)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist token")
	}

	if err := s.auditLog.Append(ctx, audit.Event{
		ContractID:  contractID,
		Kind:        audit.KindTokenIssued,
		Description: "codigo de verificacao emitido para assinatura externa",
		Payload: audit.TokenIssuedPayload{
			RecipientEmail: recipientEmail,
			ValidUntil:     tok.ExpiresAt,
			Superseded:     superseded,
		},
		ActorID: actorOrNil(ctx),
	}); err != nil {
		return nil, "", err
	}

	if s.metrics != nil {
		s.metrics.TokensIssued.Inc()
	}
	return tok, code, nil
}

// Validate redeems a code for the contract. Checks run in a fixed order —
// shape, existence, consumption, expiry, attempt ceiling, match — and every
// outcome emits exactly one audit event. Expiry wins over the attempt
// ceiling when a token is both.
func (s *Service) Validate(ctx context.Context, contractID id.ContractID, code string, ev models.AttemptEvidence) (*models.ValidationResult, error) {
	ctx, span := s.tracer.Start(ctx, "token.Validate")
	defer span.End()

	if contractID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "contract id is required")
	}

	if ev.IP == "" {
		ev.IP = requestcontext.ClientIP(ctx)
	}
	if ev.UserAgent == "" {
		ev.UserAgent = requestcontext.UserAgent(ctx)
	}

	if !ValidCodeFormat(code) {
		return s.fail(ctx, contractID, models.OutcomeMalformedCode, code, ev)
	}

	tok, err := s.store.FindLatest(ctx, contractID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return s.fail(ctx, contractID, models.OutcomeNotFound, code, ev)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load token")
	}

	now := requestcontext.Now(ctx)

	if tok.Consumed {
		return s.fail(ctx, contractID, models.OutcomeAlreadyConsumed, code, ev)
	}
	if tok.IsExpiredAt(now) {
		return s.fail(ctx, contractID, models.OutcomeExpired, code, ev)
	}
	if tok.AttemptsExhausted() {
		return s.fail(ctx, contractID, models.OutcomeTooManyAttempts, code, ev)
	}

	if !VerifyCode(code, tok.CodeHash) {
		// A superseded code is reported as consumed, not as a wrong guess,
		// and does not move the attempt counter.
		if s.matchesConsumedToken(ctx, contractID, tok.ID, code) {
			return s.fail(ctx, contractID, models.OutcomeAlreadyConsumed, code, ev)
		}

		if _, err := s.store.IncrementAttempts(ctx, tok.ID, tok.MaxAttempts); err != nil {
			if errors.Is(err, sentinel.ErrAttemptsExhausted) {
				return s.fail(ctx, contractID, models.OutcomeTooManyAttempts, code, ev)
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record attempt")
		}
		return s.fail(ctx, contractID, models.OutcomeInvalidCode, code, ev)
	}

	if err := s.store.MarkConsumed(ctx, tok.ID, now); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return s.fail(ctx, contractID, models.OutcomeAlreadyConsumed, code, ev)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume token")
	}

	consumedAt := now
	tok.Consumed = true
	tok.ConsumedAt = &consumedAt

	if err := s.emitAttempt(ctx, contractID, models.OutcomeSuccess, code, ev); err != nil {
		return nil, err
	}
	s.observe(models.OutcomeSuccess)

	return &models.ValidationResult{Outcome: models.OutcomeSuccess, Token: tok}, nil
}

// matchesConsumedToken reports whether code belongs to an earlier consumed
// token for the contract. Best-effort: a store failure here just means the
// attempt counts as a wrong guess.
func (s *Service) matchesConsumedToken(ctx context.Context, contractID id.ContractID, activeID id.TokenID, code string) bool {
	history, err := s.store.ListByContract(ctx, contractID)
	if err != nil {
		return false
	}
	for _, prior := range history {
		if prior.ID == activeID || !prior.Consumed {
			continue
		}
		if VerifyCode(code, prior.CodeHash) {
			return true
		}
	}
	return false
}

func (s *Service) fail(ctx context.Context, contractID id.ContractID, outcome models.Outcome, code string, ev models.AttemptEvidence) (*models.ValidationResult, error) {
	if err := s.emitAttempt(ctx, contractID, outcome, code, ev); err != nil {
		return nil, err
	}
	s.observe(outcome)
	return &models.ValidationResult{Outcome: outcome}, nil
}

func (s *Service) emitAttempt(ctx context.Context, contractID id.ContractID, outcome models.Outcome, code string, ev models.AttemptEvidence) error {
	payload := audit.AccessAttemptPayload{
		Success:     outcome == models.OutcomeSuccess,
		Outcome:     string(outcome),
		IP:          ev.IP,
		UserAgent:   ev.UserAgent,
		Geolocation: ev.Geolocation,
	}
	if outcome != models.OutcomeSuccess {
		payload.RedactedCode = RedactCode(code)
		payload.CodeLength = len(code)
	}
	if ev.UserAgent != "" {
		ua := useragent.New(ev.UserAgent)
		payload.Browser, _ = ua.Browser()
		payload.OS = ua.OS()
	}

	return s.auditLog.Append(ctx, audit.Event{
		ContractID:  contractID,
		Kind:        audit.KindAccessAttempt,
		Description: "tentativa de acesso ao fluxo de assinatura externa",
		Payload:     payload,
	})
}

func (s *Service) observe(outcome models.Outcome) {
	if s.metrics != nil {
		s.metrics.ObserveTokenValidation(string(outcome))
	}
}

func actorOrNil(ctx context.Context) *id.SignerID {
	actor := requestcontext.ActorID(ctx)
	if actor.IsNil() {
		return nil
	}
	return &actor
}
