package audit

import (
	"context"
	"log/slog"

	id "fabrica/pkg/domain"
	dErrors "fabrica/pkg/domain-errors"
	"fabrica/pkg/requestcontext"
)

// Store persists audit events. Append is a pure insert: it fails only on
// storage unavailability, never on business grounds.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByContract(ctx context.Context, contractID id.ContractID) ([]Event, error)
}

// Log is the single write path for audit events. Appends are synchronous so
// the per-contract ordering matches the order of operations; a best-effort
// mirror channel fans events out to external sinks (Kafka) without ever
// blocking the caller.
type Log struct {
	store  Store
	logger *slog.Logger
	mirror chan<- Event
}

// Option configures the Log.
type Option func(*Log)

// WithLogger sets a logger for mirror-drop diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// WithMirror attaches an outbound channel drained by the mirror worker.
func WithMirror(mirror chan<- Event) Option {
	return func(l *Log) { l.mirror = mirror }
}

func New(store Store, opts ...Option) *Log {
	l := &Log{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records one event. ID and timestamp are filled in when the emitter
// left them zero; the timestamp comes from the request-scoped clock so all
// writes within one operation agree.
func (l *Log) Append(ctx context.Context, event Event) error {
	if !event.Kind.Valid() {
		return dErrors.Newf(dErrors.CodeInvalidInput, "audit kind %q is not in the closed set", event.Kind)
	}
	if event.ContractID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "audit event requires a contract id")
	}
	if event.ID.IsNil() {
		event.ID = id.NewEventID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = requestcontext.Now(ctx)
	}

	if err := l.store.Append(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit event")
	}

	if l.mirror != nil {
		select {
		case l.mirror <- event:
		default:
			// The mirror is best-effort; the store already holds the event.
			l.logger.WarnContext(ctx, "audit mirror channel full, event not mirrored",
				"event_id", event.ID.String(),
				"kind", string(event.Kind),
			)
		}
	}
	return nil
}

// StreamFor returns a contract's events in creation order. Consumers must not
// assume gaps are meaningful: a missing intermediate kind means that step's
// emitter was skipped by an early failure.
func (l *Log) StreamFor(ctx context.Context, contractID id.ContractID) ([]Event, error) {
	events, err := l.store.ListByContract(ctx, contractID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events")
	}
	return events, nil
}
