package worker

import (
	"context"
	"log/slog"

	"fabrica/internal/audit"
)

// Sink receives mirrored audit events (the Kafka publisher in production).
type Sink interface {
	Publish(ctx context.Context, event audit.Event) error
}

// Worker drains the audit mirror channel into a sink. Publish failures are
// logged and dropped: the store already holds the event, and the mirror must
// never back-pressure the signing path.
type Worker struct {
	sink   Sink
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func New(sink Sink, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	return &Worker{sink: sink, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.sink.Publish(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "audit mirror publish failed",
					"event_id", event.ID.String(),
					"kind", string(event.Kind),
					"error", err,
				)
			}
		}
	}
}
