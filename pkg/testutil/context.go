// Package testutil provides shared helpers for unit and integration tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"fabrica/pkg/requestcontext"
)

// Context returns a background context canceled when the test finishes.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// FrozenContext returns a test context with the request clock pinned to now.
// Services that read requestcontext.Now(ctx) become deterministic.
func FrozenContext(t *testing.T, now time.Time) context.Context {
	t.Helper()
	return requestcontext.WithTime(Context(t), now)
}
