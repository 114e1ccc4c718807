package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"fabrica/pkg/platform/circuit"
)

const defaultRetryCooldown = 30 * time.Second

// Gateway delivers verification codes through the HTTP email gateway. A
// circuit breaker sheds calls while the gateway is down so a slow collaborator
// cannot stall the signing path; the caller already treats delivery as
// best-effort. While open, one trial request per cooldown window is let
// through so the circuit can close again once the gateway recovers.
type Gateway struct {
	url     string
	client  *http.Client
	breaker *circuit.Breaker
	logger  *slog.Logger

	cooldown time.Duration
	mu       sync.Mutex
	retryAt  time.Time
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithRetryCooldown sets how long an open circuit waits between trial
// requests.
func WithRetryCooldown(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.cooldown = d }
}

func NewGateway(url string, timeout time.Duration, logger *slog.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		breaker:  circuit.New("email-gateway"),
		logger:   logger,
		cooldown: defaultRetryCooldown,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Send(ctx context.Context, delivery Delivery) error {
	if g.breaker.IsOpen() && !g.allowTrial() {
		return fmt.Errorf("email gateway circuit open, delivery skipped")
	}

	body, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.recordFailure(ctx)
		return fmt.Errorf("call email gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		g.recordFailure(ctx)
		return fmt.Errorf("email gateway returned status %d", resp.StatusCode)
	}

	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.logger.InfoContext(ctx, "email gateway circuit closed")
	}
	return nil
}

// allowTrial admits at most one request per cooldown window while the
// circuit is open.
func (g *Gateway) allowTrial() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if now.Before(g.retryAt) {
		return false
	}
	g.retryAt = now.Add(g.cooldown)
	return true
}

func (g *Gateway) recordFailure(ctx context.Context) {
	if _, change := g.breaker.RecordFailure(); change.Opened {
		g.logger.WarnContext(ctx, "email gateway circuit opened")
	}
}
