// Package crm delivers badge notifications to the external CRM.
// Delivery is best effort: TrackEvent tries each configured transport in
// order and reports whether any of them accepted the event. It never returns
// an error and never panics into the caller.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/keystep/practice-hub/internal/domain/gamification"
	"github.com/keystep/practice-hub/internal/infrastructure/metrics"
	"github.com/keystep/practice-hub/pkg/circuitbreaker"
	"github.com/keystep/practice-hub/pkg/logger"
	"github.com/keystep/practice-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the CRM client.
type Config struct {
	Enabled bool

	// EventsURL receives structured events (primary transport).
	EventsURL string

	// WebhookURL receives flat webhook payloads (fallback transport).
	WebhookURL string

	// APIToken is sent as a bearer token when set.
	APIToken string

	Timeout time.Duration

	MaxAttempts  int
	InitialDelay time.Duration

	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// DefaultConfig returns conservative defaults with notifications disabled.
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		MaxAttempts:      3,
		InitialDelay:     200 * time.Millisecond,
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrNoTransports is logged when TrackEvent has nowhere to send.
	ErrNoTransports = errors.New("crm: no transports configured")

	// ErrRejected is returned by a transport for a non-retryable 4xx.
	ErrRejected = errors.New("crm: event rejected")
)

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("crm: unexpected status %d: %s", e.StatusCode, e.Body)
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSPORTS
// ══════════════════════════════════════════════════════════════════════════════

// Transport is one way of delivering an event.
type Transport interface {
	Name() string
	Send(ctx context.Context, ev gamification.NotificationEvent) error
}

type eventBody struct {
	EventKey  string         `json:"event_key"`
	Title     string         `json:"title"`
	Recipient string         `json:"recipient"`
	Payload   map[string]any `json:"payload,omitempty"`
	SentAt    time.Time      `json:"sent_at"`
}

// EventsTransport posts structured events as JSON.
type EventsTransport struct {
	url    string
	token  string
	client *http.Client
}

// NewEventsTransport creates an EventsTransport.
func NewEventsTransport(url, token string, client *http.Client) *EventsTransport {
	return &EventsTransport{url: url, token: token, client: client}
}

// Name implements Transport.
func (t *EventsTransport) Name() string { return "events" }

// Send implements Transport.
func (t *EventsTransport) Send(ctx context.Context, ev gamification.NotificationEvent) error {
	return postJSON(ctx, t.client, t.url, t.token, eventBody{
		EventKey:  ev.EventKey,
		Title:     ev.Title,
		Recipient: ev.Recipient,
		Payload:   ev.Payload,
		SentAt:    time.Now().UTC(),
	})
}

// WebhookTransport posts a flat payload: event fields merged with the
// payload map, for receivers that cannot read nested objects.
type WebhookTransport struct {
	url    string
	token  string
	client *http.Client
}

// NewWebhookTransport creates a WebhookTransport.
func NewWebhookTransport(url, token string, client *http.Client) *WebhookTransport {
	return &WebhookTransport{url: url, token: token, client: client}
}

// Name implements Transport.
func (t *WebhookTransport) Name() string { return "webhook" }

// Send implements Transport.
func (t *WebhookTransport) Send(ctx context.Context, ev gamification.NotificationEvent) error {
	flat := make(map[string]any, len(ev.Payload)+3)
	for k, v := range ev.Payload {
		flat[k] = v
	}
	flat["event"] = ev.EventKey
	flat["title"] = ev.Title
	flat["email"] = ev.Recipient
	return postJSON(ctx, t.client, t.url, t.token, flat)
}

// postJSON sends body and classifies the outcome: network errors, 429 and
// 5xx are retryable; other 4xx are permanent.
func postJSON(ctx context.Context, client *http.Client, url, token string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return retry.Retryable(statusErr)
	}
	return retry.Permanent(fmt.Errorf("%w: %w", ErrRejected, statusErr))
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

type guardedTransport struct {
	transport Transport
	breaker   *circuitbreaker.Breaker
}

// Client implements gamification.Notifier over an ordered list of transports.
// Each transport has its own retrier budget and circuit breaker.
type Client struct {
	enabled    bool
	transports []guardedTransport
	retrier    *retry.Retrier
	log        *logger.Logger
	metrics    *metrics.Metrics
}

// NewClient builds the default transport chain from cfg: the events
// endpoint first, then the webhook.
func NewClient(cfg Config, log *logger.Logger, m *metrics.Metrics) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	var transports []Transport
	if cfg.EventsURL != "" {
		transports = append(transports, NewEventsTransport(cfg.EventsURL, cfg.APIToken, httpClient))
	}
	if cfg.WebhookURL != "" {
		transports = append(transports, NewWebhookTransport(cfg.WebhookURL, cfg.APIToken, httpClient))
	}
	return NewClientWithTransports(cfg, log, m, transports...)
}

// NewClientWithTransports creates a client over explicit transports.
func NewClientWithTransports(cfg Config, log *logger.Logger, m *metrics.Metrics, transports ...Transport) *Client {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("crm"))

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = DefaultConfig().BreakerThreshold
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = DefaultConfig().BreakerTimeout
	}

	onStateChange := func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()))
	}

	guarded := make([]guardedTransport, 0, len(transports))
	for _, t := range transports {
		guarded = append(guarded, guardedTransport{
			transport: t,
			breaker:   circuitbreaker.ForTransport("crm-"+t.Name(), cfg.BreakerThreshold, cfg.BreakerTimeout, onStateChange),
		})
	}

	return &Client{
		enabled:    cfg.Enabled,
		transports: guarded,
		retrier:    retry.DeliveryRetrier(cfg.MaxAttempts, cfg.InitialDelay),
		log:        log,
		metrics:    m,
	}
}

// TrackEvent implements gamification.Notifier.
func (c *Client) TrackEvent(ctx context.Context, ev gamification.NotificationEvent) (delivered bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("notification panicked", logger.String("event_key", ev.EventKey), logger.Any("panic", r))
			delivered = false
		}
	}()

	if !c.enabled {
		return false
	}
	if len(c.transports) == 0 {
		c.log.Warn("notification dropped", logger.String("event_key", ev.EventKey), logger.Err(ErrNoTransports))
		return false
	}

	for i, g := range c.transports {
		start := time.Now()
		err := g.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.retrier.Do(ctx, func(ctx context.Context) error {
				return g.transport.Send(ctx, ev)
			})
		})
		c.metrics.Notification(g.transport.Name(), err == nil)

		if err == nil {
			c.log.Debug("notification delivered",
				logger.String("event_key", ev.EventKey),
				logger.String("transport", g.transport.Name()),
				logger.Latency(time.Since(start)))
			return true
		}

		c.log.Warn("notification transport failed",
			logger.String("event_key", ev.EventKey),
			logger.String("transport", g.transport.Name()),
			logger.Int("position", i+1),
			logger.Err(err))

		if ctx.Err() != nil {
			return false
		}
	}
	return false
}
