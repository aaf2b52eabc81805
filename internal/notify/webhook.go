// Package notify forwards committed transition events to external webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/cheezy/kanban/internal/events"
	"github.com/cheezy/kanban/internal/metrics"
)

// Delivery outcomes recorded in metrics.
const (
	StatusDelivered   = "delivered"
	StatusFailed      = "failed"
	StatusCircuitOpen = "circuit_open"
)

// RetryConfig configures delivery retries.
type RetryConfig struct {
	InitialInterval time.Duration // default 200ms
	MaxInterval     time.Duration // default 5s
	MaxElapsedTime  time.Duration // default 30s
	MaxAttempts     int           // default 4
}

// DefaultRetryConfig returns the delivery retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  30 * time.Second,
		MaxAttempts:     4,
	}
}

// Config configures a Webhook.
type Config struct {
	Endpoints []string
	Timeout   time.Duration // Per-attempt request timeout (default 10s)
	Retry     RetryConfig
	Breaker   BreakerSettings
	Client    *http.Client
	Logger    *slog.Logger
}

// Webhook POSTs each event as JSON to every configured endpoint.
type Webhook struct {
	endpoints []string
	timeout   time.Duration
	retry     RetryConfig
	client    *http.Client
	breakers  *BreakerRegistry
	logger    *slog.Logger
}

// New creates a webhook forwarder.
func New(cfg Config) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "webhook")
	return &Webhook{
		endpoints: cfg.Endpoints,
		timeout:   cfg.Timeout,
		retry:     cfg.Retry,
		client:    cfg.Client,
		breakers:  NewBreakerRegistry(cfg.Breaker, logger),
		logger:    logger,
	}
}

// Breakers exposes the per-endpoint circuit breakers.
func (w *Webhook) Breakers() *BreakerRegistry { return w.breakers }

// Run delivers events from ch until ch is closed or ctx is cancelled.
// Delivery failures are logged and counted; they never stop the loop.
func (w *Webhook) Run(ctx context.Context, ch <-chan events.Event) error {
	w.logger.Info("webhook forwarder started", "endpoints", len(w.endpoints))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			for _, endpoint := range w.endpoints {
				if err := w.Deliver(ctx, endpoint, ev); err != nil && ctx.Err() == nil {
					w.logger.Error("webhook delivery failed",
						"endpoint", endpoint, "type", ev.EventType(), "task", ev.TaskID(), "error", err)
				}
			}
		}
	}
}

// Deliver sends one event to endpoint, retrying transient failures with
// exponential backoff behind the endpoint's circuit breaker. An open circuit
// fails immediately.
func (w *Webhook) Deliver(ctx context.Context, endpoint string, ev events.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	cb := w.breakers.Get(endpoint)

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		_, err := cb.Execute(func() (interface{}, error) {
			return nil, w.post(ctx, endpoint, ev.EventType(), body)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.retry.InitialInterval
	policy.MaxInterval = w.retry.MaxInterval
	policy.MaxElapsedTime = w.retry.MaxElapsedTime

	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(w.retry.MaxAttempts-1)), ctx))
	switch {
	case err == nil:
		metrics.RecordWebhookDelivery(StatusDelivered)
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordWebhookDelivery(StatusCircuitOpen)
	default:
		metrics.RecordWebhookDelivery(StatusFailed)
	}
	return err
}

func (w *Webhook) post(ctx context.Context, endpoint, eventType string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Kanban-Event", eventType)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	// Other client errors will not improve on retry.
	return backoff.Permanent(fmt.Errorf("webhook rejected event: HTTP %d", resp.StatusCode))
}
