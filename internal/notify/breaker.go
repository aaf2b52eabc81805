package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings tunes the per-endpoint circuit breakers.
type BreakerSettings struct {
	FailureThreshold uint32        // Consecutive failures that open the circuit (default 5)
	HalfOpenRequests uint32        // Trial requests allowed while half-open (default 3)
	OpenTimeout      time.Duration // Time spent open before probing again (default 30s)
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.HalfOpenRequests == 0 {
		s.HalfOpenRequests = 3
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	return s
}

// BreakerRegistry manages one circuit breaker per webhook endpoint.
type BreakerRegistry struct {
	mu       sync.Mutex
	settings BreakerSettings
	logger   *slog.Logger
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(settings BreakerSettings, logger *slog.Logger) *BreakerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerRegistry{
		settings: settings.withDefaults(),
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the breaker for endpoint, creating it on first use.
func (r *BreakerRegistry) Get(endpoint string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[endpoint]; ok {
		return cb
	}

	threshold := r.settings.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: r.settings.HalfOpenRequests,
		Interval:    0, // counts are only reset by state changes
		Timeout:     r.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("webhook circuit breaker changed state", "endpoint", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Shutdown is not the endpoint's fault; a slow endpoint is.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	r.breakers[endpoint] = cb
	return cb
}

// State reports the state of endpoint's breaker. Unknown endpoints are closed.
func (r *BreakerRegistry) State(endpoint string) gobreaker.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[endpoint]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}
