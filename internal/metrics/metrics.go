// Package metrics holds the Prometheus collectors of the workflow engine.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cheezy/kanban/internal/task"
)

const namespace = "kanban"

var (
	// claims counts claim attempts.
	// Labels: outcome (claimed, none_available, error)
	claims = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "claim",
		Name:      "attempts_total",
		Help:      "Total claim requests by outcome",
	}, []string{"outcome"})

	// conflicts counts lost compare-and-set writes that were retried.
	conflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "conflicts_total",
		Help:      "Total optimistic concurrency conflicts",
	})

	// transitions counts committed transitions by event type.
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "transitions_total",
		Help:      "Committed task transitions by event type",
	}, []string{"type"})

	// operationLatency measures engine operations end to end.
	// Labels: operation, status (ok, or the error class)
	operationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "operation_seconds",
		Help:      "Engine operation latency in seconds",
		Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"operation", "status"})

	// hookReports counts hook results reported by callers.
	// Labels: hook, result (success, failure, timeout)
	hookReports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hooks",
		Name:      "reports_total",
		Help:      "Hook results reported by callers",
	}, []string{"hook", "result"})

	// sweepReleased counts tasks returned to Ready by the expiry sweep.
	// Labels: reason (claim_expired, hook_timeout)
	sweepReleased = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweep",
		Name:      "released_total",
		Help:      "Tasks released by the expiry sweep",
	}, []string{"reason"})

	// goalRecomputeErrors counts goal recomputations that failed after the
	// triggering transition committed.
	goalRecomputeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "goals",
		Name:      "recompute_errors_total",
		Help:      "Goal recomputations that failed",
	})

	// webhookDeliveries counts event deliveries to the webhook.
	// Labels: status (delivered, failed, dropped)
	webhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "webhook_deliveries_total",
		Help:      "Webhook event deliveries by status",
	}, []string{"status"})
)

// Claim outcomes.
const (
	ClaimClaimed       = "claimed"
	ClaimNoneAvailable = "none_available"
	ClaimError         = "error"
)

// RecordClaim counts one claim request.
func RecordClaim(outcome string) { claims.WithLabelValues(outcome).Inc() }

// RecordConflict counts one retried conflict.
func RecordConflict() { conflicts.Inc() }

// RecordTransition counts one committed transition event.
func RecordTransition(eventType string) { transitions.WithLabelValues(eventType).Inc() }

// ObserveOperation records the latency of an engine operation.
func ObserveOperation(op string, start time.Time, err error) {
	operationLatency.WithLabelValues(op, ErrorClass(err)).Observe(time.Since(start).Seconds())
}

// RecordHookReport counts one hook report.
func RecordHookReport(hook, result string) { hookReports.WithLabelValues(hook, result).Inc() }

// RecordSweepRelease counts one task released by the sweep.
func RecordSweepRelease(reason string) { sweepReleased.WithLabelValues(reason).Inc() }

// RecordGoalRecomputeError counts one failed goal recompute.
func RecordGoalRecomputeError() { goalRecomputeErrors.Inc() }

// RecordWebhookDelivery counts one webhook delivery outcome.
func RecordWebhookDelivery(status string) { webhookDeliveries.WithLabelValues(status).Inc() }

// ErrorClass maps an error onto a low-cardinality label value.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, task.ErrNoTaskAvailable):
		return "none_available"
	case errors.Is(err, task.ErrNotFound):
		return "not_found"
	case errors.Is(err, task.ErrForbidden):
		return "forbidden"
	case errors.Is(err, task.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, task.ErrValidation):
		return "validation"
	case errors.Is(err, task.ErrHookFailure):
		return "hook_failure"
	case errors.Is(err, task.ErrConflict):
		return "conflict"
	}
	return "internal"
}
