// Package metrics holds the service's Prometheus collectors. They register on
// the default registry, which /metrics serves.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpmetrics "github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"
)

const namespace = "wallet"

var (
	LedgerPostings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_postings_total",
			Help:      "Ledger postings by transaction type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	LedgerPostingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_posting_duration_seconds",
			Help:      "Time spent inside a ledger transaction boundary.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	HoldsPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "holds_placed_total",
			Help:      "Holds placed by reason.",
		},
		[]string{"reason"},
	)

	HoldsReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "holds_released_total",
			Help:      "Holds leaving the active state by reason and cause.",
		},
		[]string{"reason", "cause"},
	)

	PinFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pin_failures_total",
			Help:      "Failed PIN or biometric authorizations.",
		},
	)

	PinLockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pin_lockouts_total",
			Help:      "Wallets locked after repeated authorization failures.",
		},
	)

	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Calls to the payment provider by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Provider callbacks processed by type and outcome.",
		},
		[]string{"event_type", "outcome"},
	)
)

// Outcome labels a result for the counters above.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

var (
	httpMWOnce sync.Once
	httpMW     middleware.Middleware
)

// HTTPMiddleware records request count, latency and size under handlerID,
// which should be the route pattern so wallet ids stay out of the labels.
// The recorder registers its collectors once per process.
func HTTPMiddleware(handlerID string, next http.Handler) http.Handler {
	httpMWOnce.Do(func() {
		httpMW = middleware.New(middleware.Config{
			Recorder: httpmetrics.NewRecorder(httpmetrics.Config{}),
		})
	})
	return std.Handler(handlerID, httpMW, next)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
