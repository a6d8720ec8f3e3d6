package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gigflow",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gigflow",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gigflow",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gigflow",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Provider events received, by provider and verification/reconciliation outcome.",
		},
		[]string{"provider", "outcome"},
	)

	reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gigflow",
			Subsystem: "escrow",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of escrow reconciliation transactions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"provider"},
	)

	sweepItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gigflow",
			Subsystem: "sweeper",
			Name:      "items_total",
			Help:      "Sweep items processed, by outcome.",
		},
		[]string{"outcome"},
	)

	sweepErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gigflow",
			Subsystem: "sweeper",
			Name:      "errors_total",
			Help:      "Per-item sweep failures. A sustained rate here is the alerting signal.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		webhookEvents,
		reconcileDuration,
		sweepItems,
		sweepErrors,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordWebhookEvent counts a provider event by its outcome
// (invalid_signature, rejected_source, funded, duplicate, ignored, ...).
func RecordWebhookEvent(provider, outcome string) {
	if provider == "" {
		provider = "unknown"
	}
	webhookEvents.WithLabelValues(provider, outcome).Inc()
}

// RecordReconciliation records the duration of one reconciliation transaction.
func RecordReconciliation(provider string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	reconcileDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordSweepItem counts one processed sweep item by outcome
// (cancelled_unfunded, cancelled_overdue, released, skipped, error).
func RecordSweepItem(outcome string) {
	sweepItems.WithLabelValues(outcome).Inc()
	if outcome == "error" {
		sweepErrors.Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses id segments so the label set stays bounded.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "applications":
		if len(parts) == 1 {
			return "/applications"
		}
		if len(parts) == 2 {
			return "/applications/:id"
		}
		return "/applications/:id/" + strings.Join(parts[2:], "/")
	case "gigs":
		if len(parts) == 1 {
			return "/gigs"
		}
		if len(parts) == 2 {
			return "/gigs/:id"
		}
		return "/gigs/:id/" + strings.Join(parts[2:], "/")
	default:
		return "/" + strings.Join(parts, "/")
	}
}
