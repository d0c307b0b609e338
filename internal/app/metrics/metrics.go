package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transfer outcome labels.
const (
	TransferSuccess    = "success"
	TransferInvalidKey = "invalid_key"
	TransferFailed     = "failed"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "swap_dispatcher",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swap_dispatcher",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "swap_dispatcher",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ordersCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "swap_dispatcher",
			Subsystem: "orders",
			Name:      "created_total",
			Help:      "Total number of execution orders enqueued.",
		},
	)

	orderClaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swap_dispatcher",
			Subsystem: "orders",
			Name:      "claims_total",
			Help:      "Dispatch claim attempts by result.",
		},
		[]string{"result"},
	)

	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swap_dispatcher",
			Subsystem: "dispatch",
			Name:      "transfers_total",
			Help:      "Per-account transfer outcomes.",
		},
		[]string{"outcome"},
	)

	tickRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swap_dispatcher",
			Subsystem: "scheduler",
			Name:      "tick_runs_total",
			Help:      "Total number of scheduler ticks by job and result.",
		},
		[]string{"job", "success"},
	)

	tickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "swap_dispatcher",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of scheduler ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"job"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ordersCreated,
		orderClaims,
		transfers,
		tickRuns,
		tickDuration,
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

// RecordOrderCreated counts an enqueued execution order.
func RecordOrderCreated() {
	ordersCreated.Inc()
}

// RecordClaim counts a dispatch claim attempt.
func RecordClaim(claimed bool) {
	result := "empty"
	if claimed {
		result = "claimed"
	}
	orderClaims.WithLabelValues(result).Inc()
}

// RecordTransfer counts one per-account outcome.
func RecordTransfer(outcome string) {
	transfers.WithLabelValues(outcome).Inc()
}

// RecordTick records metrics for a scheduler tick.
func RecordTick(job string, duration time.Duration, success bool) {
	if job == "" {
		job = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	tickRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
	tickDuration.WithLabelValues(job).Observe(duration.Seconds())
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

// canonicalPath keeps at most two segments so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return "/" + strings.Join(parts, "/")
}
