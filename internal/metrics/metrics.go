package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	firingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_firings_total",
			Help: "Firing attempts by category and outcome (delivered, deferred, dropped, failed, yielded)",
		},
		[]string{"category", "outcome"},
	)

	deliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_delivery_attempts_total",
			Help: "Per-channel delivery attempts by result",
		},
		[]string{"channel", "result"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_retries_total",
			Help: "Backoff retries scheduled by category",
		},
		[]string{"category"},
	)

	rateLimitDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_rate_limit_drops_total",
			Help: "Firings dropped by the per-category rate ceiling",
		},
		[]string{"category"},
	)

	leaseTakeovers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulse_lease_takeovers_total",
			Help: "Stale handler leases cleared by a non-installed instance",
		},
	)

	armedCategories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_armed_categories",
			Help: "Number of categories with a live timer",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordFiring records a firing attempt's outcome for a category.
func RecordFiring(category, outcome string) {
	firingsTotal.WithLabelValues(category, outcome).Inc()
}

// RecordDeliveryAttempt records one channel attempt and its result.
func RecordDeliveryAttempt(channel, result string) {
	deliveryAttempts.WithLabelValues(channel, result).Inc()
}

// RecordRetry records a scheduled backoff retry.
func RecordRetry(category string) {
	retriesTotal.WithLabelValues(category).Inc()
}

// RecordRateLimitDrop records a firing dropped by its ceiling.
func RecordRateLimitDrop(category string) {
	rateLimitDrops.WithLabelValues(category).Inc()
}

// RecordLeaseTakeover records a stale lease cleared by a browser instance.
func RecordLeaseTakeover() {
	leaseTakeovers.Inc()
}

// SetArmedCategories sets the live-timer gauge.
func SetArmedCategories(count int) {
	armedCategories.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
