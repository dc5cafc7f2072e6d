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
			Name: "reminderd_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reminderd_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	scansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminderd_scans_total",
			Help: "Total scan ticks executed",
		},
	)

	scanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reminderd_scan_duration_seconds",
			Help:    "Duration of one full scan tick",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 15, 30},
		},
	)

	scanCandidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminderd_scan_candidates_total",
			Help: "Candidates discovered by scans, by outcome (sent, skipped, failed)",
		},
		[]string{"outcome"},
	)

	scanSourceErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminderd_scan_source_errors_total",
			Help: "Scan ticks skipped because the appointment source was unavailable",
		},
	)

	remindersSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminderd_reminders_sent_total",
			Help: "Reminders delivered, by category",
		},
		[]string{"category"},
	)

	claimConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminderd_claim_conflicts_total",
			Help: "Claims rejected because a record already exists, by existing state",
		},
		[]string{"existing_state"},
	)

	renderFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminderd_render_failures_total",
			Help: "Template render failures, by category",
		},
		[]string{"category"},
	)

	dispatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminderd_dispatch_failures_total",
			Help: "Email gateway failures, by category and class",
		},
		[]string{"category", "class"},
	)

	retentionDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminderd_retention_deleted_total",
			Help: "Delivery records purged by the retention sweeper",
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

// RecordScan records one completed scan tick with per-outcome counts.
func RecordScan(sent, skipped, failed int, duration time.Duration) {
	scansTotal.Inc()
	scanDuration.Observe(duration.Seconds())
	scanCandidates.WithLabelValues("sent").Add(float64(sent))
	scanCandidates.WithLabelValues("skipped").Add(float64(skipped))
	scanCandidates.WithLabelValues("failed").Add(float64(failed))
}

// RecordSourceUnavailable records a scan tick skipped entirely.
func RecordSourceUnavailable() {
	scansTotal.Inc()
	scanSourceErrors.Inc()
}

// RecordReminderSent records a successful delivery.
func RecordReminderSent(category string) {
	remindersSent.WithLabelValues(category).Inc()
}

// RecordClaimConflict records a claim rejected by an existing record.
func RecordClaimConflict(existingState string) {
	claimConflicts.WithLabelValues(existingState).Inc()
}

// RecordRenderFailure records a fail-closed render.
func RecordRenderFailure(category string) {
	renderFailures.WithLabelValues(category).Inc()
}

// RecordDispatchFailure records a gateway failure by class.
func RecordDispatchFailure(category string, transient bool) {
	class := "permanent"
	if transient {
		class = "transient"
	}
	dispatchFailures.WithLabelValues(category, class).Inc()
}

// RecordRetentionDeleted records rows purged by the sweeper.
func RecordRetentionDeleted(count int64) {
	retentionDeleted.Add(float64(count))
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
