// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	PollsTotal      *prometheus.CounterVec
	EventsSaved     *prometheus.CounterVec
	MessagesIgnored prometheus.Counter

	// Mention metrics
	MentionJobsTotal   *prometheus.CounterVec
	MentionQueueLength prometheus.Gauge

	// Performance metrics
	PerformanceRefreshes *prometheus.CounterVec
	HistoryPointsWritten prometheus.Counter

	// Provider metrics
	ProviderRequestLatency *prometheus.HistogramVec
	ProviderRetries        *prometheus.CounterVec

	// Delivery metrics
	DeliveriesTotal     *prometheus.CounterVec
	RecommendationsSent prometheus.Gauge

	// Scheduler metrics
	TicksTotal   *prometheus.CounterVec
	TickDuration *prometheus.HistogramVec
	TicksSkipped *prometheus.CounterVec

	// Health metrics
	LastSuccessfulIngestion prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "token_tracker"
	}

	return &Metrics{
		PollsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "polls_total",
			Help:      "Total number of channel polls by status",
		}, []string{"status"}),
		EventsSaved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_saved_total",
			Help:      "Total number of mention events saved by outcome",
		}, []string{"outcome"}),
		MessagesIgnored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "messages_ignored_total",
			Help:      "Total number of bot messages that did not classify",
		}),

		MentionJobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mention",
			Name:      "jobs_total",
			Help:      "Total number of mention jobs processed by outcome",
		}, []string{"outcome"}),
		MentionQueueLength: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mention",
			Name:      "queue_length",
			Help:      "Current number of queued mention jobs",
		}),

		PerformanceRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "performance",
			Name:      "refreshes_total",
			Help:      "Total number of performance refreshes by outcome",
		}, []string{"outcome"}),
		HistoryPointsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "performance",
			Name:      "history_points_written_total",
			Help:      "Total number of performance history points written",
		}),

		ProviderRequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "request_latency_seconds",
			Help:      "External provider request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "endpoint", "status"}),
		ProviderRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "retries_total",
			Help:      "Total number of provider request retries by reason",
		}, []string{"provider", "endpoint", "reason"}),

		DeliveriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Total number of delivery attempts by outcome",
		}, []string{"outcome"}),
		RecommendationsSent: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "recommendations_sent",
			Help:      "Number of recommendations in the sent set",
		}),

		TicksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total number of scheduler ticks by job and status",
		}, []string{"job", "status"}),
		TickDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Scheduler tick duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"job"}),
		TicksSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_skipped_total",
			Help:      "Total number of ticks skipped because the previous run was still in flight",
		}, []string{"job"}),

		LastSuccessfulIngestion: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingestion_timestamp",
			Help:      "Unix timestamp of last successful ingestion",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordPoll records a channel poll outcome.
func RecordPoll(status string, unixSeconds float64) {
	DefaultMetrics.PollsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		DefaultMetrics.LastSuccessfulIngestion.Set(unixSeconds)
	}
}

// RecordMessageIgnored increments the ignored bot messages counter.
func RecordMessageIgnored() {
	DefaultMetrics.MessagesIgnored.Inc()
}

// RecordSave records the outcome counts of one store save.
func RecordSave(created, appended, skipped int) {
	DefaultMetrics.EventsSaved.WithLabelValues("created").Add(float64(created))
	DefaultMetrics.EventsSaved.WithLabelValues("appended").Add(float64(appended))
	DefaultMetrics.EventsSaved.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordMentionJob records a mention job outcome.
func RecordMentionJob(outcome string) {
	DefaultMetrics.MentionJobsTotal.WithLabelValues(outcome).Inc()
}

// UpdateMentionQueueLength updates the queue length gauge.
func UpdateMentionQueueLength(n int) {
	DefaultMetrics.MentionQueueLength.Set(float64(n))
}

// RecordPerformanceRefresh records a performance refresh outcome.
func RecordPerformanceRefresh(outcome string) {
	DefaultMetrics.PerformanceRefreshes.WithLabelValues(outcome).Inc()
}

// RecordHistoryPoint increments the history points counter.
func RecordHistoryPoint() {
	DefaultMetrics.HistoryPointsWritten.Inc()
}

// RecordProviderRequest records one provider HTTP request.
func RecordProviderRequest(provider, endpoint, status string, seconds float64) {
	DefaultMetrics.ProviderRequestLatency.WithLabelValues(provider, endpoint, status).Observe(seconds)
}

// RecordProviderRetry records a provider retry.
func RecordProviderRetry(provider, endpoint, reason string) {
	DefaultMetrics.ProviderRetries.WithLabelValues(provider, endpoint, reason).Inc()
}

// RecordDelivery records a delivery outcome.
func RecordDelivery(outcome string) {
	DefaultMetrics.DeliveriesTotal.WithLabelValues(outcome).Inc()
}

// UpdateRecommendationsSent updates the sent gauge.
func UpdateRecommendationsSent(n int) {
	DefaultMetrics.RecommendationsSent.Set(float64(n))
}

// RecordTick records a scheduler tick.
func RecordTick(job, status string, durationSeconds float64) {
	DefaultMetrics.TicksTotal.WithLabelValues(job, status).Inc()
	DefaultMetrics.TickDuration.WithLabelValues(job).Observe(durationSeconds)
}

// RecordTickSkipped records a skipped overlapping tick.
func RecordTickSkipped(job string) {
	DefaultMetrics.TicksSkipped.WithLabelValues(job).Inc()
}
