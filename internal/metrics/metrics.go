// Package metrics provides Prometheus metrics for conversion job sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Submission metrics
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projconv_submissions_total",
			Help: "Total project submissions by result",
		},
		[]string{"result"},
	)

	submissionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "projconv_submission_duration_seconds",
			Help:    "Round trip time of project submissions",
			Buckets: prometheus.DefBuckets,
		},
	)

	selectionBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "projconv_selection_bytes",
			Help:    "Total size of accepted selections",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	selectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projconv_selections_rejected_total",
			Help: "Selections rejected by normalization or validation",
		},
		[]string{"reason"},
	)

	// Progress stream metrics
	streamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "projconv_streams_active",
			Help: "Number of open progress subscriptions",
		},
	)

	streamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projconv_stream_events_total",
			Help: "Progress events received by status",
		},
		[]string{"status"},
	)

	streamDecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "projconv_stream_decode_errors_total",
			Help: "Progress events dropped because they could not be decoded",
		},
	)

	// Job outcome metrics
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projconv_jobs_total",
			Help: "Conversion jobs by outcome",
		},
		[]string{"outcome"},
	)

	// Download metrics
	downloadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "projconv_download_bytes_total",
			Help: "Total bytes of converted projects downloaded",
		},
	)

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projconv_downloads_total",
			Help: "Total downloads by status",
		},
		[]string{"status"},
	)

	sinkOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "projconv_sink_operation_duration_seconds",
			Help:    "Duration of result sink operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink", "operation"},
	)

	sinkOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projconv_sink_operations_total",
			Help: "Result sink operations by status",
		},
		[]string{"sink", "operation", "status"},
	)

	// Mock server progress hub metrics
	hubSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "projconv_hub_subscribers",
			Help: "Number of progress streams served by the mock server",
		},
	)

	hubEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projconv_hub_events_total",
			Help: "Progress events published by the mock server",
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSubmission records one submission round trip. result is "ok" or the
// submission error kind.
func RecordSubmission(result string, duration time.Duration) {
	submissionsTotal.WithLabelValues(result).Inc()
	submissionDuration.Observe(duration.Seconds())
}

// RecordSelection records an accepted selection's total size.
func RecordSelection(bytes int64) {
	selectionBytes.Observe(float64(bytes))
}

// RecordSelectionRejected records a rejected selection.
func RecordSelectionRejected(reason string) {
	selectionsRejected.WithLabelValues(reason).Inc()
}

// StreamOpened increments the open subscription gauge.
func StreamOpened() {
	streamsActive.Inc()
}

// StreamClosed decrements the open subscription gauge.
func StreamClosed() {
	streamsActive.Dec()
}

// RecordStreamEvent records a decoded progress event.
func RecordStreamEvent(status string) {
	streamEventsTotal.WithLabelValues(status).Inc()
}

// RecordStreamDecodeError records a dropped progress event.
func RecordStreamDecodeError() {
	streamDecodeErrors.Inc()
}

// RecordJobOutcome records how a tracked job ended.
func RecordJobOutcome(outcome string) {
	jobsTotal.WithLabelValues(outcome).Inc()
}

// RecordDownload records a download of a converted project.
func RecordDownload(bytes int64, success bool) {
	downloadBytes.Add(float64(bytes))
	status := "success"
	if !success {
		status = "error"
	}
	downloadsTotal.WithLabelValues(status).Inc()
}

// RecordSinkOperation records a storage sink operation.
func RecordSinkOperation(sink, operation string, duration time.Duration, success bool) {
	sinkOperationDuration.WithLabelValues(sink, operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	sinkOperationsTotal.WithLabelValues(sink, operation, status).Inc()
}

// SetHubSubscribers sets the number of progress streams being served.
func SetHubSubscribers(count int) {
	hubSubscribers.Set(float64(count))
}

// RecordHubEvent records a published progress event.
func RecordHubEvent(status string) {
	hubEventsTotal.WithLabelValues(status).Inc()
}
