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
	// Telemetry metrics
	ReadingsReceived *prometheus.CounterVec
	EventsPublished  prometheus.Counter
	EventsDropped    prometheus.Counter
	OpsClients       prometheus.Gauge
	DeviceConnected  *prometheus.GaugeVec

	// Recording metrics
	SessionsStarted   prometheus.Counter
	SessionsCompleted *prometheus.CounterVec
	BufferSamples     prometheus.Gauge
	AnalysisDuration  prometheus.Histogram
	CatoDetected      prometheus.Counter

	// Database metrics
	DBQueryDuration  *prometheus.HistogramVec
	DBQueryErrors    *prometheus.CounterVec
	ArchiveBatchSize prometheus.Histogram

	// Health metrics
	LastTestCompleted prometheus.Gauge
	UptimeSeconds     prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "static_fire_lab"
	}

	return &Metrics{
		// Telemetry metrics
		ReadingsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "readings_received_total",
			Help:      "Total number of force readings received by transport",
		}, []string{"transport"}),
		EventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "events_published_total",
			Help:      "Total number of events delivered to subscribers",
		}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped by slow subscribers",
		}),
		OpsClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "ops_clients",
			Help:      "Number of connected operator consoles",
		}),
		DeviceConnected: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "device_connected",
			Help:      "Whether a test-stand device is connected per transport (0 or 1)",
		}, []string{"transport"}),

		// Recording metrics
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recording",
			Name:      "sessions_started_total",
			Help:      "Total number of recording sessions started",
		}),
		SessionsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recording",
			Name:      "sessions_completed_total",
			Help:      "Total number of recording sessions completed by outcome",
		}, []string{"outcome"}),
		BufferSamples: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "recording",
			Name:      "buffer_samples",
			Help:      "Number of samples in the active recording buffer",
		}),
		AnalysisDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recording",
			Name:      "analysis_duration_seconds",
			Help:      "Time spent conditioning and analyzing a completed series",
			Buckets:   prometheus.DefBuckets,
		}),
		CatoDetected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recording",
			Name:      "cato_detected_total",
			Help:      "Total number of tests flagged as possible CATO",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
		ArchiveBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "archive_batch_samples",
			Help:      "Samples per batch written to the sample archive",
			Buckets:   []float64{100, 500, 1000, 5000, 10000, 50000},
		}),

		// Health metrics
		LastTestCompleted: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_test_completed_timestamp",
			Help:      "Unix timestamp of the last successfully stored test",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordReading increments the readings received counter for a transport.
func RecordReading(transport string) {
	DefaultMetrics.ReadingsReceived.WithLabelValues(transport).Inc()
}

// RecordPublish records the fan-out outcome of one published event.
func RecordPublish(delivered, dropped int) {
	DefaultMetrics.EventsPublished.Add(float64(delivered))
	DefaultMetrics.EventsDropped.Add(float64(dropped))
}

// SetOpsClients updates the operator console gauge.
func SetOpsClients(n int) {
	DefaultMetrics.OpsClients.Set(float64(n))
}

// SetDeviceConnected updates the device connection gauge for one transport.
func SetDeviceConnected(transport string, connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	DefaultMetrics.DeviceConnected.WithLabelValues(transport).Set(value)
}

// RecordSessionStarted increments the sessions started counter.
func RecordSessionStarted() {
	DefaultMetrics.SessionsStarted.Inc()
}

// RecordSessionCompleted increments the sessions completed counter.
// Outcome is one of "stored", "empty" or "error".
func RecordSessionCompleted(outcome string) {
	DefaultMetrics.SessionsCompleted.WithLabelValues(outcome).Inc()
}

// SetBufferSamples updates the recording buffer gauge.
func SetBufferSamples(n int) {
	DefaultMetrics.BufferSamples.Set(float64(n))
}

// RecordAnalysis records an analysis pass and whether it flagged a CATO.
func RecordAnalysis(seconds float64, cato bool) {
	DefaultMetrics.AnalysisDuration.Observe(seconds)
	if cato {
		DefaultMetrics.CatoDetected.Inc()
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordArchiveBatch records the size of one archive write.
func RecordArchiveBatch(samples int) {
	DefaultMetrics.ArchiveBatchSize.Observe(float64(samples))
}

// RecordTestStored updates the last stored test timestamp.
func RecordTestStored(unixSeconds int64) {
	DefaultMetrics.LastTestCompleted.Set(float64(unixSeconds))
}

// RecordUptimeTick advances the uptime counter by one second.
func RecordUptimeTick() {
	DefaultMetrics.UptimeSeconds.Inc()
}
