package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the Web3RSVP indexer
type PrometheusMetrics struct {
	// Log handling metrics
	LogsHandledTotal     *prometheus.CounterVec
	LogHandlingDuration  *prometheus.HistogramVec
	BlocksProcessedTotal prometheus.Counter
	BatchDuration        prometheus.Histogram

	// Chain metrics
	LatestProcessedBlock  prometheus.Gauge
	BlocksBehind          prometheus.Gauge
	ConnectionErrorsTotal *prometheus.CounterVec
	RPCRequestsTotal      *prometheus.CounterVec
	RPCRequestDuration    *prometheus.HistogramVec

	// Metadata metrics
	MetadataFetchesTotal  *prometheus.CounterVec
	MetadataFetchDuration prometheus.Histogram

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		LogsHandledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rsvp_logs_handled_total",
				Help: "Total number of contract logs handled, by event and outcome",
			},
			[]string{"event_name", "outcome"},
		),

		LogHandlingDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rsvp_log_handling_duration_seconds",
				Help:    "Time spent mapping a single log into entities",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event_name"},
		),

		BlocksProcessedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rsvp_blocks_processed_total",
				Help: "Total number of blocks processed",
			},
		),

		BatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rsvp_batch_duration_seconds",
				Help:    "Time spent processing a block range",
				Buckets: prometheus.DefBuckets,
			},
		),

		LatestProcessedBlock: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rsvp_latest_processed_block",
				Help: "Latest block number processed by the indexer",
			},
		),

		BlocksBehind: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rsvp_blocks_behind",
				Help: "Number of blocks behind the latest chain block",
			},
		),

		ConnectionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rsvp_connection_errors_total",
				Help: "Total number of connection errors to chain nodes",
			},
			[]string{"endpoint", "error_type"},
		),

		RPCRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rsvp_rpc_requests_total",
				Help: "Total number of RPC requests made to chain nodes",
			},
			[]string{"endpoint", "method", "status"},
		),

		RPCRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rsvp_rpc_request_duration_seconds",
				Help:    "Duration of RPC requests to chain nodes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "method"},
		),

		MetadataFetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rsvp_metadata_fetches_total",
				Help: "Total number of event metadata fetches from IPFS",
			},
			[]string{"status"},
		),

		MetadataFetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rsvp_metadata_fetch_duration_seconds",
				Help:    "Duration of event metadata fetches from IPFS",
				Buckets: prometheus.DefBuckets,
			},
		),

		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rsvp_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rsvp_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rsvp_http_requests_total",
				Help: "Total number of HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rsvp_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rsvp_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rsvp_component_health",
				Help: "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rsvp_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rsvp_goroutines",
				Help: "Number of running goroutines",
			},
		),
	}
}

// RecordLogHandled records the outcome of mapping one log
func (m *PrometheusMetrics) RecordLogHandled(eventName, outcome string, duration time.Duration) {
	m.LogsHandledTotal.WithLabelValues(eventName, outcome).Inc()
	m.LogHandlingDuration.WithLabelValues(eventName).Observe(duration.Seconds())
}

// RecordBlocksProcessed records processed blocks and the batch duration
func (m *PrometheusMetrics) RecordBlocksProcessed(count int, duration time.Duration) {
	m.BlocksProcessedTotal.Add(float64(count))
	m.BatchDuration.Observe(duration.Seconds())
}

// UpdateLatestProcessedBlock updates the latest processed block metric
func (m *PrometheusMetrics) UpdateLatestProcessedBlock(blockNumber uint64) {
	m.LatestProcessedBlock.Set(float64(blockNumber))
}

// UpdateBlocksBehind updates the blocks behind metric
func (m *PrometheusMetrics) UpdateBlocksBehind(behind uint64) {
	m.BlocksBehind.Set(float64(behind))
}

// RecordConnectionError records a connection error
func (m *PrometheusMetrics) RecordConnectionError(endpoint, errorType string) {
	m.ConnectionErrorsTotal.WithLabelValues(endpoint, errorType).Inc()
}

// RecordRPCRequest records an RPC request
func (m *PrometheusMetrics) RecordRPCRequest(endpoint, method, status string, duration time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordMetadataFetch records an IPFS metadata fetch
func (m *PrometheusMetrics) RecordMetadataFetch(status string, duration time.Duration) {
	m.MetadataFetchesTotal.WithLabelValues(status).Inc()
	m.MetadataFetchDuration.Observe(duration.Seconds())
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
