package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the record store.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Store operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	DuplicatesTotal   prometheus.Counter
	PartitionRecords  prometheus.Histogram

	// Transport metrics
	TransportRequestsTotal *prometheus.CounterVec
	TransportDuration      *prometheus.HistogramVec
	UnparsableFilesTotal   prometheus.Counter
	BackendUp              prometheus.Gauge

	// Write queue metrics
	QueueWaitDuration prometheus.Histogram
	QueuePendingKeys  prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics
	MemoryUsageBytes prometheus.Gauge
	GoroutinesTotal  prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer, backend string) *Metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"backend": backend}

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "kmstore",
			Subsystem:   "store",
			Name:        "operations_total",
			Help:        "Total number of record store operations",
			ConstLabels: labels,
		}, []string{"operation", "status"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "kmstore",
			Subsystem:   "store",
			Name:        "operation_duration_seconds",
			Help:        "Duration of record store operations",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"operation"}),
		DuplicatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "kmstore",
			Subsystem:   "store",
			Name:        "idempotent_duplicates_total",
			Help:        "Appends skipped because their idempotency key was already recorded",
			ConstLabels: labels,
		}),
		PartitionRecords: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "kmstore",
			Subsystem:   "store",
			Name:        "partition_records",
			Help:        "Number of records in a partition after an append",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 14),
		}),

		TransportRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "kmstore",
			Subsystem:   "transport",
			Name:        "requests_total",
			Help:        "Total number of remote file operations by result",
			ConstLabels: labels,
		}, []string{"operation", "result"}),
		TransportDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "kmstore",
			Subsystem:   "transport",
			Name:        "request_duration_seconds",
			Help:        "Duration of remote file operations including connection setup",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"operation"}),
		UnparsableFilesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "kmstore",
			Subsystem:   "transport",
			Name:        "unparsable_files_total",
			Help:        "Remote files whose content was not valid JSON and was read as absent",
			ConstLabels: labels,
		}),
		BackendUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "kmstore",
			Subsystem:   "transport",
			Name:        "backend_up",
			Help:        "1 when the last backend ping succeeded",
			ConstLabels: labels,
		}),

		QueueWaitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "kmstore",
			Subsystem:   "queue",
			Name:        "wait_duration_seconds",
			Help:        "Time spent waiting for a partition slot",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		QueuePendingKeys: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "kmstore",
			Subsystem:   "queue",
			Name:        "pending_keys",
			Help:        "Number of partition keys with scheduled writes",
			ConstLabels: labels,
		}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "kmstore",
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "Total number of HTTP requests",
			ConstLabels: labels,
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "kmstore",
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "Duration of HTTP requests",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "route"}),

		MemoryUsageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "kmstore",
			Subsystem:   "system",
			Name:        "memory_usage_bytes",
			Help:        "Allocated heap memory in bytes",
			ConstLabels: labels,
		}),
		GoroutinesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "kmstore",
			Subsystem:   "system",
			Name:        "goroutines_total",
			Help:        "Number of goroutines",
			ConstLabels: labels,
		}),
	}
}

// Helper methods for recording metrics

func (m *Metrics) RecordOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.DuplicatesTotal.Inc()
}

func (m *Metrics) RecordPartitionSize(records int) {
	if m == nil {
		return
	}
	m.PartitionRecords.Observe(float64(records))
}

func (m *Metrics) RecordTransport(operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TransportRequestsTotal.WithLabelValues(operation, result).Inc()
	m.TransportDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordUnparsableFile() {
	if m == nil {
		return
	}
	m.UnparsableFilesTotal.Inc()
}

func (m *Metrics) SetBackendUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.BackendUp.Set(1)
		return
	}
	m.BackendUp.Set(0)
}

func (m *Metrics) RecordQueueWait(d time.Duration) {
	if m == nil {
		return
	}
	m.QueueWaitDuration.Observe(d.Seconds())
}

func (m *Metrics) SetPendingKeys(n int) {
	if m == nil {
		return
	}
	m.QueuePendingKeys.Set(float64(n))
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) UpdateSystemStats(memoryUsage int64, goroutines int) {
	if m == nil {
		return
	}
	m.MemoryUsageBytes.Set(float64(memoryUsage))
	m.GoroutinesTotal.Set(float64(goroutines))
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
