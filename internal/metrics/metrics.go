// Package metrics records Prometheus counters and histograms for the
// observability core: log volume, error classes, rate-limiter decisions,
// storage latency, and transport batches.
//
// Recording before Init is a no-op with a single console warning rather
// than an error: initialization order must never be a hard dependency for
// logging to function.
package metrics

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	global   *Recorder
	initOnce sync.Once
	warnOnce sync.Once
)

// Recorder holds all Prometheus metrics for logwarden.
type Recorder struct {
	// Log emission
	LogsTotal *prometheus.CounterVec

	// Error classification
	ErrorsTotal *prometheus.CounterVec

	// Rate limiter
	LimiterDecisionsTotal *prometheus.CounterVec

	// Key-value storage
	StorageOpDuration  *prometheus.HistogramVec
	StorageErrorsTotal *prometheus.CounterVec

	// Transport
	TransportBatchSize   prometheus.Histogram
	TransportErrorsTotal prometheus.Counter
}

// Init creates and registers the global recorder. Uses sync.Once so
// repeated calls (tests, multiple composition roots) never trigger
// duplicate-registration panics.
//
// All metrics are prefixed with "logwarden_".
func Init() *Recorder {
	initOnce.Do(func() {
		global = &Recorder{
			LogsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "logwarden_logs_total",
					Help: "Total log records emitted, labeled by level and component",
				},
				[]string{"level", "component"},
			),

			ErrorsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "logwarden_errors_total",
					Help: "Total classified errors, labeled by category and severity",
				},
				[]string{"category", "severity"},
			),

			LimiterDecisionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "logwarden_limiter_decisions_total",
					Help: "Rate limiter decisions, labeled by reason (allowed, tokens, backoff, sampling)",
				},
				[]string{"reason"},
			),

			StorageOpDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "logwarden_storage_op_duration_seconds",
					Help:    "Key-value storage operation latency, labeled by backend and operation",
					Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
				},
				[]string{"backend", "op"},
			),

			StorageErrorsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "logwarden_storage_errors_total",
					Help: "Key-value storage operation failures, labeled by backend and operation",
				},
				[]string{"backend", "op"},
			),

			TransportBatchSize: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "logwarden_transport_batch_size",
					Help:    "Number of records per flushed transport batch",
					Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
				},
			),

			TransportErrorsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "logwarden_transport_errors_total",
					Help: "Delivery failures reported by the log transport",
				},
			),
		}
	})
	return global
}

// get returns the recorder, warning once if Init was never called.
func get() *Recorder {
	if global == nil {
		warnOnce.Do(func() {
			fmt.Fprintln(os.Stderr, "logwarden: metrics recorded before metrics.Init; dropping measurements")
		})
		return nil
	}
	return global
}

// IncLog counts one emitted log record.
func IncLog(level, component string) {
	if r := get(); r != nil {
		r.LogsTotal.WithLabelValues(level, component).Inc()
	}
}

// IncError counts one classified error.
func IncError(category, severity string) {
	if r := get(); r != nil {
		r.ErrorsTotal.WithLabelValues(category, severity).Inc()
	}
}

// IncLimiterDecision counts one rate-limiter decision by reason.
func IncLimiterDecision(reason string) {
	if r := get(); r != nil {
		r.LimiterDecisionsTotal.WithLabelValues(reason).Inc()
	}
}

// ObserveStorageOp records the latency of one storage operation.
func ObserveStorageOp(backend, op string, d time.Duration) {
	if r := get(); r != nil {
		r.StorageOpDuration.WithLabelValues(backend, op).Observe(d.Seconds())
	}
}

// IncStorageError counts one failed storage operation.
func IncStorageError(backend, op string) {
	if r := get(); r != nil {
		r.StorageErrorsTotal.WithLabelValues(backend, op).Inc()
	}
}

// ObserveBatchSize records the size of one flushed transport batch.
func ObserveBatchSize(n int) {
	if r := get(); r != nil {
		r.TransportBatchSize.Observe(float64(n))
	}
}

// IncTransportError counts one transport delivery failure.
func IncTransportError() {
	if r := get(); r != nil {
		r.TransportErrorsTotal.Inc()
	}
}
