// Package metrics exposes Prometheus counters and histograms for daemon
// operations. All methods are nil-safe: calls on a nil *Metrics are no-ops,
// so callers that don't want metrics can simply pass nil.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for a daemon.Client.
type Metrics struct {
	// OpsTotal counts completed operations by opcode name and outcome
	// ("ok" or "error").
	OpsTotal *prometheus.CounterVec

	// OpDuration observes wall-clock time spent per operation, labeled by
	// opcode name.
	OpDuration *prometheus.HistogramVec

	// BytesTransferred counts NAR bytes moved by streaming operations,
	// labeled by direction ("upload" or "download").
	BytesTransferred *prometheus.CounterVec
}

// New creates Metrics and registers them with reg. If reg is nil, the
// collectors are created but not registered, which is useful in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hnix_store",
			Subsystem: "daemon",
			Name:      "operations_total",
			Help:      "Total number of daemon operations, by opcode and outcome.",
		}, []string{"operation", "outcome"}),
		OpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hnix_store",
			Subsystem: "daemon",
			Name:      "operation_duration_seconds",
			Help:      "Daemon operation latency in seconds, by opcode.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		BytesTransferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hnix_store",
			Subsystem: "daemon",
			Name:      "nar_bytes_total",
			Help:      "Total NAR bytes streamed to or from the daemon.",
		}, []string{"direction"}),
	}

	if reg != nil {
		reg.MustRegister(m.OpsTotal, m.OpDuration, m.BytesTransferred)
	}

	return m
}

// ObserveOp records the outcome and duration of a single operation.
func (m *Metrics) ObserveOp(operation string, start time.Time, err error) {
	if m == nil {
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}

	m.OpsTotal.WithLabelValues(operation, outcome).Inc()
	m.OpDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// AddBytesUploaded records bytes streamed from the client to the daemon.
func (m *Metrics) AddBytesUploaded(n int) {
	if m == nil {
		return
	}

	m.BytesTransferred.WithLabelValues("upload").Add(float64(n))
}

// AddBytesDownloaded records bytes streamed from the daemon to the client.
func (m *Metrics) AddBytesDownloaded(n int) {
	if m == nil {
		return
	}

	m.BytesTransferred.WithLabelValues("download").Add(float64(n))
}
