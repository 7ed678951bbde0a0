package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Enzime/hnix-store/pkg/metrics"
)

func TestObserveOpRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveOp("IsValidPath", time.Now(), nil)
	m.ObserveOp("IsValidPath", time.Now(), errors.New("boom"))

	families, err := reg.Gather()
	require.NoError(t, err)

	var ok, errCount float64

	for _, fam := range families {
		if fam.GetName() != "hnix_store_daemon_operations_total" {
			continue
		}

		for _, metric := range fam.GetMetric() {
			outcome := labelValue(metric, "outcome")
			switch outcome {
			case "ok":
				ok = metric.GetCounter().GetValue()
			case "error":
				errCount = metric.GetCounter().GetValue()
			}
		}
	}

	assert.Equal(t, float64(1), ok)
	assert.Equal(t, float64(1), errCount)
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *metrics.Metrics

	assert.NotPanics(t, func() {
		m.ObserveOp("IsValidPath", time.Now(), nil)
		m.AddBytesUploaded(10)
		m.AddBytesDownloaded(10)
	})
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}

	return ""
}
