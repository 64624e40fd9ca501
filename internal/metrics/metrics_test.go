package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Export("partial", 2*time.Second)
	m.Image("resolved")
	m.Image("resolved")
	m.Image("failed")
	m.RelayAttempt(false)
	m.RelayAttempt(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.exports.WithLabelValues("partial")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.images.WithLabelValues("resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.images.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayAttempts.WithLabelValues("error")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Export("complete", time.Second)
		m.Image("failed")
		m.RelayAttempt(true)
		m.RelayFetch(false)
	})
}
