// Package metrics holds the Prometheus collectors for the export pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	exports       *prometheus.CounterVec
	images        *prometheus.CounterVec
	relayAttempts *prometheus.CounterVec
	relayFetches  *prometheus.CounterVec
	duration      prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		exports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "art_export_jobs_total",
				Help: "Export jobs by result (complete, partial, failed, refused)",
			},
			[]string{"result"},
		),
		images: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "art_export_images_total",
				Help: "Record images by final status",
			},
			[]string{"status"},
		),
		relayAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "art_resolver_attempts_total",
				Help: "Relay attempts made by the asset resolver",
			},
			[]string{"result"},
		),
		relayFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "art_relay_fetches_total",
				Help: "Upstream fetches served by the image relay",
			},
			[]string{"result"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "art_export_duration_seconds",
				Help:    "Wall time of export jobs",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
		),
	}
	reg.MustRegister(m.exports, m.images, m.relayAttempts, m.relayFetches, m.duration)
	return m
}

func (m *Metrics) Export(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(result).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) Image(status string) {
	if m == nil {
		return
	}
	m.images.WithLabelValues(status).Inc()
}

func (m *Metrics) RelayAttempt(ok bool) {
	if m == nil {
		return
	}
	m.relayAttempts.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) RelayFetch(ok bool) {
	if m == nil {
		return
	}
	m.relayFetches.WithLabelValues(result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
