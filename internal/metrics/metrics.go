// Package metrics exposes Prometheus metrics for the recommendation pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	blobPuts         *prometheus.CounterVec
	analyses         *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	providerCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recommender",
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Total vision and text provider calls by kind, backend and status.",
		},
		[]string{"kind", "backend", "status"},
	)
	providerDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "recommender",
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "Provider call duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60},
		},
		[]string{"kind", "backend"},
	)
	blobPuts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recommender",
			Subsystem: "blobstore",
			Name:      "images_total",
			Help:      "Images seen by the blob store, by whether they were uploaded or already stored.",
		},
		[]string{"result"},
	)
	analyses := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recommender",
			Subsystem: "orchestrator",
			Name:      "analyses_total",
			Help:      "Label analyses by outcome (computed, reused, failed).",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(providerCalls, providerDuration, blobPuts, analyses)

	return &Metrics{
		registry:         registry,
		providerCalls:    providerCalls,
		providerDuration: providerDuration,
		blobPuts:         blobPuts,
		analyses:         analyses,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ProviderCall(kind, backend string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.providerCalls.WithLabelValues(kind, backend, status).Inc()
	m.providerDuration.WithLabelValues(kind, backend).Observe(elapsed.Seconds())
}

func (m *Metrics) ImageStored(uploaded bool) {
	result := "deduplicated"
	if uploaded {
		result = "uploaded"
	}
	m.blobPuts.WithLabelValues(result).Inc()
}

func (m *Metrics) Analysis(outcome string) {
	m.analyses.WithLabelValues(outcome).Inc()
}
