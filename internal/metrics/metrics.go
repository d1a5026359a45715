// Package metrics регистрирует счётчики экономики в Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics: набор счётчиков сервиса.
type Metrics struct {
	Operations    *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	SweepScanned  *prometheus.CounterVec
	SweepRestored *prometheus.CounterVec
	SweepErrors   *prometheus.CounterVec

	registry *prometheus.Registry
}

// New регистрирует счётчики в отдельном реестре.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "economy",
			Name:      "operations_total",
			Help:      "Callable operations by result code.",
		}, []string{"operation", "code"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "economy",
			Name:      "offer_transitions_total",
			Help:      "Scheduled offer transitions processed.",
		}, []string{"reason", "result"}),
		SweepScanned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "economy",
			Name:      "sweep_scanned_total",
			Help:      "Players examined by recovery sweeps.",
		}, []string{"sweep"}),
		SweepRestored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "economy",
			Name:      "sweep_restored_total",
			Help:      "Players restored by recovery sweeps.",
		}, []string{"sweep"}),
		SweepErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "economy",
			Name:      "sweep_errors_total",
			Help:      "Recovery sweep failures.",
		}, []string{"sweep"}),
		registry: reg,
	}
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
