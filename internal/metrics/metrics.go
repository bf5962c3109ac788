package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"time"
)

const namespace = "lifeboat"

// Metrics owns a private registry so several engines can coexist in one process (tests).
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	artifacts  prometheus.Counter
	rejections *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Finished backup, restore and update operations by outcome",
		}, []string{"kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Wall time of background operations",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
		}, []string{"kind"}),
		artifacts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_bytes_total",
			Help:      "Bytes of completed backup artifacts written",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejections_total",
			Help:      "Requests rejected at admission",
		}, []string{"kind", "reason"}),
	}
	m.registry.MustRegister(m.operations, m.duration, m.artifacts, m.rejections)
	return m
}

// ObserveOperation records one finished operation. A nil receiver is a no-op.
func (m *Metrics) ObserveOperation(kind, outcome string, startedAt time.Time) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(kind, outcome).Inc()
	m.duration.WithLabelValues(kind).Observe(time.Since(startedAt).Seconds())
}

func (m *Metrics) AddArtifactBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.artifacts.Add(float64(n))
}

func (m *Metrics) Rejected(kind, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(kind, reason).Inc()
}

// RegisterGauge exposes a live value such as in-flight operations.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
