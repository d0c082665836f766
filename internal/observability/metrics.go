package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionOutcomes  *prometheus.CounterVec
	ChunkInvocations *prometheus.CounterVec
	ChunkLatency     prometheus.Histogram
	ModelErrors      *prometheus.CounterVec
	HistoryWrites    *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of generation sessions currently running.",
		}),
		SessionOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_outcomes_total",
			Help:      "Terminal session states by outcome.",
		}, []string{"outcome"}),
		ChunkInvocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_invocations_total",
			Help:      "Model invocations by result.",
		}, []string{"result"}),
		ChunkLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_latency_seconds",
			Help:      "Wall-clock time of one model invocation.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}),
		ModelErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_errors_total",
			Help:      "Model invocation errors by code.",
		}, []string{"code"}),
		HistoryWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_writes_total",
			Help:      "History store writes by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveChunkLatency(d time.Duration) {
	m.ChunkLatency.Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
