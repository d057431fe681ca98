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
	MessagesProcessed *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec
	LLMCalls          *prometheus.CounterVec
	LLMErrors         *prometheus.CounterVec
	Reflections       *prometheus.CounterVec
	RetrievalLatency  prometheus.Histogram
	ResponseLatency   prometheus.Histogram
	ActiveRooms       prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		MessagesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_processed_total",
			Help:      "Chat messages processed by channel and outcome.",
		}, []string{"channel", "outcome"}),
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Pending messages per channel.",
		}, []string{"channel"}),
		LLMCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "LLM completion calls by purpose.",
		}, []string{"purpose"}),
		LLMErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_errors_total",
			Help:      "LLM completion failures by purpose.",
		}, []string{"purpose"}),
		Reflections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reflections_total",
			Help:      "Reflection passes by channel.",
		}, []string{"channel"}),
		RetrievalLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "memory_retrieval_latency_ms",
			Help:      "Memory retrieval latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		ResponseLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_latency_ms",
			Help:      "End-to-end response generation latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000},
		}),
		ActiveRooms: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of rooms with at least one connected client.",
		}),
	}
}

func (m *Metrics) ObserveRetrievalLatency(d time.Duration) {
	m.RetrievalLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveResponseLatency(d time.Duration) {
	m.ResponseLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
