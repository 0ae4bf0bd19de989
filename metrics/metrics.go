// Package metrics exposes Prometheus counters for webhook intake and the
// reply pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gemini_slack_bot"

type Metrics struct {
	registry *prometheus.Registry

	WebhookRequests   *prometheus.CounterVec
	EventsDispatched  prometheus.Counter
	EventsRejected    prometheus.Counter
	Dispositions      *prometheus.CounterVec
	Outcomes          *prometheus.CounterVec
	CompletionLatency prometheus.Histogram
	QueueDepth        prometheus.Gauge
	DedupErrors       prometheus.Counter
	DedupSwept        prometheus.Counter
}

// New registers every collector on a fresh registry, so tests can build as
// many instances as they like.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		WebhookRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Slack event webhook requests by kind (challenge, event, empty, invalid, unauthorized).",
		}, []string{"kind"}),
		EventsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Events accepted onto the worker queue.",
		}),
		EventsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Events dropped because the worker queue was full or stopped.",
		}),
		Dispositions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_dispositions_total",
			Help:      "Classifier decisions.",
		}, []string{"disposition"}),
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_outcomes_total",
			Help:      "Terminal state of each dispatched event.",
		}, []string{"outcome"}),
		CompletionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Latency of completion calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Events waiting for a worker.",
		}),
		DedupErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_errors_total",
			Help:      "Dedup store failures; the event is processed anyway.",
		}),
		DedupSwept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_swept_total",
			Help:      "Expired ids removed from the dedup store.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
