// Package metrics exposes pipeline counters and latencies in Prometheus
// format through a registry owned by the process, not the global default.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gtdbot"

// Collector aggregates every pipeline metric.
type Collector struct {
	registry *prometheus.Registry

	eventsReceived   *prometheus.CounterVec
	eventsSkipped    *prometheus.CounterVec
	intents          *prometheus.CounterVec
	outcomes         *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	transcriptions   *prometheus.CounterVec
	latency          *prometheus.HistogramVec
	startTime        time.Time
}

// New creates a collector with its own registry, including the Go runtime
// and process collectors.
func New() *Collector {
	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Inbound gateway events accepted by the webhook.",
		}, []string{"gateway", "kind"}),
		eventsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_skipped_total",
			Help:      "Events dropped by the guard or the parser.",
		}, []string{"reason"}),
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_total",
			Help:      "Classified intents by kind and source.",
		}, []string{"kind", "source"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_outcomes_total",
			Help:      "Terminal pipeline outcomes by marker reason.",
		}, []string{"reason"}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Replies the gateway failed to deliver.",
		}, []string{"gateway", "kind"}),
		transcriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Voice notes transcribed, by result.",
		}, []string{"result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Time from webhook receipt to terminal marker.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"reason"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.eventsReceived,
		c.eventsSkipped,
		c.intents,
		c.outcomes,
		c.deliveryFailures,
		c.transcriptions,
		c.latency,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the collector was created.",
		}, func() float64 { return c.Uptime().Seconds() }),
	)
	return c
}

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

func (c *Collector) EventReceived(gateway, kind string) {
	c.eventsReceived.WithLabelValues(gateway, kind).Inc()
}

func (c *Collector) EventSkipped(reason string) {
	c.eventsSkipped.WithLabelValues(reason).Inc()
}

func (c *Collector) IntentClassified(kind, source string) {
	c.intents.WithLabelValues(kind, source).Inc()
}

// Outcome records the terminal reason of one event and how long it took.
func (c *Collector) Outcome(reason string, elapsed time.Duration) {
	c.outcomes.WithLabelValues(reason).Inc()
	c.latency.WithLabelValues(reason).Observe(elapsed.Seconds())
}

func (c *Collector) Transcription(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.transcriptions.WithLabelValues(result).Inc()
}

// DeliveryFailed satisfies gateway.DeliveryObserver.
func (c *Collector) DeliveryFailed(gateway, kind string) {
	c.deliveryFailures.WithLabelValues(gateway, kind).Inc()
}

// Registry exposes the underlying registry for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
