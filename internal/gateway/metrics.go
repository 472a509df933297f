package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the gateway's Prometheus instruments on a dedicated
// registry, exposed at /metrics.
type Metrics struct {
	registry *prometheus.Registry

	runsStarted    prometheus.Counter
	runsFinished   *prometheus.CounterVec
	runDuration    prometheus.Histogram
	activeStreams  prometheus.Gauge
	eventsStreamed prometheus.Counter
}

// NewMetrics creates and registers the gateway instruments.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxscribe",
			Name:      "runs_started_total",
			Help:      "Pipeline runs accepted by the gateway.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxscribe",
			Name:      "runs_finished_total",
			Help:      "Pipeline runs that reached a terminal status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voxscribe",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of finished runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxscribe",
			Name:      "active_streams",
			Help:      "Open SSE and WebSocket stream connections.",
		}),
		eventsStreamed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voxscribe",
			Name:      "events_streamed_total",
			Help:      "Events delivered to stream clients, replay included.",
		}),
	}
	reg.MustRegister(
		m.runsStarted, m.runsFinished, m.runDuration, m.activeStreams, m.eventsStreamed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RunStarted counts an accepted run.
func (m *Metrics) RunStarted() { m.runsStarted.Inc() }

// RunFinished counts a terminal run by status and records its duration.
func (m *Metrics) RunFinished(status string, d time.Duration) {
	m.runsFinished.WithLabelValues(status).Inc()
	m.runDuration.Observe(d.Seconds())
}

// StreamOpened/StreamClosed track open stream connections.
func (m *Metrics) StreamOpened() { m.activeStreams.Inc() }
func (m *Metrics) StreamClosed() { m.activeStreams.Dec() }

// EventStreamed counts one event delivered to a client.
func (m *Metrics) EventStreamed() { m.eventsStreamed.Inc() }
