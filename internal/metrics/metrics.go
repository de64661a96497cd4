// ABOUTME: Prometheus collectors for queue, bus, and stream activity
// ABOUTME: A nil *Metrics is a valid no-op recorder so metrics can be disabled cleanly

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service exposes.
type Metrics struct {
	registry *prometheus.Registry

	commandsEnqueued    prometheus.Counter
	commandsFinished    *prometheus.CounterVec
	activeSessions      prometheus.Gauge
	queueDepth          prometheus.Gauge
	progressEvents      *prometheus.CounterVec
	streamChunks        prometheus.Counter
	progressSubscribers prometheus.Gauge
	stalls              prometheus.Counter
	cancelConflicts     prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		commandsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_commands_enqueued_total",
			Help: "Commands accepted into a session queue.",
		}),
		commandsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_commands_finished_total",
			Help: "Commands that reached a terminal status.",
		}, []string{"status"}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "switchboard_active_sessions",
			Help: "Sessions currently held by the registry.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "switchboard_queue_depth",
			Help: "Pending commands across all sessions.",
		}),
		progressEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_progress_events_total",
			Help: "Progress events published on session buses.",
		}, []string{"type"}),
		streamChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_stream_chunks_total",
			Help: "Text chunks pushed on command streams.",
		}),
		progressSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "switchboard_progress_subscribers",
			Help: "Live progress channel subscribers.",
		}),
		stalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_stalls_total",
			Help: "Commands force-failed by the stall watchdog.",
		}),
		cancelConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_cancel_conflicts_total",
			Help: "Cancel requests that raced a terminal command.",
		}),
	}
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CommandEnqueued() {
	if m != nil {
		m.commandsEnqueued.Inc()
		m.queueDepth.Inc()
	}
}

// CommandStarted moves a command out of the pending depth.
func (m *Metrics) CommandStarted() {
	if m != nil {
		m.queueDepth.Dec()
	}
}

func (m *Metrics) CommandFinished(status string) {
	if m != nil {
		m.commandsFinished.WithLabelValues(status).Inc()
	}
}

// CommandDropped removes a command that left the pending list without
// running (cancelled while pending, or discarded at teardown).
func (m *Metrics) CommandDropped() {
	if m != nil {
		m.queueDepth.Dec()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.activeSessions.Dec()
	}
}

func (m *Metrics) ProgressEventPublished(eventType string) {
	if m != nil {
		m.progressEvents.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) StreamChunkPushed() {
	if m != nil {
		m.streamChunks.Inc()
	}
}

func (m *Metrics) SubscriberAttached() {
	if m != nil {
		m.progressSubscribers.Inc()
	}
}

func (m *Metrics) SubscriberDetached() {
	if m != nil {
		m.progressSubscribers.Dec()
	}
}

func (m *Metrics) StallForced() {
	if m != nil {
		m.stalls.Inc()
	}
}

func (m *Metrics) CancelConflict() {
	if m != nil {
		m.cancelConflicts.Inc()
	}
}
