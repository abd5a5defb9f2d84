// Package metrics exposes Prometheus collectors for the bridge. Each Recorder
// owns its registry, so several bridges (or tests) never collide on
// registration. A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cdpbridge"

// Command outcomes.
const (
	OutcomeOK         = "ok"
	OutcomeTimeout    = "timeout"
	OutcomeProtocol   = "protocol_error"
	OutcomeConnection = "connection_error"
)

// Recorder holds the bridge collectors.
type Recorder struct {
	registry *prometheus.Registry

	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	pending         prometheus.Gauge
	framesDiscarded *prometheus.CounterVec
	events          *prometheus.CounterVec
	launches        *prometheus.CounterVec
}

// New creates a Recorder with its own registry. Process and Go runtime
// collectors are included when withRuntime is set.
func New(withRuntime bool) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "CDP commands sent, by method and outcome.",
		}, []string{"method", "outcome"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time from sending a CDP command to its outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"method"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_commands",
			Help:      "CDP commands awaiting a reply.",
		}),
		framesDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_discarded_total",
			Help:      "Inbound frames dropped by the router, by reason.",
		}, []string{"reason"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Notifications recorded into the page logs, by log kind.",
		}, []string{"kind"}),
		launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_launches_total",
			Help:      "Browser process launch attempts, by outcome.",
		}, []string{"outcome"}),
	}
	r.registry.MustRegister(r.commands, r.commandDuration, r.pending, r.framesDiscarded, r.events, r.launches)
	if withRuntime {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Registry returns the registry backing this recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// CommandStarted bumps the pending gauge.
func (r *Recorder) CommandStarted() {
	if r == nil {
		return
	}
	r.pending.Inc()
}

// CommandFinished records one command outcome.
func (r *Recorder) CommandFinished(method, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.pending.Dec()
	r.commands.WithLabelValues(method, outcome).Inc()
	r.commandDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// FrameDiscarded counts a dropped inbound frame.
func (r *Recorder) FrameDiscarded(reason string) {
	if r == nil {
		return
	}
	r.framesDiscarded.WithLabelValues(reason).Inc()
}

// EventRecorded counts a notification appended to a page log.
func (r *Recorder) EventRecorded(kind string) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(kind).Inc()
}

// ProcessLaunched counts a launch attempt.
func (r *Recorder) ProcessLaunched(ok bool) {
	if r == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	r.launches.WithLabelValues(outcome).Inc()
}
