// Package metrics exposes Prometheus collectors for turns, tools and streams.
// A Metrics value implements agent.Observer and stream.Observer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/campusagent/core"
	"github.com/hupe1980/campusagent/stream"
)

const namespace = "campusagent"

// Options configures Metrics.
type Options struct {
	// Registerer receives the collectors. Defaults to a fresh registry.
	Registerer prometheus.Registerer
	// Gatherer serves /metrics. Defaults to the fresh registry.
	Gatherer prometheus.Gatherer
}

// Metrics records agent activity.
type Metrics struct {
	gatherer prometheus.Gatherer

	activeTurns    prometheus.Gauge
	turns          *prometheus.CounterVec
	turnDuration   prometheus.Histogram
	turnSteps      prometheus.Histogram
	stepLimit      prometheus.Counter
	steps          *prometheus.CounterVec
	plannerLatency prometheus.Histogram
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	openStreams    prometheus.Gauge
	streams        *prometheus.CounterVec
	streamDuration prometheus.Histogram
	registerer     prometheus.Registerer
}

// New registers the collectors.
func New(optFns ...func(o *Options)) *Metrics {
	reg := prometheus.NewRegistry()
	opts := Options{Registerer: reg, Gatherer: reg}
	for _, fn := range optFns {
		fn(&opts)
	}
	f := promauto.With(opts.Registerer)

	return &Metrics{
		gatherer:   opts.Gatherer,
		registerer: opts.Registerer,
		activeTurns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "agent", Name: "active_turns",
			Help: "Turns currently running",
		}),
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "agent", Name: "turns_total",
			Help: "Completed turns by final state",
		}, []string{"state"}),
		turnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "agent", Name: "turn_duration_seconds",
			Help:    "Wall clock duration of turns",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		turnSteps: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "agent", Name: "turn_steps",
			Help:    "Think steps per turn",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		stepLimit: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "agent", Name: "step_limit_total",
			Help: "Turns that ran out of step budget",
		}),
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "agent", Name: "steps_total",
			Help: "Steps by kind (think, think+act)",
		}, []string{"kind"}),
		plannerLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "planner", Name: "latency_seconds",
			Help:    "Planner call latency",
			Buckets: prometheus.DefBuckets,
		}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tool", Name: "calls_total",
			Help: "Tool calls by tool and status (success, error)",
		}, []string{"tool", "status"}),
		toolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "tool", Name: "duration_seconds",
			Help:    "Tool call duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		openStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "stream", Name: "open",
			Help: "Streams currently open",
		}),
		streams: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "closed_total",
			Help: "Closed streams by reason",
		}, []string{"reason"}),
		streamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "stream", Name: "duration_seconds",
			Help:    "Stream lifetime",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
	}
}

// TurnStarted implements agent.Observer.
func (m *Metrics) TurnStarted(string) { m.activeTurns.Inc() }

// StepCompleted implements agent.Observer.
func (m *Metrics) StepCompleted(_ string, trace core.StepTrace, plannerLatency time.Duration) {
	m.steps.WithLabelValues(string(trace.Kind)).Inc()
	m.plannerLatency.Observe(plannerLatency.Seconds())
}

// ToolCompleted implements agent.Observer.
func (m *Metrics) ToolCompleted(name string, dur time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.toolCalls.WithLabelValues(name, status).Inc()
	m.toolDuration.WithLabelValues(name).Observe(dur.Seconds())
}

// TurnCompleted implements agent.Observer.
func (m *Metrics) TurnCompleted(outcome *core.TurnOutcome) {
	m.activeTurns.Dec()
	m.turns.WithLabelValues(outcome.State.String()).Inc()
	m.turnDuration.Observe(outcome.Duration.Seconds())
	m.turnSteps.Observe(float64(outcome.Steps))
	if outcome.StepLimitReached {
		m.stepLimit.Inc()
	}
}

// StreamOpened implements stream.Observer.
func (m *Metrics) StreamOpened() { m.openStreams.Inc() }

// StreamClosed implements stream.Observer.
func (m *Metrics) StreamClosed(reason stream.CloseReason, dur time.Duration) {
	m.openStreams.Dec()
	m.streams.WithLabelValues(string(reason)).Inc()
	m.streamDuration.Observe(dur.Seconds())
}

// SessionGauge reports the value of fn as the number of stored sessions.
func (m *Metrics) SessionGauge(fn func() int) {
	promauto.With(m.registerer).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "session", Name: "stored",
		Help: "Sessions held by the store",
	}, func() float64 { return float64(fn()) })
}

// Handler serves the collected metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
