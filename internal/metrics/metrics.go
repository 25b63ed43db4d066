// Package metrics records the engine operational metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run kinds.
const (
	RunKindNew      = "new"
	RunKindContinue = "continue"
)

// Recorder records the engine metrics.
type Recorder interface {
	// ObserveTaskRun records a finished task run, outcome is the task final status or "cancelled".
	ObserveTaskRun(kind, outcome string, d time.Duration)
	ObserveAgentRun(agent string, success bool, d time.Duration)
	IncPublish(outcome string)
	IncRateLimited()
	AddSweptTasks(n int)
}

// Noop is a recorder that does nothing.
var Noop Recorder = noop{}

type noop struct{}

func (noop) ObserveTaskRun(string, string, time.Duration) {}
func (noop) ObserveAgentRun(string, bool, time.Duration)  {}
func (noop) IncPublish(string)                            {}
func (noop) IncRateLimited()                              {}
func (noop) AddSweptTasks(int)                            {}

var durationBuckets = []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600}

// Prometheus is a Prometheus recorder.
type Prometheus struct {
	taskRuns    *prometheus.HistogramVec
	agentRuns   *prometheus.HistogramVec
	publishes   *prometheus.CounterVec
	rateLimited prometheus.Counter
	sweptTasks  prometheus.Counter
}

var _ Recorder = &Prometheus{}

// NewPrometheus creates and registers the metrics on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		taskRuns: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentbox",
			Subsystem: "task",
			Name:      "run_duration_seconds",
			Help:      "Duration of task runs by kind and outcome.",
			Buckets:   durationBuckets,
		}, []string{"kind", "outcome"}),
		agentRuns: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentbox",
			Subsystem: "agent",
			Name:      "run_duration_seconds",
			Help:      "Duration of agent CLI runs by agent and success.",
			Buckets:   durationBuckets,
		}, []string{"agent", "success"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentbox",
			Subsystem: "git",
			Name:      "publishes_total",
			Help:      "Total git publications by outcome.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentbox",
			Subsystem: "quota",
			Name:      "rejected_total",
			Help:      "Total task creations rejected by the daily quota.",
		}),
		sweptTasks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentbox",
			Subsystem: "sweeper",
			Name:      "swept_tasks_total",
			Help:      "Total stuck tasks marked as error by the sweeper.",
		}),
	}

	reg.MustRegister(p.taskRuns, p.agentRuns, p.publishes, p.rateLimited, p.sweptTasks)
	return p
}

func (p *Prometheus) ObserveTaskRun(kind, outcome string, d time.Duration) {
	p.taskRuns.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

func (p *Prometheus) ObserveAgentRun(agent string, success bool, d time.Duration) {
	s := "false"
	if success {
		s = "true"
	}
	p.agentRuns.WithLabelValues(agent, s).Observe(d.Seconds())
}

func (p *Prometheus) IncPublish(outcome string) { p.publishes.WithLabelValues(outcome).Inc() }

func (p *Prometheus) IncRateLimited() { p.rateLimited.Inc() }

func (p *Prometheus) AddSweptTasks(n int) { p.sweptTasks.Add(float64(n)) }
