// Package metrics exposes scheduler activity as Prometheus metrics.
//
// The Collector consumes the event bus, so instrumented components never
// import prometheus themselves.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"mediatasks/internal/eventbus"
)

const namespace = "mediatasks"

type Collector struct {
	runs       *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	skipped    prometheus.Counter
	discarded  prometheus.Counter
	timerArms  prometheus.Counter
	timerDrops prometheus.Counter

	validatorRuns    prometheus.Counter
	validatorRepairs *prometheus.CounterVec
	invalidTasks     prometheus.Gauge
}

// Option adds a gauge backed by a live source.
type Option func(reg prometheus.Registerer)

// WithTimers exports the number of armed timers.
func WithTimers(fn func() int) Option {
	return gaugeFunc("timers_armed", "Number of armed task timers", fn)
}

// WithInFlight exports the number of executing actions.
func WithInFlight(fn func() int) Option {
	return gaugeFunc("executions_in_flight", "Number of task actions currently running", fn)
}

// WithDropped exports events dropped by the bus.
func WithDropped(fn func() uint64) Option {
	return func(reg prometheus.Registerer) {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events not delivered because a subscriber was full",
		}, func() float64 { return float64(fn()) }))
	}
}

func gaugeFunc(name, help string, fn func() int) Option {
	return func(reg prometheus.Registerer) {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn()) }))
	}
}

// NewCollector creates the collector and registers it with reg
// (prometheus.DefaultRegisterer when nil).
func NewCollector(reg prometheus.Registerer, opts ...Option) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Completed task executions by trigger and status",
		}, []string{"trigger", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_run_duration_seconds",
			Help:      "Task execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
		}, []string{"type"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_skipped_total",
			Help:      "Executions rejected because the task was already running",
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_discarded_total",
			Help:      "Executions whose task was deleted while running",
		}),
		timerArms: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timer_arms_total",
			Help:      "Timer registrations",
		}),
		timerDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timer_disarms_total",
			Help:      "Timer cancellations",
		}),
		validatorRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validator_runs_total",
			Help:      "Association validation passes",
		}),
		validatorRepairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validator_repairs_total",
			Help:      "Tasks repaired by the association validator, by action",
		}, []string{"action"}),
		invalidTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "validator_invalid_tasks",
			Help:      "Tasks with a broken item reference in the last pass",
		}),
	}
	reg.MustRegister(c.runs, c.duration, c.skipped, c.discarded, c.timerArms, c.timerDrops,
		c.validatorRuns, c.validatorRepairs, c.invalidTasks)
	for _, o := range opts {
		o(reg)
	}
	return c
}

// Observe updates metrics from one event. Unknown events are ignored.
func (c *Collector) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TaskFinished, eventbus.TaskFailed:
		te, ok := e.Data.(eventbus.TaskEvent)
		if !ok {
			return
		}
		status := "success"
		if e.Type == eventbus.TaskFailed {
			status = "failure"
		}
		c.runs.WithLabelValues(te.Trigger, status).Inc()
		c.duration.WithLabelValues(te.Type).Observe(te.Duration.Seconds())
	case eventbus.TaskSkipped:
		c.skipped.Inc()
	case eventbus.TaskDiscarded:
		c.discarded.Inc()
	case eventbus.TimerArmed:
		c.timerArms.Inc()
	case eventbus.TimerDisarmed:
		c.timerDrops.Inc()
	case eventbus.ValidatorRun:
		ve, ok := e.Data.(eventbus.ValidatorEvent)
		if !ok {
			return
		}
		c.validatorRuns.Inc()
		c.invalidTasks.Set(float64(ve.Invalid))
		c.validatorRepairs.WithLabelValues("relinked").Add(float64(ve.Fixed))
		c.validatorRepairs.WithLabelValues("deleted").Add(float64(ve.Deleted))
		c.validatorRepairs.WithLabelValues("disabled").Add(float64(ve.Disabled))
	}
}

// Run consumes bus events until ctx is done.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(e)
		}
	}
}
