// Package metrics exposes Prometheus collectors for plugin lifecycle activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "plugin_lifecycle"

// Hook outcomes.
const (
	HookExecuted  = "executed"
	HookSkipped   = "skipped_recursive"
	HookFailed    = "failed"
	HookNotFound  = "not_found"
	resultSuccess = "success"
	resultFailure = "failure"
)

// Collector groups every lifecycle metric. A nil *Collector is valid and records nothing.
type Collector struct {
	transitions        *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	transitionsActive  prometheus.Gauge
	operations         *prometheus.CounterVec
	hooks              *prometheus.CounterVec
	uiCleanups         *prometheus.CounterVec
	logEntries         *prometheus.CounterVec
}

// NewCollector creates the collectors and registers them on reg when reg is non-nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Coarse state transitions by target state and result.",
		}, []string{"target", "result"}),
		transitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transition_duration_seconds",
			Help:      "Time spent inside a transition, lock wait excluded.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target"}),
		transitionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transitions_in_progress",
			Help:      "Transitions currently holding a plugin lock.",
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Registry operations (load, unload) by result.",
		}, []string{"operation", "result"}),
		hooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_executions_total",
			Help:      "Hook executions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		uiCleanups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ui_cleanups_total",
			Help:      "UI teardowns by result.",
		}, []string{"result"}),
		logEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_entries_total",
			Help:      "Log entries written by level.",
		}, []string{"level"}),
	}

	if reg != nil {
		for _, col := range []prometheus.Collector{
			c.transitions, c.transitionDuration, c.transitionsActive,
			c.operations, c.hooks, c.uiCleanups, c.logEntries,
		} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// MustNewCollector is NewCollector that panics on registration errors.
func MustNewCollector(reg prometheus.Registerer) *Collector {
	c, err := NewCollector(reg)
	if err != nil {
		panic(err)
	}
	return c
}

func result(ok bool) string {
	if ok {
		return resultSuccess
	}
	return resultFailure
}

// TransitionStarted marks a transition as holding its plugin lock.
func (c *Collector) TransitionStarted() {
	if c == nil {
		return
	}
	c.transitionsActive.Inc()
}

// TransitionFinished records the outcome of a transition started with TransitionStarted.
func (c *Collector) TransitionFinished(target string, ok bool, d time.Duration) {
	if c == nil {
		return
	}
	c.transitionsActive.Dec()
	c.transitions.WithLabelValues(target, result(ok)).Inc()
	c.transitionDuration.WithLabelValues(target).Observe(d.Seconds())
}

// ObserveOperation records a registry operation.
func (c *Collector) ObserveOperation(op string, ok bool) {
	if c == nil {
		return
	}
	c.operations.WithLabelValues(op, result(ok)).Inc()
}

// ObserveHook records one hook execution attempt.
func (c *Collector) ObserveHook(kind, outcome string) {
	if c == nil {
		return
	}
	c.hooks.WithLabelValues(kind, outcome).Inc()
}

// ObserveUICleanup records a UI teardown.
func (c *Collector) ObserveUICleanup(ok bool) {
	if c == nil {
		return
	}
	c.uiCleanups.WithLabelValues(result(ok)).Inc()
}

// ObserveLogEntry counts one written log entry.
func (c *Collector) ObserveLogEntry(level string) {
	if c == nil {
		return
	}
	c.logEntries.WithLabelValues(level).Inc()
}
