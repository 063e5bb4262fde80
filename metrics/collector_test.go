package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.TransitionStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitionsActive))
	c.TransitionFinished("active", true, 10*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.transitionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("active", "success")))

	c.ObserveOperation("load", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("load", "failure")))

	c.ObserveHook("pre_init", HookSkipped)
	c.ObserveHook("pre_init", HookSkipped)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.hooks.WithLabelValues("pre_init", HookSkipped)))

	c.ObserveUICleanup(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.uiCleanups.WithLabelValues("success")))

	c.ObserveLogEntry("warn")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.logEntries.WithLabelValues("warn")))
}

func TestCollector_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustNewCollector(reg)
	_, err := NewCollector(reg)
	assert.Error(t, err)
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.TransitionStarted()
		c.TransitionFinished("active", true, time.Second)
		c.ObserveOperation("load", true)
		c.ObserveHook("pre_init", HookExecuted)
		c.ObserveUICleanup(false)
		c.ObserveLogEntry("info")
	})
}
