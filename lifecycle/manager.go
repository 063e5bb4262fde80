// Package lifecycle records fine-grained plugin stages, executes manifest hooks with
// re-entrancy guarding and UI-goroutine marshaling, and tracks UI integrations.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leeforge/lifecycle/hooks"
	"github.com/leeforge/lifecycle/metrics"
	"github.com/leeforge/lifecycle/plugin"
	"github.com/leeforge/lifecycle/uithread"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/leeforge/lifecycle/lifecycle"

// Config holds configuration for creating a Manager.
type Config struct {
	Logger     *zap.Logger
	Dispatcher uithread.Dispatcher // default uithread.Inline
	Resolver   *hooks.Resolver     // default resolver over hooks.Default()
	Metrics    *metrics.Collector  // nil records nothing
	Tracer     trace.Tracer        // default otel global tracer
}

// Manager executes hooks and owns the lifecycle state store, the UI integration map
// and the UI-ready signals. Each of those is guarded by its own lock.
type Manager struct {
	logger     *zap.Logger
	dispatcher uithread.Dispatcher
	resolver   *hooks.Resolver
	metrics    *metrics.Collector
	tracer     trace.Tracer

	states  *StateStore
	guard   *hookGuard
	signals *signalMap
	ui      *uiRegistry
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = uithread.Inline{}
	}
	if cfg.Resolver == nil {
		cfg.Resolver = hooks.NewResolver(nil)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}

	return &Manager{
		logger:     cfg.Logger,
		dispatcher: cfg.Dispatcher,
		resolver:   cfg.Resolver,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		states:     NewStateStore(),
		guard:      newHookGuard(),
		signals:    newSignalMap(),
		ui:         newUIRegistry(),
	}
}

// Dispatcher returns the UI dispatcher hooks are marshaled through.
func (m *Manager) Dispatcher() uithread.Dispatcher {
	return m.dispatcher
}

// State returns the stage of pluginID, Discovered when unknown.
func (m *Manager) State(pluginID string) plugin.Stage {
	return m.states.Get(pluginID)
}

// SetState records a stage change. Legality is the caller's concern.
func (m *Manager) SetState(pluginID string, stage plugin.Stage) {
	old := m.states.Set(pluginID, stage)
	m.logger.Debug("plugin stage changed",
		zap.String("plugin", pluginID),
		zap.String("transition", old.String()+" -> "+stage.String()))
}

// States returns a snapshot of every recorded stage.
func (m *Manager) States() map[string]plugin.Stage {
	return m.states.Snapshot()
}

// ExecuteHook runs the hook manifest declares for kind.
//
// It returns (nil, nil) when no hook is declared, and also when the same hook is already
// running for pluginID (a hook that re-triggers itself is skipped, not failed).
// UI-affecting kinds are executed on the UI goroutine; the caller waits for them.
// Any failure is returned as *HookError.
func (m *Manager) ExecuteHook(
	ctx context.Context,
	kind plugin.HookKind,
	pluginID string,
	manifest *plugin.Manifest,
	instance any,
	hc plugin.HookContext,
) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	callable, err := m.resolver.Resolve(manifest, kind, instance)
	if err != nil {
		m.metrics.ObserveHook(string(kind), metrics.HookFailed)
		m.logger.Error("hook resolution failed",
			zap.String("plugin", pluginID), zap.String("hook", string(kind)), zap.Error(err))
		return nil, newHookError(kind, pluginID, err)
	}
	if callable == nil {
		m.metrics.ObserveHook(string(kind), metrics.HookNotFound)
		return nil, nil
	}

	key := guardKey(pluginID, kind, callable.Target)
	if m.guard.running(key) {
		m.skipRecursive(pluginID, kind, callable.Target)
		return nil, nil
	}

	if kind.IsUIAffecting() && !m.dispatcher.OnUIThread(ctx) {
		v, err := m.dispatcher.RunOn(ctx, func(uiCtx context.Context) (any, error) {
			return m.ExecuteHook(uiCtx, kind, pluginID, manifest, instance, hc)
		})
		var hookErr *HookError
		if err != nil && !errors.As(err, &hookErr) {
			err = newHookError(kind, pluginID, err)
		}
		return v, err
	}

	if !m.guard.acquire(key) {
		m.skipRecursive(pluginID, kind, callable.Target)
		return nil, nil
	}
	defer m.guard.release(key)

	args := make(plugin.HookContext, len(hc)+1)
	for k, v := range hc {
		args[k] = v
	}
	if _, present := args[plugin.UIIntegrationKey]; !present {
		if handle := m.UIIntegration(pluginID); handle != nil {
			args[plugin.UIIntegrationKey] = handle
		}
	}

	ctx, span := m.tracer.Start(ctx, "lifecycle.hook", trace.WithAttributes(
		attribute.String("plugin.id", pluginID),
		attribute.String("hook.kind", string(kind)),
		attribute.String("hook.target", callable.Target),
		attribute.Bool("hook.async", callable.IsAsync()),
	))
	defer span.End()

	start := time.Now()
	result, err := invoke(ctx, callable, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.metrics.ObserveHook(string(kind), metrics.HookFailed)
		m.logger.Error("hook failed",
			zap.String("plugin", pluginID),
			zap.String("hook", string(kind)),
			zap.String("target", callable.Target),
			zap.Error(err))
		return nil, newHookError(kind, pluginID, err)
	}

	m.metrics.ObserveHook(string(kind), metrics.HookExecuted)
	m.logger.Debug("hook executed",
		zap.String("plugin", pluginID),
		zap.String("hook", string(kind)),
		zap.String("target", callable.Target),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

func (m *Manager) skipRecursive(pluginID string, kind plugin.HookKind, target string) {
	m.metrics.ObserveHook(string(kind), metrics.HookSkipped)
	m.logger.Warn("hook already running, skipping recursive invocation",
		zap.String("plugin", pluginID),
		zap.String("hook", string(kind)),
		zap.String("target", target))
}

func invoke(ctx context.Context, c *hooks.Callable, hc plugin.HookContext) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in hook %s: %v", c.Target, r)
		}
	}()
	return c.Invoke(ctx, hc)
}

// WaitForUIReady blocks until SignalUIReady(pluginID) has fired.
// It returns false when timeout (if > 0) expires or ctx is done.
func (m *Manager) WaitForUIReady(ctx context.Context, pluginID string, timeout time.Duration) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	return m.signals.wait(ctx, pluginID, timeout)
}

// SignalUIReady releases current and future waiters until the signal is cleared.
func (m *Manager) SignalUIReady(pluginID string) {
	m.signals.fire(pluginID)
	m.logger.Debug("plugin ui ready", zap.String("plugin", pluginID))
}

// IsUIReady reports whether the UI-ready signal is currently set.
func (m *Manager) IsUIReady(pluginID string) bool {
	return m.signals.isSet(pluginID)
}

// ActiveHooks returns the number of hooks currently executing.
func (m *Manager) ActiveHooks() int {
	return m.guard.size()
}

var _ plugin.Lifecycle = (*Manager)(nil)
