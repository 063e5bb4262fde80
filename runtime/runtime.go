// Package runtime is the plugin registry: it owns plugin records, instantiates plugins
// and walks them through their load and unload sequences using the lifecycle manager.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leeforge/lifecycle/coordinator"
	"github.com/leeforge/lifecycle/lifecycle"
	"github.com/leeforge/lifecycle/plugin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds configuration for creating a new Runtime.
type Config struct {
	Manager *lifecycle.Manager // default: a manager without a UI goroutine
	Logger  *zap.Logger
	// Settings is the root of per-plugin settings; each plugin sees the sub-tree under its id.
	Settings    *viper.Viper
	EventBuffer int // default 1024
	// UIReadyTimeout bounds how long Load waits for a plugin that registered a UI integration
	// to signal readiness. Zero skips the wait.
	UIReadyTimeout time.Duration
}

type entry struct {
	info    *plugin.Info
	factory plugin.Factory
	subs    *trackingBus
	lastErr error
}

// Runtime is the plugin registry. Load and Unload are meant to be driven by a
// Coordinator; Enable and Disable are the user-facing entry points and go through it.
type Runtime struct {
	logger         *zap.Logger
	manager        *lifecycle.Manager
	settings       *viper.Viper
	uiReadyTimeout time.Duration

	mu      sync.RWMutex
	plugins map[string]*entry
	order   []string

	states   Coordinator
	eventBus *eventBus
}

// NewRuntime creates a new runtime instance.
func NewRuntime(cfg Config) *Runtime {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Manager == nil {
		cfg.Manager = lifecycle.NewManager(lifecycle.Config{Logger: cfg.Logger})
	}

	return &Runtime{
		logger:         cfg.Logger,
		manager:        cfg.Manager,
		settings:       cfg.Settings,
		uiReadyTimeout: cfg.UIReadyTimeout,
		plugins:        make(map[string]*entry),
		eventBus:       NewEventBus(cfg.EventBuffer, cfg.Logger),
	}
}

// Coordinator is the serialized state-change surface the runtime delegates to.
type Coordinator interface {
	plugin.StateChanger
	TransitionFrom(ctx context.Context, pluginID string, target, current plugin.CoarseState) bool
}

// SetCoordinator installs the coordinator used by Enable, Disable and Shutdown and
// handed to plugins through their AppContext.
func (r *Runtime) SetCoordinator(c Coordinator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = c
}

func (r *Runtime) coord() Coordinator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.states
}

// Manager returns the lifecycle manager plugins are driven through.
func (r *Runtime) Manager() *lifecycle.Manager {
	return r.manager
}

// Events returns the lifecycle event bus.
func (r *Runtime) Events() plugin.EventBus {
	return r.eventBus
}

// Register adds a plugin in the discovered state.
func (r *Runtime) Register(m *plugin.Manifest, factory plugin.Factory) error {
	if m == nil || m.ID == "" {
		return errors.New("plugin manifest without id")
	}
	if factory == nil {
		return fmt.Errorf("plugin %q registered without a factory", m.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[m.ID]; exists {
		return fmt.Errorf("plugin %q already registered", m.ID)
	}
	r.plugins[m.ID] = &entry{info: plugin.NewInfo(m), factory: factory}
	r.order = append(r.order, m.ID)
	r.manager.SetState(m.ID, plugin.StageDiscovered)

	r.logger.Info("plugin registered",
		zap.String("plugin", m.ID), zap.String("version", m.Version), zap.Strings("hooks", hookNames(m)))
	return nil
}

// Plugins returns the registered plugin ids, sorted.
func (r *Runtime) Plugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := slices.Clone(r.order)
	sort.Strings(ids)
	return ids
}

// Info returns the record of pluginID.
func (r *Runtime) Info(pluginID string) (*plugin.Info, error) {
	e, err := r.entry(pluginID)
	if err != nil {
		return nil, err
	}
	return e.info, nil
}

// LastError returns the error of the most recent failed load of pluginID.
func (r *Runtime) LastError(pluginID string) error {
	e, err := r.entry(pluginID)
	if err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return e.lastErr
}

func (r *Runtime) entry(pluginID string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[pluginID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", coordinator.ErrUnknownPlugin, pluginID)
	}
	return e, nil
}

// Load instantiates pluginID and runs its load sequence. On failure the stage is
// Failed, the coarse state is restored and the error is returned.
func (r *Runtime) Load(ctx context.Context, pluginID string) (bool, error) {
	e, err := r.entry(pluginID)
	if err != nil {
		return false, err
	}
	m := e.info.Manifest
	log := r.logger.With(zap.String("plugin", pluginID))
	start := time.Now()

	prev := e.info.State()
	e.info.SetState(plugin.StateLoading)
	r.manager.SetState(pluginID, plugin.StageLoading)

	fail := func(step string, err error) (bool, error) {
		err = fmt.Errorf("%s: %w", step, err)
		r.manager.SetState(pluginID, plugin.StageFailed)
		if r.manager.UIIntegration(pluginID) != nil {
			r.manager.CleanupUI(ctx, pluginID)
		}
		e.info.SetInstance(nil)
		e.info.SetState(prev)
		e.subs.unsubscribeAll()
		r.mu.Lock()
		e.lastErr = err
		r.mu.Unlock()

		if m.Optional {
			log.Warn("optional plugin failed to load", zap.Error(err))
		} else {
			log.Error("plugin failed to load", zap.Error(err))
		}
		r.publish(ctx, plugin.EventPluginFailed, pluginID, err.Error())
		return false, err
	}

	instance, err := e.factory(m)
	if err != nil {
		return fail("instantiate", err)
	}
	if instance == nil {
		return fail("instantiate", errors.New("factory returned no instance"))
	}
	e.info.SetInstance(instance)

	app := r.appContext(e)
	hc := plugin.HookContext{plugin.AppContextKey: app}

	if _, err := r.manager.ExecuteHook(ctx, plugin.HookPreInit, pluginID, m, instance, hc); err != nil {
		return fail("pre_init", err)
	}
	r.manager.SetState(pluginID, plugin.StageInitializing)
	if p, ok := instance.(plugin.Initializer); ok {
		if err := p.Init(ctx, app); err != nil {
			return fail("init", err)
		}
	}
	if _, err := r.manager.ExecuteHook(ctx, plugin.HookPostInit, pluginID, m, instance, hc); err != nil {
		return fail("post_init", err)
	}
	r.manager.SetState(pluginID, plugin.StageInitialized)

	if _, err := r.manager.ExecuteHook(ctx, plugin.HookPreEnable, pluginID, m, instance, hc); err != nil {
		return fail("pre_enable", err)
	}
	if p, ok := instance.(plugin.Enabler); ok {
		if err := p.Enable(ctx, app); err != nil {
			return fail("enable", err)
		}
	}
	if _, err := r.manager.ExecuteHook(ctx, plugin.HookPostEnable, pluginID, m, instance, hc); err != nil {
		return fail("post_enable", err)
	}

	if r.manager.UIIntegration(pluginID) != nil {
		r.manager.MarkUISetup(pluginID)
		if r.uiReadyTimeout > 0 {
			if r.manager.WaitForUIReady(ctx, pluginID, r.uiReadyTimeout) {
				r.manager.SetState(pluginID, plugin.StageUIReady)
				if _, err := r.manager.ExecuteHook(ctx, plugin.HookOnUIReady, pluginID, m, instance, hc); err != nil {
					return fail("on_ui_ready", err)
				}
				r.publish(ctx, plugin.EventPluginUIReady, pluginID, nil)
			} else {
				log.Warn("plugin ui did not become ready in time", zap.Duration("timeout", r.uiReadyTimeout))
			}
		}
	}

	if p, ok := instance.(plugin.EventSubscriber); ok {
		p.SubscribeEvents(e.subs)
	}

	r.manager.SetState(pluginID, plugin.StageActive)
	e.info.SetState(plugin.StateActive)
	r.mu.Lock()
	e.lastErr = nil
	r.mu.Unlock()

	log.Info("plugin loaded", zap.Duration("duration", time.Since(start)))
	r.publish(ctx, plugin.EventPluginLoaded, pluginID, nil)
	return true, nil
}

// Unload runs the unload sequence of pluginID. Teardown is best-effort: failing hooks
// and a failing Disable are logged and the remaining steps still run.
func (r *Runtime) Unload(ctx context.Context, pluginID string) (bool, error) {
	e, err := r.entry(pluginID)
	if err != nil {
		return false, err
	}
	m := e.info.Manifest
	log := r.logger.With(zap.String("plugin", pluginID))
	instance := e.info.Instance()
	app := r.appContext(e)
	hc := plugin.HookContext{plugin.AppContextKey: app}

	step := func(name string, err error) {
		if err != nil {
			log.Warn("unload step failed", zap.String("step", name), zap.Error(err))
		}
	}

	r.manager.SetState(pluginID, plugin.StageDisabling)

	if instance != nil {
		_, err := r.manager.ExecuteHook(ctx, plugin.HookPreDisable, pluginID, m, instance, hc)
		step("pre_disable", err)
		if p, ok := instance.(plugin.Disableable); ok {
			step("disable", p.Disable(ctx, app))
		}
		_, err = r.manager.ExecuteHook(ctx, plugin.HookPostDisable, pluginID, m, instance, hc)
		step("post_disable", err)
	}

	if !r.manager.CleanupUI(ctx, pluginID) {
		log.Warn("ui cleanup incomplete")
	}

	if instance != nil {
		_, err := r.manager.ExecuteHook(ctx, plugin.HookPreUnload, pluginID, m, instance, hc)
		step("pre_unload", err)
		_, err = r.manager.ExecuteHook(ctx, plugin.HookPostUnload, pluginID, m, instance, hc)
		step("post_unload", err)
	}

	e.subs.unsubscribeAll()
	e.info.SetInstance(nil)
	r.manager.SetState(pluginID, plugin.StageInactive)
	e.info.SetState(plugin.StateInactive)

	log.Info("plugin unloaded")
	r.publish(ctx, plugin.EventPluginUnloaded, pluginID, nil)
	return true, nil
}

// Enable requests pluginID to become active through the coordinator.
// A disabled plugin is loaded again.
func (r *Runtime) Enable(ctx context.Context, pluginID string) bool {
	states := r.coord()
	if states == nil {
		r.logger.Error("enable requested before a coordinator was installed", zap.String("plugin", pluginID))
		return false
	}
	e, err := r.entry(pluginID)
	if err != nil {
		r.logger.Error("enable requested for unknown plugin", zap.String("plugin", pluginID))
		return false
	}

	// A disabled plugin has nothing loaded; load it as if it were inactive.
	if e.info.State() == plugin.StateDisabled {
		return states.TransitionFrom(ctx, pluginID, plugin.StateActive, plugin.StateInactive)
	}
	return states.Transition(ctx, pluginID, plugin.StateActive)
}

// Disable requests pluginID to be unloaded and marked disabled through the coordinator.
func (r *Runtime) Disable(ctx context.Context, pluginID string) bool {
	states := r.coord()
	if states == nil {
		r.logger.Error("disable requested before a coordinator was installed", zap.String("plugin", pluginID))
		return false
	}
	ok := states.Transition(ctx, pluginID, plugin.StateDisabled)
	if ok {
		r.publish(ctx, plugin.EventPluginDisabled, pluginID, nil)
	}
	return ok
}

// AutoLoadIDs returns the plugins whose manifest asks to be loaded at startup.
func (r *Runtime) AutoLoadIDs() []string {
	var ids []string
	for _, id := range r.Plugins() {
		if e, err := r.entry(id); err == nil && e.info.Manifest.AutoLoad {
			ids = append(ids, id)
		}
	}
	return ids
}

// RequiredFailures returns the non-optional plugins among results that failed.
func (r *Runtime) RequiredFailures(results map[string]bool) []string {
	var failed []string
	for id, ok := range results {
		if ok {
			continue
		}
		if e, err := r.entry(id); err == nil && !e.info.Manifest.Optional {
			failed = append(failed, id)
		}
	}
	sort.Strings(failed)
	return failed
}

// Shutdown deactivates every active plugin in reverse registration order and closes the event bus.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	order := slices.Clone(r.order)
	r.mu.RUnlock()
	slices.Reverse(order)

	states := r.coord()
	var errs []error
	for _, id := range order {
		e, err := r.entry(id)
		if err != nil || e.info.State() != plugin.StateActive {
			continue
		}
		if states == nil {
			_, err = r.Unload(ctx, id)
		} else if !states.Transition(ctx, id, plugin.StateInactive) {
			err = errors.New("transition to inactive failed")
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("plugin %q: %w", id, err))
		}
	}

	if err := r.eventBus.Close(); err != nil {
		errs = append(errs, err)
	}
	r.logger.Info("shutdown completed")
	return errors.Join(errs...)
}

// --- Internal ---

func (r *Runtime) appContext(e *entry) *plugin.AppContext {
	id := e.info.ID()

	r.mu.Lock()
	if e.subs == nil {
		e.subs = newTrackingBus(r.eventBus)
	}
	states := r.states
	r.mu.Unlock()

	var cfg plugin.ConfigProvider = plugin.EmptyConfig()
	if r.settings != nil {
		if sub := r.settings.Sub(id); sub != nil {
			enabled := !sub.IsSet("enabled") || sub.GetBool("enabled")
			cfg = plugin.NewViperConfig(sub, enabled)
		}
	}

	return &plugin.AppContext{
		PluginID:  id,
		Manifest:  e.info.Manifest,
		Logger:    r.logger.With(zap.String("plugin", id)),
		Config:    cfg,
		Events:    e.subs,
		Lifecycle: r.manager,
		States:    states,
	}
}

func (r *Runtime) publish(ctx context.Context, name, pluginID string, data any) {
	if ctx == nil {
		ctx = context.Background()
	}
	err := r.eventBus.Publish(ctx, plugin.Event{
		ID:       uuid.NewString(),
		Name:     name,
		PluginID: pluginID,
		Stage:    r.manager.State(pluginID),
		Data:     data,
	})
	if err != nil && !errors.Is(err, plugin.ErrBusClosed) {
		r.logger.Warn("publishing lifecycle event failed", zap.String("event", name), zap.Error(err))
	}
}

func hookNames(m *plugin.Manifest) []string {
	kinds := m.DeclaredHooks()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}

var _ coordinator.Registry = (*Runtime)(nil)
