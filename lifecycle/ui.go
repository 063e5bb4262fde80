package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"weak"

	"github.com/leeforge/lifecycle/plugin"
	"go.uber.org/zap"
)

type uiEntry struct {
	handle any
	host   weak.Pointer[plugin.HostWindow] // zero when no host was given
}

// uiRegistry holds at most one integration per plugin plus the "UI already set up" markers.
type uiRegistry struct {
	mu      sync.RWMutex
	entries map[string]*uiEntry
	setup   map[string]struct{}
}

func newUIRegistry() *uiRegistry {
	return &uiRegistry{
		entries: make(map[string]*uiEntry),
		setup:   make(map[string]struct{}),
	}
}

// RegisterUIIntegration stores handle for pluginID. A second registration is a no-op.
// host, when given, is kept as a weak reference used only for lookup.
func (m *Manager) RegisterUIIntegration(pluginID string, handle any, host *plugin.HostWindow) {
	m.ui.mu.Lock()
	defer m.ui.mu.Unlock()

	if _, exists := m.ui.entries[pluginID]; exists {
		m.logger.Debug("ui integration already registered", zap.String("plugin", pluginID))
		return
	}

	entry := &uiEntry{handle: handle}
	if host != nil {
		entry.host = weak.Make(host)
	}
	m.ui.entries[pluginID] = entry
	m.logger.Debug("ui integration registered",
		zap.String("plugin", pluginID), zap.Bool("host_window", host != nil))
}

// UIIntegration returns the registered handle or nil.
func (m *Manager) UIIntegration(pluginID string) any {
	m.ui.mu.RLock()
	defer m.ui.mu.RUnlock()
	if entry, ok := m.ui.entries[pluginID]; ok {
		return entry.handle
	}
	return nil
}

// HostWindow returns the host window pluginID attached to, nil if none was given
// or the host has already been collected.
func (m *Manager) HostWindow(pluginID string) *plugin.HostWindow {
	m.ui.mu.RLock()
	defer m.ui.mu.RUnlock()
	if entry, ok := m.ui.entries[pluginID]; ok {
		return entry.host.Value()
	}
	return nil
}

// MarkUISetup records that pluginID finished attaching its UI.
func (m *Manager) MarkUISetup(pluginID string) {
	m.ui.mu.Lock()
	defer m.ui.mu.Unlock()
	m.ui.setup[pluginID] = struct{}{}
}

// IsUISetup reports whether pluginID's UI is attached.
func (m *Manager) IsUISetup(pluginID string) bool {
	m.ui.mu.RLock()
	defer m.ui.mu.RUnlock()
	_, ok := m.ui.setup[pluginID]
	return ok
}

// CleanupUI tears down pluginID's UI on the UI goroutine. Every step is attempted even
// when an earlier one fails. It returns false if releasing UI resources or the
// integration's own cleanup failed; a page that cannot be removed is only logged.
func (m *Manager) CleanupUI(ctx context.Context, pluginID string) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	if !m.dispatcher.OnUIThread(ctx) {
		v, err := m.dispatcher.RunOn(ctx, func(uiCtx context.Context) (any, error) {
			return m.CleanupUI(uiCtx, pluginID), nil
		})
		if err != nil {
			m.logger.Error("ui cleanup dispatch failed", zap.String("plugin", pluginID), zap.Error(err))
			m.metrics.ObserveUICleanup(false)
			return false
		}
		ok, _ := v.(bool)
		return ok
	}

	log := m.logger.With(zap.String("plugin", pluginID))
	ok := true

	m.ui.mu.RLock()
	entry := m.ui.entries[pluginID]
	m.ui.mu.RUnlock()

	if entry != nil {
		if r, is := entry.handle.(plugin.ResourceReleaser); is {
			if err := safeStep(func() error { return r.ReleaseResources(ctx) }); err != nil {
				log.Error("releasing ui resources failed", zap.Error(err))
				ok = false
			}
		}

		if err := safeStep(func() error { return removePage(ctx, pluginID, entry) }); err != nil {
			log.Warn("removing plugin page failed", zap.Error(err))
		}

		if c, is := entry.handle.(plugin.Cleaner); is {
			if err := safeStep(func() error { return c.Cleanup(ctx) }); err != nil {
				log.Error("ui integration cleanup failed", zap.Error(err))
				ok = false
			}
		}
	}

	m.ui.mu.Lock()
	delete(m.ui.entries, pluginID)
	delete(m.ui.setup, pluginID)
	m.ui.mu.Unlock()

	m.signals.clear(pluginID)

	m.metrics.ObserveUICleanup(ok)
	log.Debug("ui cleanup finished", zap.Bool("ok", ok))
	return ok
}

// removePage prefers the handle's own page removal and falls back to the host window.
func removePage(ctx context.Context, pluginID string, entry *uiEntry) error {
	if pr, ok := entry.handle.(plugin.PageRemover); ok {
		return pr.RemovePage(ctx)
	}
	if host := entry.host.Value(); host != nil && host.Pages != nil {
		return host.Pages.RemovePage(ctx, pluginID)
	}
	return nil
}

func safeStep(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
