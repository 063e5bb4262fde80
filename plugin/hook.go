package plugin

import (
	"context"
	"fmt"
)

// HookKind identifies a symbolic extension point a plugin may implement.
type HookKind string

const (
	HookPreInit     HookKind = "pre_init"
	HookPostInit    HookKind = "post_init"
	HookPreEnable   HookKind = "pre_enable"
	HookPostEnable  HookKind = "post_enable"
	HookPreDisable  HookKind = "pre_disable"
	HookPostDisable HookKind = "post_disable"
	HookPreUnload   HookKind = "pre_unload"
	HookPostUnload  HookKind = "post_unload"
	HookOnUIReady   HookKind = "on_ui_ready"
)

var hookKinds = []HookKind{
	HookPreInit, HookPostInit,
	HookPreEnable, HookPostEnable,
	HookPreDisable, HookPostDisable,
	HookPreUnload, HookPostUnload,
	HookOnUIReady,
}

// HookKinds returns every known hook kind in invocation order.
func HookKinds() []HookKind {
	return append([]HookKind{}, hookKinds...)
}

// ParseHookKind validates a hook kind name.
func ParseHookKind(s string) (HookKind, error) {
	for _, k := range hookKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown hook kind %q", s)
}

// IsUIAffecting reports whether hooks of this kind manipulate UI state and
// therefore must run on the UI-owning goroutine.
func (k HookKind) IsUIAffecting() bool {
	return k == HookPostEnable || k == HookPreDisable
}

func (k HookKind) String() string { return string(k) }

// Well-known HookContext keys.
const (
	UIIntegrationKey = "uiIntegration"
	AppContextKey    = "app"
)

// HookContext is the single keyword-style argument passed to every hook.
type HookContext map[string]any

// UIIntegration returns the injected UI integration handle, if any.
func (hc HookContext) UIIntegration() any {
	if hc == nil {
		return nil
	}
	return hc[UIIntegrationKey]
}

// App returns the AppContext placed by the registry, if any.
func (hc HookContext) App() *AppContext {
	if hc == nil {
		return nil
	}
	app, _ := hc[AppContextKey].(*AppContext)
	return app
}

// HookResult is delivered by asynchronous hooks once they complete.
type HookResult struct {
	Value any
	Err   error
}

// Hook signatures accepted by the resolver.
type (
	// HookFunc is a synchronous hook returning a value.
	HookFunc func(ctx context.Context, hc HookContext) (any, error)
	// ErrHookFunc is a synchronous hook without a result value.
	ErrHookFunc func(ctx context.Context, hc HookContext) error
	// AsyncHookFunc suspends: the hook starts work and delivers one HookResult later.
	AsyncHookFunc func(ctx context.Context, hc HookContext) <-chan HookResult
)
