package plugin

import (
	"context"
	"time"
)

// Factory creates a live plugin instance. The registry calls it once per load.
type Factory func(m *Manifest) (any, error)

// --- Optional Capability Interfaces ---
// The registry detects these via type assertion: if p, ok := instance.(Initializer); ok { ... }
// Anything else a plugin wants to run is declared as a hook in its manifest.

// Initializer -- one-time setup after the instance is created.
type Initializer interface {
	Init(ctx context.Context, app *AppContext) error
}

// Enabler -- start serving once initialized.
type Enabler interface {
	Enable(ctx context.Context, app *AppContext) error
}

// Disableable -- release resources before unload.
type Disableable interface {
	Disable(ctx context.Context, app *AppContext) error
}

// EventSubscriber -- subscribe to system/plugin events.
type EventSubscriber interface {
	SubscribeEvents(bus EventBus)
}

// Lifecycle is the part of the lifecycle manager exposed to hook bodies and plugin code.
type Lifecycle interface {
	State(pluginID string) Stage
	RegisterUIIntegration(pluginID string, handle any, host *HostWindow)
	UIIntegration(pluginID string) any
	SignalUIReady(pluginID string)
	WaitForUIReady(ctx context.Context, pluginID string, timeout time.Duration) bool
}

// StateChanger lets plugin code request coarse state transitions for any plugin.
// Implementations serialize requests; hook bodies must not request a transition
// for their own plugin while it is being loaded.
type StateChanger interface {
	Transition(ctx context.Context, pluginID string, target CoarseState) bool
}
