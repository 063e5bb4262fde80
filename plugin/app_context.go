package plugin

import (
	"go.uber.org/zap"
)

// AppContext is the typed dependency injection context passed to plugin capability methods
// and placed into every HookContext under AppContextKey.
type AppContext struct {
	PluginID  string
	Manifest  *Manifest
	Logger    *zap.Logger
	Config    ConfigProvider
	Events    EventBus
	Lifecycle Lifecycle
	States    StateChanger
}
