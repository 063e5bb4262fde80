package lifecycle

import (
	"fmt"

	"github.com/leeforge/lifecycle/plugin"
)

// HookError reports any failure while executing a hook: resolution failures
// (wrapping *hooks.ResolutionError) and errors or panics raised by the hook body.
// Callers decide whether it aborts the surrounding load, enable or disable.
type HookError struct {
	Kind     plugin.HookKind
	PluginID string
	Message  string
	Err      error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook %s of plugin %s failed: %s", e.Kind, e.PluginID, e.Message)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

func newHookError(kind plugin.HookKind, pluginID string, err error) *HookError {
	return &HookError{Kind: kind, PluginID: pluginID, Message: err.Error(), Err: err}
}
