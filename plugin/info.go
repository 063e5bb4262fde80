package plugin

import "sync"

// Info is the registry's record for one plugin.
// The coarse state is guarded so the registry and the coordinator may both write it.
type Info struct {
	Manifest *Manifest

	mu       sync.RWMutex
	state    CoarseState
	instance any
}

// NewInfo creates a record in the discovered state.
func NewInfo(m *Manifest) *Info {
	return &Info{Manifest: m, state: StateDiscovered}
}

// ID returns the plugin identifier.
func (i *Info) ID() string {
	return i.Manifest.ID
}

// State returns the coarse state.
func (i *Info) State() CoarseState {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// SetState overwrites the coarse state in place.
func (i *Info) SetState(s CoarseState) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = s
}

// Instance returns the live plugin instance, nil when not loaded.
func (i *Info) Instance() any {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.instance
}

// SetInstance stores or clears the live instance.
func (i *Info) SetInstance(instance any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.instance = instance
}
