package lifecycle

import (
	"github.com/leeforge/lifecycle/plugin"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// StateStore owns the plugin -> stage mapping. Unknown plugins read as Discovered.
// It records transitions without validating them.
type StateStore struct {
	stages cmap.ConcurrentMap[string, plugin.Stage]
}

// NewStateStore creates an empty store.
func NewStateStore() *StateStore {
	return &StateStore{stages: cmap.New[plugin.Stage]()}
}

// Get returns the current stage of pluginID.
func (s *StateStore) Get(pluginID string) plugin.Stage {
	if stage, ok := s.stages.Get(pluginID); ok {
		return stage
	}
	return plugin.StageDiscovered
}

// Set stores stage and returns the previous one in a single atomic step.
func (s *StateStore) Set(pluginID string, stage plugin.Stage) (old plugin.Stage) {
	s.stages.Upsert(pluginID, stage, func(exist bool, current, next plugin.Stage) plugin.Stage {
		old = plugin.StageDiscovered
		if exist {
			old = current
		}
		return next
	})
	return old
}

// Snapshot returns a copy of every recorded stage.
func (s *StateStore) Snapshot() map[string]plugin.Stage {
	return s.stages.Items()
}
