package lifecycle

import (
	"sync"

	"github.com/leeforge/lifecycle/plugin"
)

// hookGuard tracks hooks currently executing so that a hook re-triggering itself
// for the same plugin is skipped instead of recursing. It holds no business data.
type hookGuard struct {
	mu     sync.Mutex
	active map[string]struct{} // "pluginID:kind:target"
}

func newHookGuard() *hookGuard {
	return &hookGuard{active: make(map[string]struct{})}
}

func guardKey(pluginID string, kind plugin.HookKind, target string) string {
	return pluginID + ":" + string(kind) + ":" + target
}

func (g *hookGuard) running(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[key]
	return ok
}

// acquire marks key as running; false if it already is.
func (g *hookGuard) acquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.active[key]; ok {
		return false
	}
	g.active[key] = struct{}{}
	return true
}

func (g *hookGuard) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, key)
}

func (g *hookGuard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
