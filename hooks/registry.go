package hooks

import (
	"fmt"
	"sort"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Go cannot import code by path at runtime, so module-level hook functions are
// registered here under their module path, usually from an init function:
//
//	func init() { hooks.MustRegister("notes.ui", "attach", attachUI) }
//
// A manifest then refers to them as "ui.attach" (tried as "<pluginID>.ui" first)
// or as "notes.ui.attach".
type FuncRegistry struct {
	funcs cmap.ConcurrentMap[string, cmap.ConcurrentMap[string, any]] // module -> function name -> func
}

// NewFuncRegistry creates an empty registry.
func NewFuncRegistry() *FuncRegistry {
	return &FuncRegistry{funcs: cmap.New[cmap.ConcurrentMap[string, any]]()}
}

var defaultRegistry = NewFuncRegistry()

// Default returns the process-wide function registry.
func Default() *FuncRegistry { return defaultRegistry }

// Register adds fn as module.name. fn must have one of the accepted hook signatures.
func (r *FuncRegistry) Register(module, name string, fn any) error {
	if module == "" || name == "" {
		return fmt.Errorf("hook function needs both module and name (got %q, %q)", module, name)
	}
	if _, err := adapt(fn); err != nil {
		return fmt.Errorf("hook function %s.%s: %w", module, name, err)
	}

	mod := r.funcs.Upsert(module, cmap.ConcurrentMap[string, any]{},
		func(exist bool, current, _ cmap.ConcurrentMap[string, any]) cmap.ConcurrentMap[string, any] {
			if exist {
				return current
			}
			return cmap.New[any]()
		})
	if !mod.SetIfAbsent(name, fn) {
		return fmt.Errorf("hook function %s.%s already registered", module, name)
	}
	return nil
}

// MustRegister is Register that panics on error.
func (r *FuncRegistry) MustRegister(module, name string, fn any) {
	if err := r.Register(module, name, fn); err != nil {
		panic(err)
	}
}

// Unregister removes a module and all of its functions.
func (r *FuncRegistry) Unregister(module string) {
	r.funcs.Remove(module)
}

// HasModule reports whether module has been registered.
func (r *FuncRegistry) HasModule(module string) bool {
	return r.funcs.Has(module)
}

// Lookup returns the function registered as module.name.
func (r *FuncRegistry) Lookup(module, name string) (any, bool) {
	mod, ok := r.funcs.Get(module)
	if !ok {
		return nil, false
	}
	return mod.Get(name)
}

// Modules returns registered module paths, sorted.
func (r *FuncRegistry) Modules() []string {
	mods := r.funcs.Keys()
	sort.Strings(mods)
	return mods
}

// Register adds fn to the default registry.
func Register(module, name string, fn any) error {
	return defaultRegistry.Register(module, name, fn)
}

// MustRegister adds fn to the default registry, panicking on error.
func MustRegister(module, name string, fn any) {
	defaultRegistry.MustRegister(module, name, fn)
}
