// Package hooks resolves manifest hook declarations to callables without executing them.
package hooks

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/leeforge/lifecycle/plugin"
)

// ResolutionError reports a declared hook whose target cannot be found or invoked.
type ResolutionError struct {
	PluginID string
	Kind     plugin.HookKind
	Target   string
	Reason   string
	Err      error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("[%s.%s] cannot resolve %q: %s", e.PluginID, e.Kind, e.Target, e.Reason)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Callable is a resolved hook target. Whether it is synchronous or suspending is
// decided by its signature; use IsAsync to pick an invocation style or Invoke to let
// the callable choose.
type Callable struct {
	Target string
	Kind   plugin.HookKind

	sync  plugin.HookFunc
	async plugin.AsyncHookFunc
}

// IsAsync reports whether the target suspends and delivers its result later.
func (c *Callable) IsAsync() bool {
	return c.async != nil
}

// Call runs a synchronous target.
func (c *Callable) Call(ctx context.Context, hc plugin.HookContext) (any, error) {
	if c.sync == nil {
		return nil, fmt.Errorf("hook %s is asynchronous, use Start", c.Target)
	}
	return c.sync(ctx, hc)
}

// Start begins an asynchronous target.
func (c *Callable) Start(ctx context.Context, hc plugin.HookContext) <-chan plugin.HookResult {
	if c.async == nil {
		ch := make(chan plugin.HookResult, 1)
		v, err := c.Call(ctx, hc)
		ch <- plugin.HookResult{Value: v, Err: err}
		close(ch)
		return ch
	}
	return c.async(ctx, hc)
}

// Invoke runs the target and, for suspending targets, awaits the result or ctx.
func (c *Callable) Invoke(ctx context.Context, hc plugin.HookContext) (any, error) {
	if !c.IsAsync() {
		return c.Call(ctx, hc)
	}

	ch := c.async(ctx, hc)
	if ch == nil {
		return nil, fmt.Errorf("hook %s returned a nil result channel", c.Target)
	}
	select {
	case res, ok := <-ch:
		if !ok {
			return nil, nil
		}
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolver maps (manifest, kind, instance) to a Callable.
type Resolver struct {
	funcs *FuncRegistry
}

// NewResolver creates a resolver over funcs; nil uses the default registry.
func NewResolver(funcs *FuncRegistry) *Resolver {
	if funcs == nil {
		funcs = defaultRegistry
	}
	return &Resolver{funcs: funcs}
}

// Resolve returns (nil, nil) when the manifest declares no hook for kind.
// A declared but unresolvable target yields a *ResolutionError.
func (r *Resolver) Resolve(m *plugin.Manifest, kind plugin.HookKind, instance any) (*Callable, error) {
	target, ok := m.Hook(kind)
	if !ok {
		return nil, nil
	}

	fail := func(reason string, err error) (*Callable, error) {
		return nil, &ResolutionError{PluginID: m.ID, Kind: kind, Target: target, Reason: reason, Err: err}
	}

	var fn any
	if idx := strings.LastIndex(target, "."); idx < 0 {
		if instance == nil {
			return fail("no live instance to look up method on", nil)
		}
		method := reflect.ValueOf(instance).MethodByName(target)
		if !method.IsValid() {
			return fail(fmt.Sprintf("%T has no method %s", instance, target), nil)
		}
		fn = method.Interface()
	} else {
		module, name := target[:idx], target[idx+1:]
		found := false
		for _, candidate := range []string{m.ID + "." + module, module} {
			if !r.funcs.HasModule(candidate) {
				continue
			}
			found = true
			f, ok := r.funcs.Lookup(candidate, name)
			if !ok {
				return fail(fmt.Sprintf("module %s has no function %s", candidate, name), nil)
			}
			fn = f
			break
		}
		if !found {
			return fail(fmt.Sprintf("module %s not registered", module), nil)
		}
	}

	c, err := adapt(fn)
	if err != nil {
		return fail("not invocable", err)
	}
	c.Target = target
	c.Kind = kind
	return c, nil
}

// adapt normalizes every accepted hook signature.
func adapt(fn any) (*Callable, error) {
	switch f := fn.(type) {
	case plugin.HookFunc:
		return &Callable{sync: f}, nil
	case func(context.Context, plugin.HookContext) (any, error):
		return &Callable{sync: f}, nil
	case plugin.ErrHookFunc:
		return &Callable{sync: wrapErrHook(f)}, nil
	case func(context.Context, plugin.HookContext) error:
		return &Callable{sync: wrapErrHook(f)}, nil
	case func(plugin.HookContext) error:
		return &Callable{sync: func(_ context.Context, hc plugin.HookContext) (any, error) {
			return nil, f(hc)
		}}, nil
	case plugin.AsyncHookFunc:
		return &Callable{async: f}, nil
	case func(context.Context, plugin.HookContext) <-chan plugin.HookResult:
		return &Callable{async: f}, nil
	case nil:
		return nil, fmt.Errorf("nil hook")
	default:
		return nil, fmt.Errorf("unsupported hook signature %T", fn)
	}
}

func wrapErrHook(f func(context.Context, plugin.HookContext) error) plugin.HookFunc {
	return func(ctx context.Context, hc plugin.HookContext) (any, error) {
		return nil, f(ctx, hc)
	}
}
