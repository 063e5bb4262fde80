package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leeforge/lifecycle/hooks"
	"github.com/leeforge/lifecycle/plugin"
	"github.com/leeforge/lifecycle/uithread"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// --- Test Helpers ---

type recordingPlugin struct {
	mu       sync.Mutex
	calls    []plugin.HookKind
	onUI     map[plugin.HookKind]bool
	seenUI   any
	loop     uithread.Dispatcher
	reenter  func(ctx context.Context) (any, error)
	innerRes any
	innerErr error
}

func (p *recordingPlugin) record(ctx context.Context, kind plugin.HookKind, hc plugin.HookContext) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, kind)
	if p.onUI == nil {
		p.onUI = make(map[plugin.HookKind]bool)
	}
	if p.loop != nil {
		p.onUI[kind] = p.loop.OnUIThread(ctx)
	}
	p.seenUI = hc.UIIntegration()
}

func (p *recordingPlugin) Setup(ctx context.Context, hc plugin.HookContext) (any, error) {
	p.record(ctx, plugin.HookPreInit, hc)
	return "setup", nil
}

func (p *recordingPlugin) Attach(ctx context.Context, hc plugin.HookContext) error {
	p.record(ctx, plugin.HookPostEnable, hc)
	return nil
}

func (p *recordingPlugin) Detach(ctx context.Context, hc plugin.HookContext) error {
	p.record(ctx, plugin.HookPreDisable, hc)
	return nil
}

func (p *recordingPlugin) Recurse(ctx context.Context, hc plugin.HookContext) (any, error) {
	p.record(ctx, plugin.HookPostInit, hc)
	p.innerRes, p.innerErr = p.reenter(ctx)
	return "outer", nil
}

func (p *recordingPlugin) Fail(hc plugin.HookContext) error {
	return errors.New("hook body exploded")
}

func (p *recordingPlugin) Explode(hc plugin.HookContext) error {
	panic("kaboom")
}

func testManifest() *plugin.Manifest {
	return &plugin.Manifest{
		ID: "alpha",
		Hooks: map[plugin.HookKind]string{
			plugin.HookPreInit:     "Setup",
			plugin.HookPostInit:    "Recurse",
			plugin.HookPostEnable:  "Attach",
			plugin.HookPreDisable:  "Detach",
			plugin.HookPostDisable: "Fail",
			plugin.HookPreUnload:   "Explode",
			plugin.HookPostUnload:  "Missing",
		},
	}
}

func newTestManager(t *testing.T, dispatcher uithread.Dispatcher) (*Manager, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	m := NewManager(Config{
		Logger:     zap.New(core),
		Dispatcher: dispatcher,
		Resolver:   hooks.NewResolver(hooks.NewFuncRegistry()),
	})
	return m, logs
}

// --- State store ---

func TestManager_StateDefaultsToDiscovered(t *testing.T) {
	m, _ := newTestManager(t, nil)
	assert.Equal(t, plugin.StageDiscovered, m.State("unknown"))
}

func TestManager_SetStateRecordsTransition(t *testing.T) {
	m, logs := newTestManager(t, nil)

	m.SetState("alpha", plugin.StageLoading)
	m.SetState("alpha", plugin.StageFailed)
	m.SetState("alpha", plugin.StageActive) // no legality checks at this layer

	assert.Equal(t, plugin.StageActive, m.State("alpha"))
	assert.Equal(t, map[string]plugin.Stage{"alpha": plugin.StageActive}, m.States())

	entries := logs.FilterMessage("plugin stage changed").All()
	require.Len(t, entries, 3)
	assert.Equal(t, "discovered -> loading", entries[0].ContextMap()["transition"])
	assert.Equal(t, "failed -> active", entries[2].ContextMap()["transition"])
}

func TestStateStore_ConcurrentSet(t *testing.T) {
	s := NewStateStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Set("p", plugin.Stage(i%9))
		}(i)
	}
	wg.Wait()
	assert.Len(t, s.Snapshot(), 1)
}

// --- ExecuteHook ---

func TestExecuteHook_NotDeclared(t *testing.T) {
	m, _ := newTestManager(t, nil)
	res, err := m.ExecuteHook(context.Background(), plugin.HookOnUIReady, "alpha", testManifest(), &recordingPlugin{}, nil)
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestExecuteHook_ReturnsResultAndInjectsUIIntegration(t *testing.T) {
	m, _ := newTestManager(t, nil)
	p := &recordingPlugin{}
	m.RegisterUIIntegration("alpha", "ui-handle", nil)

	res, err := m.ExecuteHook(context.Background(), plugin.HookPreInit, "alpha", testManifest(), p, plugin.HookContext{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, "setup", res)
	assert.Equal(t, "ui-handle", p.seenUI)

	// An explicit value wins over the registered one.
	_, err = m.ExecuteHook(context.Background(), plugin.HookPreInit, "alpha", testManifest(), p,
		plugin.HookContext{plugin.UIIntegrationKey: "explicit"})
	require.NoError(t, err)
	assert.Equal(t, "explicit", p.seenUI)
}

func TestExecuteHook_RecursionIsSkipped(t *testing.T) {
	m, logs := newTestManager(t, nil)
	p := &recordingPlugin{}
	manifest := testManifest()
	p.reenter = func(ctx context.Context) (any, error) {
		return m.ExecuteHook(ctx, plugin.HookPostInit, "alpha", manifest, p, nil)
	}

	res, err := m.ExecuteHook(context.Background(), plugin.HookPostInit, "alpha", manifest, p, nil)
	require.NoError(t, err)
	assert.Equal(t, "outer", res)
	assert.Nil(t, p.innerRes)
	assert.NoError(t, p.innerErr)
	assert.Equal(t, 1, logs.FilterMessage("hook already running, skipping recursive invocation").Len())
	assert.Equal(t, 0, m.ActiveHooks(), "guard released after outer call")

	// A later, non-recursive call runs normally.
	p.reenter = func(context.Context) (any, error) { return nil, nil }
	res, err = m.ExecuteHook(context.Background(), plugin.HookPostInit, "alpha", manifest, p, nil)
	require.NoError(t, err)
	assert.Equal(t, "outer", res)
	assert.Len(t, p.calls, 2)
}

func TestExecuteHook_SameHookOtherPluginIsNotRecursion(t *testing.T) {
	m, _ := newTestManager(t, nil)
	p := &recordingPlugin{}
	manifest := testManifest()
	other := &plugin.Manifest{ID: "beta", Hooks: manifest.Hooks}
	p.reenter = func(ctx context.Context) (any, error) {
		return m.ExecuteHook(ctx, plugin.HookPreInit, "beta", other, p, nil)
	}

	_, err := m.ExecuteHook(context.Background(), plugin.HookPostInit, "alpha", manifest, p, nil)
	require.NoError(t, err)
	assert.Equal(t, "setup", p.innerRes)
}

func TestExecuteHook_DifferentTargetKeepsOuterGuard(t *testing.T) {
	m, _ := newTestManager(t, nil)
	p := &recordingPlugin{}
	manifest := testManifest()
	retargeted := &plugin.Manifest{ID: "alpha", Hooks: map[plugin.HookKind]string{plugin.HookPostInit: "Setup"}}

	var activeAfterInner int
	p.reenter = func(ctx context.Context) (any, error) {
		res, err := m.ExecuteHook(ctx, plugin.HookPostInit, "alpha", retargeted, p, nil)
		activeAfterInner = m.ActiveHooks()
		return res, err
	}

	_, err := m.ExecuteHook(context.Background(), plugin.HookPostInit, "alpha", manifest, p, nil)
	require.NoError(t, err)
	assert.Equal(t, "setup", p.innerRes, "another target is not recursion")
	assert.Equal(t, 1, activeAfterInner, "inner release leaves the outer entry")
	assert.Equal(t, 0, m.ActiveHooks())
}

func TestExecuteHook_Errors(t *testing.T) {
	m, _ := newTestManager(t, nil)
	p := &recordingPlugin{}

	tests := []struct {
		kind    plugin.HookKind
		message string
	}{
		{plugin.HookPostDisable, "hook body exploded"},
		{plugin.HookPreUnload, "kaboom"},
		{plugin.HookPostUnload, "has no method Missing"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			_, err := m.ExecuteHook(context.Background(), tt.kind, "alpha", testManifest(), p, nil)
			var hookErr *HookError
			require.ErrorAs(t, err, &hookErr)
			assert.Equal(t, tt.kind, hookErr.Kind)
			assert.Equal(t, "alpha", hookErr.PluginID)
			assert.Contains(t, hookErr.Message, tt.message)
			assert.Equal(t, 0, m.ActiveHooks())
		})
	}

	_, err := m.ExecuteHook(context.Background(), plugin.HookPostUnload, "alpha", testManifest(), p, nil)
	var resErr *hooks.ResolutionError
	assert.ErrorAs(t, err, &resErr, "resolution failures stay inspectable")
}

func TestExecuteHook_UIKindsRunOnUIGoroutine(t *testing.T) {
	loop := uithread.NewLoop(uithread.Config{})
	defer loop.Stop()

	m, _ := newTestManager(t, loop)
	p := &recordingPlugin{loop: loop}

	for _, kind := range []plugin.HookKind{plugin.HookPreInit, plugin.HookPostEnable, plugin.HookPreDisable} {
		_, err := m.ExecuteHook(context.Background(), kind, "alpha", testManifest(), p, nil)
		require.NoError(t, err)
	}

	assert.False(t, p.onUI[plugin.HookPreInit])
	assert.True(t, p.onUI[plugin.HookPostEnable])
	assert.True(t, p.onUI[plugin.HookPreDisable])
}

func TestExecuteHook_AsyncModuleFunction(t *testing.T) {
	funcs := hooks.NewFuncRegistry()
	funcs.MustRegister("alpha.ui", "attach", func(ctx context.Context, hc plugin.HookContext) <-chan plugin.HookResult {
		ch := make(chan plugin.HookResult, 1)
		go func() { ch <- plugin.HookResult{Value: hc["n"].(int) * 2} }()
		return ch
	})
	m := NewManager(Config{Resolver: hooks.NewResolver(funcs)})
	manifest := &plugin.Manifest{ID: "alpha", Hooks: map[plugin.HookKind]string{plugin.HookPostEnable: "ui.attach"}}

	res, err := m.ExecuteHook(context.Background(), plugin.HookPostEnable, "alpha", manifest, nil, plugin.HookContext{"n": 21})
	require.NoError(t, err)
	assert.Equal(t, 42, res)
}

// --- UI-ready signals ---

func TestWaitForUIReady(t *testing.T) {
	m, _ := newTestManager(t, nil)

	assert.False(t, m.WaitForUIReady(context.Background(), "gamma", 50*time.Millisecond))

	m.SignalUIReady("gamma")
	start := time.Now()
	assert.True(t, m.WaitForUIReady(context.Background(), "gamma", 50*time.Millisecond))
	assert.Less(t, time.Since(start), 40*time.Millisecond)
	assert.True(t, m.IsUIReady("gamma"))
}

func TestWaitForUIReady_WakesWaiter(t *testing.T) {
	m, _ := newTestManager(t, nil)

	done := make(chan bool, 1)
	go func() { done <- m.WaitForUIReady(context.Background(), "delta", 0) }()

	time.Sleep(10 * time.Millisecond)
	m.SignalUIReady("delta")

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
}

func TestWaitForUIReady_ContextCancel(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, m.WaitForUIReady(ctx, "eps", 0))
}
