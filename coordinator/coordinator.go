// Package coordinator serializes coarse state transitions per plugin.
//
// A transition holds the plugin's lock for its whole duration; the registry operation
// it delegates to additionally holds a per-(plugin, operation) lock. The two always
// nest in that order. Transitions cannot be cancelled and never return errors: every
// failure is logged and reported as false.
//
// A transition requested from the UI goroutine never parks it: while it waits for a
// plugin lock or an in-flight operation, queued UI work keeps running, so a holder
// waiting on the UI goroutine can finish.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leeforge/lifecycle/concurrency"
	"github.com/leeforge/lifecycle/logging"
	"github.com/leeforge/lifecycle/metrics"
	"github.com/leeforge/lifecycle/plugin"
	"github.com/leeforge/lifecycle/uithread"
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/leeforge/lifecycle/coordinator"

// yieldWait bounds each wait for queued UI work while the UI goroutine is blocked.
const yieldWait = 2 * time.Millisecond

// Operation names passed to PerformOperation by transitions.
const (
	OpLoad   = "load"
	OpUnload = "unload"
)

// ErrUnknownPlugin is returned by registries for ids they do not know.
var ErrUnknownPlugin = errors.New("unknown plugin")

// Registry is the plugin registry the coordinator delegates to. Its Load and Unload
// may fail and are not assumed idempotent. Implementations must not call back into
// the coordinator for the same plugin from Load or Unload.
type Registry interface {
	Plugins() []string
	Info(pluginID string) (*plugin.Info, error)
	Load(ctx context.Context, pluginID string) (bool, error)
	Unload(ctx context.Context, pluginID string) (bool, error)
}

// OperationFunc is the body of a registry operation.
type OperationFunc func(ctx context.Context) (bool, error)

// Config holds configuration for creating a Coordinator.
type Config struct {
	Registry Registry
	Logger   *zap.Logger
	Metrics  *metrics.Collector // nil records nothing
	Tracer   trace.Tracer       // default otel global tracer
	PoolSize int                // TransitionAll workers, default 8

	// Dispatcher is the UI dispatcher hooks run on. When it is a uithread.Yielder,
	// calls made from the UI goroutine keep it serving queued work while they wait.
	Dispatcher uithread.Dispatcher
}

// Coordinator is the top-level serialization point for plugin state changes.
type Coordinator struct {
	registry Registry
	logger   *zap.Logger
	metrics  *metrics.Collector
	tracer   trace.Tracer
	poolSize int
	ui       uithread.Dispatcher

	pluginLocks cmap.ConcurrentMap[string, *sync.Mutex]
	opLocks     cmap.ConcurrentMap[string, *sync.Mutex]
	active      cmap.ConcurrentMap[string, string]
	inflight    singleflight.Group

	pendingMu sync.Mutex
	pending   map[string]map[string]struct{}
}

// New creates a Coordinator over cfg.Registry.
func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 8
	}

	return &Coordinator{
		registry:    cfg.Registry,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		poolSize:    cfg.PoolSize,
		ui:          cfg.Dispatcher,
		pluginLocks: cmap.New[*sync.Mutex](),
		opLocks:     cmap.New[*sync.Mutex](),
		active:      cmap.New[string](),
		pending:     make(map[string]map[string]struct{}),
	}
}

// lockFor returns the mutex stored under key, creating it on first use. Locks are never removed.
func lockFor(locks cmap.ConcurrentMap[string, *sync.Mutex], key string) *sync.Mutex {
	var mu *sync.Mutex
	locks.Upsert(key, nil, func(exist bool, current, _ *sync.Mutex) *sync.Mutex {
		if exist {
			mu = current
		} else {
			mu = &sync.Mutex{}
		}
		return mu
	})
	return mu
}

// yielder returns the dispatcher's Yielder when ctx is on its UI goroutine.
func (c *Coordinator) yielder(ctx context.Context) (uithread.Yielder, bool) {
	if c.ui == nil || !c.ui.OnUIThread(ctx) {
		return nil, false
	}
	y, ok := c.ui.(uithread.Yielder)
	return y, ok
}

// lock takes mu. On the UI goroutine it runs queued UI work between attempts instead of
// blocking, since the holder may itself be waiting for the UI goroutine.
func (c *Coordinator) lock(ctx context.Context, mu *sync.Mutex) {
	y, ok := c.yielder(ctx)
	if !ok {
		mu.Lock()
		return
	}
	for !mu.TryLock() {
		y.Yield(ctx, yieldWait)
	}
}

// Transition moves pluginID to target, reading the current state from the registry.
func (c *Coordinator) Transition(ctx context.Context, pluginID string, target plugin.CoarseState) bool {
	return c.transition(ctx, pluginID, target, "")
}

// TransitionFrom is Transition with the current state supplied by the caller.
func (c *Coordinator) TransitionFrom(ctx context.Context, pluginID string, target, current plugin.CoarseState) bool {
	return c.transition(ctx, pluginID, target, current)
}

func (c *Coordinator) transition(ctx context.Context, pluginID string, target, current plugin.CoarseState) (ok bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	lock := lockFor(c.pluginLocks, pluginID)
	c.lock(ctx, lock)
	defer lock.Unlock()

	transitionID := uuid.NewString()
	ctx = logging.WithTransitionID(logging.WithPluginID(ctx, pluginID), transitionID)
	log := c.logger.With(
		zap.String("plugin", pluginID),
		zap.String("target", target.String()),
		zap.String("transition_id", transitionID),
	)

	ctx, span := c.tracer.Start(ctx, "coordinator.transition", trace.WithAttributes(
		attribute.String("plugin.id", pluginID),
		attribute.String("transition.target", target.String()),
		attribute.String("transition.id", transitionID),
	))
	defer span.End()

	start := time.Now()
	c.metrics.TransitionStarted()
	defer func() {
		c.metrics.TransitionFinished(target.String(), ok, time.Since(start))
		if !ok {
			span.SetStatus(codes.Error, "transition failed")
		}
	}()

	if !slices.Contains(c.registry.Plugins(), pluginID) {
		log.Error("transition requested for unknown plugin")
		return false
	}

	if current == "" {
		info, err := c.registry.Info(pluginID)
		if err != nil || info == nil {
			if err == nil {
				err = ErrUnknownPlugin
			}
			span.RecordError(err)
			log.Error("cannot read current plugin state", zap.Error(err))
			return false
		}
		current = info.State()
	}
	span.SetAttributes(attribute.String("transition.current", current.String()))

	c.active.Set(pluginID, fmt.Sprintf("%s-to-%s", pluginID, target))
	defer c.active.Remove(pluginID)

	log.Debug("transition started", zap.String("current", current.String()))

	switch target {
	case plugin.StateActive:
		ok = c.toActive(ctx, pluginID, current, log)
	case plugin.StateInactive:
		ok = c.toInactive(ctx, pluginID, current)
	case plugin.StateDisabled:
		ok = c.toDisabled(ctx, pluginID, current, log)
	default:
		log.Error("unsupported transition target")
		return false
	}

	if ok {
		log.Info("transition completed", zap.String("from", current.String()))
	} else {
		log.Warn("transition failed", zap.String("from", current.String()))
	}
	return ok
}

func (c *Coordinator) toActive(ctx context.Context, pluginID string, current plugin.CoarseState, log *zap.Logger) bool {
	switch current {
	case plugin.StateActive:
		return true
	case plugin.StateInactive, plugin.StateDiscovered:
		return c.PerformOperation(ctx, pluginID, OpLoad, func(ctx context.Context) (bool, error) {
			return c.registry.Load(ctx, pluginID)
		})
	default:
		log.Warn("cannot activate plugin from its current state", zap.String("current", current.String()))
		return false
	}
}

func (c *Coordinator) toInactive(ctx context.Context, pluginID string, current plugin.CoarseState) bool {
	switch current {
	case plugin.StateActive, plugin.StateLoading:
		return c.PerformOperation(ctx, pluginID, OpUnload, func(ctx context.Context) (bool, error) {
			return c.registry.Unload(ctx, pluginID)
		})
	default:
		// Already inactive, or nothing loaded to undo.
		return true
	}
}

func (c *Coordinator) toDisabled(ctx context.Context, pluginID string, current plugin.CoarseState, log *zap.Logger) bool {
	if current == plugin.StateDisabled {
		return true
	}
	if !c.toInactive(ctx, pluginID, current) {
		return false
	}

	info, err := c.registry.Info(pluginID)
	if err != nil || info == nil {
		log.Error("plugin record vanished before it could be disabled", zap.Error(err))
		return false
	}
	// Written in place: the registry's Disable entry point calls back into
	// Transition and would block on the plugin lock held here.
	info.SetState(plugin.StateDisabled)
	return true
}

// PerformOperation runs fn under the (pluginID, op) lock. Concurrent calls with the same
// pluginID and op share a single execution and its outcome. Errors, false results and
// panics from fn are logged and reported as false.
func (c *Coordinator) PerformOperation(ctx context.Context, pluginID, op string, fn OperationFunc) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	key := pluginID + ":" + op

	run := func(ctx context.Context) func() (any, error) {
		return func() (any, error) {
			lock := lockFor(c.opLocks, key)
			lock.Lock()
			defer lock.Unlock()

			c.addPending(pluginID, op)
			defer c.removePending(pluginID, op)

			return c.runOperation(ctx, pluginID, op, fn), nil
		}
	}

	var (
		v      any
		shared bool
	)
	if y, onUI := c.yielder(ctx); onUI {
		// The operation runs on its own goroutine and reaches the UI goroutine through
		// the dispatcher queue, which is served here until it completes.
		ch := c.inflight.DoChan(key, run(y.Detach(ctx)))
		res := awaitYielding(ctx, y, ch)
		v, shared = res.Val, res.Shared
	} else {
		v, _, shared = c.inflight.Do(key, run(ctx))
	}
	if shared {
		c.logger.Debug("joined in-flight operation", zap.String("plugin", pluginID), zap.String("operation", op))
	}
	ok, _ := v.(bool)
	return ok
}

func awaitYielding(ctx context.Context, y uithread.Yielder, ch <-chan singleflight.Result) singleflight.Result {
	for {
		select {
		case res := <-ch:
			return res
		default:
			y.Yield(ctx, yieldWait)
		}
	}
}

func (c *Coordinator) runOperation(ctx context.Context, pluginID, op string, fn OperationFunc) (ok bool) {
	log := c.logger.With(zap.String("plugin", pluginID), zap.String("operation", op))
	if id, found := logging.TransitionIDFromContext(ctx); found {
		log = log.With(zap.String("transition_id", id))
	}

	ctx, span := c.tracer.Start(ctx, "coordinator.operation", trace.WithAttributes(
		attribute.String("plugin.id", pluginID),
		attribute.String("operation", op),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			span.RecordError(err)
			log.Error("operation panicked", zap.Error(err))
			ok = false
		}
		if !ok {
			span.SetStatus(codes.Error, "operation failed")
		}
		c.metrics.ObserveOperation(op, ok)
	}()

	ok, err := fn(ctx)
	switch {
	case err != nil:
		span.RecordError(err)
		log.Error("operation failed", zap.Error(err))
		return false
	case !ok:
		log.Warn("operation reported failure")
		return false
	}
	log.Info("operation succeeded")
	return true
}

func (c *Coordinator) addPending(pluginID, op string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	ops, ok := c.pending[pluginID]
	if !ok {
		ops = make(map[string]struct{})
		c.pending[pluginID] = ops
	}
	ops[op] = struct{}{}
}

func (c *Coordinator) removePending(pluginID, op string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	delete(c.pending[pluginID], op)
	if len(c.pending[pluginID]) == 0 {
		delete(c.pending, pluginID)
	}
}

// IsTransitioning reports whether a transition for pluginID is in progress.
func (c *Coordinator) IsTransitioning(pluginID string) bool {
	return c.active.Has(pluginID)
}

// ActiveTransition returns the "<id>-to-<target>" label of the running transition, or "".
func (c *Coordinator) ActiveTransition(pluginID string) string {
	label, _ := c.active.Get(pluginID)
	return label
}

// ActiveTransitions returns every running transition label keyed by plugin.
func (c *Coordinator) ActiveTransitions() map[string]string {
	return c.active.Items()
}

// PendingOperations returns the operations currently running for pluginID, sorted.
func (c *Coordinator) PendingOperations(pluginID string) []string {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	ops := make([]string, 0, len(c.pending[pluginID]))
	for op := range c.pending[pluginID] {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// TransitionAll moves every plugin in ids to target on a bounded worker pool.
// Different plugins proceed in parallel; duplicates of one id are still serialized.
func (c *Coordinator) TransitionAll(ctx context.Context, ids []string, target plugin.CoarseState) map[string]bool {
	results := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return results
	}

	pool, err := concurrency.NewWorkerPool(min(c.poolSize, len(ids)), c.logger)
	if err != nil {
		c.logger.Error("cannot create transition pool", zap.Error(err))
		for _, id := range ids {
			results[id] = false
		}
		return results
	}
	defer pool.Stop()

	var mu sync.Mutex
	record := func(id string, ok bool) {
		mu.Lock()
		defer mu.Unlock()
		if prev, seen := results[id]; seen {
			ok = ok && prev
		}
		results[id] = ok
	}

	for _, id := range ids {
		_, err := pool.Submit(func() error {
			record(id, c.Transition(ctx, id, target))
			return nil
		})
		if err != nil {
			c.logger.Error("cannot schedule transition", zap.String("plugin", id), zap.Error(err))
			record(id, false)
		}
	}
	pool.Wait()
	return results
}

var _ plugin.StateChanger = (*Coordinator)(nil)
