// Package uithread owns the UI goroutine. Work that touches UI state is marshaled
// onto it with RunOn; the caller's goroutine is never assumed to be the UI one
// unless its context says so.
package uithread

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned by RunOn once the loop has been stopped.
var ErrClosed = errors.New("ui loop is closed")

// Func is a unit of work executed on the UI goroutine. The ctx it receives is marked
// as running on the UI goroutine and must be passed along to nested calls.
type Func func(ctx context.Context) (any, error)

// Dispatcher is the explicit dispatch-and-await primitive.
type Dispatcher interface {
	// RunOn executes fn on the UI goroutine and waits for it to finish.
	// When ctx is already on the UI goroutine fn runs inline.
	RunOn(ctx context.Context, fn Func) (any, error)
	// OnUIThread reports whether ctx belongs to work running on the UI goroutine.
	OnUIThread(ctx context.Context) bool
}

// Yielder is implemented by dispatchers whose UI goroutine can keep serving queued work
// while code running on it waits for something else.
type Yielder interface {
	// Yield runs one queued task, waiting up to d for one to arrive. It reports whether a
	// task ran. It does nothing unless ctx is on the UI goroutine.
	Yield(ctx context.Context, d time.Duration) bool
	// Detach returns ctx without the UI goroutine mark, for work handed to another goroutine.
	Detach(ctx context.Context) context.Context
}

type uiKey struct{}

// Config holds configuration for creating a Loop.
type Config struct {
	QueueSize int // default 64
	Logger    *zap.Logger
	// LockOSThread pins the UI goroutine to one OS thread, as native toolkits require.
	LockOSThread bool
}

type task struct {
	ctx    context.Context
	fn     Func
	result chan taskResult
}

type taskResult struct {
	value any
	err   error
}

// Loop is a single goroutine that executes queued work in FIFO order.
type Loop struct {
	queue  chan task
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	exited chan struct{}
}

// NewLoop starts the UI goroutine.
func NewLoop(cfg Config) *Loop {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	l := &Loop{
		queue:  make(chan task, cfg.QueueSize),
		logger: cfg.Logger,
		exited: make(chan struct{}),
	}
	go l.run(cfg.LockOSThread)
	return l
}

func (l *Loop) run(lockThread bool) {
	defer close(l.exited)
	if lockThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	for t := range l.queue {
		l.runTask(t)
	}
}

func (l *Loop) runTask(t task) {
	value, err := l.execute(t)
	t.result <- taskResult{value: value, err: err}
}

func (l *Loop) execute(t task) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("panic on ui goroutine", zap.Any("panic", r))
			err = fmt.Errorf("panic on ui goroutine: %v", r)
		}
	}()
	return t.fn(context.WithValue(t.ctx, uiKey{}, l))
}

// RunOn queues fn and waits for its completion. It does not give up when ctx is
// cancelled: work that was queued always runs to the end.
func (l *Loop) RunOn(ctx context.Context, fn Func) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if l.OnUIThread(ctx) {
		return fn(ctx)
	}

	t := task{ctx: ctx, fn: fn, result: make(chan taskResult, 1)}

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil, ErrClosed
	}
	l.queue <- t
	l.mu.RUnlock()

	res := <-t.result
	return res.value, res.err
}

// OnUIThread reports whether ctx was handed out by this loop.
func (l *Loop) OnUIThread(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, _ := ctx.Value(uiKey{}).(*Loop)
	return owner == l
}

// Yield runs one queued task in place, nested inside the task that called it.
// After Stop it only waits out d.
func (l *Loop) Yield(ctx context.Context, d time.Duration) bool {
	if !l.OnUIThread(ctx) {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case t, ok := <-l.queue:
		if !ok {
			<-timer.C
			return false
		}
		l.runTask(t)
		return true
	case <-timer.C:
		return false
	}
}

// Detach strips the UI goroutine mark from ctx.
func (l *Loop) Detach(ctx context.Context) context.Context {
	if !l.OnUIThread(ctx) {
		return ctx
	}
	return context.WithValue(ctx, uiKey{}, (*Loop)(nil))
}

// Stop rejects new work, finishes queued work and waits for the goroutine to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.exited
		return
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()
	<-l.exited
}

// Alive reports whether the loop still accepts work.
func (l *Loop) Alive() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !l.closed
}

// Inline is a Dispatcher for headless hosts: every caller counts as the UI goroutine.
type Inline struct{}

func (Inline) RunOn(ctx context.Context, fn Func) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx)
}

func (Inline) OnUIThread(context.Context) bool { return true }

var (
	_ Dispatcher = (*Loop)(nil)
	_ Yielder    = (*Loop)(nil)
	_ Dispatcher = Inline{}
)
