// Package concurrency runs jobs on a bounded goroutine pool.
package concurrency

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var (
	// ErrPoolStopped is returned by Submit after Stop.
	ErrPoolStopped = errors.New("worker pool is stopped")

	// ErrTimeout is returned by Future.GetWithTimeout.
	ErrTimeout = errors.New("timeout waiting for result")
)

// JobFunc is a unit of work.
type JobFunc func() error

// WorkerPool bounds how many jobs run at once. Submit blocks while every worker is busy.
type WorkerPool struct {
	pool   *ants.Pool
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewWorkerPool creates a pool with size workers. A panicking job is logged and
// reported through its Future as an error.
func NewWorkerPool(size int, logger *zap.Logger) (*WorkerPool, error) {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &WorkerPool{logger: logger}

	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(r any) {
		p.logger.Error("panic in pooled job", zap.Any("panic", r))
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	p.pool = pool
	return p, nil
}

// Submit queues job and returns a Future for its result.
func (p *WorkerPool) Submit(job JobFunc) (*Future, error) {
	future := NewFuture()
	p.wg.Add(1)
	err := p.pool.Submit(func() {
		defer p.wg.Done()
		var jobErr error
		defer func() {
			if r := recover(); r != nil {
				future.Complete(fmt.Errorf("job panicked: %v", r))
				panic(r)
			}
			future.Complete(jobErr)
		}()
		jobErr = job()
	})
	if err != nil {
		p.wg.Done()
		if errors.Is(err, ants.ErrPoolClosed) {
			return nil, ErrPoolStopped
		}
		return nil, err
	}
	return future, nil
}

// Wait blocks until every submitted job has finished.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Running returns the number of busy workers.
func (p *WorkerPool) Running() int {
	return p.pool.Running()
}

// Stop waits for submitted jobs and releases the workers.
func (p *WorkerPool) Stop() {
	p.wg.Wait()
	p.pool.Release()
}

// Future holds the result of one submitted job.
type Future struct {
	once   sync.Once
	done   chan struct{}
	result error
}

// NewFuture creates an incomplete Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Complete stores err; only the first call has an effect.
func (f *Future) Complete(err error) {
	f.once.Do(func() {
		f.result = err
		close(f.done)
	})
}

// Get blocks until the job finished and returns its error.
func (f *Future) Get() error {
	<-f.done
	return f.result
}

// GetWithTimeout is Get bounded by timeout; it returns ErrTimeout when the job is still running.
func (f *Future) GetWithTimeout(timeout time.Duration) error {
	select {
	case <-f.done:
		return f.result
	case <-time.After(timeout):
		return ErrTimeout
	}
}
