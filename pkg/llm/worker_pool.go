package llm

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vibelab/vibelab-engine/pkg/apperrors"
)

// WorkerPoolConfig configures the model-call worker pool.
type WorkerPoolConfig struct {
	MaxConcurrent int           // Maximum concurrent model calls (default: max(4, 2*NumCPU))
	QueueLimit    int           // Submissions allowed to wait beyond the running ones (default: 64)
	CallTimeout   time.Duration // Wall-clock budget per call (default: 120s)
}

// DefaultWorkerPoolConfig returns sensible defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		MaxConcurrent: defaultMaxConcurrent(),
		QueueLimit:    64,
		CallTimeout:   120 * time.Second,
	}
}

func defaultMaxConcurrent() int {
	return max(4, 2*runtime.NumCPU())
}

// WorkerPool runs blocking model calls with bounded parallelism and a bounded
// waiting line. Submissions beyond MaxConcurrent+QueueLimit are rejected.
type WorkerPool struct {
	config  WorkerPoolConfig
	logger  *zap.Logger
	sem     chan struct{}
	pending atomic.Int64
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new model-call worker pool.
func NewWorkerPool(config WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	defaults := DefaultWorkerPoolConfig()
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.QueueLimit < 0 {
		config.QueueLimit = defaults.QueueLimit
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = defaults.CallTimeout
	}
	return &WorkerPool{
		config: config,
		logger: logger.Named("llm-worker-pool"),
		sem:    make(chan struct{}, config.MaxConcurrent),
	}
}

// Config returns the effective configuration after defaults were applied.
func (p *WorkerPool) Config() WorkerPoolConfig {
	return p.config
}

// Pending returns the number of submissions that are running or waiting.
func (p *WorkerPool) Pending() int {
	return int(p.pending.Load())
}

// Wait blocks until every submitted item has finished. Used on shutdown.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// WorkItem represents a unit of work to be processed.
type WorkItem[T any] struct {
	ID      string                               // For logging/tracking
	Execute func(ctx context.Context) (T, error) // The work to be executed
}

// Future is the handle for a submitted WorkItem.
type Future[T any] struct {
	done   chan struct{}
	result T
	err    error
}

// Wait blocks until the item finishes or ctx is done. Returning early because
// of ctx does not stop a call that has already started.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit hands item to the pool and returns immediately with a Future.
// It fails with an Overloaded error when the waiting line is full.
//
// A started call runs under its own CallTimeout, detached from ctx cancellation.
// An item still waiting for a slot when ctx is done is skipped.
func Submit[T any](ctx context.Context, pool *WorkerPool, item WorkItem[T]) (*Future[T], error) {
	limit := int64(pool.config.MaxConcurrent + pool.config.QueueLimit)
	if n := pool.pending.Add(1); n > limit {
		pool.pending.Add(-1)
		pool.logger.Warn("Rejecting model call, worker pool is full",
			zap.String("id", item.ID),
			zap.Int64("pending", n-1),
			zap.Int64("limit", limit))
		return nil, apperrors.Overloaded("generation queue is full (%d pending), try again later", limit)
	}

	f := &Future[T]{done: make(chan struct{})}
	pool.wg.Add(1)

	go func() {
		defer pool.wg.Done()
		defer pool.pending.Add(-1)
		defer close(f.done)

		select {
		case pool.sem <- struct{}{}:
			defer func() { <-pool.sem }()
		case <-ctx.Done():
			f.err = ctx.Err()
			pool.logger.Debug("Skipping queued model call, caller went away", zap.String("id", item.ID))
			return
		}

		// Both channels may have been ready; a gone caller still wins before the call starts.
		if err := ctx.Err(); err != nil {
			f.err = err
			return
		}

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pool.config.CallTimeout)
		defer cancel()

		f.result, f.err = item.Execute(callCtx)
	}()

	return f, nil
}
