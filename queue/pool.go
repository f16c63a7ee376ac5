package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docindex/core"
)

// Handler runs one job to completion.
type Handler interface {
	HandleJob(ctx context.Context, job core.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job core.Job) error

// HandleJob calls f.
func (f HandlerFunc) HandleJob(ctx context.Context, job core.Job) error {
	return f(ctx, job)
}

// WorkerPool runs a fixed number of long-lived workers, each dequeuing and
// handling one job at a time.
type WorkerPool struct {
	queue   *Queue
	handler Handler
	size    int
	pool    *ants.Pool
	running atomic.Bool
	logger  *slog.Logger
}

// PoolOption configures a WorkerPool.
type PoolOption func(*WorkerPool)

// WithWorkers sets the number of workers. Default is 1.
func WithWorkers(n int) PoolOption {
	return func(p *WorkerPool) {
		if n < 1 {
			n = 1
		}
		p.size = n
	}
}

// WithPoolLogger sets a custom logger.
// Default is slog.Default().
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *WorkerPool) {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
	}
}

// NewWorkerPool creates a pool draining q into handler.
func NewWorkerPool(q *Queue, handler Handler, opts ...PoolOption) (*WorkerPool, error) {
	if handler == nil {
		return nil, ErrHandlerRequired
	}

	p := &WorkerPool{
		queue:   q,
		handler: handler,
		size:    1,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "worker")

	pool, err := ants.NewPool(p.size, ants.WithPanicHandler(func(v any) {
		p.logger.Error("worker goroutine panicked", "panic", v)
	}))
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int {
	return p.size
}

// Run starts the workers and blocks until ctx is cancelled or the queue is
// closed and drained. A job in flight when ctx is cancelled sees the
// cancellation through its context.
func (p *WorkerPool) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrPoolRunning
	}
	defer p.running.Store(false)

	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		worker := i
		wg.Add(1)
		if err := p.pool.Submit(func() {
			defer wg.Done()
			p.loop(ctx, worker)
		}); err != nil {
			wg.Done()
			wg.Wait()
			return fmt.Errorf("starting worker %d: %w", worker, err)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return core.Cancelled(err)
	}
	return nil
}

func (p *WorkerPool) loop(ctx context.Context, worker int) {
	logger := p.logger.With("worker", worker)
	logger.Debug("worker started")
	defer logger.Debug("worker stopped")

	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, ErrQueueClosed) && !errors.Is(err, core.ErrCancelled) {
				logger.Error("dequeue failed", "err", err)
			}
			return
		}
		p.execute(ctx, logger, job)
	}
}

// execute runs one job, containing panics so the worker keeps serving.
func (p *WorkerPool) execute(ctx context.Context, logger *slog.Logger, job core.Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", "job_kind", job.Kind, "document_id", job.DocumentID, "panic", r)
		}
	}()

	if err := p.handler.HandleJob(ctx, job); err != nil {
		logger.Warn("job failed", "job_kind", job.Kind, "document_id", job.DocumentID, "err", err)
	}
}

// Release frees the underlying goroutine pool. The pool must not be used afterwards.
func (p *WorkerPool) Release() {
	p.pool.Release()
}
