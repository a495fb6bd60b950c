package executor

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/vyrodovalexey/avaserve/internal/observability"
)

// ErrClosed is returned by Spawn once the executor has been shut down.
var ErrClosed = errors.New("executor closed")

// Task is a unit of work. ctx is cancelled when the executor shuts down.
type Task func(ctx context.Context)

// Executor schedules tasks concurrently.
type Executor interface {
	// Spawn schedules task and returns without waiting for it.
	Spawn(name string, task Task) error
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used for task panics.
func WithLogger(logger observability.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(p *Pool) {
		p.metrics = metrics
	}
}

// Pool is an Executor that runs each task on its own goroutine. The
// worker count is informational and reported by Workers; parallelism is
// bounded by GOMAXPROCS, not by the pool.
type Pool struct {
	workers int
	logger  observability.Logger
	metrics MetricsRecorder

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	active atomic.Int64
}

// NewPool creates a pool reporting the given number of workers.
// If workers <= 0, runtime.NumCPU() is used.
func NewPool(workers int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		workers: workers,
		logger:  observability.NopLogger(),
		metrics: NewNopMetrics(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int {
	return p.workers
}

// Active returns the number of running tasks.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Spawn schedules task on its own goroutine.
func (p *Pool) Spawn(name string, task Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.metrics.RecordRejected(name)
		return ErrClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.active.Add(1)
	p.metrics.RecordSpawned(name)
	p.metrics.SetActive(int(p.active.Load()))

	go p.run(name, task)
	return nil
}

func (p *Pool) run(name string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.RecordPanic(name)
			p.logger.Error("task panicked",
				observability.String("task", name),
				observability.Any("panic", r),
				observability.String("stack", string(debug.Stack())),
			)
		}
		p.metrics.SetActive(int(p.active.Add(-1)))
		p.wg.Done()
	}()

	task(p.ctx)
}

// Wait blocks until no tasks are running. Tasks spawned from running
// tasks are waited for as well.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown refuses new tasks, cancels the context of running tasks and
// waits for them to return or for ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closed reports whether Shutdown has been called.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Inline runs every task synchronously on the caller's goroutine with
// context.Background. It is meant for tests.
type Inline struct{}

// Spawn runs task before returning.
func (Inline) Spawn(_ string, task Task) error {
	task(context.Background())
	return nil
}

// Rejecting refuses every task with ErrClosed.
type Rejecting struct{}

// Spawn always returns ErrClosed.
func (Rejecting) Spawn(string, Task) error {
	return ErrClosed
}
