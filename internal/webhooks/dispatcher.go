package webhooks

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/angelmondragon/puttlab-backend/pkg/logger"
)

// ErrDispatcherClosed is delivered to tasks submitted after Shutdown.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Task is one unit of background work.
type Task func(ctx context.Context) error

// Dispatcher runs tasks in the background with bounded concurrency. Tasks
// outlive the request that submitted them but keep its values for logging.
type Dispatcher struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	logg    *logger.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	// stop aborts tasks still queued on the semaphore when Shutdown gives up.
	stop   context.Context
	cancel context.CancelFunc
}

func NewDispatcher(workers int64, timeout time.Duration, logg *logger.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	stop, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sem:     semaphore.NewWeighted(workers),
		timeout: timeout,
		logg:    logg,
		stop:    stop,
		cancel:  cancel,
	}
}

// Submit schedules task and returns a buffered channel that receives its
// result exactly once.
func (d *Dispatcher) Submit(ctx context.Context, task Task) <-chan error {
	done := make(chan error, 1)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		done <- ErrDispatcherClosed
		return done
	}
	d.wg.Add(1)
	d.mu.Unlock()

	taskCtx := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		done <- d.run(taskCtx, task)
	}()
	return done
}

func (d *Dispatcher) run(ctx context.Context, task Task) (err error) {
	if err := d.sem.Acquire(d.stop, 1); err != nil {
		return ErrDispatcherClosed
	}
	defer d.sem.Release(1)

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("dispatcher task panicked")
			d.logg.Error(ctx, "webhook.dispatch.panic", err)
		}
	}()
	return task(ctx)
}

// Shutdown stops accepting work and waits for in-flight tasks. When ctx ends
// first, queued tasks are abandoned and ctx's error is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}
