// Package dispatch runs asynchronous boundary operations on a bounded worker
// pool and adapts their results into callback invocations.
//
// Every submitted operation produces exactly one terminal callback. Progress
// notifications are delivered in production order, only while the operation
// is still running, and never with a smaller completed count than one already
// delivered. No registry lock is held while a callback runs, so callbacks may
// re-enter the boundary (free handles, cancel tokens, submit new work).
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

// minWorkers is the floor for pool concurrency.
const minWorkers = 1

// ErrClosed is returned by Submit after Close has been called.
var ErrClosed = fmt.Errorf("dispatch: dispatcher closed: %w", sdkerr.ErrInvalidState)

// Progress is one non-terminal notification.
type Progress struct {
	Completed int64 `json:"completed"`
	Total     int64 `json:"total"`
}

// ProgressFunc is handed to operation work for reporting progress. It is safe
// to call from any goroutine; calls after the operation finished are dropped.
type ProgressFunc func(Progress)

// Work is the body of an asynchronous operation.
type Work[T any] func(ctx context.Context, progress ProgressFunc) (T, error)

// Callbacks receives the outcome of one operation. OnSuccess and OnFailure
// are required; OnProgress may be nil.
type Callbacks[T any] struct {
	OnSuccess  func(T)
	OnFailure  func(sdkerr.Record)
	OnProgress func(Progress)
}

// Dispatcher owns the worker pool. Construct with New.
type Dispatcher struct {
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	succeeded atomic.Int64
	failed    atomic.Int64
}

// New creates a dispatcher that runs at most workers operations at a time.
func New(workers int, logger *slog.Logger) *Dispatcher {
	if workers < minWorkers {
		workers = minWorkers
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		sem:    semaphore.NewWeighted(int64(workers)),
		logger: logger,
	}
}

// Stats returns terminal outcome counters.
func (d *Dispatcher) Stats() (succeeded, failed int64) {
	return d.succeeded.Load(), d.failed.Load()
}

// Submit schedules work and returns a future for its result. ctx carries the
// operation's cancellation; it is checked before work starts and again before
// the terminal callback, and a cancelled ctx at either point turns the
// outcome into a cancellation failure.
//
// cleanups run exactly once, after work returns and before the terminal
// callback. They release the handle and token references the operation holds.
// If Submit itself fails, the cleanups are run before it returns and no
// callback is invoked.
func Submit[T any](
	d *Dispatcher, ctx context.Context, name string, cb Callbacks[T], work Work[T], cleanups ...func(),
) (*Future[T], error) {
	if cb.OnSuccess == nil || cb.OnFailure == nil || work == nil {
		runCleanups(cleanups)
		return nil, fmt.Errorf("dispatch: %s: missing callback or work: %w", name, sdkerr.ErrArgument)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		runCleanups(cleanups)

		return nil, ErrClosed
	}

	d.wg.Add(1)
	d.mu.Unlock()

	op := &operation[T]{
		name:     name,
		cb:       cb,
		cleanups: cleanups,
		future:   newFuture[T](),
	}

	go run(d, ctx, op, work)

	return op.future, nil
}

// Close stops accepting operations and waits for in-flight ones to deliver
// their terminal callbacks, or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch: waiting for in-flight operations: %w", ctx.Err())
	}
}

type operation[T any] struct {
	name     string
	cb       Callbacks[T]
	cleanups []func()
	future   *Future[T]

	// mu orders progress delivery against the terminal transition.
	mu       sync.Mutex
	finished bool
	last     int64
	reported bool
}

func run[T any](d *Dispatcher, ctx context.Context, op *operation[T], work Work[T]) {
	defer d.wg.Done()

	// Acquiring a worker slot is itself a suspension point.
	if err := d.sem.Acquire(ctx, 1); err != nil {
		var zero T
		finish(d, ctx, op, zero, err)

		return
	}

	result, err := execute(d, ctx, op, work)
	d.sem.Release(1)

	finish(d, ctx, op, result, err)
}

// execute runs work unless ctx is already cancelled, recovering panics into
// errors so a single operation cannot take the process down.
func execute[T any](d *Dispatcher, ctx context.Context, op *operation[T], work Work[T]) (result T, err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch: panic in operation",
				slog.String("op", op.name),
				slog.Any("panic", r),
			)

			err = fmt.Errorf("dispatch: %s panicked: %v", op.name, r)
		}
	}()

	return work(ctx, op.progress)
}

func (op *operation[T]) progress(p Progress) {
	if op.cb.OnProgress == nil {
		return
	}

	op.mu.Lock()
	defer op.mu.Unlock()

	if op.finished {
		return
	}

	if op.reported && p.Completed < op.last {
		return
	}

	op.reported = true
	op.last = p.Completed

	op.cb.OnProgress(p)
}

// finish publishes the single terminal outcome.
func finish[T any](d *Dispatcher, ctx context.Context, op *operation[T], result T, err error) {
	// Checked last so work that raced a cancel never reports success.
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	if err != nil && errors.Is(err, context.Canceled) && !errors.Is(err, sdkerr.ErrCancelled) {
		err = fmt.Errorf("%s: %w: %w", op.name, sdkerr.ErrCancelled, err)
	}

	// Waits for any progress callback already running.
	op.mu.Lock()
	op.finished = true
	op.mu.Unlock()

	runCleanups(op.cleanups)

	if err != nil {
		d.failed.Add(1)

		rec := sdkerr.ToRecord(err)
		d.logger.Debug("operation failed",
			slog.String("op", op.name),
			slog.String("kind", rec.Kind),
			slog.String("error", err.Error()),
		)

		d.deliver(op.name, func() { op.cb.OnFailure(rec) })
		op.future.resolve(result, err)

		return
	}

	d.succeeded.Add(1)
	d.deliver(op.name, func() { op.cb.OnSuccess(result) })
	op.future.resolve(result, nil)
}

// deliver invokes a caller callback. A panicking callback is logged and
// swallowed; the outcome has already been decided.
func (d *Dispatcher) deliver(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch: panic in callback",
				slog.String("op", name),
				slog.Any("panic", r),
			)
		}
	}()

	fn()
}

func runCleanups(cleanups []func()) {
	for _, c := range cleanups {
		if c != nil {
			c()
		}
	}
}
