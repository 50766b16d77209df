// Package exec implements the per-table serialization spec.md §4.4
// describes: a single-lane executor that funnels every mutating operation
// (write, flush-schedule, alter, drop) on one table through one ordered
// queue, plus a FlushScheduler enforcing at most one flush in flight per
// table. Grounded on the teacher's single-writer discipline (pebble commits
// are sequenced through one DB-wide mutex/queue) generalized to one queue
// per table since spec.md scopes serialization to the table, not the
// engine.
package exec

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

type task struct {
	fn   func(context.Context) error
	done chan error
}

// SerialExecutor runs submitted operations one at a time, in submission
// order, on a dedicated goroutine. Operations never nest a SerialExecutor
// lock for a different table — callers that need cross-table work schedule
// it on the other table's own executor instead of calling into it directly.
type SerialExecutor struct {
	tasks  chan task
	stop   chan struct{}
	stopWg sync.WaitGroup

	closeOnce sync.Once
}

// NewSerialExecutor returns a SerialExecutor with the given submission
// buffer; Run must be called once to start draining it.
func NewSerialExecutor(buffer int) *SerialExecutor {
	if buffer < 1 {
		buffer = 1
	}
	return &SerialExecutor{
		tasks: make(chan task, buffer),
		stop:  make(chan struct{}),
	}
}

// Run drains the task queue until Close is called or ctx is cancelled. It
// should be started in its own goroutine.
func (e *SerialExecutor) Run(ctx context.Context) {
	e.stopWg.Add(1)
	defer e.stopWg.Done()
	for {
		select {
		case t := <-e.tasks:
			t.done <- t.fn(ctx)
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Submit enqueues fn and blocks until it has run (or the executor is
// closed / ctx is cancelled first), returning fn's error.
func (e *SerialExecutor) Submit(ctx context.Context, fn func(context.Context) error) error {
	t := task{fn: fn, done: make(chan error, 1)}
	select {
	case e.tasks <- t:
	case <-e.stop:
		return errors.New("exec: serial executor closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-t.done:
		return err
	case <-e.stop:
		select {
		case err := <-t.done:
			return err
		default:
		}
		return errors.New("exec: serial executor closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops Run's loop. Tasks already enqueued but not yet started are
// never run; Submit calls racing with Close return an error instead of
// blocking forever.
func (e *SerialExecutor) Close() {
	e.closeOnce.Do(func() { close(e.stop) })
	e.stopWg.Wait()
}
