// Package purge implements the single, process-wide background deleter
// spec.md §4.2 describes: FileHandle drops enqueue a Purge request; a
// single consumer goroutine drains the queue and deletes the underlying
// object. Grounded on the queue+worker-loop shape in
// other_examples/cbbd8489_Hawthorne001-aistore__space-cleanup.go.go,
// generalized to the (space, table, file) addressing spec.md §6.3 uses.
package purge

import (
	"context"
	"sync"

	"github.com/chronodb/analytic/internal/base"
	"github.com/chronodb/analytic/internal/logging"
	"github.com/chronodb/analytic/internal/manifest"
	"github.com/chronodb/analytic/internal/metrics"
	"github.com/chronodb/analytic/internal/objstore"
)

// Request asks the purger to delete one SST object.
type Request struct {
	Space base.SpaceID
	Table base.TableID
	File  manifest.FileMeta
}

// Queue is a buffered, closeable channel of purge requests. Close()
// silently discards further enqueues so teardown never races with a
// FileHandle's last Release (spec.md §4.2).
type Queue struct {
	mu     sync.Mutex
	ch     chan Request
	closed bool
}

// NewQueue returns an open queue with the given buffer capacity. The queue
// is not unbounded: once buffer requests are pending, Enqueue blocks until
// Purger.Run takes one off the channel.
func NewQueue(buffer int) *Queue {
	return &Queue{ch: make(chan Request, buffer)}
}

// Enqueue submits req, unless the queue has been closed.
func (q *Queue) Enqueue(req Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.ch <- req
}

// Close stops accepting new requests and closes the channel so Run's range
// loop terminates once the backlog drains.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Purger drains a Queue and deletes each object from an ObjectStore. One
// Purger is shared process-wide (spec.md §4.2: "A single process-wide
// background task").
type Purger struct {
	queue   *Queue
	store   objstore.ObjectStore
	log     logging.Logger
	metrics *metrics.Engine
}

// New creates a Purger over store, reading requests from queue.
func New(queue *Queue, store objstore.ObjectStore, log logging.Logger, m *metrics.Engine) *Purger {
	if log == nil {
		log = logging.Nop
	}
	return &Purger{queue: queue, store: store, log: log, metrics: m}
}

// BindFileHandle returns a manifest.PurgeFunc that enqueues onto p's queue,
// for wiring into manifest.NewTableVersion / NewFileHandle.
func (p *Purger) BindFileHandle() manifest.PurgeFunc {
	return func(space base.SpaceID, table base.TableID, meta manifest.FileMeta) {
		p.queue.Enqueue(Request{Space: space, Table: table, File: meta})
	}
}

// Run drains the queue until it is closed and drained, deleting each
// object. Deletion errors are logged and do not stop the loop — purge is
// best-effort and idempotent (a missing object is not an error either, per
// ObjectStore.Delete's contract).
func (p *Purger) Run(ctx context.Context) {
	for req := range p.queue.ch {
		key := manifest.ObjectKey(req.Space, req.Table, req.File.FileID)
		if err := p.store.Delete(ctx, key); err != nil {
			p.log.Logf(logging.LevelWarn, "purge: failed to delete %s: %v", key, err)
			continue
		}
		if p.metrics != nil {
			p.metrics.PurgedFiles.Inc()
		}
		p.log.Logf(logging.LevelDebug, "purge: deleted %s", key)
	}
}
