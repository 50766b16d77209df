// Package flush implements the Flusher spec.md §4.6 describes: freeze the
// active memtable(s), write one SST per frozen memtable, apply a
// VersionEdit to the manifest, swap the new files into the TableVersion,
// and trim the WAL up to the flushed sequence. Grounded on
// other_examples/fa8844ea_aalhour-rockyardkv__db-flush.go.go's FlushJob
// shape (iterate memtable, build SST, compose a VersionEdit) generalized
// from one memtable to "every memtable frozen by this flush" and from a
// single-level output to the segment-duration-aligned buckets this engine
// partitions by.
package flush

import (
	"context"
	"time"

	"github.com/chronodb/analytic/internal/base"
	"github.com/chronodb/analytic/internal/logging"
	"github.com/chronodb/analytic/internal/manifest"
	"github.com/chronodb/analytic/internal/memtable"
	"github.com/chronodb/analytic/internal/metrics"
	"github.com/chronodb/analytic/internal/sst"
	"github.com/chronodb/analytic/internal/wal"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// FileIDAllocator hands out the next file ID for a table; TableData owns the
// counter seeded from the manifest's NextFileID on open.
type FileIDAllocator func() base.FileID

// Target describes the table a Flusher writes against.
type Target struct {
	Space  base.SpaceID
	Table  base.TableID
	Schema base.Schema

	RowsPerRowGroup int
	Compression     sst.Compression
	IndexColumns    []string

	NextFileID FileIDAllocator
}

// Options bounds retry behavior (spec.md §4.6 step 8 and §6.4's
// max_retry_flush_limit).
type Options struct {
	MaxRetries int
	BaseBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 50 * time.Millisecond
	}
	return o
}

// Flusher flushes frozen memtables for one table to SSTs and publishes the
// resulting VersionEdit.
type Flusher struct {
	factory  *sst.Factory
	manifest manifest.Store
	log      logging.Logger
	metrics  *metrics.Engine
	opts     Options
}

// New returns a Flusher writing SSTs through factory and meta edits through
// store.
func New(factory *sst.Factory, store manifest.Store, log logging.Logger, m *metrics.Engine, opts Options) *Flusher {
	if log == nil {
		log = logging.Nop
	}
	return &Flusher{factory: factory, manifest: store, log: log, metrics: m, opts: opts.withDefaults()}
}

// Result is what a successful flush produced, for the caller to swap into
// its TableVersion and retire from its memtable set.
type Result struct {
	Edit    manifest.VersionEdit
	Flushed []*memtable.MemTable
}

// Flush runs spec.md §4.6 steps 3-5 (everything after freeze, which the
// caller does under its SerialExecutor before invoking Flush, and before the
// swap-in, which the caller also does under its SerialExecutor after Flush
// returns). flushSeq is S*, the sequence recorded as this flush's
// flushed_sequence.
func (f *Flusher) Flush(ctx context.Context, target Target, frozen []*memtable.MemTable, flushSeq base.SequenceNumber) (Result, error) {
	var lastErr error
	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := f.opts.BaseBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
			f.log.Logf(logging.LevelWarn, "flush: retrying table %s (attempt %d): %v", target.Table, attempt+1, lastErr)
		}

		edit, err := f.flushOnce(ctx, target, frozen, flushSeq)
		if err == nil {
			return Result{Edit: edit, Flushed: frozen}, nil
		}
		lastErr = err
	}
	if f.metrics != nil {
		f.metrics.FlushFailures.Inc()
	}
	return Result{}, base.WithKind(errors.Wrapf(lastErr, "flush: table %s failed after %d attempts", target.Table, f.opts.MaxRetries+1), base.KindFlushFailed)
}

func (f *Flusher) flushOnce(ctx context.Context, target Target, frozen []*memtable.MemTable, flushSeq base.SequenceNumber) (manifest.VersionEdit, error) {
	// Each frozen memtable owns a disjoint time bucket, so their SSTs can be
	// written concurrently; errgroup collects the first error and cancels
	// the rest while we keep each result at its frozen-slice index to
	// preserve a deterministic AddFiles order.
	metas := make([]*manifest.FileMeta, len(frozen))
	g, gctx := errgroup.WithContext(ctx)
	for i, mt := range frozen {
		if mt.RowCount() == 0 {
			continue
		}
		i, mt := i, mt
		g.Go(func() error {
			meta, err := f.writeSST(gctx, target, mt)
			if err != nil {
				return err
			}
			metas[i] = &meta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return manifest.VersionEdit{}, err
	}

	var added []manifest.AddedFile
	for _, meta := range metas {
		if meta == nil {
			continue
		}
		added = append(added, manifest.AddedFile{Level: manifest.Level0, Meta: *meta})
	}

	edit := manifest.VersionEdit{
		AddFiles:           added,
		HasFlushedSequence: true,
		FlushedSequence:    flushSeq,
	}
	metaEdit := manifest.MetaEdit{
		Kind:    manifest.EditVersion,
		Space:   target.Space,
		Table:   target.Table,
		Version: edit,
	}
	if err := f.manifest.Apply(ctx, metaEdit); err != nil {
		return manifest.VersionEdit{}, base.WithKind(errors.Wrap(err, "flush: apply version edit"), base.KindManifest)
	}
	if f.metrics != nil {
		f.metrics.FlushesTotal.Inc()
	}
	return edit, nil
}

func (f *Flusher) writeSST(ctx context.Context, target Target, mt *memtable.MemTable) (manifest.FileMeta, error) {
	fileID := target.NextFileID()
	w, err := f.factory.NewWriter(ctx, sst.WriterOptions{
		Space:           target.Space,
		Table:           target.Table,
		FileID:          fileID,
		Schema:          target.Schema,
		Compression:     target.Compression,
		RowsPerRowGroup: target.RowsPerRowGroup,
		IndexColumns:    target.IndexColumns,
	})
	if err != nil {
		return manifest.FileMeta{}, base.WithKind(err, base.KindSstWrite)
	}
	w.SetTimeRange(mt.TimeRange())
	for _, row := range mt.Rows() {
		if err := w.WriteRow(row); err != nil {
			return manifest.FileMeta{}, err
		}
	}
	return w.Close(ctx)
}

// TrimWAL calls Wal.mark_delete_up_to(flushSeq) for the table's WAL
// partition, per spec.md §4.6 step 7. Kept as a standalone step since the
// caller may run it after the TableVersion swap, outside the SerialExecutor.
func TrimWAL(ctx context.Context, log wal.Log, flushSeq base.SequenceNumber) error {
	if err := log.MarkDeleteUpTo(ctx, flushSeq); err != nil {
		return base.WithKind(errors.Wrap(err, "flush: trim wal"), base.KindWAL)
	}
	return nil
}
