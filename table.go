package analytic

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/chronodb/analytic/internal/base"
	"github.com/chronodb/analytic/internal/exec"
	"github.com/chronodb/analytic/internal/flush"
	"github.com/chronodb/analytic/internal/logging"
	"github.com/chronodb/analytic/internal/manifest"
	"github.com/chronodb/analytic/internal/memtable"
	"github.com/chronodb/analytic/internal/metrics"
	"github.com/chronodb/analytic/internal/read"
	"github.com/chronodb/analytic/internal/sst"
	"github.com/chronodb/analytic/internal/wal"
	"github.com/cockroachdb/errors"
)

// samplingThresholdRows is how many rows a table absorbs into its sampling
// memtable before graduating to a regular, segment-aligned one. The exact
// figure is a Go-native choice (memtable.InferSegmentDuration's own doc
// comment notes the inference formula itself has no ported source either).
const samplingThresholdRows = 1000

// Table is one open table: its schema/options, live TableVersion, WAL
// partition, and the background machinery (flush, compaction) wired
// against it. All mutating operations funnel through a single
// SerialExecutor so writes, flushes, alters and drop never interleave.
type Table struct {
	id    base.TableID
	space base.SpaceID
	name  string

	engine *Engine

	mu     sync.RWMutex // guards schema/opts only; version/memtables have their own locking
	schema base.Schema
	opts   TableOptions

	version  *manifest.TableVersion
	wal      wal.Log
	manifest manifest.Store

	exec       *exec.SerialExecutor
	flushSched *exec.FlushScheduler
	flusher    *flush.Flusher

	sstFactory *sst.Factory
	metrics    *metrics.Engine
	log        logging.Logger

	seqCounter uint64 // atomic; last_sequence is derived, not stored separately
	fileID     uint64 // atomic, seeded from manifest.NextFileID

	dropped int32 // atomic bool
}

func newTable(e *Engine, space base.SpaceID, id base.TableID, name string, schema base.Schema, opts TableOptions, md *manifest.TableManifestData) *Table {
	t := &Table{
		id: id, space: space, name: name,
		engine: e, schema: schema, opts: opts,
		wal: e.wal, manifest: e.manifestStore,
		flushSched: exec.NewFlushScheduler(),
		sstFactory: e.sstFactory, metrics: e.metrics, log: e.log,
	}
	t.exec = exec.NewSerialExecutor(64)
	t.version = manifest.NewTableVersion(2, space, id, e.purgeFunc)
	t.flusher = flush.New(e.sstFactory, e.manifestStore, e.log, e.metrics, flush.Options{MaxRetries: opts.MaxRetryFlushLimit})

	if opts.SegmentDuration > 0 {
		t.version.SetSegmentDuration(opts.SegmentDuration)
	}

	if md != nil {
		atomic.StoreUint64(&t.fileID, uint64(md.NextFileID))
		if md.FlushedSequence > 0 {
			atomic.StoreUint64(&t.seqCounter, uint64(md.FlushedSequence))
			t.version.ApplyEdit(manifest.VersionEdit{HasFlushedSequence: true, FlushedSequence: md.FlushedSequence})
		}
		for lvl, files := range md.Files {
			var added []manifest.AddedFile
			for _, f := range files {
				added = append(added, manifest.AddedFile{Level: lvl, Meta: f})
			}
			t.version.ApplyEdit(manifest.VersionEdit{AddFiles: added})
		}
	}
	return t
}

func (t *Table) nextFileID() base.FileID {
	return base.FileID(atomic.AddUint64(&t.fileID, 1))
}

// Name returns the table's name.
func (t *Table) Name() string { return t.name }

// ID returns the table's identity.
func (t *Table) ID() base.TableID { return t.id }

// bumpSeq advances the table's sequence counter to at least seq, called
// once after replay installs the last sequence number seen in the WAL.
func (t *Table) bumpSeq(seq base.SequenceNumber) {
	for {
		cur := atomic.LoadUint64(&t.seqCounter)
		if uint64(seq) <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&t.seqCounter, cur, uint64(seq)) {
			return
		}
	}
}

// Schema returns the table's current schema.
func (t *Table) Schema() base.Schema {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.schema
}

// Options returns the table's current options.
func (t *Table) Options() TableOptions {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.opts
}

// MemtableMemoryUsage implements space.Entry: the sum of every live
// memtable's byte size, the figure write-pressure checks compare against
// write_buffer_size/space_write_buffer_size/db_write_buffer_size.
func (t *Table) MemtableMemoryUsage() int64 {
	var total int64
	if s := t.version.SamplingMemTable(); s != nil {
		total += s.ByteSize()
	}
	for _, mt := range t.version.MemTables() {
		total += mt.ByteSize()
	}
	return total
}

func (t *Table) isDropped() bool { return atomic.LoadInt32(&t.dropped) != 0 }

// Write applies rg to the table: validates schema and size, assigns a
// contiguous sequence range, appends a WAL entry, applies rows to the
// appropriate memtable(s), and schedules a flush if any write-pressure
// threshold is crossed.
func (t *Table) Write(ctx context.Context, rg base.RowGroup) (int, error) {
	if t.isDropped() {
		return 0, base.NewKind(base.KindTableDropped, "table %s: dropped", t.id)
	}
	if len(rg.Rows) == 0 {
		return 0, nil
	}

	current := t.Schema()
	if rg.Schema.Version != current.Version {
		return 0, base.NewKind(base.KindSchemaMismatch, "table %s: write schema version %d != current %d", t.id, rg.Schema.Version, current.Version)
	}

	opts := t.Options()
	var size int64
	for _, r := range rg.Rows {
		size += int64(len(r.Key)) + int64(len(r.Values))*16
	}
	if opts.MaxBytesPerWriteBatch > 0 && size > opts.MaxBytesPerWriteBatch {
		if t.metrics != nil {
			t.metrics.WriteBatchTooLarge.Inc()
		}
		return 0, base.NewKind(base.KindTooLarge, "table %s: write batch of %d bytes exceeds max_bytes_per_write_batch %d", t.id, size, opts.MaxBytesPerWriteBatch)
	}

	err := t.exec.Submit(ctx, func(ctx context.Context) error {
		return t.writeLocked(ctx, rg.Rows, current.Version, opts, true)
	})
	if err != nil {
		return 0, err
	}
	return len(rg.Rows), nil
}

// writeLocked runs under the SerialExecutor. Write always passes appendWAL
// true; WAL replay applies rows through internal/recovery instead.
func (t *Table) writeLocked(ctx context.Context, rows []base.Row, schemaVersion base.SchemaVersion, opts TableOptions, appendWAL bool) error {
	n := uint64(len(rows))
	firstSeq := base.SequenceNumber(atomic.AddUint64(&t.seqCounter, n) - n + 1)

	stamped := make([]base.Row, len(rows))
	for i, r := range rows {
		r.Sequence = firstSeq + base.SequenceNumber(i)
		stamped[i] = r
	}

	if appendWAL {
		entry := wal.Entry{Sequence: firstSeq, Table: t.id, Kind: wal.PayloadWrite, Rows: stamped, SchemaVersion: schemaVersion}
		if err := t.wal.Append(ctx, []wal.Entry{entry}); err != nil {
			return base.WithKind(errors.Wrap(err, "table: wal append"), base.KindWAL)
		}
	}

	bySampling := t.version.SegmentDuration() == 0
	for _, r := range stamped {
		mt := t.version.MemTableForWrite(r.Timestamp, firstSeq, opts.ArenaBlockSize)
		mt.Apply([]base.Row{r})
	}

	if t.metrics != nil {
		t.metrics.WritesTotal.Inc()
		t.metrics.RowsWritten.Add(float64(len(rows)))
	}

	if bySampling {
		t.maybeGraduate(opts)
	}
	t.maybeScheduleFlush(ctx, opts)
	return nil
}

// maybeGraduate ends the sampling phase once enough rows have landed to
// infer a segment duration, per samplingThresholdRows.
func (t *Table) maybeGraduate(opts TableOptions) {
	sm := t.version.SamplingMemTable()
	if sm == nil || sm.RowCount() < samplingThresholdRows {
		return
	}
	duration := sm.InferSegmentDuration()
	t.version.SetSegmentDuration(duration)

	t.mu.Lock()
	t.opts.SegmentDuration = duration
	t.mu.Unlock()
	t.persistOptions(context.Background(), t.Options())
}

// maybeScheduleFlush checks write-pressure thresholds (this table's own
// memtable bytes, its space's aggregate, the engine's aggregate) and
// schedules a non-blocking flush against whichever table is currently
// largest under space/engine pressure.
func (t *Table) maybeScheduleFlush(ctx context.Context, opts TableOptions) {
	if opts.WriteBufferSize > 0 && t.MemtableMemoryUsage() >= opts.WriteBufferSize {
		t.flushAsync(ctx)
		return
	}
	if sp, ok := t.engine.spaces.Get(t.space); ok {
		if t.engine.opts.SpaceWriteBufferSize > 0 && sp.MemtableMemoryUsage() >= t.engine.opts.SpaceWriteBufferSize {
			if _, largest, ok := sp.LargestTable(); ok {
				largestFlushAsync(ctx, largest)
				return
			}
		}
	}
	if t.engine.opts.DBWriteBufferSize > 0 && t.engine.spaces.TotalMemtableMemoryUsage() >= t.engine.opts.DBWriteBufferSize {
		if largest, ok := t.engine.spaces.LargestSpace(); ok {
			if _, entry, ok := largest.LargestTable(); ok {
				largestFlushAsync(ctx, entry)
			}
		}
	}
}

// flushable lets maybeScheduleFlush trigger a flush on whatever table a
// space.Entry actually is, without widening space.Entry's own interface
// beyond MemtableMemoryUsage (internal/space stays decoupled from the
// write/flush path).
type flushable interface {
	flushAsync(ctx context.Context)
}

func largestFlushAsync(ctx context.Context, e interface{ MemtableMemoryUsage() int64 }) {
	if f, ok := e.(flushable); ok {
		f.flushAsync(ctx)
	}
}

// flushAsync requests a flush without blocking the caller; concurrent
// requests for this table collapse into the one already in flight.
func (t *Table) flushAsync(ctx context.Context) {
	go func() {
		if err := t.flushSched.RequestFlush(t.id.String(), func() error {
			return t.runFlush(context.Background())
		}); err != nil {
			t.log.Logf(logging.LevelWarn, "table %s: async flush failed: %v", t.id, err)
		}
	}()
}

// Flush runs a flush of this table, blocking until it completes. If sync is
// false the caller only waits for the request to be scheduled, not for the
// flush itself to finish.
func (t *Table) Flush(ctx context.Context, sync bool) error {
	if !sync {
		t.flushAsync(ctx)
		return nil
	}
	return t.flushSched.RequestFlush(t.id.String(), func() error {
		return t.runFlush(ctx)
	})
}

// runFlush freezes the table's memtables under the SerialExecutor, writes
// SSTs for each via the Flusher, applies the resulting VersionEdit, swaps it
// into the TableVersion, retires the frozen memtables, and trims the WAL.
func (t *Table) runFlush(ctx context.Context) error {
	if t.isDropped() {
		return nil
	}

	var frozen []*memtable.MemTable
	var flushSeq base.SequenceNumber

	err := t.exec.Submit(ctx, func(ctx context.Context) error {
		if t.isDropped() {
			return nil
		}
		flushSeq = base.SequenceNumber(atomic.LoadUint64(&t.seqCounter))
		if sm := t.version.SamplingMemTable(); sm != nil && sm.RowCount() > 0 {
			frozen = append(frozen, sm)
		}
		for _, mt := range t.version.MemTables() {
			if mt.RowCount() > 0 {
				frozen = append(frozen, mt)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(frozen) == 0 {
		return nil
	}

	target := flush.Target{
		Space: t.space, Table: t.id, Schema: t.Schema(),
		RowsPerRowGroup: t.Options().NumRowsPerRowGroup,
		Compression:     t.Options().Compression,
		NextFileID:      t.nextFileID,
	}
	result, err := t.flusher.Flush(ctx, target, frozen, flushSeq)
	if err != nil {
		return err
	}

	return t.exec.Submit(ctx, func(ctx context.Context) error {
		t.version.ApplyEdit(result.Edit)
		t.version.RetireMemTables(result.Flushed)
		return flush.TrimWAL(ctx, t.wal, flushSeq)
	})
}

// Compact requests an immediate compaction pass and blocks until it runs
// (or is determined to be a no-op).
func (t *Table) Compact(ctx context.Context) error {
	return t.engine.compactionScheduler.RequestManual(ctx, t.id)
}

// AlterSchema installs a new schema version. Existing rows are untouched;
// subsequent writes must carry the new version.
func (t *Table) AlterSchema(ctx context.Context, schema base.Schema) error {
	if err := schema.Validate(); err != nil {
		return base.WithKind(err, base.KindSchemaMismatch)
	}
	return t.exec.Submit(ctx, func(ctx context.Context) error {
		entry := wal.Entry{Table: t.id, Kind: wal.PayloadAlterSchema, SchemaVersion: schema.Version}
		if err := t.wal.Append(ctx, []wal.Entry{entry}); err != nil {
			return base.WithKind(errors.Wrap(err, "table: wal append alter_schema"), base.KindWAL)
		}
		if err := t.manifest.Apply(ctx, manifest.MetaEdit{Kind: manifest.EditAlterSchema, Space: t.space, Table: t.id, NewSchema: schema}); err != nil {
			return base.WithKind(errors.Wrap(err, "table: apply alter_schema"), base.KindManifest)
		}
		t.mu.Lock()
		t.schema = schema
		t.mu.Unlock()
		return nil
	})
}

// AlterOptions overlays raw onto the table's current options.
func (t *Table) AlterOptions(ctx context.Context, raw map[string]string) error {
	return t.exec.Submit(ctx, func(ctx context.Context) error {
		entry := wal.Entry{Table: t.id, Kind: wal.PayloadAlterOptions, Options: raw}
		if err := t.wal.Append(ctx, []wal.Entry{entry}); err != nil {
			return base.WithKind(errors.Wrap(err, "table: wal append alter_options"), base.KindWAL)
		}
		if err := t.manifest.Apply(ctx, manifest.MetaEdit{Kind: manifest.EditAlterOptions, Space: t.space, Table: t.id, Options: raw}); err != nil {
			return base.WithKind(errors.Wrap(err, "table: apply alter_options"), base.KindManifest)
		}
		t.mu.Lock()
		merged := t.opts
		next := overlayOptions(merged, raw)
		t.opts = next
		t.mu.Unlock()
		if next.SegmentDuration > 0 {
			t.version.SetSegmentDuration(next.SegmentDuration)
		}
		return nil
	})
}

func overlayOptions(base TableOptions, raw map[string]string) TableOptions {
	current := tableOptionsToMap(base)
	for k, v := range raw {
		current[k] = v
	}
	return ParseTableOptions(current)
}

func (t *Table) persistOptions(ctx context.Context, opts TableOptions) {
	raw := tableOptionsToMap(opts)
	if err := t.manifest.Apply(ctx, manifest.MetaEdit{Kind: manifest.EditAlterOptions, Space: t.space, Table: t.id, Options: raw}); err != nil {
		t.log.Logf(logging.LevelWarn, "table %s: failed to persist inferred segment_duration: %v", t.id, err)
	}
}

// loadSST reads one SST's rows through the table's sst.Factory, the Loader
// PartitionedRead needs for its partition sources.
func (t *Table) loadSST(ctx context.Context, h manifest.FileHandle) ([]base.Row, error) {
	r, err := t.sstFactory.NewReader(ctx, h.SpaceID(), h.TableID(), h.ID())
	if err != nil {
		return nil, err
	}
	h.ReadRateMeter().RecordRead(int64(r.Meta().RowCount))
	return r.Rows()
}

// Read executes req against the table's current version and returns a
// single merged stream (read_parallelism forced to 1).
func (t *Table) Read(ctx context.Context, req read.Request) (<-chan base.RecordBatch, func() error) {
	req.ReadParallelism = 1
	outs, wait := read.PartitionedRead(ctx, t.version, t.Schema(), t.loadSST, req)
	return outs[0], wait
}

// PartitionedRead executes req and returns one channel per read lane.
func (t *Table) PartitionedRead(ctx context.Context, req read.Request) ([]<-chan base.RecordBatch, func() error) {
	return read.PartitionedRead(ctx, t.version, t.Schema(), t.loadSST, req)
}

// Get returns the row for pk, if any, reading the newest-sequence version
// across every memtable and SST that could hold it.
func (t *Table) Get(ctx context.Context, pk []byte) (base.Row, bool, error) {
	var found base.Row
	var ok bool
	req := read.Request{
		TimeRange: base.TimeRange{Start: -1 << 62, End: 1 << 62},
		Predicate: func(r base.Row) bool { return base.CompareKeys(r.Key, pk) == 0 },
		Order:     read.OrderAscending,
		NeedDedup: true,
	}
	ch, wait := t.Read(ctx, req)
	for batch := range ch {
		for _, r := range batch.Rows {
			found, ok = r, true
		}
	}
	if err := wait(); err != nil {
		return base.Row{}, false, err
	}
	return found, ok, nil
}

// drop marks the table dropped, trims its WAL entirely and applies a
// DropTable manifest edit. Idempotent: returns false if already dropped.
func (t *Table) drop(ctx context.Context) (bool, error) {
	if !atomic.CompareAndSwapInt32(&t.dropped, 0, 1) {
		return false, nil
	}
	err := t.exec.Submit(ctx, func(ctx context.Context) error {
		if err := t.wal.MarkDeleteUpTo(ctx, wal.SeqMax); err != nil {
			return base.WithKind(errors.Wrap(err, "table: wal trim on drop"), base.KindWAL)
		}
		return t.manifest.Apply(ctx, manifest.MetaEdit{Kind: manifest.EditDropTable, Space: t.space, Table: t.id})
	})
	return err == nil, err
}

func (t *Table) close() {
	t.exec.Close()
}
