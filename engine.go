// Package analytic is the root facade: Engine opens tables backed by a
// manifest store, a write-ahead log and an object store, and wires each
// table's flush/compaction/read machinery together. Grounded on the
// teacher's top-level DB type (one struct owning every subsystem, exposing
// a small facade while the internal packages do the real work) generalized
// from a single keyspace to many tables grouped into spaces.
package analytic

import (
	"context"
	"sync"

	"github.com/chronodb/analytic/internal/base"
	"github.com/chronodb/analytic/internal/compaction"
	"github.com/chronodb/analytic/internal/logging"
	"github.com/chronodb/analytic/internal/manifest"
	"github.com/chronodb/analytic/internal/objstore"
	"github.com/chronodb/analytic/internal/purge"
	"github.com/chronodb/analytic/internal/recovery"
	"github.com/chronodb/analytic/internal/space"
	"github.com/chronodb/analytic/internal/sst"
	"github.com/chronodb/analytic/internal/wal"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	emetrics "github.com/chronodb/analytic/internal/metrics"
)

// EngineDeps are the backends Engine is opened against: everything
// spec.md's Persisted Layouts section calls out as a swappable boundary.
type EngineDeps struct {
	Manifest    manifest.Store
	WAL         wal.Log
	ObjectStore objstore.ObjectStore
	Logger      logging.Logger
	Registerer  prometheus.Registerer
}

type tableKey struct {
	space base.SpaceID
	table base.TableID
}

// Engine owns every open table plus the process-wide purger and compaction
// scheduler shared across them.
type Engine struct {
	runID uuid.UUID // correlation id for this process's log lines, not persisted

	manifestStore manifest.Store
	wal           wal.Log
	objStore      objstore.ObjectStore
	sstFactory    *sst.Factory
	metrics       *emetrics.Engine
	log           logging.Logger
	opts          EngineOptions

	spaces *space.Spaces

	purgeQueue *purge.Queue
	purger     *purge.Purger
	purgeFunc  manifest.PurgeFunc

	compactor           *compaction.Compactor
	compactionScheduler *compaction.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	tables map[tableKey]*Table

	closeOnce sync.Once
}

// Open constructs an Engine over deps and starts its background purger and
// compaction scheduler loops.
func Open(ctx context.Context, deps EngineDeps, opts EngineOptions) (*Engine, error) {
	if deps.Manifest == nil || deps.WAL == nil || deps.ObjectStore == nil {
		return nil, errors.New("analytic: Open requires Manifest, WAL and ObjectStore")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop
	}
	m := emetrics.NewEngine(deps.Registerer)
	factory := sst.NewFactory(deps.ObjectStore)

	runCtx, cancel := context.WithCancel(ctx)
	e := &Engine{
		runID:         uuid.New(),
		manifestStore: deps.Manifest,
		wal:           deps.WAL,
		objStore:      deps.ObjectStore,
		sstFactory:    factory,
		metrics:       m,
		log:           logger,
		opts:          opts,
		spaces:        space.NewSpaces(),
		ctx:           runCtx,
		cancel:        cancel,
		tables:        make(map[tableKey]*Table),
	}

	e.purgeQueue = purge.NewQueue(1024)
	e.purger = purge.New(e.purgeQueue, deps.ObjectStore, logger, m)
	e.purgeFunc = e.purger.BindFileHandle()

	e.compactor = compaction.New(factory, deps.Manifest, logger, m, compaction.Options{})
	e.compactionScheduler = compaction.NewScheduler(e.compactor, compaction.SchedulerOptions{
		ScheduleInterval: opts.CompactionScheduleInterval,
	}, logger, m, nil)

	e.wg.Add(2)
	go func() { defer e.wg.Done(); e.purger.Run(e.ctx) }()
	go func() { defer e.wg.Done(); e.compactionScheduler.Run(e.ctx) }()

	logger.Logf(logging.LevelInfo, "engine: opened run_id=%s", e.runID)
	return e, nil
}

// RunID returns the correlation id generated for this process's open call,
// for callers that want to tag their own log lines against the same run.
func (e *Engine) RunID() uuid.UUID { return e.runID }

func (e *Engine) registerTable(t *Table) {
	e.mu.Lock()
	e.tables[tableKey{space: t.space, table: t.id}] = t
	e.mu.Unlock()

	e.spaces.GetOrCreate(t.space).Register(t.id, t)
	e.compactionScheduler.Register(&compaction.TableEntry{
		Space: t.space, Table: t.id, Version: t.version,
		Target: compaction.Target{
			Space: t.space, Table: t.id, Schema: t.Schema(),
			SegmentDurationMs: t.Options().SegmentDuration,
			Dedup:             t.Options().NeedDedup,
			RowsPerRowGroup:   t.Options().NumRowsPerRowGroup,
			Compression:       t.Options().Compression,
			NextFileID:        t.nextFileID,
		},
		L0FileNumTrigger: t.Options().CompactionL0FileNumTrigger,
		L0SizeTrigger:    t.Options().CompactionL0SizeTrigger,
		TTL:              t.Options().TTL,
	})
	e.wg.Add(1)
	go func() { defer e.wg.Done(); t.exec.Run(e.ctx) }()
}

func (e *Engine) lookupTable(space base.SpaceID, table base.TableID) (*Table, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tables[tableKey{space: space, table: table}]
	return t, ok
}

// CreateTableRequest describes a brand new table.
type CreateTableRequest struct {
	Space   base.SpaceID
	Table   base.TableID
	Name    string
	Schema  base.Schema
	ShardID base.ShardID
	Options map[string]string
}

// CreateTable registers a new table in the manifest and opens it.
func (e *Engine) CreateTable(ctx context.Context, req CreateTableRequest) (*Table, error) {
	if err := req.Schema.Validate(); err != nil {
		return nil, base.WithKind(err, base.KindSchemaMismatch)
	}
	if _, exists := e.lookupTable(req.Space, req.Table); exists {
		return nil, base.NewKind(base.KindTableAlreadyExists, "table %s already open", req.Table)
	}

	edit := manifest.MetaEdit{
		Kind: manifest.EditAddTable, Space: req.Space, Table: req.Table,
		TableName: req.Name, Schema: req.Schema, ShardID: req.ShardID, Options: req.Options,
	}
	if err := e.manifestStore.Apply(ctx, edit); err != nil {
		return nil, base.WithKind(errors.Wrap(err, "engine: create_table apply"), base.KindManifest)
	}

	opts := ParseTableOptions(req.Options)
	t := newTable(e, req.Space, req.Table, req.Name, req.Schema, opts, nil)
	e.registerTable(t)
	return t, nil
}

// OpenTableRequest identifies a table to recover in TableBased mode: one
// WAL stream per table.
type OpenTableRequest struct {
	Space base.SpaceID
	Table base.TableID
}

// OpenTable loads a table's manifest snapshot and replays its WAL partition
// independently of any other table (spec.md §4.8's TableBased mode).
// Returns (nil, nil) if the table doesn't exist or was already dropped.
func (e *Engine) OpenTable(ctx context.Context, req OpenTableRequest) (*Table, error) {
	if t, exists := e.lookupTable(req.Space, req.Table); exists {
		return t, nil
	}

	md, err := e.manifestStore.Load(ctx, req.Space, req.Table)
	if err != nil {
		return nil, base.WithKind(errors.Wrap(err, "engine: open_table load manifest"), base.KindManifest)
	}
	if md == nil || md.Dropped {
		return nil, nil
	}

	opts := ParseTableOptions(md.Options)
	t := newTable(e, req.Space, req.Table, md.TableName, md.Schema, opts, md)

	lastSeq, err := e.replayTable(ctx, t, md, opts)
	if err != nil {
		return nil, err
	}
	t.bumpSeq(lastSeq)

	e.registerTable(t)
	return t, nil
}

// TableDef names one table a shard owns, for OpenShard.
type TableDef struct {
	Space base.SpaceID
	Table base.TableID
}

// OpenShardRequest recovers every table of one shard from a single shared
// WAL stream (spec.md §4.8's ShardBased mode).
type OpenShardRequest struct {
	ShardID base.ShardID
	Tables  []TableDef
}

// OpenResult is one table's outcome from OpenShard: either an opened Table,
// a nil Table (didn't exist / already dropped), or an error.
type OpenResult struct {
	Table *Table
	Err   error
}

// OpenShard loads every table named in req, then replays the shard's single
// WAL stream once, demultiplexed by table id.
func (e *Engine) OpenShard(ctx context.Context, req OpenShardRequest) map[base.TableID]OpenResult {
	results := make(map[base.TableID]OpenResult, len(req.Tables))
	tables := make(map[base.TableID]*Table)
	targets := make(map[base.TableID]recovery.Target)

	for _, def := range req.Tables {
		if t, exists := e.lookupTable(def.Space, def.Table); exists {
			results[def.Table] = OpenResult{Table: t}
			continue
		}
		md, err := e.manifestStore.Load(ctx, def.Space, def.Table)
		if err != nil {
			results[def.Table] = OpenResult{Err: base.WithKind(errors.Wrap(err, "engine: open_shard load manifest"), base.KindManifest)}
			continue
		}
		if md == nil || md.Dropped {
			results[def.Table] = OpenResult{}
			continue
		}
		opts := ParseTableOptions(md.Options)
		t := newTable(e, def.Space, def.Table, md.TableName, md.Schema, opts, md)
		tables[def.Table] = t
		targets[def.Table] = recovery.Target{
			Table: def.Table, Version: t.version, SchemaVersion: md.Schema.Version,
			ArenaBlockSize: opts.ArenaBlockSize, FlushBytesTrigger: opts.WriteBufferSize,
			OnFlushTrigger: func(table base.TableID) {
				if tt, ok := tables[table]; ok {
					tt.flushAsync(ctx)
				}
			},
		}
	}

	if len(targets) > 0 {
		replayer := recovery.New(e.wal, firstReplayBatchSize(tables), e.log)
		lastSeqs, err := replayer.ReplayShard(ctx, targets)
		if err != nil {
			for id, t := range tables {
				results[id] = OpenResult{Err: base.WithKind(errors.Wrapf(err, "engine: open_shard replay table %s", t.id), base.KindRecoverFailed)}
			}
			return results
		}
		for id, t := range tables {
			t.bumpSeq(lastSeqs[id])
			e.registerTable(t)
			results[id] = OpenResult{Table: t}
		}
	}
	return results
}

func firstReplayBatchSize(tables map[base.TableID]*Table) int {
	for _, t := range tables {
		return t.Options().ReplayBatchSize
	}
	return 500
}

func (e *Engine) replayTable(ctx context.Context, t *Table, md *manifest.TableManifestData, opts TableOptions) (base.SequenceNumber, error) {
	replayer := recovery.New(e.wal, opts.ReplayBatchSize, e.log)
	target := recovery.Target{
		Table: t.id, Version: t.version, SchemaVersion: md.Schema.Version,
		ArenaBlockSize: opts.ArenaBlockSize, FlushBytesTrigger: opts.WriteBufferSize,
		OnFlushTrigger: func(base.TableID) { t.flushAsync(ctx) },
	}
	return replayer.ReplayTable(ctx, target)
}

// DropTable drops an open table. Returns false, without error, if the table
// wasn't open or was already dropped — the idempotent semantics spec.md
// §4.10 requires.
func (e *Engine) DropTable(ctx context.Context, space base.SpaceID, table base.TableID) (bool, error) {
	t, exists := e.lookupTable(space, table)
	if !exists {
		return false, nil
	}
	ok, err := t.drop(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	e.mu.Lock()
	delete(e.tables, tableKey{space: space, table: table})
	e.mu.Unlock()
	if sp, found := e.spaces.Get(space); found {
		sp.Unregister(table)
	}
	e.compactionScheduler.Unregister(table)
	t.close()
	return true, nil
}

// Close cancels the engine context, which stops the compaction scheduler
// loop and every table's executor loop, closes the purge queue, waits for
// the purger to drain it and for those loops to exit, then closes every
// table's executor. Compaction jobs and asynchronous flushes already
// running in their own goroutines are not awaited.
func (e *Engine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.cancel()
		e.purgeQueue.Close()
		e.wg.Wait()

		e.mu.Lock()
		tables := make([]*Table, 0, len(e.tables))
		for _, t := range e.tables {
			tables = append(tables, t)
		}
		e.tables = make(map[tableKey]*Table)
		e.mu.Unlock()

		for _, t := range tables {
			t.close()
		}
	})
	return nil
}
