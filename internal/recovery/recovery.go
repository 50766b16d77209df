// Package recovery implements the WalReplayer spec.md §4.8 describes:
// replaying a table's WAL partition back into its memtables on open, in
// both TableBased (one WAL stream per table) and ShardBased (one WAL stream
// shared by every table of a shard, demultiplexed by table id) modes.
// Grounded almost directly on original_source's
// analytic_engine/src/instance/open.rs (recover_table_from_wal /
// replay_table_log_entries): replay range is (flushed_sequence, MAX],
// entries stream in batches, a schema-version mismatch on a Write entry is
// skipped with a warning rather than failing the whole replay, and
// AlterSchema/AlterOptions entries are ignored since the manifest already
// reflects them.
package recovery

import (
	"context"

	"github.com/chronodb/analytic/internal/base"
	"github.com/chronodb/analytic/internal/logging"
	"github.com/chronodb/analytic/internal/manifest"
	"github.com/chronodb/analytic/internal/wal"
	"github.com/cockroachdb/errors"
)

// Mode selects how a Replayer's WAL stream maps to tables (spec.md §4.8's
// two recover modes).
type Mode int

const (
	TableBased Mode = iota
	ShardBased
)

// Target is what the replayer needs to replay entries into one table: its
// live TableVersion (to discover where to resume and where to apply rows),
// the schema version current writes should match, and the write-path
// knobs a replayed row needs (arena block size, the byte threshold that
// should trigger a flush mid-replay).
type Target struct {
	Table             base.TableID
	Version           *manifest.TableVersion
	SchemaVersion     base.SchemaVersion
	ArenaBlockSize    int64
	FlushBytesTrigger int64
	// OnFlushTrigger is called (at most once per crossing) when a memtable
	// touched during replay crosses FlushBytesTrigger, so the caller can
	// schedule a flush the same way the live write path does (spec.md §4.8
	// step 5). May be nil.
	OnFlushTrigger func(table base.TableID)
}

// Replayer streams WAL entries in batches and applies them to the
// registered tables' memtables.
type Replayer struct {
	log       wal.Log
	batchSize int
	logger    logging.Logger
}

// New returns a Replayer reading from l in batches of batchSize (spec.md
// §6.4's replay_batch_size).
func New(l wal.Log, batchSize int, logger logging.Logger) *Replayer {
	if batchSize <= 0 {
		batchSize = 500
	}
	if logger == nil {
		logger = logging.Nop
	}
	return &Replayer{log: l, batchSize: batchSize, logger: logger}
}

// ReplayTable runs TableBased recovery for one table: reads every WAL entry
// after target.Version's current flushed_sequence, applying target's own
// entries and ignoring anyone else's if the log happens to be shared.
// Returns the sequence of the last entry seen, for TableData.last_sequence.
func (r *Replayer) ReplayTable(ctx context.Context, target Target) (base.SequenceNumber, error) {
	after := target.Version.FlushedSequence()
	lastSeq := after

	err := r.log.Read(ctx, after, r.batchSize, func(entries []wal.Entry) error {
		for _, e := range entries {
			if e.Table != target.Table {
				continue
			}
			if err := r.applyEntry(target, e); err != nil {
				return err
			}
			if e.Sequence > lastSeq {
				lastSeq = e.Sequence
			}
		}
		return nil
	})
	if err != nil {
		return 0, base.WithKind(errors.Wrapf(err, "recovery: replay table %s", target.Table), base.KindRecoverFailed)
	}
	return lastSeq, nil
}

// ReplayShard runs ShardBased recovery: one WAL stream shared by every
// table in targets, demultiplexed by table id and applied in the sequence
// order the stream already carries. Returns each table's last-seen
// sequence, keyed by table id.
func (r *Replayer) ReplayShard(ctx context.Context, targets map[base.TableID]Target) (map[base.TableID]base.SequenceNumber, error) {
	lastSeq := make(map[base.TableID]base.SequenceNumber, len(targets))
	minAfter := base.SeqNumMax
	for id, t := range targets {
		flushed := t.Version.FlushedSequence()
		lastSeq[id] = flushed
		if flushed < minAfter {
			minAfter = flushed
		}
	}
	if len(targets) == 0 {
		return lastSeq, nil
	}

	err := r.log.Read(ctx, minAfter, r.batchSize, func(entries []wal.Entry) error {
		for _, e := range entries {
			target, ok := targets[e.Table]
			if !ok {
				continue
			}
			if e.Sequence > target.Version.FlushedSequence() {
				if err := r.applyEntry(target, e); err != nil {
					return err
				}
			}
			if e.Sequence > lastSeq[e.Table] {
				lastSeq[e.Table] = e.Sequence
			}
		}
		return nil
	})
	if err != nil {
		return nil, base.WithKind(errors.Wrap(err, "recovery: replay shard"), base.KindRecoverFailed)
	}
	return lastSeq, nil
}

func (r *Replayer) applyEntry(target Target, e wal.Entry) error {
	switch e.Kind {
	case wal.PayloadAlterSchema, wal.PayloadAlterOptions:
		// Already folded into the manifest snapshot TableVersion was
		// installed from; nothing left to replay.
		return nil
	case wal.PayloadWrite:
		if e.SchemaVersion != target.SchemaVersion {
			r.logger.Logf(logging.LevelWarn,
				"recovery: table %s skipping entry seq %d: schema version %d != current %d",
				target.Table, e.Sequence, e.SchemaVersion, target.SchemaVersion)
			return nil
		}
		for _, row := range e.Rows {
			mt := target.Version.MemTableForWrite(row.Timestamp, e.Sequence, target.ArenaBlockSize)
			before := mt.ByteSize()
			mt.Apply([]base.Row{row})
			crossed := before < target.FlushBytesTrigger && mt.ByteSize() >= target.FlushBytesTrigger
			if target.FlushBytesTrigger > 0 && crossed && target.OnFlushTrigger != nil {
				target.OnFlushTrigger(target.Table)
			}
		}
		return nil
	default:
		return nil
	}
}
