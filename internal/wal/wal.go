// Package wal defines the abstract write-ahead log the core depends on.
// spec.md explicitly puts WAL backend implementation out of scope ("the
// core treats WAL as an abstract append-only log per (shard, table)
// exposing append, read(range), mark_delete_up_to(seq)"); this package
// carries that interface plus two concrete logs (in-memory and a simple
// append-file one) so the rest of the engine and its tests have something
// real to run against.
package wal

import (
	"context"

	"github.com/chronodb/analytic/internal/base"
)

// PayloadKind tags one WAL entry's payload, matching spec.md §6.3's "per-shard
// log of Write | AlterSchema | AlterOptions payloads".
type PayloadKind int

const (
	PayloadWrite PayloadKind = iota
	PayloadAlterSchema
	PayloadAlterOptions
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadWrite:
		return "write"
	case PayloadAlterSchema:
		return "alter-schema"
	case PayloadAlterOptions:
		return "alter-options"
	default:
		return "unknown"
	}
}

// Entry is one WAL record. A ShardBased log shares entries of many tables in
// one stream, demultiplexed by Table; a TableBased log only ever holds
// entries for one table.
type Entry struct {
	Sequence base.SequenceNumber
	Table    base.TableID
	Kind     PayloadKind

	// Rows is populated for PayloadWrite.
	Rows []base.Row
	// SchemaVersion is populated for PayloadWrite (to detect stale replay
	// entries) and PayloadAlterSchema.
	SchemaVersion base.SchemaVersion
	// Options is populated for PayloadAlterOptions.
	Options map[string]string
}

// Log is the abstract per-(shard, table) write-ahead log. Implementations
// must make Append durable before returning (spec.md §7: "durability is
// provided by WAL").
type Log interface {
	// Append durably records entries, in order, and returns.
	Append(ctx context.Context, entries []Entry) error

	// Read streams entries with sequence > after, in ascending sequence order,
	// batchSize at a time, calling fn for each batch. Reading stops early if
	// fn returns an error, which Read then returns.
	Read(ctx context.Context, after base.SequenceNumber, batchSize int, fn func([]Entry) error) error

	// MarkDeleteUpTo tells the log that entries with sequence <= seq are no
	// longer needed (their data is durable in a flushed SST). Implementations
	// may reclaim space lazily; they must never delete entries above seq.
	MarkDeleteUpTo(ctx context.Context, seq base.SequenceNumber) error

	// Close releases any resources held by the log.
	Close() error
}

// SeqMax is the sentinel passed to MarkDeleteUpTo to trim a WAL partition
// entirely, as spec.md §4.10's drop_table does.
const SeqMax = base.SeqNumMax
