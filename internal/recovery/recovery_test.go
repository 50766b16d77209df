package recovery

import (
	"context"
	"testing"

	"github.com/chronodb/analytic/internal/base"
	"github.com/chronodb/analytic/internal/manifest"
	"github.com/chronodb/analytic/internal/wal"
	"github.com/stretchr/testify/require"
)

func row(key string, ts base.Timestamp) base.Row {
	return base.Row{Key: []byte(key), Timestamp: ts, Values: []interface{}{key, ts}}
}

func TestReplayTableAppliesWritesAndSkipsAlterEntries(t *testing.T) {
	l := wal.NewMemLog()
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, []wal.Entry{
		{Sequence: 1, Table: 1, Kind: wal.PayloadWrite, SchemaVersion: 1, Rows: []base.Row{row("a", 10)}},
		{Sequence: 2, Table: 1, Kind: wal.PayloadAlterSchema, SchemaVersion: 2},
		{Sequence: 3, Table: 1, Kind: wal.PayloadWrite, SchemaVersion: 2, Rows: []base.Row{row("b", 20)}},
	}))

	v := manifest.NewTableVersion(2, 1, 1, nil)
	v.SetSegmentDuration(1000)

	r := New(l, 10, nil)
	target := Target{Table: 1, Version: v, SchemaVersion: 2, ArenaBlockSize: 4096}
	lastSeq, err := r.ReplayTable(ctx, target)
	require.NoError(t, err)
	require.EqualValues(t, 3, lastSeq)

	mts := v.MemTables()
	var total int
	for _, mt := range mts {
		total += mt.RowCount()
	}
	require.Equal(t, 1, total, "only the seq-3 write matches the current schema version")
}

func TestReplayTableSkipsSchemaMismatchButAdvancesSequence(t *testing.T) {
	l := wal.NewMemLog()
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, []wal.Entry{
		{Sequence: 1, Table: 1, Kind: wal.PayloadWrite, SchemaVersion: 1, Rows: []base.Row{row("a", 10)}},
	}))

	v := manifest.NewTableVersion(2, 1, 1, nil)
	v.SetSegmentDuration(1000)

	r := New(l, 10, nil)
	target := Target{Table: 1, Version: v, SchemaVersion: 2, ArenaBlockSize: 4096}
	lastSeq, err := r.ReplayTable(ctx, target)
	require.NoError(t, err)
	require.EqualValues(t, 1, lastSeq)

	for _, mt := range v.MemTables() {
		require.Equal(t, 0, mt.RowCount())
	}
}

func TestReplayTableResumesAfterFlushedSequence(t *testing.T) {
	l := wal.NewMemLog()
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, []wal.Entry{
		{Sequence: 1, Table: 1, Kind: wal.PayloadWrite, SchemaVersion: 1, Rows: []base.Row{row("a", 10)}},
		{Sequence: 2, Table: 1, Kind: wal.PayloadWrite, SchemaVersion: 1, Rows: []base.Row{row("b", 20)}},
	}))

	v := manifest.NewTableVersion(2, 1, 1, nil)
	v.SetSegmentDuration(1000)
	v.ApplyEdit(manifest.VersionEdit{HasFlushedSequence: true, FlushedSequence: 1})

	r := New(l, 10, nil)
	target := Target{Table: 1, Version: v, SchemaVersion: 1, ArenaBlockSize: 4096}
	lastSeq, err := r.ReplayTable(ctx, target)
	require.NoError(t, err)
	require.EqualValues(t, 2, lastSeq)

	var total int
	for _, mt := range v.MemTables() {
		total += mt.RowCount()
	}
	require.Equal(t, 1, total, "only seq 2 is after flushed_sequence")
}

func TestReplayShardDemultiplexesByTable(t *testing.T) {
	l := wal.NewMemLog()
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, []wal.Entry{
		{Sequence: 1, Table: 1, Kind: wal.PayloadWrite, SchemaVersion: 1, Rows: []base.Row{row("a", 10)}},
		{Sequence: 2, Table: 2, Kind: wal.PayloadWrite, SchemaVersion: 1, Rows: []base.Row{row("x", 10)}},
		{Sequence: 3, Table: 1, Kind: wal.PayloadWrite, SchemaVersion: 1, Rows: []base.Row{row("b", 20)}},
	}))

	v1 := manifest.NewTableVersion(2, 1, 1, nil)
	v1.SetSegmentDuration(1000)
	v2 := manifest.NewTableVersion(2, 1, 2, nil)
	v2.SetSegmentDuration(1000)

	r := New(l, 10, nil)
	targets := map[base.TableID]Target{
		1: {Table: 1, Version: v1, SchemaVersion: 1, ArenaBlockSize: 4096},
		2: {Table: 2, Version: v2, SchemaVersion: 1, ArenaBlockSize: 4096},
	}
	lastSeq, err := r.ReplayShard(ctx, targets)
	require.NoError(t, err)
	require.EqualValues(t, 3, lastSeq[1])
	require.EqualValues(t, 2, lastSeq[2])

	var total1, total2 int
	for _, mt := range v1.MemTables() {
		total1 += mt.RowCount()
	}
	for _, mt := range v2.MemTables() {
		total2 += mt.RowCount()
	}
	require.Equal(t, 2, total1)
	require.Equal(t, 1, total2)
}

func TestReplayTableTriggersFlushCallbackOnByteThreshold(t *testing.T) {
	l := wal.NewMemLog()
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, []wal.Entry{
		{Sequence: 1, Table: 1, Kind: wal.PayloadWrite, SchemaVersion: 1, Rows: []base.Row{row("a", 10)}},
	}))

	v := manifest.NewTableVersion(2, 1, 1, nil)
	v.SetSegmentDuration(1000)

	var triggered base.TableID
	r := New(l, 10, nil)
	target := Target{
		Table: 1, Version: v, SchemaVersion: 1, ArenaBlockSize: 4096,
		FlushBytesTrigger: 1,
		OnFlushTrigger:    func(table base.TableID) { triggered = table },
	}
	_, err := r.ReplayTable(ctx, target)
	require.NoError(t, err)
	require.EqualValues(t, 1, triggered)
}
