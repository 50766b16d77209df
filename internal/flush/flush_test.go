package flush

import (
	"context"
	"testing"

	"github.com/chronodb/analytic/internal/base"
	"github.com/chronodb/analytic/internal/manifest"
	"github.com/chronodb/analytic/internal/memtable"
	"github.com/chronodb/analytic/internal/objstore"
	"github.com/chronodb/analytic/internal/sst"
	"github.com/chronodb/analytic/internal/wal"
	"github.com/stretchr/testify/require"
)

func schemaFixture() base.Schema {
	return base.Schema{
		Version: 1,
		Columns: []base.ColumnSchema{
			{Name: "k", Type: base.ColumnString},
			{Name: "ts", Type: base.ColumnTimestamp},
		},
		PrimaryKeyIndexes: []int{0},
		TimestampIndex:    1,
	}
}

func rowFixture(key string, seq base.SequenceNumber, ts base.Timestamp) base.Row {
	return base.Row{Key: []byte(key), Sequence: seq, Timestamp: ts, Values: []interface{}{key, ts}}
}

func TestFlushWritesSSTAndAppliesVersionEdit(t *testing.T) {
	store := objstore.NewMemStore()
	factory := sst.NewFactory(store)
	manifestStore := manifest.NewMemStore()
	f := New(factory, manifestStore, nil, nil, Options{})

	mt := memtable.New(1, base.TimeRange{Start: 0, End: 1000}, 4096)
	mt.Apply([]base.Row{rowFixture("a", 1, 10), rowFixture("b", 2, 20)})

	var nextID base.FileID = 1
	target := Target{
		Space: 1, Table: 1, Schema: schemaFixture(),
		RowsPerRowGroup: 100, Compression: sst.CompressionNone,
		NextFileID: func() base.FileID { id := nextID; nextID++; return id },
	}

	ctx := context.Background()
	result, err := f.Flush(ctx, target, []*memtable.MemTable{mt}, 2)
	require.NoError(t, err)
	require.Len(t, result.Edit.AddFiles, 1)
	require.Equal(t, manifest.Level0, result.Edit.AddFiles[0].Level)
	require.EqualValues(t, 2, result.Edit.AddFiles[0].Meta.RowCount)
	require.True(t, result.Edit.HasFlushedSequence)
	require.EqualValues(t, 2, result.Edit.FlushedSequence)

	data, err := manifestStore.Load(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, data.Files[manifest.Level0], 1)
	require.EqualValues(t, 2, data.FlushedSequence)
}

func TestFlushSkipsEmptyMemTables(t *testing.T) {
	store := objstore.NewMemStore()
	factory := sst.NewFactory(store)
	manifestStore := manifest.NewMemStore()
	f := New(factory, manifestStore, nil, nil, Options{})

	empty := memtable.New(1, base.TimeRange{}, 4096)
	target := Target{
		Space: 1, Table: 1, Schema: schemaFixture(),
		RowsPerRowGroup: 100, Compression: sst.CompressionNone,
		NextFileID: func() base.FileID { return 1 },
	}

	result, err := f.Flush(context.Background(), target, []*memtable.MemTable{empty}, 0)
	require.NoError(t, err)
	require.Len(t, result.Edit.AddFiles, 0)
}

func TestTrimWAL(t *testing.T) {
	l := wal.NewMemLog()
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, []wal.Entry{{Sequence: 1, Table: 1, Kind: wal.PayloadWrite}}))
	require.NoError(t, TrimWAL(ctx, l, 1))
	require.EqualValues(t, 1, l.TrimmedUpTo())
}
