package read

import (
	"context"
	"testing"

	"github.com/chronodb/analytic/internal/base"
	"github.com/chronodb/analytic/internal/manifest"
	"github.com/chronodb/analytic/internal/objstore"
	"github.com/chronodb/analytic/internal/sst"
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

func TestMergeIteratorOrdersAscendingAndBreaksTiesByHighestSequence(t *testing.T) {
	a := []base.Row{rowFixture("a", 1, 0), rowFixture("c", 1, 0)}
	b := []base.Row{rowFixture("b", 2, 0), rowFixture("c", 3, 0)}

	m := NewMergeIterator([][]base.Row{a, b})
	var got []base.Row
	for {
		row, ok := m.Next()
		if !ok {
			break
		}
		got = append(got, row)
	}
	require.Len(t, got, 4)
	require.Equal(t, "a", string(got[0].Key))
	require.Equal(t, "b", string(got[1].Key))
	require.Equal(t, "c", string(got[2].Key))
	require.EqualValues(t, 3, got[2].Sequence, "higher sequence wins the tie and sorts first")
	require.Equal(t, "c", string(got[3].Key))
}

func TestDedupIteratorKeepsOnlyHighestSequencePerKey(t *testing.T) {
	a := []base.Row{rowFixture("a", 1, 0)}
	b := []base.Row{rowFixture("a", 2, 0)}

	d := NewDedupIterator(NewMergeIterator([][]base.Row{a, b}))
	row, ok := d.Next()
	require.True(t, ok)
	require.EqualValues(t, 2, row.Sequence)
	_, ok = d.Next()
	require.False(t, ok)
}

func TestChainIteratorConcatenatesWithoutSortOrDedup(t *testing.T) {
	a := []base.Row{rowFixture("b", 1, 0)}
	b := []base.Row{rowFixture("a", 2, 0)}

	c := NewChainIterator([][]base.Row{a, b})
	row1, ok := c.Next()
	require.True(t, ok)
	require.Equal(t, "b", string(row1.Key))
	row2, ok := c.Next()
	require.True(t, ok)
	require.Equal(t, "a", string(row2.Key))
	_, ok = c.Next()
	require.False(t, ok)
}

func TestPartitionSplitsBySegmentAndSkipsWhileSampling(t *testing.T) {
	v := manifest.NewTableVersion(2, 1, 1, nil)
	v.MemTableForWrite(50, 1, 4096) // sampling phase, duration unknown

	view := v.PickReadView(base.TimeRange{Start: 0, End: 1000})
	parts := Partition(view, v.SegmentDuration(), base.TimeRange{Start: 0, End: 1000})
	require.Len(t, parts, 1, "sampling memtable forces a single partition")

	v.SetSegmentDuration(100)
	v.MemTableForWrite(50, 2, 4096)
	v.MemTableForWrite(250, 3, 4096)

	view = v.PickReadView(base.TimeRange{Start: 0, End: 1000})
	parts = Partition(view, v.SegmentDuration(), base.TimeRange{Start: 0, End: 1000})
	require.Len(t, parts, 2)
	require.EqualValues(t, 0, parts[0].bucket.Start)
	require.EqualValues(t, 200, parts[1].bucket.Start)
}

func TestPartitionedReadMergesMemTableAndSSTRows(t *testing.T) {
	store := objstore.NewMemStore()
	factory := sst.NewFactory(store)
	ctx := context.Background()

	v := manifest.NewTableVersion(2, 1, 1, nil)
	v.SetSegmentDuration(1000)

	mt := v.MemTableForWrite(10, 1, 4096)
	mt.Apply([]base.Row{rowFixture("a", 1, 10)})

	w, err := factory.NewWriter(ctx, sst.WriterOptions{
		Space: 1, Table: 1, FileID: 1, Schema: schemaFixture(),
		RowsPerRowGroup: 100, Compression: sst.CompressionNone,
	})
	require.NoError(t, err)
	w.SetTimeRange(base.TimeRange{Start: 0, End: 1000})
	require.NoError(t, w.WriteRow(rowFixture("b", 2, 20)))
	meta, err := w.Close(ctx)
	require.NoError(t, err)
	v.ApplyEdit(manifest.VersionEdit{AddFiles: []manifest.AddedFile{{Level: manifest.Level0, Meta: meta}}})

	load := func(ctx context.Context, h manifest.FileHandle) ([]base.Row, error) {
		r, err := factory.NewReader(ctx, h.SpaceID(), h.TableID(), h.ID())
		if err != nil {
			return nil, err
		}
		return r.Rows()
	}

	req := Request{TimeRange: base.TimeRange{Start: 0, End: 1000}, Order: OrderAscending, BatchSize: 10}
	outs, wait := PartitionedRead(ctx, v, schemaFixture(), load, req)
	require.Len(t, outs, 1)

	var rows []base.Row
	for rb := range outs[0] {
		rows = append(rows, rb.Rows...)
	}
	require.NoError(t, wait())
	require.Len(t, rows, 2)
	require.Equal(t, "a", string(rows[0].Key))
	require.Equal(t, "b", string(rows[1].Key))
}

func TestPartitionedReadAppliesPredicate(t *testing.T) {
	ctx := context.Background()

	v := manifest.NewTableVersion(2, 1, 1, nil)
	v.SetSegmentDuration(1000)
	mt := v.MemTableForWrite(10, 1, 4096)
	mt.Apply([]base.Row{rowFixture("a", 1, 10), rowFixture("b", 2, 20)})

	load := func(ctx context.Context, h manifest.FileHandle) ([]base.Row, error) { return nil, nil }
	req := Request{
		TimeRange: base.TimeRange{Start: 0, End: 1000},
		Order:     OrderAscending,
		BatchSize: 10,
		Predicate: func(r base.Row) bool { return string(r.Key) == "b" },
	}
	outs, wait := PartitionedRead(ctx, v, schemaFixture(), load, req)
	var rows []base.Row
	for rb := range outs[0] {
		rows = append(rows, rb.Rows...)
	}
	require.NoError(t, wait())
	require.Len(t, rows, 1)
	require.Equal(t, "b", string(rows[0].Key))
}
