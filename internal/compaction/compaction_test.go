package compaction

import (
	"context"
	"testing"
	"time"

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

func newFileHandle(t *testing.T, factory *sst.Factory, space base.SpaceID, table base.TableID, fileID base.FileID, rows []base.Row, tr base.TimeRange) manifest.FileHandle {
	ctx := context.Background()
	w, err := factory.NewWriter(ctx, sst.WriterOptions{
		Space: space, Table: table, FileID: fileID, Schema: schemaFixture(),
		RowsPerRowGroup: 100, Compression: sst.CompressionNone,
	})
	require.NoError(t, err)
	w.SetTimeRange(tr)
	for _, r := range rows {
		require.NoError(t, w.WriteRow(r))
	}
	meta, err := w.Close(ctx)
	require.NoError(t, err)
	return manifest.NewFileHandle(space, table, meta, nil)
}

func TestPickL0TriggersOnFileCount(t *testing.T) {
	v := manifest.NewTableVersion(2, 1, 1, nil)
	store := objstore.NewMemStore()
	factory := sst.NewFactory(store)

	h1 := newFileHandle(t, factory, 1, 1, 1, []base.Row{rowFixture("a", 1, 10)}, base.TimeRange{Start: 0, End: 100})
	h2 := newFileHandle(t, factory, 1, 1, 2, []base.Row{rowFixture("b", 2, 20)}, base.TimeRange{Start: 0, End: 100})
	v.ApplyEdit(manifest.VersionEdit{AddFiles: []manifest.AddedFile{
		{Level: manifest.Level0, Meta: h1.Meta()},
		{Level: manifest.Level0, Meta: h2.Meta()},
	}})

	_, ok := PickL0(v, 3, 0)
	require.False(t, ok, "below trigger should not pick")

	job, ok := PickL0(v, 2, 0)
	require.True(t, ok)
	require.Len(t, job.Inputs, 2)
	require.False(t, job.Expiry)
}

func TestPickExpiredCollectsAcrossLevels(t *testing.T) {
	v := manifest.NewTableVersion(2, 1, 1, nil)
	store := objstore.NewMemStore()
	factory := sst.NewFactory(store)

	old := newFileHandle(t, factory, 1, 1, 1, []base.Row{rowFixture("a", 1, 10)}, base.TimeRange{Start: 0, End: 100})
	fresh := newFileHandle(t, factory, 1, 1, 2, []base.Row{rowFixture("b", 2, 20)}, base.TimeRange{Start: 9000, End: 9100})
	v.ApplyEdit(manifest.VersionEdit{AddFiles: []manifest.AddedFile{
		{Level: manifest.Level0, Meta: old.Meta()},
		{Level: manifest.Level1, Meta: fresh.Meta()},
	}})

	job, ok := PickExpired(v, time.Millisecond, base.Timestamp(9100))
	require.True(t, ok)
	require.True(t, job.Expiry)
	require.Len(t, job.Inputs, 1)
	require.EqualValues(t, 1, job.Inputs[0].Handle.ID())
}

func TestCompactorMergesAndDedupsIntoLevel1(t *testing.T) {
	store := objstore.NewMemStore()
	factory := sst.NewFactory(store)
	manifestStore := manifest.NewMemStore()
	c := New(factory, manifestStore, nil, nil, Options{})

	h1 := newFileHandle(t, factory, 1, 1, 1,
		[]base.Row{rowFixture("a", 1, 10), rowFixture("b", 2, 20)}, base.TimeRange{Start: 0, End: 1000})
	h2 := newFileHandle(t, factory, 1, 1, 2,
		[]base.Row{rowFixture("b", 3, 20)}, base.TimeRange{Start: 0, End: 1000})

	var nextID base.FileID = 10
	target := Target{
		Space: 1, Table: 1, Schema: schemaFixture(),
		SegmentDurationMs: 1000, Dedup: true,
		RowsPerRowGroup: 100, Compression: sst.CompressionNone,
		NextFileID: func() base.FileID { id := nextID; nextID++; return id },
	}
	job := Job{Inputs: []LeveledFile{
		{Level: manifest.Level0, Handle: h1},
		{Level: manifest.Level0, Handle: h2},
	}}

	ctx := context.Background()
	result, err := c.Compact(ctx, target, job)
	require.NoError(t, err)
	require.Len(t, result.Edit.AddFiles, 1)
	require.Equal(t, manifest.Level1, result.Edit.AddFiles[0].Level)
	require.EqualValues(t, 2, result.Edit.AddFiles[0].Meta.RowCount, "dedup keeps one row per key")
	require.Len(t, result.Edit.RemoveFiles, 2)

	out, err := factory.NewReader(ctx, 1, 1, result.Edit.AddFiles[0].Meta.FileID)
	require.NoError(t, err)
	rows, err := out.Rows()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		if string(r.Key) == "b" {
			require.EqualValues(t, 3, r.Sequence, "dedup keeps the higher sequence")
		}
	}
}

func TestCompactorExpiryProducesNoOutputs(t *testing.T) {
	store := objstore.NewMemStore()
	factory := sst.NewFactory(store)
	manifestStore := manifest.NewMemStore()
	c := New(factory, manifestStore, nil, nil, Options{})

	h1 := newFileHandle(t, factory, 1, 1, 1, []base.Row{rowFixture("a", 1, 10)}, base.TimeRange{Start: 0, End: 100})
	target := Target{Space: 1, Table: 1, Schema: schemaFixture(), NextFileID: func() base.FileID { return 99 }}
	job := Job{Inputs: []LeveledFile{{Level: manifest.Level0, Handle: h1}}, Expiry: true}

	result, err := c.Compact(context.Background(), target, job)
	require.NoError(t, err)
	require.Len(t, result.Edit.AddFiles, 0)
	require.Len(t, result.Edit.RemoveFiles, 1)
}

func TestSchedulerRunsManualCompactionAndAppliesEdit(t *testing.T) {
	store := objstore.NewMemStore()
	factory := sst.NewFactory(store)
	manifestStore := manifest.NewMemStore()
	c := New(factory, manifestStore, nil, nil, Options{})

	v := manifest.NewTableVersion(2, 1, 1, nil)
	h1 := newFileHandle(t, factory, 1, 1, 1,
		[]base.Row{rowFixture("a", 1, 10)}, base.TimeRange{Start: 0, End: 1000})
	h2 := newFileHandle(t, factory, 1, 1, 2,
		[]base.Row{rowFixture("b", 2, 20)}, base.TimeRange{Start: 0, End: 1000})
	v.ApplyEdit(manifest.VersionEdit{AddFiles: []manifest.AddedFile{
		{Level: manifest.Level0, Meta: h1.Meta()},
		{Level: manifest.Level0, Meta: h2.Meta()},
	}})

	var nextID base.FileID = 10
	sched := NewScheduler(c, SchedulerOptions{ScheduleInterval: time.Hour, MaxPending: 4}, nil, nil, nil)
	sched.Register(&TableEntry{
		Space: 1, Table: 1, Version: v,
		Target: Target{
			Space: 1, Table: 1, Schema: schemaFixture(), SegmentDurationMs: 1000,
			RowsPerRowGroup: 100, Compression: sst.CompressionNone,
			NextFileID: func() base.FileID { id := nextID; nextID++; return id },
		},
		L0FileNumTrigger: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go sched.Run(ctx)

	require.NoError(t, sched.RequestManual(ctx, 1))
	require.Equal(t, 1, v.Level(manifest.Level1).Len())
	require.Equal(t, 0, v.Level(manifest.Level0).Len())
}

func TestSchedulerManualBusyWhenQueueFull(t *testing.T) {
	store := objstore.NewMemStore()
	factory := sst.NewFactory(store)
	manifestStore := manifest.NewMemStore()
	c := New(factory, manifestStore, nil, nil, Options{})
	sched := NewScheduler(c, SchedulerOptions{ScheduleInterval: time.Hour, MaxPending: 1}, nil, nil, nil)

	// Fill the manual queue directly without a Run loop draining it so the
	// next RequestManual call observes it full.
	sched.manual <- manualRequest{table: 1, reply: make(chan error, 1)}

	ctx := context.Background()
	err := sched.RequestManual(ctx, 2)
	require.Error(t, err)
	require.True(t, base.Is(err, base.KindSchedulerBusy))
}
