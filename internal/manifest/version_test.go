package manifest

import (
	"testing"

	"github.com/chronodb/analytic/internal/base"
	"github.com/stretchr/testify/require"
)

func TestTableVersionSamplingGraduation(t *testing.T) {
	v := NewTableVersion(2, 1, 1, nil)
	require.Nil(t, v.SamplingMemTable())

	mt := v.MemTableForWrite(100, 1, 4096)
	require.True(t, mt.IsSampling())
	mt.Apply([]base.Row{{Key: []byte("a"), Sequence: 1, Timestamp: 100}})

	v.SetSegmentDuration(3600_000)
	require.Nil(t, v.SamplingMemTable(), "sampling memtable is retired on graduation")
	require.Len(t, v.MemTables(), 1, "graduated rows land in exactly one regular memtable")

	// A second SetSegmentDuration call must be a no-op (segment duration is
	// set once per table lifetime).
	v.SetSegmentDuration(60_000)
	require.EqualValues(t, 3600_000, v.SegmentDuration())
}

func TestTableVersionMemTableForWriteReusesBucket(t *testing.T) {
	v := NewTableVersion(2, 1, 1, nil)
	v.SetSegmentDuration(1000)
	mt1 := v.MemTableForWrite(1500, 1, 4096)
	mt2 := v.MemTableForWrite(1999, 2, 4096)
	require.Same(t, mt1, mt2, "both timestamps fall in bucket [1000,2000)")

	mt3 := v.MemTableForWrite(2000, 3, 4096)
	require.NotSame(t, mt1, mt3, "2000 starts a new bucket")
	require.Len(t, v.MemTables(), 2)
}

func TestTableVersionApplyEditAddRemove(t *testing.T) {
	purged := make(map[base.FileID]bool)
	purge := func(_ base.SpaceID, _ base.TableID, m FileMeta) { purged[m.FileID] = true }
	v := NewTableVersion(2, 1, 1, purge)

	v.ApplyEdit(VersionEdit{
		AddFiles:           []AddedFile{{Level: Level0, Meta: meta(1, 0, 100)}},
		HasFlushedSequence: true,
		FlushedSequence:    5,
	})
	require.EqualValues(t, 5, v.FlushedSequence())
	require.Equal(t, 1, v.Level(Level0).Len())

	v.ApplyEdit(VersionEdit{
		AddFiles:    []AddedFile{{Level: Level1, Meta: meta(2, 0, 100)}},
		RemoveFiles: []RemovedFile{{Level: Level0, FileID: 1}},
	})
	require.Equal(t, 0, v.Level(Level0).Len())
	require.Equal(t, 1, v.Level(Level1).Len())
	require.True(t, purged[1], "file removed from the version with no other owner is purged")

	// flushed_sequence must be monotone: a later edit that doesn't set it
	// leaves it unchanged rather than resetting to zero.
	require.EqualValues(t, 5, v.FlushedSequence())
}

func TestPickReadViewFiltersByRange(t *testing.T) {
	v := NewTableVersion(2, 1, 1, nil)
	v.ApplyEdit(VersionEdit{AddFiles: []AddedFile{
		{Level: Level0, Meta: meta(1, 0, 100)},
		{Level: Level0, Meta: meta(2, 500, 600)},
	}})
	view := v.PickReadView(base.TimeRange{Start: 0, End: 200})
	require.Len(t, view.Levels[Level0], 1)
	require.Equal(t, base.FileID(1), view.Levels[Level0][0].ID())
}
