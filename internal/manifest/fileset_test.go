package manifest

import (
	"testing"

	"github.com/chronodb/analytic/internal/base"
	"github.com/stretchr/testify/require"
)

func meta(id base.FileID, start, end base.Timestamp) FileMeta {
	return FileMeta{FileID: id, TimeRange: base.TimeRange{Start: start, End: end}, RowCount: 10, SizeBytes: 100}
}

func TestFileHandleSetOrderingAndPurgeOnRemove(t *testing.T) {
	purged := make(map[base.FileID]bool)
	purge := func(_ base.SpaceID, _ base.TableID, m FileMeta) { purged[m.FileID] = true }

	s := NewFileHandleSet()
	h1 := NewFileHandle(1, 1, meta(1, 0, 100), purge)
	h2 := NewFileHandle(1, 1, meta(2, 100, 200), purge)
	h3 := NewFileHandle(1, 1, meta(3, 50, 150), purge)
	s.Insert(h1)
	s.Insert(h2)
	s.Insert(h3)

	require.Equal(t, 3, s.Len())
	latest, ok := s.Latest()
	require.True(t, ok)
	require.Equal(t, base.FileID(2), latest.ID(), "latest is max by (end, start, id); h2 ends at 200")

	picked := s.PickByRange(base.TimeRange{Start: 40, End: 60})
	require.Len(t, picked, 2, "files 1 and 3 intersect [40,60)")

	removed := s.RemoveByIDs([]base.FileID{1})
	require.Len(t, removed, 1)
	require.Equal(t, 2, s.Len())
	for _, h := range removed {
		h.Release()
	}
	require.True(t, purged[1], "releasing the last ref to a removed file enqueues a purge")
	require.False(t, purged[2])
}

func TestFileHandleSetPickByRangeNonMonotoneStart(t *testing.T) {
	// A=(5,12), B=(25,30), C=(8,35): ordered by end this is A, B, C, so a
	// scan that stops at the first start >= query end would quit at B and
	// miss C even though C intersects.
	s := NewFileHandleSet()
	a := NewFileHandle(1, 1, meta(1, 5, 12), nil)
	b := NewFileHandle(1, 1, meta(2, 25, 30), nil)
	c := NewFileHandle(1, 1, meta(3, 8, 35), nil)
	s.Insert(a)
	s.Insert(b)
	s.Insert(c)

	picked := s.PickByRange(base.TimeRange{Start: 10, End: 20})
	ids := make([]base.FileID, 0, len(picked))
	for _, h := range picked {
		ids = append(ids, h.ID())
	}
	require.ElementsMatch(t, []base.FileID{1, 3}, ids, "A and C intersect [10,20); B does not")
}

func TestFileHandleSetCollectExpired(t *testing.T) {
	s := NewFileHandleSet()
	s.Insert(NewFileHandle(1, 1, meta(1, 0, 100), nil))
	s.Insert(NewFileHandle(1, 1, meta(2, 100, 200), nil))
	s.Insert(NewFileHandle(1, 1, meta(3, 200, 300), nil))

	expired := s.CollectExpired(150)
	require.Len(t, expired, 1)
	require.Equal(t, base.FileID(1), expired[0].ID())
}

func TestFileHandleRefCounting(t *testing.T) {
	purgedCount := 0
	purge := func(_ base.SpaceID, _ base.TableID, _ FileMeta) { purgedCount++ }
	h := NewFileHandle(1, 1, meta(1, 0, 100), purge)
	clone := h.Ref()
	require.EqualValues(t, 2, h.RefCount())
	h.Release()
	require.Equal(t, 0, purgedCount)
	clone.Release()
	require.Equal(t, 1, purgedCount)
}

func TestBeingCompactedMutualExclusion(t *testing.T) {
	h := NewFileHandle(1, 1, meta(1, 0, 100), nil)
	require.True(t, h.SetBeingCompacted(true))
	require.False(t, h.SetBeingCompacted(true), "second claim must fail")
	require.True(t, h.SetBeingCompacted(false))
}
