package space

import (
	"testing"

	"github.com/chronodb/analytic/internal/base"
	"github.com/stretchr/testify/require"
)

type fakeEntry struct{ usage int64 }

func (f fakeEntry) MemtableMemoryUsage() int64 { return f.usage }

func TestSpaceAggregatesAndFindsLargestTable(t *testing.T) {
	s := New(1)
	s.Register(1, fakeEntry{usage: 10})
	s.Register(2, fakeEntry{usage: 30})
	s.Register(3, fakeEntry{usage: 20})

	require.EqualValues(t, 60, s.MemtableMemoryUsage())

	id, _, ok := s.LargestTable()
	require.True(t, ok)
	require.EqualValues(t, 2, id)

	s.Unregister(2)
	require.EqualValues(t, 30, s.MemtableMemoryUsage())
	require.Len(t, s.Tables(), 2)
}

func TestSpacesGetOrCreateIsIdempotent(t *testing.T) {
	spaces := NewSpaces()
	a := spaces.GetOrCreate(1)
	b := spaces.GetOrCreate(1)
	require.Same(t, a, b)

	_, ok := spaces.Get(2)
	require.False(t, ok)
}

func TestSpacesAggregatesAndFindsLargestSpace(t *testing.T) {
	spaces := NewSpaces()
	s1 := spaces.GetOrCreate(1)
	s1.Register(1, fakeEntry{usage: 5})

	s2 := spaces.GetOrCreate(2)
	s2.Register(1, fakeEntry{usage: 50})

	require.EqualValues(t, 55, spaces.TotalMemtableMemoryUsage())

	largest, ok := spaces.LargestSpace()
	require.True(t, ok)
	require.Equal(t, base.SpaceID(2), largest.ID())
}
