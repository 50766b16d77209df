package memtable

import (
	"testing"

	"github.com/chronodb/analytic/internal/base"
	"github.com/stretchr/testify/require"
)

func row(key string, seq base.SequenceNumber, ts base.Timestamp) base.Row {
	return base.Row{Key: []byte(key), Sequence: seq, Timestamp: ts, Values: []interface{}{int64(1)}}
}

func TestMemTableOrderingAndDedupCandidates(t *testing.T) {
	mt := New(1, base.TimeRange{Start: 0, End: 1000}, 4096)
	mt.Apply([]base.Row{
		row("b", 2, 100),
		row("a", 1, 50),
		row("a", 3, 60), // newer write to "a"
	})

	rows := mt.Rows()
	require.Len(t, rows, 3)
	require.Equal(t, "a", string(rows[0].Key))
	require.Equal(t, base.SequenceNumber(3), rows[0].Sequence, "higher sequence for same key sorts first")
	require.Equal(t, "a", string(rows[1].Key))
	require.Equal(t, base.SequenceNumber(1), rows[1].Sequence)
	require.Equal(t, "b", string(rows[2].Key))

	got, ok := mt.Get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, base.SequenceNumber(3), got.Sequence, "Get returns the highest-sequence row for the key")
}

func TestMemTableTimeRangeExpands(t *testing.T) {
	mt := New(1, base.TimeRange{}, 4096)
	mt.Apply([]base.Row{row("a", 1, 100), row("b", 2, 50), row("c", 3, 200)})
	tr := mt.TimeRange()
	require.Equal(t, base.Timestamp(50), tr.Start)
	require.Equal(t, base.Timestamp(201), tr.End)
}

func TestSamplingGraduation(t *testing.T) {
	mt := NewSampling(1, 4096)
	require.True(t, mt.IsSampling())
	mt.Apply([]base.Row{row("a", 1, 100), row("b", 2, 200), row("c", 3, 50)})

	dur := mt.InferSegmentDuration()
	require.Greater(t, dur, int64(0))

	graduated := mt.Graduate(dur)
	require.False(t, graduated.IsSampling())
	require.Len(t, graduated.Rows(), 3)
}
