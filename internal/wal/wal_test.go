package wal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chronodb/analytic/internal/base"
	"github.com/stretchr/testify/require"
)

func entry(seq base.SequenceNumber, table base.TableID) Entry {
	return Entry{
		Sequence: seq,
		Table:    table,
		Kind:     PayloadWrite,
		Rows:     []base.Row{{Key: []byte("k"), Sequence: seq}},
	}
}

func testLog(t *testing.T, l Log) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, []Entry{entry(1, 1), entry(2, 1), entry(3, 2)}))

	var batches [][]Entry
	require.NoError(t, l.Read(ctx, 0, 2, func(b []Entry) error {
		cp := make([]Entry, len(b))
		copy(cp, b)
		batches = append(batches, cp)
		return nil
	}))
	require.Len(t, batches, 2)
	require.Len(t, batches[0], 2)
	require.Len(t, batches[1], 1)

	var afterOne []Entry
	require.NoError(t, l.Read(ctx, 1, 10, func(b []Entry) error {
		afterOne = append(afterOne, b...)
		return nil
	}))
	require.Len(t, afterOne, 2)
	require.Equal(t, base.SequenceNumber(2), afterOne[0].Sequence)

	require.NoError(t, l.MarkDeleteUpTo(ctx, 2))
	var remaining []Entry
	require.NoError(t, l.Read(ctx, 0, 10, func(b []Entry) error {
		remaining = append(remaining, b...)
		return nil
	}))
	require.Len(t, remaining, 1)
	require.Equal(t, base.SequenceNumber(3), remaining[0].Sequence)

	require.NoError(t, l.MarkDeleteUpTo(ctx, SeqMax))
	remaining = nil
	require.NoError(t, l.Read(ctx, 0, 10, func(b []Entry) error {
		remaining = append(remaining, b...)
		return nil
	}))
	require.Len(t, remaining, 0)

	require.NoError(t, l.Close())
}

func TestMemLog(t *testing.T) {
	testLog(t, NewMemLog())
}

func TestFileLog(t *testing.T) {
	l, err := OpenFileLog(filepath.Join(t.TempDir(), "table-1.wal"))
	require.NoError(t, err)
	testLog(t, l)
}

func TestMemLogTrimmedUpToTracksHighWaterMark(t *testing.T) {
	l := NewMemLog()
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, []Entry{entry(1, 1)}))
	require.NoError(t, l.MarkDeleteUpTo(ctx, 1))
	require.EqualValues(t, 1, l.TrimmedUpTo())
}
