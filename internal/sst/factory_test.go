package sst

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/chronodb/analytic/internal/base"
	"github.com/chronodb/analytic/internal/manifest"
	"github.com/chronodb/analytic/internal/objstore"
	"github.com/stretchr/testify/require"
)

func schemaFixture() base.Schema {
	return base.Schema{
		Version: 1,
		Columns: []base.ColumnSchema{
			{Name: "host", Type: base.ColumnString},
			{Name: "ts", Type: base.ColumnTimestamp},
			{Name: "value", Type: base.ColumnDouble},
		},
		PrimaryKeyIndexes: []int{0},
		TimestampIndex:    1,
	}
}

func rowFixture(key string, seq base.SequenceNumber, ts base.Timestamp, v float64) base.Row {
	return base.Row{
		Key:       []byte(key),
		Sequence:  seq,
		Timestamp: ts,
		Values:    []interface{}{key, ts, v},
	}
}

func writeAndRead(t *testing.T, compression Compression) (manifest.FileMeta, []base.Row) {
	t.Helper()
	store := objstore.NewMemStore()
	f := NewFactory(store)
	ctx := context.Background()

	w, err := f.NewWriter(ctx, WriterOptions{
		Space: 1, Table: 1, FileID: 5,
		Schema:          schemaFixture(),
		Compression:     compression,
		RowsPerRowGroup: 2,
		IndexColumns:    []string{"host"},
	})
	require.NoError(t, err)
	w.SetTimeRange(base.TimeRange{Start: 50, End: 201})

	rows := []base.Row{
		rowFixture("a", 1, 50, 1.5),
		rowFixture("b", 2, 100, 2.5),
		rowFixture("c", 3, 200, 3.5),
	}
	for _, r := range rows {
		require.NoError(t, w.WriteRow(r))
	}
	meta, err := w.Close(ctx)
	require.NoError(t, err)

	require.Equal(t, base.FileID(5), meta.FileID)
	require.Equal(t, "a", string(meta.MinKey))
	require.Equal(t, "c", string(meta.MaxKey))
	require.Equal(t, base.SequenceNumber(3), meta.MaxSequence)
	require.EqualValues(t, 3, meta.RowCount)
	require.Equal(t, base.Timestamp(50), meta.TimeRange.Start)
	require.Equal(t, base.Timestamp(201), meta.TimeRange.End)
	require.Len(t, meta.Index["host"]["a"], 1)

	r, err := f.NewReader(ctx, 1, 1, 5)
	require.NoError(t, err)
	require.Equal(t, compression, r.Meta().Compression)

	got, err := r.Rows()
	require.NoError(t, err)
	return meta, got
}

func TestWriterReaderRoundTripNoCompression(t *testing.T) {
	_, rows := writeAndRead(t, CompressionNone)
	require.Len(t, rows, 3)
	require.Equal(t, "a", string(rows[0].Key))
	require.Equal(t, "b", string(rows[1].Key))
	require.Equal(t, "c", string(rows[2].Key))
}

func TestWriterReaderRoundTripSnappy(t *testing.T) {
	_, rows := writeAndRead(t, CompressionSnappy)
	require.Len(t, rows, 3)
}

func TestWriterReaderRoundTripZstd(t *testing.T) {
	_, rows := writeAndRead(t, CompressionZstd)
	require.Len(t, rows, 3)
}

func TestWriterReaderRoundTripZstdCgo(t *testing.T) {
	_, rows := writeAndRead(t, CompressionZstdCgo)
	require.Len(t, rows, 3)
}

func TestReaderRejectsCorruptFooterChecksum(t *testing.T) {
	store := objstore.NewMemStore()
	f := NewFactory(store)
	ctx := context.Background()

	w, err := f.NewWriter(ctx, WriterOptions{
		Space: 1, Table: 1, FileID: 9,
		Schema:          schemaFixture(),
		Compression:     CompressionNone,
		RowsPerRowGroup: 8192,
	})
	require.NoError(t, err)
	require.NoError(t, w.WriteRow(rowFixture("a", 1, 10, 1)))
	_, err = w.Close(ctx)
	require.NoError(t, err)

	key := manifest.ObjectKey(1, 1, 9)
	rc, err := store.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()

	// flip a byte inside the footer body, leaving the trailing length intact,
	// so decodeFooter reaches the checksum compare instead of failing earlier.
	data[len(data)-20] ^= 0xff
	require.NoError(t, store.Put(ctx, key, bytes.NewReader(data), int64(len(data))))

	_, err = f.NewReader(ctx, 1, 1, 9)
	require.Error(t, err)
}
