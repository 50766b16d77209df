package sst

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/chronodb/analytic/internal/base"
	"github.com/chronodb/analytic/internal/manifest"
	"github.com/chronodb/analytic/internal/objstore"
	"github.com/cockroachdb/errors"
)

// Factory builds Writers and Readers against an ObjectStore, the boundary
// spec.md's dependency order names ("SST factory (reader/writer)").
type Factory struct {
	store objstore.ObjectStore
}

// NewFactory returns a Factory writing through store.
func NewFactory(store objstore.ObjectStore) *Factory {
	return &Factory{store: store}
}

// WriterOptions configures one SST write.
type WriterOptions struct {
	Space             base.SpaceID
	Table             base.TableID
	FileID            base.FileID
	Schema            base.Schema
	Compression       Compression
	RowsPerRowGroup   int
	// IndexColumns, if non-empty, names the columns to build a posting-list
	// index over (spec.md §3's optional tag->value index map).
	IndexColumns []string
}

// Writer accumulates sorted rows and produces one SST object on Close.
type Writer struct {
	opts  WriterOptions
	store objstore.ObjectStore
	codec codec

	pending []base.Row
	blocks  [][]byte

	minKey, maxKey    []byte
	maxSeq            base.SequenceNumber
	rowCount          uint64
	index             manifest.IndexMap
	timeRangeOverride base.TimeRange
}

// NewWriter starts a new SST write.
func (f *Factory) NewWriter(ctx context.Context, opts WriterOptions) (*Writer, error) {
	if opts.RowsPerRowGroup <= 0 {
		opts.RowsPerRowGroup = 8192
	}
	c, err := codecFor(opts.Compression)
	if err != nil {
		return nil, err
	}
	w := &Writer{opts: opts, store: f.store, codec: c}
	if len(opts.IndexColumns) > 0 {
		w.index = make(manifest.IndexMap)
		for _, col := range opts.IndexColumns {
			w.index[col] = make(map[string][]uint32)
		}
	}
	return w, nil
}

// WriteRow appends one row; rows must arrive in ascending key order (the
// contract every MemTable/SST row stream upholds).
func (w *Writer) WriteRow(r base.Row) error {
	if w.minKey == nil || base.CompareKeys(r.Key, w.minKey) < 0 {
		w.minKey = append([]byte(nil), r.Key...)
	}
	if w.maxKey == nil || base.CompareKeys(r.Key, w.maxKey) > 0 {
		w.maxKey = append([]byte(nil), r.Key...)
	}
	if r.Sequence > w.maxSeq {
		w.maxSeq = r.Sequence
	}
	ordinal := uint32(w.rowCount)
	w.indexRow(r, ordinal)
	w.rowCount++

	w.pending = append(w.pending, r)
	if len(w.pending) >= w.opts.RowsPerRowGroup {
		if err := w.flushGroup(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) indexRow(r base.Row, ordinal uint32) {
	if w.index == nil {
		return
	}
	for col, postings := range w.index {
		ci := w.opts.Schema.ColumnIndex(col)
		if ci < 0 || ci >= len(r.Values) {
			continue
		}
		key := valueKey(r.Values[ci])
		postings[key] = append(postings[key], ordinal)
	}
}

func valueKey(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func (w *Writer) flushGroup() error {
	if len(w.pending) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w.pending); err != nil {
		return base.WithKind(errors.Wrap(err, "sst: encode row group"), base.KindSstWrite)
	}
	compressed, err := w.codec.Encode(buf.Bytes())
	if err != nil {
		return base.WithKind(errors.Wrap(err, "sst: compress row group"), base.KindSstWrite)
	}
	w.blocks = append(w.blocks, compressed)
	w.pending = w.pending[:0]
	return nil
}

// Close finalizes the SST, uploads it to the object store, and returns its
// FileMeta.
func (w *Writer) Close(ctx context.Context) (manifest.FileMeta, error) {
	if err := w.flushGroup(); err != nil {
		return manifest.FileMeta{}, err
	}

	var payload bytes.Buffer
	sizes := make([]uint32, len(w.blocks))
	for i, b := range w.blocks {
		sizes[i] = uint32(len(b))
		payload.Write(b)
	}

	// TimeRange comes from SetTimeRange: the flush/compaction job already
	// knows the output bucket, Writer itself only tracks keys/sequence.
	md := MetaData{
		MinKey: w.minKey, MaxKey: w.maxKey, TimeRange: w.timeRangeOverride, MaxSequence: w.maxSeq,
		Schema: w.opts.Schema, RowCount: w.rowCount, Index: w.index,
		Compression: w.opts.Compression, BlockSizes: sizes,
	}
	footer, err := encodeFooter(md)
	if err != nil {
		return manifest.FileMeta{}, base.WithKind(err, base.KindSstWrite)
	}
	payload.Write(footer)

	key := manifest.ObjectKey(w.opts.Space, w.opts.Table, w.opts.FileID)
	if err := w.store.Put(ctx, key, bytes.NewReader(payload.Bytes()), int64(payload.Len())); err != nil {
		return manifest.FileMeta{}, base.WithKind(errors.Wrap(err, "sst: upload"), base.KindSstWrite)
	}

	return manifest.FileMeta{
		FileID: w.opts.FileID, MinKey: md.MinKey, MaxKey: md.MaxKey, TimeRange: md.TimeRange,
		MaxSequence: md.MaxSequence, RowCount: md.RowCount, SizeBytes: uint64(payload.Len()),
		SchemaVersion: w.opts.Schema.Version, Index: md.Index,
	}, nil
}

// SetTimeRange records the inclusive/exclusive time bounds of the rows
// about to be written; flush/compaction jobs call this before WriteRow
// since they already computed the bucket the output file belongs to.
func (w *Writer) SetTimeRange(r base.TimeRange) { w.timeRangeOverride = r }

// Reader reads back the rows of one SST in ascending key order.
type Reader struct {
	meta    MetaData
	store   objstore.ObjectStore
	key     string
	payload []byte // block bytes, already downloaded; SSTs are immutable once written
}

// NewReader opens the SST identified by (space, table, fileID) and reads
// its footer.
func (f *Factory) NewReader(ctx context.Context, space base.SpaceID, table base.TableID, fileID base.FileID) (*Reader, error) {
	key := manifest.ObjectKey(space, table, fileID)
	rc, err := f.store.Get(ctx, key)
	if err != nil {
		return nil, base.WithKind(errors.Wrap(err, "sst: open"), base.KindSstRead)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, base.WithKind(errors.Wrap(err, "sst: read"), base.KindSstRead)
	}
	if len(data) < 4 {
		return nil, base.NewKind(base.KindSstRead, "sst: file too short")
	}
	footerLen := binary.LittleEndian.Uint32(data[len(data)-4:])
	if int(footerLen) > len(data) {
		return nil, base.NewKind(base.KindSstRead, "sst: corrupt footer length")
	}
	footer := data[len(data)-int(footerLen):]
	md, err := decodeFooter(footer)
	if err != nil {
		return nil, err
	}
	r := &Reader{meta: md, store: f.store, key: key}
	r.payload = data[:len(data)-int(footerLen)]
	return r, nil
}

// Meta returns the SST's footer metadata.
func (r *Reader) Meta() MetaData { return r.meta }

// Rows decodes and returns every row in the file, in ascending key order.
func (r *Reader) Rows() ([]base.Row, error) {
	c, err := codecFor(r.meta.Compression)
	if err != nil {
		return nil, err
	}
	var rows []base.Row
	offset := 0
	for _, size := range r.meta.BlockSizes {
		block := r.payload[offset : offset+int(size)]
		offset += int(size)
		raw, err := c.Decode(block)
		if err != nil {
			return nil, base.WithKind(errors.Wrap(err, "sst: decompress block"), base.KindSstRead)
		}
		var group []base.Row
		if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&group); err != nil {
			return nil, base.WithKind(errors.Wrap(err, "sst: decode row group"), base.KindSstRead)
		}
		rows = append(rows, group...)
	}
	return rows, nil
}
