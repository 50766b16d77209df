package base

import "bytes"

// Row is one logical row: a primary key, a sequence number assigning it a
// write order, the row's timestamp (denormalized from Values for fast
// comparisons), a deletion tombstone bit, and its column values in schema
// order.
type Row struct {
	Key       []byte
	Sequence  SequenceNumber
	Timestamp Timestamp
	Deleted   bool
	Values    []interface{}
}

// Clone returns a deep copy of r, safe to retain past the lifetime of any
// buffer r.Key/Values may alias.
func (r Row) Clone() Row {
	key := make([]byte, len(r.Key))
	copy(key, r.Key)
	values := make([]interface{}, len(r.Values))
	copy(values, r.Values)
	return Row{Key: key, Sequence: r.Sequence, Timestamp: r.Timestamp, Deleted: r.Deleted, Values: values}
}

// CompareKeys orders two rows by primary key only (ascending), the order
// MemTable and SST row streams must produce.
func CompareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}

// RowGroup is a batch of rows sharing a schema, as accepted by Table.Write.
type RowGroup struct {
	Schema Schema
	Rows   []Row
}

// RecordBatch is a row-oriented projection of read results returned to
// callers; the core keeps this representation deliberately simple (no Arrow
// dependency) since spec.md leaves the serving-side columnar format to the
// caller.
type RecordBatch struct {
	Schema Schema
	Rows   []Row
}

// Project returns a new RecordBatch keeping only the named columns, in the
// order requested.
func (b RecordBatch) Project(columns []string) RecordBatch {
	idx := make([]int, len(columns))
	cols := make([]ColumnSchema, len(columns))
	for i, name := range columns {
		ci := b.Schema.ColumnIndex(name)
		idx[i] = ci
		if ci >= 0 {
			cols[i] = b.Schema.Columns[ci]
		}
	}
	out := RecordBatch{
		Schema: Schema{Version: b.Schema.Version, Columns: cols},
		Rows:   make([]Row, len(b.Rows)),
	}
	for i, row := range b.Rows {
		values := make([]interface{}, len(idx))
		for j, ci := range idx {
			if ci >= 0 && ci < len(row.Values) {
				values[j] = row.Values[ci]
			}
		}
		out.Rows[i] = Row{Key: row.Key, Sequence: row.Sequence, Timestamp: row.Timestamp, Deleted: row.Deleted, Values: values}
	}
	return out
}
