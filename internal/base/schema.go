package base

import "github.com/cockroachdb/errors"

// ColumnType is the wire type of a schema column. The engine only needs
// enough type information to compare primary keys and project columns; it
// does not interpret column semantics beyond that.
type ColumnType int

const (
	ColumnInt64 ColumnType = iota
	ColumnDouble
	ColumnTimestamp
	ColumnString
	ColumnBytes
	ColumnBool
)

// ColumnSchema describes one column.
type ColumnSchema struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// Schema is an ordered set of columns plus the subset that form the primary
// key and the column that carries the row timestamp.
type Schema struct {
	Version   SchemaVersion
	Columns   []ColumnSchema
	// PrimaryKeyIndexes indexes into Columns, in key order.
	PrimaryKeyIndexes []int
	// TimestampIndex indexes into Columns; that column drives segment/TTL
	// alignment.
	TimestampIndex int
}

// ColumnIndex returns the index of the named column, or -1.
func (s *Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Validate checks the schema is self consistent.
func (s *Schema) Validate() error {
	if len(s.PrimaryKeyIndexes) == 0 {
		return NewKind(KindSchemaMismatch, "schema has no primary key columns")
	}
	if s.TimestampIndex < 0 || s.TimestampIndex >= len(s.Columns) {
		return NewKind(KindSchemaMismatch, "schema timestamp index %d out of range", s.TimestampIndex)
	}
	if s.Columns[s.TimestampIndex].Type != ColumnTimestamp {
		return errors.Newf("schema: column at timestamp index %d is not a timestamp", s.TimestampIndex)
	}
	return nil
}
