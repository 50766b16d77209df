// Package manifest holds the durable table metadata: SST file descriptors,
// the per-level file-set index, the atomic TableVersion snapshot readers
// observe, and the VersionEdit/MetaEdit log record shapes. Grounded heavily
// on original_source's analytic_engine/src/sst/file.rs (FileHandle,
// LevelHandler, FileHandleSet) and other_examples' pebble version_edit.go
// and level_iter.go.
package manifest

import "github.com/chronodb/analytic/internal/base"

// IndexMap is the optional tag->value->posting-list index carried in an
// SST's footer (spec.md §3). Posting lists hold row ordinals within the
// file.
type IndexMap map[string]map[string][]uint32

// FileMeta is the immutable descriptor of one SST, matching spec.md §3's
// FileHandle/FileMeta entity.
type FileMeta struct {
	FileID        base.FileID
	MinKey        []byte
	MaxKey        []byte
	TimeRange     base.TimeRange // [inclusive_start, exclusive_end)
	MaxSequence   base.SequenceNumber
	RowCount      uint64
	SizeBytes     uint64
	SchemaVersion base.SchemaVersion
	Index         IndexMap
}

// ObjectKey returns the SST's object-store key per spec.md §6.3:
// store_prefix/{space_id}/{table_id}/{file_id}.
func ObjectKey(space base.SpaceID, table base.TableID, file base.FileID) string {
	return "sst/" + space.String() + "/" + table.String() + "/" + file.String()
}
