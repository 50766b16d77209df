package manifest

import "github.com/chronodb/analytic/internal/base"

// EditKind classifies a MetaEdit, per spec.md §3.
type EditKind int

const (
	EditAddTable EditKind = iota
	EditDropTable
	EditAlterSchema
	EditAlterOptions
	EditVersion
)

// AddedFile pairs a new/moved file with the level it lands in, mirroring
// pebble's NewFileEntry (other_examples' version_edit.go).
type AddedFile struct {
	Level Level
	Meta  FileMeta
}

// RemovedFile identifies a file removed from a level, mirroring pebble's
// DeletedFileEntry.
type RemovedFile struct {
	Level  Level
	FileID base.FileID
}

// VersionEdit describes one atomic change to a TableVersion's file sets,
// produced by a flush or a compaction (spec.md §3/§4.3).
type VersionEdit struct {
	AddFiles        []AddedFile
	RemoveFiles     []RemovedFile
	FlushedSequence base.SequenceNumber
	// HasFlushedSequence distinguishes "this edit advances
	// flushed_sequence" from "this edit doesn't touch it" (a pure
	// compaction edit, for instance, leaves flushed_sequence untouched).
	HasFlushedSequence bool
}

// MetaEdit is one durable metadata mutation appended to the manifest log
// (spec.md §3's MetaEdit enum).
type MetaEdit struct {
	Kind EditKind

	Space base.SpaceID
	Table base.TableID

	// AddTable
	TableName      string
	Schema         base.Schema
	ShardID        base.ShardID

	// AlterSchema
	NewSchema base.Schema

	// AlterOptions
	Options map[string]string

	// VersionEdit
	Version VersionEdit
}
