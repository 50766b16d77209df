// Copyright 2024 The ChronoDB Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package base holds the identifiers, row representation and error taxonomy
// shared by every other internal package, mirroring the role pebble's own
// internal/base package plays for the rest of that tree.
package base

import "fmt"

// SpaceID identifies a namespace of tables.
type SpaceID uint32

// String implements fmt.Stringer.
func (s SpaceID) String() string {
	return fmt.Sprintf("%05d", uint32(s))
}

// TableID identifies a table within a space.
type TableID uint64

// String implements fmt.Stringer.
func (t TableID) String() string {
	return fmt.Sprintf("%d", uint64(t))
}

// ShardID identifies a shard a table (or set of tables) is assigned to.
type ShardID uint32

// FileID is the monotonically-increasing, per-table identity of an SST file.
// Invariant 1 (spec.md §3): within a table, FileID only ever increases.
type FileID uint64

// String implements fmt.Stringer.
func (f FileID) String() string {
	return fmt.Sprintf("%010d", uint64(f))
}

// SequenceNumber orders writes within a table.
type SequenceNumber uint64

// SeqNumMax is a sentinel meaning "no upper bound", used by WAL trim-to-MAX
// and by DropTable (spec.md §4.10 step 2).
const SeqNumMax SequenceNumber = 1<<64 - 1

// SchemaVersion identifies a table schema revision.
type SchemaVersion uint32
