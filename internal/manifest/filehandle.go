package manifest

import (
	"sync/atomic"

	"github.com/chronodb/analytic/internal/base"
	"github.com/chronodb/analytic/internal/metrics"
)

// PurgeFunc enqueues a file for background deletion; supplied by
// internal/purge at construction time. manifest does not import purge
// directly — FileHandle only needs "what to call on last release", which
// keeps the dependency edge pointing the natural way (purge depends on
// manifest's FileMeta, not the reverse).
type PurgeFunc func(space base.SpaceID, table base.TableID, file FileMeta)

// FileHandle is a shared, ref-counted reference to an SST. Spec.md invariant
// 5: a FileHandle is reachable from some TableVersion XOR queued in the
// purger; when the last handle referencing a file drops, the purger deletes
// the object. FileHandle is cheap to Clone (just bumps a refcount) so many
// TableVersion snapshots can share one underlying file.
type FileHandle struct {
	inner *fileHandleInner
}

type fileHandleInner struct {
	space base.SpaceID
	table base.TableID
	meta  FileMeta

	refs           int32 // atomic
	beingCompacted int32 // atomic bool
	readRate       *metrics.ReadRateMeter

	purge PurgeFunc
}

// NewFileHandle creates a FileHandle with one reference held by the caller
// (typically the flush/compaction job that just produced it, before it's
// installed into a TableVersion).
func NewFileHandle(space base.SpaceID, table base.TableID, meta FileMeta, purge PurgeFunc) FileHandle {
	return FileHandle{inner: &fileHandleInner{
		space: space, table: table, meta: meta, refs: 1,
		readRate: metrics.NewReadRateMeter(1 << 20),
		purge:    purge,
	}}
}

// Meta returns the file's immutable descriptor.
func (h FileHandle) Meta() FileMeta { return h.inner.meta }

// ID returns the file's identity, used as the FileHandleSet hash-index key.
func (h FileHandle) ID() base.FileID { return h.inner.meta.FileID }

// SpaceID and TableID identify which table this file belongs to, needed to
// build its object-store key and its purge request.
func (h FileHandle) SpaceID() base.SpaceID { return h.inner.space }
func (h FileHandle) TableID() base.TableID { return h.inner.table }

// BeingCompacted reports whether a compaction has claimed this file
// (spec.md §3/§4.7's being_compacted mutual-exclusion bit).
func (h FileHandle) BeingCompacted() bool {
	return atomic.LoadInt32(&h.inner.beingCompacted) != 0
}

// SetBeingCompacted flags or clears the mutual-exclusion bit; returns false
// if the file was already in the requested state (so callers picking a
// compaction input set can detect a race and retry instead of double-
// claiming a file).
func (h FileHandle) SetBeingCompacted(v bool) bool {
	var old, want int32
	if v {
		old, want = 0, 1
	} else {
		old, want = 1, 0
	}
	return atomic.CompareAndSwapInt32(&h.inner.beingCompacted, old, want)
}

// ReadRateMeter exposes the file's read-rate meter (spec.md §3).
func (h FileHandle) ReadRateMeter() *metrics.ReadRateMeter { return h.inner.readRate }

// Ref returns a new FileHandle sharing the same underlying file and bumps
// the reference count; each Ref must be balanced by exactly one Release.
func (h FileHandle) Ref() FileHandle {
	atomic.AddInt32(&h.inner.refs, 1)
	return FileHandle{inner: h.inner}
}

// Release drops one reference. When the count reaches zero the file is
// enqueued with the purger (spec.md §4.2/§9's "dropping the last reference
// enqueues the object for deletion").
func (h FileHandle) Release() {
	if atomic.AddInt32(&h.inner.refs, -1) == 0 {
		if h.inner.purge != nil {
			h.inner.purge(h.inner.space, h.inner.table, h.inner.meta)
		}
	}
}

// RefCount returns the current reference count; exposed for tests only.
func (h FileHandle) RefCount() int32 {
	return atomic.LoadInt32(&h.inner.refs)
}
