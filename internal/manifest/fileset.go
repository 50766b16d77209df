package manifest

import (
	"sort"

	"github.com/chronodb/analytic/internal/base"
	"golang.org/x/exp/slices"
)

// orderKey is the (exclusive_end, inclusive_start, file_id) ordering tuple
// spec.md §4.1 specifies for the time-range-seek index.
type orderKey struct {
	end     base.Timestamp
	start   base.Timestamp
	fileID  base.FileID
}

func less(a, b orderKey) bool {
	if a.end != b.end {
		return a.end < b.end
	}
	if a.start != b.start {
		return a.start < b.start
	}
	return a.fileID < b.fileID
}

// FileHandleSet holds the files of one level behind two indexes over the
// same handles: an ordered slice keyed by (exclusive_end, inclusive_start,
// file_id) for time-range seeks, and a hash index by file_id for O(1)
// removal. Grounded on original_source's FileHandleSet (BTreeMap<FileOrdKey,
// FileHandle> + a by-id map) reworked as a sorted slice since Go's stdlib
// has no builtin ordered map.
type FileHandleSet struct {
	ordered []orderKey
	byID    map[base.FileID]FileHandle
}

// NewFileHandleSet returns an empty set.
func NewFileHandleSet() *FileHandleSet {
	return &FileHandleSet{byID: make(map[base.FileID]FileHandle)}
}

// Len returns the number of files in the set.
func (s *FileHandleSet) Len() int { return len(s.byID) }

// Insert adds h to the set.
func (s *FileHandleSet) Insert(h FileHandle) {
	key := orderKey{end: h.Meta().TimeRange.End, start: h.Meta().TimeRange.Start, fileID: h.ID()}
	i := sort.Search(len(s.ordered), func(i int) bool { return !less(s.ordered[i], key) })
	s.ordered = slices.Insert(s.ordered, i, key)
	s.byID[h.ID()] = h
}

// RemoveByIDs removes files with the given ids and returns the removed
// handles. It does not release them — the caller (TableVersion.ApplyEdit)
// decides whether the reference moves elsewhere (e.g. to another version)
// or is released, per invariant 5's XOR.
func (s *FileHandleSet) RemoveByIDs(ids []base.FileID) []FileHandle {
	if len(ids) == 0 {
		return nil
	}
	remove := make(map[base.FileID]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
	}
	var removed []FileHandle
	s.ordered = slices.DeleteFunc(s.ordered, func(k orderKey) bool {
		if _, drop := remove[k.fileID]; drop {
			removed = append(removed, s.byID[k.fileID])
			return true
		}
		return false
	})
	for _, id := range ids {
		delete(s.byID, id)
	}
	return removed
}

// Get returns the handle for id, if present.
func (s *FileHandleSet) Get(id base.FileID) (FileHandle, bool) {
	h, ok := s.byID[id]
	return h, ok
}

// Latest returns the file with the greatest order key (max by
// (exclusive_end, inclusive_start, file_id)), or the zero value if empty.
func (s *FileHandleSet) Latest() (FileHandle, bool) {
	if len(s.ordered) == 0 {
		return FileHandle{}, false
	}
	last := s.ordered[len(s.ordered)-1]
	return s.byID[last.fileID], true
}

// PickByRange returns every handle whose time range intersects r, for level
// 0 callers. It seeks to the first file whose exclusive_end >= r.Start and
// scans the rest of the index, filtering on actual intersection. start is
// not monotone along the scan (the index is ordered by end, then start), so
// the scan cannot stop early on start — it must run to the end of the index.
func (s *FileHandleSet) PickByRange(r base.TimeRange) []FileHandle {
	i := sort.Search(len(s.ordered), func(i int) bool { return s.ordered[i].end >= r.Start })
	var out []FileHandle
	for ; i < len(s.ordered); i++ {
		h := s.byID[s.ordered[i].fileID]
		if h.Meta().TimeRange.Intersects(r) {
			out = append(out, h)
		}
	}
	return out
}

// CollectExpired returns every file whose exclusive_end <= expireTS,
// iterating from the front since the index is ordered by end-time and
// stopping at the first non-expired file (spec.md §4.1).
func (s *FileHandleSet) CollectExpired(expireTS base.Timestamp) []FileHandle {
	var out []FileHandle
	for _, k := range s.ordered {
		if k.end > expireTS {
			break
		}
		out = append(out, s.byID[k.fileID])
	}
	return out
}

// All returns every file in the set, in ascending order-key order.
func (s *FileHandleSet) All() []FileHandle {
	out := make([]FileHandle, 0, len(s.ordered))
	for _, k := range s.ordered {
		out = append(out, s.byID[k.fileID])
	}
	return out
}

// Clone returns a shallow copy sharing the same FileHandle values (their
// refcounts are bumped by the caller via Ref where ownership needs to be
// shared across versions).
func (s *FileHandleSet) Clone() *FileHandleSet {
	clone := NewFileHandleSet()
	clone.ordered = slices.Clone(s.ordered)
	for id, h := range s.byID {
		clone.byID[id] = h
	}
	return clone
}
