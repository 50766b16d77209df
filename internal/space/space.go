// Package space implements the Space/Spaces registry spec.md §3 describes:
// a namespace of tables identified by SpaceID, owning a TableID→table
// mapping plus the aggregate memtable-memory counters the write path checks
// against space_write_buffer_size and db_write_buffer_size (spec.md §4.5
// step 7). Grounded on original_source's analytic_engine/src/instance/mod.rs
// (SpaceStore.total_memory_usage_space, find_maximum_memory_usage_space).
package space

import (
	"sync"

	"github.com/chronodb/analytic/internal/base"
)

// Entry is what a Space tracks per table: just enough to answer memory
// pressure queries without Space needing to know the full table type.
type Entry interface {
	MemtableMemoryUsage() int64
}

// Space is one namespace of tables, guarded by a read-biased lock since
// lookups vastly outnumber registrations (spec.md §5).
type Space struct {
	id base.SpaceID

	mu     sync.RWMutex
	tables map[base.TableID]Entry
}

// New returns an empty Space for id.
func New(id base.SpaceID) *Space {
	return &Space{id: id, tables: make(map[base.TableID]Entry)}
}

// ID returns the space's identity.
func (s *Space) ID() base.SpaceID { return s.id }

// Register adds or replaces table's entry.
func (s *Space) Register(table base.TableID, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = e
}

// Unregister removes table, e.g. on drop_table.
func (s *Space) Unregister(table base.TableID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables, table)
}

// Table returns table's entry, if registered.
func (s *Space) Table(table base.TableID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tables[table]
	return e, ok
}

// Tables returns every registered table id, in no particular order.
func (s *Space) Tables() []base.TableID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]base.TableID, 0, len(s.tables))
	for id := range s.tables {
		out = append(out, id)
	}
	return out
}

// MemtableMemoryUsage sums every registered table's memtable memory usage.
func (s *Space) MemtableMemoryUsage() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, e := range s.tables {
		total += e.MemtableMemoryUsage()
	}
	return total
}

// LargestTable returns the table with the largest memtable memory usage,
// the target spec.md §4.5 step 7 names for space/engine write-pressure
// flushes ("flush the table whose memtable is largest").
func (s *Space) LargestTable() (base.TableID, Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best    base.TableID
		bestE   Entry
		bestUse int64 = -1
		found   bool
	)
	for id, e := range s.tables {
		use := e.MemtableMemoryUsage()
		if use > bestUse {
			best, bestE, bestUse, found = id, e, use, true
		}
	}
	return best, bestE, found
}

// Spaces is the engine-wide registry of every Space, guarded the same way.
type Spaces struct {
	mu     sync.RWMutex
	spaces map[base.SpaceID]*Space
}

// NewSpaces returns an empty registry.
func NewSpaces() *Spaces {
	return &Spaces{spaces: make(map[base.SpaceID]*Space)}
}

// GetOrCreate returns id's Space, creating it if this is the first table
// ever registered under it.
func (s *Spaces) GetOrCreate(id base.SpaceID) *Space {
	s.mu.RLock()
	sp, ok := s.spaces[id]
	s.mu.RUnlock()
	if ok {
		return sp
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sp, ok := s.spaces[id]; ok {
		return sp
	}
	sp = New(id)
	s.spaces[id] = sp
	return sp
}

// Get returns id's Space without creating it.
func (s *Spaces) Get(id base.SpaceID) (*Space, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.spaces[id]
	return sp, ok
}

// List returns every registered Space, in no particular order.
func (s *Spaces) List() []*Space {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Space, 0, len(s.spaces))
	for _, sp := range s.spaces {
		out = append(out, sp)
	}
	return out
}

// TotalMemtableMemoryUsage sums every space's memtable memory usage, the
// figure the write path compares against db_write_buffer_size.
func (s *Spaces) TotalMemtableMemoryUsage() int64 {
	var total int64
	for _, sp := range s.List() {
		total += sp.MemtableMemoryUsage()
	}
	return total
}

// LargestSpace returns the space consuming the most memtable memory.
func (s *Spaces) LargestSpace() (*Space, bool) {
	var (
		best    *Space
		bestUse int64 = -1
	)
	for _, sp := range s.List() {
		use := sp.MemtableMemoryUsage()
		if use > bestUse {
			best, bestUse = sp, use
		}
	}
	return best, best != nil
}
