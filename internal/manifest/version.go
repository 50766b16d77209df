package manifest

import (
	"sync"

	"github.com/chronodb/analytic/internal/base"
	"github.com/chronodb/analytic/internal/memtable"
)

// ReadView is the slice of a TableVersion relevant to one read, filtered to
// a time range (spec.md §4.3's pick_read_view).
type ReadView struct {
	SamplingMem *memtable.MemTable
	MemTables   []*memtable.MemTable
	Levels      map[Level][]FileHandle
}

// versionData is the immutable payload swapped atomically by ApplyEdit.
// Never mutated in place once published — every edit builds a new one from
// a clone of every level (spec.md §9: "Version updates
// are atomic pointer swaps of an immutable snapshot").
type versionData struct {
	samplingMem     *memtable.MemTable
	memtables       []*memtable.MemTable // ordered by TimeRange.Start
	levels          []*LevelHandler      // indexed by Level
	flushedSequence base.SequenceNumber
}

func newVersionData(numLevels int) *versionData {
	levels := make([]*LevelHandler, numLevels)
	for i := range levels {
		levels[i] = NewLevelHandler(Level(i))
	}
	return &versionData{levels: levels}
}

func (v *versionData) clone() *versionData {
	nv := &versionData{
		samplingMem:     v.samplingMem,
		memtables:       append([]*memtable.MemTable(nil), v.memtables...),
		levels:          make([]*LevelHandler, len(v.levels)),
		flushedSequence: v.flushedSequence,
	}
	for i, l := range v.levels {
		nv.levels[i] = l.Clone()
	}
	return nv
}

// TableVersion holds the currently visible memtables and per-level file
// sets behind a read-biased lock (spec.md §4.3).
type TableVersion struct {
	mu   sync.RWMutex
	data *versionData

	space base.SpaceID
	table base.TableID
	purge PurgeFunc

	segmentDurationMs int64 // 0 means unknown (sampling phase)
}

// NewTableVersion creates an empty version with numLevels levels (usually
// 2, per spec.md §3). space/table/purge are threaded through to every
// FileHandle ApplyEdit constructs from an incoming FileMeta, so each file
// knows how to build its object key and how to enqueue itself for deletion
// on last release.
func NewTableVersion(numLevels int, space base.SpaceID, table base.TableID, purge PurgeFunc) *TableVersion {
	return &TableVersion{data: newVersionData(numLevels), space: space, table: table, purge: purge}
}

// FlushedSequence returns the highest sequence durably covered by SSTs.
func (v *TableVersion) FlushedSequence() base.SequenceNumber {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.data.flushedSequence
}

// SegmentDuration returns the table's segment width in milliseconds, or 0
// if still unknown (sampling phase).
func (v *TableVersion) SegmentDuration() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.segmentDurationMs
}

// SamplingMemTable returns the version's sampling memtable, if any.
func (v *TableVersion) SamplingMemTable() *memtable.MemTable {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.data.samplingMem
}

// MemTables returns a snapshot of the version's memtables.
func (v *TableVersion) MemTables() []*memtable.MemTable {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*memtable.MemTable, len(v.data.memtables))
	copy(out, v.data.memtables)
	return out
}

// Level returns the handler for lvl; callers must not mutate it directly —
// all mutation flows through ApplyEdit.
func (v *TableVersion) Level(lvl Level) *LevelHandler {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if int(lvl) >= len(v.data.levels) {
		return nil
	}
	return v.data.levels[lvl]
}

// NumLevels reports how many levels this version tracks.
func (v *TableVersion) NumLevels() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.data.levels)
}

// PickReadView filters the version down to the memtables and files
// overlapping r (spec.md §4.3).
func (v *TableVersion) PickReadView(r base.TimeRange) ReadView {
	v.mu.RLock()
	defer v.mu.RUnlock()

	view := ReadView{SamplingMem: v.data.samplingMem, Levels: make(map[Level][]FileHandle)}
	for _, mt := range v.data.memtables {
		if mt.TimeRange().Intersects(r) {
			view.MemTables = append(view.MemTables, mt)
		}
	}
	for _, l := range v.data.levels {
		if l.Level() == Level0 {
			view.Levels[l.Level()] = l.PickSSTs(r)
		} else {
			var picked []FileHandle
			for _, h := range l.All() {
				if h.Meta().TimeRange.Intersects(r) {
					picked = append(picked, h)
				}
			}
			view.Levels[l.Level()] = picked
		}
	}
	return view
}

// MemTableForWrite returns the memtable that should absorb a row at time t,
// creating one aligned to segmentDurationMs
// if none covers t yet. While segmentDurationMs is 0 (sampling phase) it
// always returns the sampling memtable. Mutation only happens under the
// caller's SerialExecutor, so no further locking is required for the
// "create if absent" branch to be race-free; this method still takes the
// write lock because it publishes a new versionData.
func (v *TableVersion) MemTableForWrite(t base.Timestamp, creationSeq base.SequenceNumber, arenaBlockSize int64) *memtable.MemTable {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.segmentDurationMs == 0 {
		if v.data.samplingMem == nil {
			nv := v.data.clone()
			nv.samplingMem = memtable.NewSampling(creationSeq, arenaBlockSize)
			v.data = nv
		}
		return v.data.samplingMem
	}

	bucket := base.BucketRange(t, v.segmentDurationMs)
	for _, mt := range v.data.memtables {
		if mt.TimeRange() == bucket {
			return mt
		}
	}
	nv := v.data.clone()
	mt := memtable.New(creationSeq, bucket, arenaBlockSize)
	nv.memtables = insertMemTableSorted(nv.memtables, mt)
	v.data = nv
	return mt
}

func insertMemTableSorted(list []*memtable.MemTable, mt *memtable.MemTable) []*memtable.MemTable {
	start := mt.TimeRange().Start
	i := 0
	for i < len(list) && list[i].TimeRange().Start < start {
		i++
	}
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = mt
	return list
}

// SetSegmentDuration records the table's inferred segment duration and
// atomically graduates the sampling memtable into a regular one, per
// invariant 8 ("graduation replaces it in one edit").
func (v *TableVersion) SetSegmentDuration(durationMs int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.segmentDurationMs != 0 {
		return
	}
	v.segmentDurationMs = durationMs
	if v.data.samplingMem == nil {
		return
	}
	graduated := v.data.samplingMem.Graduate(durationMs)
	nv := v.data.clone()
	nv.samplingMem = nil
	nv.memtables = insertMemTableSorted(nv.memtables, graduated)
	v.data = nv
}

// RetireMemTables removes the given (now-flushed-and-durable) memtables
// from the version.
func (v *TableVersion) RetireMemTables(retired []*memtable.MemTable) {
	v.mu.Lock()
	defer v.mu.Unlock()
	nv := v.data.clone()
	retiredSet := make(map[*memtable.MemTable]struct{}, len(retired))
	for _, mt := range retired {
		retiredSet[mt] = struct{}{}
	}
	if _, drop := retiredSet[nv.samplingMem]; drop {
		nv.samplingMem = nil
	}
	kept := nv.memtables[:0]
	for _, mt := range nv.memtables {
		if _, drop := retiredSet[mt]; !drop {
			kept = append(kept, mt)
		}
	}
	nv.memtables = kept
	v.data = nv
}

// ApplyEdit atomically installs edit's file additions/removals and advances
// flushed_sequence (spec.md §4.3). Removed files' references are released
// here since ownership no longer lives in this version (invariant 5's XOR);
// added files are expected to arrive already holding the one reference this
// version will own (NewFileHandle starts refs at 1).
func (v *TableVersion) ApplyEdit(edit VersionEdit) {
	v.mu.Lock()
	defer v.mu.Unlock()
	nv := v.data.clone()

	byLevel := make(map[Level][]base.FileID)
	for _, rm := range edit.RemoveFiles {
		byLevel[rm.Level] = append(byLevel[rm.Level], rm.FileID)
	}
	var released []FileHandle
	for lvl, ids := range byLevel {
		if int(lvl) < len(nv.levels) {
			released = append(released, nv.levels[lvl].RemoveByIDs(ids)...)
		}
	}

	for _, add := range edit.AddFiles {
		if int(add.Level) < len(nv.levels) {
			nv.levels[add.Level].Insert(NewFileHandle(v.space, v.table, add.Meta, v.purge))
		}
	}

	if edit.HasFlushedSequence && edit.FlushedSequence > nv.flushedSequence {
		nv.flushedSequence = edit.FlushedSequence
	}

	v.data = nv
	for _, h := range released {
		h.Release()
	}
}
