package manifest

import "github.com/chronodb/analytic/internal/base"

// Level identifies an SST tier: level 0 is time-overlapping, level 1+ is
// not (spec.md glossary).
type Level int

const (
	Level0 Level = 0
	Level1 Level = 1
)

// LevelHandler manages the files of a single level, delegating storage to a
// FileHandleSet. Grounded on original_source's LevelHandler
// (analytic_engine/src/sst/file.rs).
type LevelHandler struct {
	level Level
	files *FileHandleSet
}

// NewLevelHandler creates an empty handler for level.
func NewLevelHandler(level Level) *LevelHandler {
	return &LevelHandler{level: level, files: NewFileHandleSet()}
}

// Level returns this handler's level number.
func (l *LevelHandler) Level() Level { return l.level }

// Insert adds a file to the level.
func (l *LevelHandler) Insert(h FileHandle) { l.files.Insert(h) }

// RemoveByIDs removes files from the level and returns the removed handles.
func (l *LevelHandler) RemoveByIDs(ids []base.FileID) []FileHandle { return l.files.RemoveByIDs(ids) }

// Latest returns the file with the greatest order key.
func (l *LevelHandler) Latest() (FileHandle, bool) { return l.files.Latest() }

// PickSSTs returns files overlapping r. Only level 0 is time-overlapping
// (spec.md §4.1); higher levels return nothing here since their callers use
// non-overlapping range scans via All() instead.
func (l *LevelHandler) PickSSTs(r base.TimeRange) []FileHandle {
	if l.level == Level0 {
		return l.files.PickByRange(r)
	}
	return nil
}

// CollectExpired returns files whose exclusive_end <= expireTS.
func (l *LevelHandler) CollectExpired(expireTS base.Timestamp) []FileHandle {
	return l.files.CollectExpired(expireTS)
}

// All returns every file in the level, ordered by (end, start, id).
func (l *LevelHandler) All() []FileHandle { return l.files.All() }

// Len returns the number of files in the level.
func (l *LevelHandler) Len() int { return l.files.Len() }

// TotalSize sums SizeBytes across the level, used by the L0 size-trigger
// picker check.
func (l *LevelHandler) TotalSize() uint64 {
	var total uint64
	for _, h := range l.files.All() {
		total += h.Meta().SizeBytes
	}
	return total
}

// Clone returns a level sharing the same FileHandle values (new index
// slices/maps, same underlying refcounted files), used when building a new
// TableVersion from an existing one.
func (l *LevelHandler) Clone() *LevelHandler {
	return &LevelHandler{level: l.level, files: l.files.Clone()}
}
