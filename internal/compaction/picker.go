package compaction

import (
	"time"

	"github.com/chronodb/analytic/internal/base"
	"github.com/chronodb/analytic/internal/manifest"
)

// LeveledFile pairs a FileHandle with the level it was picked from, since an
// expiry pick can span every level at once.
type LeveledFile struct {
	Level  manifest.Level
	Handle manifest.FileHandle
}

// Job is one unit of compaction work: either a merge (rewrite Inputs into
// the next level) or an expiry (drop Inputs, produce nothing).
type Job struct {
	Inputs []LeveledFile
	Expiry bool
}

// PickL0 implements spec.md §4.7's level-0 trigger: pick every
// not-already-compacting L0 file once the count or total size crosses its
// trigger. L0 files overlap in time, so the whole set compacts together
// rather than a contiguous sub-range.
func PickL0(version *manifest.TableVersion, fileNumTrigger int, sizeTrigger uint64) (Job, bool) {
	lvl := version.Level(manifest.Level0)
	if lvl == nil {
		return Job{}, false
	}
	var candidates []LeveledFile
	var total uint64
	for _, h := range lvl.All() {
		if h.BeingCompacted() {
			continue
		}
		candidates = append(candidates, LeveledFile{Level: manifest.Level0, Handle: h})
		total += h.Meta().SizeBytes
	}
	if len(candidates) == 0 {
		return Job{}, false
	}
	if fileNumTrigger > 0 && len(candidates) >= fileNumTrigger {
		return Job{Inputs: candidates}, true
	}
	if sizeTrigger > 0 && total >= sizeTrigger {
		return Job{Inputs: candidates}, true
	}
	return Job{}, false
}

// PickExpired implements spec.md §4.7's expiry picker: any file whose
// time_range.exclusive_end <= now - ttl is scheduled for a deletion-only
// compaction, across every level.
func PickExpired(version *manifest.TableVersion, ttl time.Duration, now base.Timestamp) (Job, bool) {
	if ttl <= 0 {
		return Job{}, false
	}
	expireTS := now - base.Timestamp(ttl.Milliseconds())

	var expired []LeveledFile
	for i := 0; i < version.NumLevels(); i++ {
		lvl := manifest.Level(i)
		l := version.Level(lvl)
		if l == nil {
			continue
		}
		for _, h := range l.CollectExpired(expireTS) {
			if h.BeingCompacted() {
				continue
			}
			expired = append(expired, LeveledFile{Level: lvl, Handle: h})
		}
	}
	if len(expired) == 0 {
		return Job{}, false
	}
	return Job{Inputs: expired, Expiry: true}, true
}
