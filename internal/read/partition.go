package read

import (
	"context"
	"sort"

	"github.com/chronodb/analytic/internal/base"
	"github.com/chronodb/analytic/internal/manifest"
)

// LeveledFile pairs a file with the level it lives in, same shape the
// compaction picker uses.
type LeveledFile struct {
	Level  manifest.Level
	Handle manifest.FileHandle
}

// Loader reads one SST file's rows, e.g. via an sst.Factory reader.
type Loader func(ctx context.Context, h manifest.FileHandle) ([]base.Row, error)

// partition is one segment-aligned slice of a ReadView: the memtables and
// SST files whose time range falls in bucket.
type partition struct {
	bucket    base.TimeRange
	memTables []memTableSource
	files     []LeveledFile
}

type memTableSource interface {
	Rows() []base.Row
	TimeRange() base.TimeRange
}

// Partition splits view into segment-aligned sub-views, one per bucket of
// width segmentDurationMs, per spec.md §4.9 step 2. If segmentDurationMs is
// 0 (still unknown, sampling phase) or view carries a sampling memtable,
// partitioning is skipped and the whole view is returned as one partition.
func Partition(view manifest.ReadView, segmentDurationMs int64, queryRange base.TimeRange) []partition {
	if view.SamplingMem != nil || segmentDurationMs <= 0 {
		return []partition{wholeViewPartition(view)}
	}

	buckets := make(map[base.TimeRange]*partition)
	var order []base.TimeRange

	get := func(b base.TimeRange) *partition {
		p, ok := buckets[b]
		if !ok {
			p = &partition{bucket: b}
			buckets[b] = p
			order = append(order, b)
		}
		return p
	}

	for _, mt := range view.MemTables {
		b := mt.TimeRange()
		get(b).memTables = append(get(b).memTables, mt)
	}
	for lvl, files := range view.Levels {
		for _, h := range files {
			b := bucketFor(h.Meta().TimeRange, segmentDurationMs, queryRange)
			p := get(b)
			p.files = append(p.files, LeveledFile{Level: lvl, Handle: h})
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Start < order[j].Start })
	out := make([]partition, 0, len(order))
	for _, b := range order {
		out = append(out, *buckets[b])
	}
	return out
}

// bucketFor assigns a file's time range to the segment bucket its start
// falls in, clamped to the query range's own start bucket so a file
// overlapping several segments isn't silently dropped from the first one
// the query actually asked about.
func bucketFor(tr base.TimeRange, segmentDurationMs int64, queryRange base.TimeRange) base.TimeRange {
	start := tr.Start
	if start < queryRange.Start {
		start = queryRange.Start
	}
	return base.BucketRange(start, segmentDurationMs)
}

func wholeViewPartition(view manifest.ReadView) partition {
	p := partition{}
	if view.SamplingMem != nil {
		p.memTables = append(p.memTables, view.SamplingMem)
		p.bucket = view.SamplingMem.TimeRange()
	}
	for _, mt := range view.MemTables {
		p.memTables = append(p.memTables, mt)
	}
	for lvl, files := range view.Levels {
		for _, h := range files {
			p.files = append(p.files, LeveledFile{Level: lvl, Handle: h})
		}
	}
	return p
}

// Load materializes p's memtables and SST files into one row source per
// input, ascending by key within each, ready for a MergeIterator or
// ChainIterator.
func (p partition) Load(ctx context.Context, load Loader) ([][]base.Row, error) {
	sources := make([][]base.Row, 0, len(p.memTables)+len(p.files))
	for _, mt := range p.memTables {
		sources = append(sources, mt.Rows())
	}
	for _, lf := range p.files {
		rows, err := load(ctx, lf.Handle)
		if err != nil {
			return nil, err
		}
		sources = append(sources, rows)
	}
	return sources, nil
}
