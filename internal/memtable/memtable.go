// Package memtable implements the sorted, mutable, primary-key-ordered row
// container rows land in before they are flushed to an SST, grounded on the
// skiplist-backed memtables in other_examples' rosedblabs-lotusdb and
// alexhholmes-boulder storage engines, generalized to the two flavors
// (regular / sampling) spec.md §3 requires.
package memtable

import (
	"sort"
	"sync"
	"time"

	"github.com/chronodb/analytic/internal/base"
)

// MemTable is a sorted, mutable in-memory row container keyed by primary
// key. A MemTable is only ever mutated by the table's SerialExecutor; reads
// take a point-in-time snapshot of the row slice under RLock.
type MemTable struct {
	mu sync.RWMutex

	creationSeq base.SequenceNumber
	lastSeq     base.SequenceNumber
	timeRange   base.TimeRange // inclusive start, exclusive end

	// sampling is true until the table's segment_duration is known; a
	// sampling memtable never coexists with a regular one (invariant 8).
	sampling bool
	// samples observed while sampling, used to infer segment_duration on
	// graduation.
	samples []base.Timestamp

	rows     []base.Row // sorted by Key ascending, ties broken by higher Sequence first
	byteSize int64

	arenaBlockSize int64
}

// New creates a regular memtable covering bucket, assigned the given
// creation sequence.
func New(creationSeq base.SequenceNumber, bucket base.TimeRange, arenaBlockSize int64) *MemTable {
	return &MemTable{
		creationSeq:    creationSeq,
		lastSeq:        creationSeq,
		timeRange:      bucket,
		arenaBlockSize: arenaBlockSize,
	}
}

// NewSampling creates the sampling memtable used for a table's first writes,
// before segment_duration is known.
func NewSampling(creationSeq base.SequenceNumber, arenaBlockSize int64) *MemTable {
	mt := New(creationSeq, base.TimeRange{}, arenaBlockSize)
	mt.sampling = true
	return mt
}

// IsSampling reports whether this is the sampling memtable.
func (m *MemTable) IsSampling() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sampling
}

// CreationSequence returns the sequence number at which this memtable was
// created.
func (m *MemTable) CreationSequence() base.SequenceNumber {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creationSeq
}

// LastSequence returns the highest sequence number applied so far.
func (m *MemTable) LastSequence() base.SequenceNumber {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSeq
}

// TimeRange returns the memtable's covering bucket, widened to any applied
// row that falls outside it. A memtable created with an empty range (the
// sampling memtable) reports the span of the rows applied so far.
func (m *MemTable) TimeRange() base.TimeRange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timeRange
}

// ByteSize returns an estimate of the memtable's in-memory footprint, used
// by the write path's flush triggers (spec.md §4.5 step 7).
func (m *MemTable) ByteSize() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byteSize
}

// RowCount returns the number of live row versions currently held (including
// not-yet-deduped overwrites).
func (m *MemTable) RowCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

// Apply inserts rows (already assigned sequence numbers) in key order. If
// the memtable is sampling, it also records the row's timestamp as an
// observation for segment_duration inference.
func (m *MemTable) Apply(rows []base.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.insertLocked(r)
		if r.Sequence > m.lastSeq {
			m.lastSeq = r.Sequence
		}
		if m.sampling {
			m.samples = append(m.samples, r.Timestamp)
		}
		if m.timeRange.Empty() {
			m.timeRange = base.TimeRange{Start: r.Timestamp, End: r.Timestamp + 1}
		}
		if r.Timestamp < m.timeRange.Start {
			m.timeRange.Start = r.Timestamp
		}
		if r.Timestamp+1 > m.timeRange.End {
			m.timeRange.End = r.Timestamp + 1
		}
		m.byteSize += estimateRowSize(r)
	}
}

func (m *MemTable) insertLocked(r base.Row) {
	i := sort.Search(len(m.rows), func(i int) bool {
		c := base.CompareKeys(m.rows[i].Key, r.Key)
		if c != 0 {
			return c >= 0
		}
		// Same key: higher sequence sorts first among duplicates, so newer
		// writes are found before older ones by a forward scan.
		return m.rows[i].Sequence <= r.Sequence
	})
	m.rows = append(m.rows, base.Row{})
	copy(m.rows[i+1:], m.rows[i:])
	m.rows[i] = r
}

func estimateRowSize(r base.Row) int64 {
	size := int64(len(r.Key)) + 16
	for _, v := range r.Values {
		switch val := v.(type) {
		case string:
			size += int64(len(val))
		case []byte:
			size += int64(len(val))
		default:
			size += 8
		}
	}
	return size
}

// Rows returns a snapshot of the memtable's rows in ascending key order,
// ties broken by higher sequence first — the cursor contract MergeIterator
// depends on.
func (m *MemTable) Rows() []base.Row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]base.Row, len(m.rows))
	copy(out, m.rows)
	return out
}

// Get returns the most recent row for key, if present.
func (m *MemTable) Get(key []byte) (base.Row, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := sort.Search(len(m.rows), func(i int) bool {
		return base.CompareKeys(m.rows[i].Key, key) >= 0
	})
	if i < len(m.rows) && base.CompareKeys(m.rows[i].Key, key) == 0 {
		return m.rows[i], true
	}
	return base.Row{}, false
}

// InferSegmentDuration derives a segment duration from the sampling
// observations using the span of observed timestamps, rounded up to the
// nearest power-of-two number of minutes bounded to [1m, 24h]. This is the
// "graduation" step spec.md §3/§4.3 describes; it is novel to this Go
// engine (no directly retrieved Rust file covers the inference formula), so
// the exact rounding rule is an implementation decision, not a ported one.
func (m *MemTable) InferSegmentDuration() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.samples) == 0 {
		return int64(time.Hour / time.Millisecond)
	}
	minTs, maxTs := m.samples[0], m.samples[0]
	for _, s := range m.samples {
		if s < minTs {
			minTs = s
		}
		if s > maxTs {
			maxTs = s
		}
	}
	span := int64(maxTs - minTs)
	if span <= 0 {
		return int64(time.Hour / time.Millisecond)
	}
	const minute = int64(time.Minute / time.Millisecond)
	const day = int64(24 * time.Hour / time.Millisecond)
	d := minute
	for d < span && d < day {
		d *= 2
	}
	if d > day {
		d = day
	}
	return d
}

// Graduate converts a sampling memtable into a regular one covering the
// given bucket, replaying its sampled rows into the new bucket boundary.
// Invariant 8 requires this happen as a single atomic edit at the
// TableVersion layer; MemTable.Graduate itself just produces the new
// regular memtable's content.
func (m *MemTable) Graduate(segmentDuration int64) *MemTable {
	m.mu.RLock()
	rows := make([]base.Row, len(m.rows))
	copy(rows, m.rows)
	creationSeq := m.creationSeq
	m.mu.RUnlock()

	if len(rows) == 0 {
		return New(creationSeq, base.TimeRange{}, m.arenaBlockSize)
	}
	bucket := base.BucketRange(rows[0].Timestamp, segmentDuration)
	mt := New(creationSeq, bucket, m.arenaBlockSize)
	mt.Apply(rows)
	return mt
}
