// Package read implements the read-path iterators and partitioned-read
// fan-out spec.md §4.9 describes: a MergeIterator / DedupIterator pair for
// in-order, deduped reads, a ChainIterator for out-of-order reads, segment-
// aligned partitioning of a TableVersion's ReadView, and round-robin lane
// fan-out into bounded channels. Grounded on original_source's
// analytic_engine/src/instance/read.rs (need_merge_sort_streams,
// RECORD_BATCH_READ_BUF_SIZE, partition_ssts_and_memtables) for the overall
// shape, and the cursor/merge idea in
// other_examples/73829552_nodeplusplus-cockroach__github.com-cockroachdb-pebble-level_iter.go.go's
// levelIter, simplified to a linear scan across cursors since a partition
// here fans in a handful of memtables/SSTs, not an entire level.
package read

import "github.com/chronodb/analytic/internal/base"

// RowIterator yields rows one at a time until exhausted.
type RowIterator interface {
	// Next returns the next row, or ok=false once exhausted.
	Next() (base.Row, bool)
}

type sliceCursor struct {
	rows []base.Row
	i    int
}

func (c *sliceCursor) peek() (base.Row, bool) {
	if c.i >= len(c.rows) {
		return base.Row{}, false
	}
	return c.rows[c.i], true
}

func (c *sliceCursor) advance() { c.i++ }

// MergeIterator k-way merges N ascending-by-key row sources into one
// ascending-by-key stream, breaking ties by higher sequence number first
// (spec.md §4.9's MergeIterator contract).
type MergeIterator struct {
	cursors []*sliceCursor
}

// NewMergeIterator builds a MergeIterator over sources, each already sorted
// ascending by key (a MemTable.Rows() or sst.Reader.Rows() result).
func NewMergeIterator(sources [][]base.Row) *MergeIterator {
	m := &MergeIterator{}
	for _, s := range sources {
		if len(s) > 0 {
			m.cursors = append(m.cursors, &sliceCursor{rows: s})
		}
	}
	return m
}

// Next returns the next row in merged order.
func (m *MergeIterator) Next() (base.Row, bool) {
	best := -1
	for i, c := range m.cursors {
		row, ok := c.peek()
		if !ok {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		bestRow, _ := m.cursors[best].peek()
		if rowLess(row, bestRow) {
			best = i
		}
	}
	if best == -1 {
		return base.Row{}, false
	}
	row, _ := m.cursors[best].peek()
	m.cursors[best].advance()
	return row, true
}

// rowLess orders a before b: ascending key, ties broken by higher sequence
// first.
func rowLess(a, b base.Row) bool {
	c := base.CompareKeys(a.Key, b.Key)
	if c != 0 {
		return c < 0
	}
	return a.Sequence > b.Sequence
}

// DedupIterator wraps a merge stream and emits only the first row of each
// primary-key run — the highest-sequence version, since MergeIterator
// already orders ties that way (spec.md §4.9's DedupIterator contract).
type DedupIterator struct {
	inner    RowIterator
	lastKey  []byte
	lastSeen bool
}

// NewDedupIterator wraps inner, an already key-ascending stream.
func NewDedupIterator(inner RowIterator) *DedupIterator {
	return &DedupIterator{inner: inner}
}

// Next returns the next distinct-key row.
func (d *DedupIterator) Next() (base.Row, bool) {
	for {
		row, ok := d.inner.Next()
		if !ok {
			return base.Row{}, false
		}
		if d.lastSeen && base.CompareKeys(row.Key, d.lastKey) == 0 {
			continue
		}
		d.lastKey = row.Key
		d.lastSeen = true
		return row, true
	}
}

// ChainIterator concatenates sources in a deterministic but unsorted order
// with no dedup (spec.md §4.9's ChainIterator contract, used when the
// caller accepts out-of-order output).
type ChainIterator struct {
	sources [][]base.Row
	si, ri  int
}

// NewChainIterator builds a ChainIterator over sources, iterated in the
// order given.
func NewChainIterator(sources [][]base.Row) *ChainIterator {
	return &ChainIterator{sources: sources}
}

// Next returns the next row.
func (c *ChainIterator) Next() (base.Row, bool) {
	for c.si < len(c.sources) {
		if c.ri < len(c.sources[c.si]) {
			row := c.sources[c.si][c.ri]
			c.ri++
			return row, true
		}
		c.si++
		c.ri = 0
	}
	return base.Row{}, false
}
