package metrics

import (
	"sync"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

// ReadRateMeter tracks how often a single hot object (an SST FileHandle) is
// read, using a rolling HdrHistogram rather than a full prometheus
// histogram per file — the per-file cardinality this is attached to (spec.md
// §3's FileHandle "read-rate meter") makes one Prometheus series per file a
// poor fit, while a cheap per-object histogram is the standard answer.
type ReadRateMeter struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

// NewReadRateMeter creates a meter tracking read-batch sizes from 1 to
// maxValue with two significant decimal digits of precision.
func NewReadRateMeter(maxValue int64) *ReadRateMeter {
	return &ReadRateMeter{hist: hdrhistogram.New(1, maxValue, 2)}
}

// RecordRead records that n rows were read from the file in one access.
func (m *ReadRateMeter) RecordRead(n int64) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.hist.RecordValue(n)
}

// Snapshot returns (total access count, mean rows per access).
func (m *ReadRateMeter) Snapshot() (count int64, mean float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hist.TotalCount(), m.hist.Mean()
}
