// Package metrics wires the engine's counters and gauges into Prometheus,
// grounded on the `metrics.go` shape in the pebble forks retrieved alongside
// the teacher (every metric here has a real pebble analogue: write/flush/
// compaction throughput, memtable bytes, WAL trim lag).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Engine holds the collectors shared by every table of one Engine instance.
type Engine struct {
	WritesTotal       prometheus.Counter
	RowsWritten       prometheus.Counter
	WriteBatchTooLarge prometheus.Counter
	FlushesTotal      prometheus.Counter
	FlushDuration     prometheus.Histogram
	FlushFailures     prometheus.Counter
	CompactionsTotal  prometheus.Counter
	CompactionDuration prometheus.Histogram
	CompactionFailures prometheus.Counter
	MemTableBytes     prometheus.Gauge
	WalTrimLag        prometheus.Gauge
	PurgedFiles       prometheus.Counter
}

// NewEngine constructs and registers collectors against reg. Passing a
// fresh *prometheus.Registry (rather than the global DefaultRegisterer) lets
// tests construct isolated Engine metrics without colliding across runs.
func NewEngine(reg prometheus.Registerer) *Engine {
	m := &Engine{
		WritesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chronodb_writes_total", Help: "Total accepted write requests.",
		}),
		RowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chronodb_rows_written_total", Help: "Total rows applied to memtables.",
		}),
		WriteBatchTooLarge: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chronodb_write_batch_too_large_total", Help: "Writes rejected for exceeding max_bytes_per_write_batch.",
		}),
		FlushesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chronodb_flushes_total", Help: "Total completed flushes.",
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "chronodb_flush_duration_seconds", Help: "Flush wall time.",
		}),
		FlushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chronodb_flush_failures_total", Help: "Terminal flush failures after retry budget exhausted.",
		}),
		CompactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chronodb_compactions_total", Help: "Total compaction executions.",
		}),
		CompactionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "chronodb_compaction_duration_seconds", Help: "Compaction wall time.",
		}),
		CompactionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chronodb_compaction_failures_total", Help: "Non-fatal compaction failures.",
		}),
		MemTableBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chronodb_memtable_bytes", Help: "Engine-wide memtable byte usage.",
		}),
		WalTrimLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chronodb_wal_trim_lag", Help: "last_sequence minus flushed_sequence, summed across tables.",
		}),
		PurgedFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chronodb_purged_files_total", Help: "SST objects deleted by the purger.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.WritesTotal, m.RowsWritten, m.WriteBatchTooLarge, m.FlushesTotal,
			m.FlushDuration, m.FlushFailures, m.CompactionsTotal, m.CompactionDuration,
			m.CompactionFailures, m.MemTableBytes, m.WalTrimLag, m.PurgedFiles)
	}
	return m
}
