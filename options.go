package analytic

import (
	"strconv"
	"time"

	"github.com/chronodb/analytic/internal/sst"
)

// TableOptions holds the per-table configuration knobs. They're persisted
// in the manifest as a plain string map (matching
// manifest.TableManifestData.Options) and parsed into this struct on open
// and on every alter_options call.
type TableOptions struct {
	WriteBufferSize       int64
	SegmentDuration       int64 // milliseconds; 0 means unknown (sampling phase)
	TTL                   time.Duration
	NumRowsPerRowGroup    int
	NeedDedup             bool
	ArenaBlockSize        int64
	MaxRetryFlushLimit    int
	ReplayBatchSize       int
	MaxBytesPerWriteBatch int64
	Compression           sst.Compression

	CompactionL0FileNumTrigger int
	CompactionL0SizeTrigger    uint64
	CompactionMaxPending       int
}

// DefaultTableOptions returns the option set a table gets before any
// overrides are applied.
func DefaultTableOptions() TableOptions {
	return TableOptions{
		WriteBufferSize:            32 << 20,
		NumRowsPerRowGroup:         4096,
		ArenaBlockSize:             1 << 20,
		MaxRetryFlushLimit:         3,
		ReplayBatchSize:            500,
		Compression:                sst.CompressionSnappy,
		CompactionL0FileNumTrigger: 4,
		CompactionMaxPending:       16,
	}
}

// ParseTableOptions overlays raw (as persisted/altered via alter_options)
// onto DefaultTableOptions, ignoring keys it doesn't recognize rather than
// failing: unrecognized keys are accepted but inert.
func ParseTableOptions(raw map[string]string) TableOptions {
	opts := DefaultTableOptions()
	for k, v := range raw {
		switch k {
		case "write_buffer_size":
			opts.WriteBufferSize = parseInt64(v, opts.WriteBufferSize)
		case "segment_duration":
			opts.SegmentDuration = parseInt64(v, opts.SegmentDuration)
		case "ttl":
			if d, err := time.ParseDuration(v); err == nil {
				opts.TTL = d
			}
		case "num_rows_per_row_group":
			opts.NumRowsPerRowGroup = int(parseInt64(v, int64(opts.NumRowsPerRowGroup)))
		case "need_dedup":
			opts.NeedDedup = v == "true"
		case "arena_block_size":
			opts.ArenaBlockSize = parseInt64(v, opts.ArenaBlockSize)
		case "max_retry_flush_limit":
			opts.MaxRetryFlushLimit = int(parseInt64(v, int64(opts.MaxRetryFlushLimit)))
		case "replay_batch_size":
			opts.ReplayBatchSize = int(parseInt64(v, int64(opts.ReplayBatchSize)))
		case "max_bytes_per_write_batch":
			opts.MaxBytesPerWriteBatch = parseInt64(v, opts.MaxBytesPerWriteBatch)
		case "compaction.l0_file_num_trigger":
			opts.CompactionL0FileNumTrigger = int(parseInt64(v, int64(opts.CompactionL0FileNumTrigger)))
		case "compaction.l0_size_trigger":
			opts.CompactionL0SizeTrigger = uint64(parseInt64(v, int64(opts.CompactionL0SizeTrigger)))
		case "compaction.max_pending":
			opts.CompactionMaxPending = int(parseInt64(v, int64(opts.CompactionMaxPending)))
		}
	}
	return opts
}

// tableOptionsToMap serializes opts back into the string-map shape
// TableManifestData.Options and alter_options both use, so an inferred
// segment_duration (or any other runtime change) round-trips through the
// manifest the same way a caller-driven alter_options would.
func tableOptionsToMap(opts TableOptions) map[string]string {
	m := map[string]string{
		"write_buffer_size":          strconv.FormatInt(opts.WriteBufferSize, 10),
		"segment_duration":           strconv.FormatInt(opts.SegmentDuration, 10),
		"num_rows_per_row_group":     strconv.Itoa(opts.NumRowsPerRowGroup),
		"need_dedup":                 strconv.FormatBool(opts.NeedDedup),
		"arena_block_size":           strconv.FormatInt(opts.ArenaBlockSize, 10),
		"max_retry_flush_limit":      strconv.Itoa(opts.MaxRetryFlushLimit),
		"replay_batch_size":          strconv.Itoa(opts.ReplayBatchSize),
		"max_bytes_per_write_batch":  strconv.FormatInt(opts.MaxBytesPerWriteBatch, 10),
		"compaction.l0_file_num_trigger": strconv.Itoa(opts.CompactionL0FileNumTrigger),
		"compaction.l0_size_trigger":     strconv.FormatUint(opts.CompactionL0SizeTrigger, 10),
		"compaction.max_pending":         strconv.Itoa(opts.CompactionMaxPending),
	}
	if opts.TTL > 0 {
		m["ttl"] = opts.TTL.String()
	}
	return m
}

func parseInt64(v string, fallback int64) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// EngineOptions holds the engine-wide knobs: the aggregate write-buffer
// threshold plus the scheduling cadence the compaction scheduler runs at.
type EngineOptions struct {
	DBWriteBufferSize          int64
	SpaceWriteBufferSize       int64
	CompactionScheduleInterval time.Duration
}

// DefaultEngineOptions returns the engine-wide defaults.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		CompactionScheduleInterval: time.Minute,
	}
}
