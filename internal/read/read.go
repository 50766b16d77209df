package read

import (
	"context"

	"github.com/chronodb/analytic/internal/base"
	"github.com/chronodb/analytic/internal/manifest"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// RecordBatchBufSize bounds each read lane's output channel (spec.md §4.9's
// RECORD_BATCH_READ_BUF_SIZE, original_source's read.rs constant of 1000).
const RecordBatchBufSize = 1000

// Order selects output ordering for a read (spec.md §4.9).
type Order int

const (
	OrderNone Order = iota
	OrderAscending
	OrderDescending
)

// IsInOrder reports whether o requires a sorted (merge) stream rather than
// accepting whatever order the sources happen to produce.
func (o Order) IsInOrder() bool { return o == OrderAscending || o == OrderDescending }

// Predicate is applied to every row just before it's batched for emission,
// before projection — spec.md §4.9's "predicate pushdown applied at emission".
type Predicate func(base.Row) bool

// Request describes one read or partitioned_read call.
type Request struct {
	TimeRange       base.TimeRange
	Columns         []string // projection; nil means all columns
	Predicate       Predicate
	Order           Order
	NeedDedup       bool
	ReadParallelism int
	BatchSize       int
}

func (r Request) withDefaults() Request {
	if r.ReadParallelism <= 0 {
		r.ReadParallelism = 1
	}
	if r.BatchSize <= 0 {
		r.BatchSize = 256
	}
	return r
}

// PartitionedRead executes spec.md §4.9's read path against version: it
// snapshots a ReadView for req.TimeRange, partitions it by segment (unless
// a sampling memtable is present or the segment duration is unknown),
// builds a MergeIterator+DedupIterator or ChainIterator per partition
// depending on req.NeedDedup/req.Order, fans the partitions round-robin
// across req.ReadParallelism lanes, and streams projected, predicate-
// filtered RecordBatches out through one bounded channel per lane.
//
// Each returned channel is closed once its lane is drained or ctx is done;
// the returned function blocks until every lane has finished and returns
// the first error encountered, if any (the errgroup.WithContext pattern
// internal/flush and internal/compaction already use for fan-out work).
func PartitionedRead(ctx context.Context, version *manifest.TableVersion, schema base.Schema, load Loader, req Request) ([]<-chan base.RecordBatch, func() error) {
	req = req.withDefaults()

	view := version.PickReadView(req.TimeRange)
	parts := Partition(view, version.SegmentDuration(), req.TimeRange)

	needMergeSort := req.NeedDedup || req.Order.IsInOrder()
	if req.Order == OrderDescending && req.ReadParallelism == 1 {
		reversePartitions(parts)
	}

	lanes := make([][]partition, req.ReadParallelism)
	for i, p := range parts {
		lane := i % req.ReadParallelism
		lanes[lane] = append(lanes[lane], p)
	}

	g, gctx := errgroup.WithContext(ctx)
	outs := make([]<-chan base.RecordBatch, req.ReadParallelism)
	for i, lane := range lanes {
		ch := make(chan base.RecordBatch, RecordBatchBufSize)
		outs[i] = ch
		lane := lane
		g.Go(func() error {
			defer close(ch)
			return runLane(gctx, lane, schema, load, req, needMergeSort, ch)
		})
	}

	return outs, g.Wait
}

func reversePartitions(parts []partition) {
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
}

func runLane(ctx context.Context, lane []partition, schema base.Schema, load Loader, req Request, needMergeSort bool, out chan<- base.RecordBatch) error {
	for _, p := range lane {
		sources, err := p.Load(ctx, load)
		if err != nil {
			return errors.Wrapf(err, "read: loading partition bucket [%d,%d)", p.bucket.Start, p.bucket.End)
		}

		var it RowIterator
		if needMergeSort {
			it = NewDedupIterator(NewMergeIterator(sources))
		} else {
			it = NewChainIterator(sources)
		}

		batch := make([]base.Row, 0, req.BatchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			rb := base.RecordBatch{Schema: schema, Rows: batch}
			if req.Columns != nil {
				rb = rb.Project(req.Columns)
			}
			select {
			case out <- rb:
			case <-ctx.Done():
				return ctx.Err()
			}
			batch = make([]base.Row, 0, req.BatchSize)
			return nil
		}

		for {
			row, ok := it.Next()
			if !ok {
				break
			}
			if req.Predicate != nil && !req.Predicate(row) {
				continue
			}
			batch = append(batch, row)
			if len(batch) >= req.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := flush(); err != nil {
			return err
		}
	}
	return nil
}
