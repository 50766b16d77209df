package compaction

import (
	"context"
	"sync"
	"time"

	"github.com/chronodb/analytic/internal/base"
	"github.com/chronodb/analytic/internal/logging"
	"github.com/chronodb/analytic/internal/manifest"
	"github.com/chronodb/analytic/internal/metrics"
)

// TableEntry registers one table with the Scheduler: its live TableVersion
// (so the picker always sees the current file sets) and its compaction
// policy knobs (spec.md §6.4's compaction.* options).
type TableEntry struct {
	Space   base.SpaceID
	Table   base.TableID
	Version *manifest.TableVersion
	Target  Target

	L0FileNumTrigger int
	L0SizeTrigger    uint64
	TTL              time.Duration
}

// SchedulerOptions configures the scheduler's timer loop and back-pressure.
type SchedulerOptions struct {
	ScheduleInterval time.Duration
	// MaxPending bounds the manual-request queue; requests beyond it get
	// SchedulerBusy immediately (spec.md §4.7's back-pressure clause).
	MaxPending int
}

func (o SchedulerOptions) withDefaults() SchedulerOptions {
	if o.ScheduleInterval <= 0 {
		o.ScheduleInterval = time.Minute
	}
	if o.MaxPending <= 0 {
		o.MaxPending = 16
	}
	return o
}

type manualRequest struct {
	table base.TableID
	reply chan error
}

// Scheduler runs the compaction picker on a timer across every registered
// table and serves manual compaction requests ahead of scheduled passes,
// per spec.md §4.7. At most one job per table runs at a time; a table
// already compacting is skipped by both the timer pass and manual requests
// until it finishes.
type Scheduler struct {
	compactor *Compactor
	opts      SchedulerOptions
	log       logging.Logger
	metrics   *metrics.Engine
	now       func() base.Timestamp

	mu         sync.Mutex
	tables     map[base.TableID]*TableEntry
	compacting map[base.TableID]bool

	manual chan manualRequest
}

// NewScheduler returns a Scheduler. now lets tests control TTL evaluation;
// pass nil to use wall-clock time.
func NewScheduler(compactor *Compactor, opts SchedulerOptions, log logging.Logger, m *metrics.Engine, now func() base.Timestamp) *Scheduler {
	if log == nil {
		log = logging.Nop
	}
	if now == nil {
		now = func() base.Timestamp { return base.Timestamp(time.Now().UnixMilli()) }
	}
	opts = opts.withDefaults()
	return &Scheduler{
		compactor:  compactor,
		opts:       opts,
		log:        log,
		metrics:    m,
		now:        now,
		tables:     make(map[base.TableID]*TableEntry),
		compacting: make(map[base.TableID]bool),
		manual:     make(chan manualRequest, opts.MaxPending),
	}
}

// Register adds or replaces a table's scheduling entry.
func (s *Scheduler) Register(entry *TableEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[entry.Table] = entry
}

// Unregister removes a table, e.g. on drop_table.
func (s *Scheduler) Unregister(table base.TableID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables, table)
}

// RequestManual asks for an immediate compaction pass on table, ahead of the
// scheduled timer (spec.md §4.7's "manual requests run ahead of scheduled
// passes"). It blocks until the request has been served or ctx is done. If
// the manual queue is already full it returns SchedulerBusy without
// blocking, per the §4.7/§7 back-pressure contract.
func (s *Scheduler) RequestManual(ctx context.Context, table base.TableID) error {
	req := manualRequest{table: table, reply: make(chan error, 1)}
	select {
	case s.manual <- req:
	default:
		return base.NewKind(base.KindSchedulerBusy, "compaction: manual queue full for table %s", table)
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains manual requests and fires the picker on every registered table
// once per ScheduleInterval, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.ScheduleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.manual:
			s.serveManual(ctx, req)
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	entries := make([]*TableEntry, 0, len(s.tables))
	for _, e := range s.tables {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		if s.isCompacting(e.Table) {
			continue
		}
		job, ok := s.pick(e)
		if !ok {
			continue
		}
		s.runAsync(ctx, e, job)
	}
}

func (s *Scheduler) serveManual(ctx context.Context, req manualRequest) {
	s.mu.Lock()
	e, ok := s.tables[req.table]
	s.mu.Unlock()
	if !ok {
		req.reply <- base.NewKind(base.KindTableNotFound, "compaction: unknown table %s", req.table)
		return
	}
	if s.isCompacting(req.table) {
		req.reply <- base.NewKind(base.KindSchedulerBusy, "compaction: table %s already compacting", req.table)
		return
	}
	job, ok := s.pick(e)
	if !ok {
		req.reply <- nil
		return
	}
	req.reply <- s.runSync(ctx, e, job)
}

func (s *Scheduler) pick(e *TableEntry) (Job, bool) {
	if job, ok := PickExpired(e.Version, e.TTL, s.now()); ok {
		return job, true
	}
	return PickL0(e.Version, e.L0FileNumTrigger, e.L0SizeTrigger)
}

func (s *Scheduler) isCompacting(table base.TableID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compacting[table]
}

// runAsync executes a scheduled (non-manual) pick in the background; its
// result is logged, not returned, since no caller is waiting synchronously.
func (s *Scheduler) runAsync(ctx context.Context, e *TableEntry, job Job) {
	go func() {
		if err := s.runSync(ctx, e, job); err != nil {
			s.log.Logf(logging.LevelWarn, "compaction: table %s scheduled pass failed: %v", e.Table, err)
		}
	}()
}

// runSync flags job's inputs, runs the compaction, applies the resulting
// edit to e.Version, and clears the flags — spec.md §4.7: "On start of
// execution, flag all inputs; on completion (or failure), clear."
func (s *Scheduler) runSync(ctx context.Context, e *TableEntry, job Job) error {
	claimed := make([]LeveledFile, 0, len(job.Inputs))
	for _, lf := range job.Inputs {
		if lf.Handle.SetBeingCompacted(true) {
			claimed = append(claimed, lf)
			continue
		}
		// Lost a race with another picker; release what we've claimed and
		// let the next tick retry with a fresh pick.
		for _, c := range claimed {
			c.Handle.SetBeingCompacted(false)
		}
		return base.NewKind(base.KindSchedulerBusy, "compaction: table %s input already claimed", e.Table)
	}

	s.mu.Lock()
	s.compacting[e.Table] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.compacting, e.Table)
		s.mu.Unlock()
		for _, lf := range job.Inputs {
			lf.Handle.SetBeingCompacted(false)
		}
	}()

	result, err := s.compactor.Compact(ctx, e.Target, job)
	if err != nil {
		return err
	}
	e.Version.ApplyEdit(result.Edit)
	return nil
}
