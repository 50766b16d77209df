package base

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// PoolName identifies one of the engine's distinct runtime pools (spec.md
// §5: "Distinct runtime pools exist for read, write, compact, meta, io, and
// default").
type PoolName string

const (
	PoolRead    PoolName = "read"
	PoolWrite   PoolName = "write"
	PoolCompact PoolName = "compact"
	PoolMeta    PoolName = "meta"
	PoolIO      PoolName = "io"
	PoolDefault PoolName = "default"
)

// Pool is a bounded goroutine pool: Go schedules f on the pool's own
// capacity, blocking the caller only if the pool's concurrency cap is
// exhausted. It is the dispatch target for "heavy or blocking work" per
// spec.md §5.
type Pool struct {
	name PoolName
	sem  chan struct{}
}

// NewPool creates a pool named name with capacity concurrent in-flight
// goroutines. concurrency <= 0 means unbounded.
func NewPool(name PoolName, concurrency int) *Pool {
	p := &Pool{name: name}
	if concurrency > 0 {
		p.sem = make(chan struct{}, concurrency)
	}
	return p
}

// Name returns the pool's identity.
func (p *Pool) Name() PoolName { return p.name }

// Go runs f asynchronously on the pool, respecting ctx cancellation while
// waiting for a free slot. The returned error is non-nil only if ctx was
// cancelled before a slot became available; f's own errors are not
// observable here by design (callers that need f's result use GoGroup).
func (p *Pool) Go(ctx context.Context, f func()) error {
	if p.sem == nil {
		go f()
		return nil
	}
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	go func() {
		defer func() { <-p.sem }()
		f()
	}()
	return nil
}

// Group returns an errgroup bound to ctx for fan-out/fan-in work. It is a
// plain errgroup.WithContext: goroutines started on it do not count against
// the pool's concurrency cap.
func (p *Pool) Group(ctx context.Context) (*errgroup.Group, context.Context) {
	return errgroup.WithContext(ctx)
}
