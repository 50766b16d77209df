package exec

import (
	"golang.org/x/sync/singleflight"
)

// FlushScheduler enforces spec.md §4.4's "at most one flush in flight [per
// table] with a waiters queue so callers may request synchronous flushes".
// singleflight.Group already gives exactly that: concurrent RequestFlush
// calls for the same table share one in-flight run and all receive its
// result, which is the waiters-queue behavior a synchronous flush caller
// needs.
type FlushScheduler struct {
	group singleflight.Group
}

// NewFlushScheduler returns an empty FlushScheduler.
func NewFlushScheduler() *FlushScheduler {
	return &FlushScheduler{}
}

// RequestFlush runs fn for table, or — if a flush for table is already in
// flight — waits for that flush and returns its result instead of starting
// a second one.
func (s *FlushScheduler) RequestFlush(table string, fn func() error) error {
	_, err, _ := s.group.Do(table, func() (interface{}, error) {
		return nil, fn()
	})
	return err
}
