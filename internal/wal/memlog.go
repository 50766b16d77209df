package wal

import (
	"context"
	"sort"
	"sync"

	"github.com/chronodb/analytic/internal/base"
	"github.com/cockroachdb/errors"
)

// MemLog is an in-memory Log, used by tests and as the WAL for the engine's
// in-memory object-store configuration.
type MemLog struct {
	mu      sync.Mutex
	entries []Entry
	trimmed base.SequenceNumber
	closed  bool
}

// NewMemLog returns an empty MemLog.
func NewMemLog() *MemLog {
	return &MemLog{}
}

func (l *MemLog) Append(_ context.Context, entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("wal: log closed")
	}
	l.entries = append(l.entries, entries...)
	return nil
}

func (l *MemLog) Read(_ context.Context, after base.SequenceNumber, batchSize int, fn func([]Entry) error) error {
	if batchSize <= 0 {
		batchSize = 1
	}
	l.mu.Lock()
	all := make([]Entry, len(l.entries))
	copy(all, l.entries)
	l.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Sequence < all[j].Sequence })

	start := sort.Search(len(all), func(i int) bool { return all[i].Sequence > after })
	for i := start; i < len(all); i += batchSize {
		end := i + batchSize
		if end > len(all) {
			end = len(all)
		}
		if err := fn(all[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (l *MemLog) MarkDeleteUpTo(_ context.Context, seq base.SequenceNumber) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq > l.trimmed {
		l.trimmed = seq
	}
	if seq == SeqMax {
		l.entries = nil
		return nil
	}
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.Sequence > seq {
			kept = append(kept, e)
		}
	}
	l.entries = kept
	return nil
}

// TrimmedUpTo reports the highest sequence MarkDeleteUpTo has been told is
// safe to discard, for tests asserting spec.md §8 invariant 3
// (wal.trimmed_up_to <= flushed_sequence).
func (l *MemLog) TrimmedUpTo() base.SequenceNumber {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.trimmed
}

func (l *MemLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
