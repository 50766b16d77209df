package exec

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSerialExecutorRunsInSubmissionOrder(t *testing.T) {
	e := NewSerialExecutor(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)
	defer e.Close()

	var order []int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			i := i
			_ = e.Submit(ctx, func(context.Context) error {
				order = append(order, i)
				return nil
			})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tasks")
	}
	require.Len(t, order, 5)
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSerialExecutorSerializesConcurrentSubmits(t *testing.T) {
	e := NewSerialExecutor(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)
	defer e.Close()

	var active int32
	var maxActive int32
	const n = 20
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			results <- e.Submit(ctx, func(context.Context) error {
				cur := atomic.AddInt32(&active, 1)
				if cur > atomic.LoadInt32(&maxActive) {
					atomic.StoreInt32(&maxActive, cur)
				}
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-results)
	}
	require.EqualValues(t, 1, maxActive, "only one task should run at a time")
}

func TestFlushSchedulerDedupsConcurrentRequests(t *testing.T) {
	s := NewFlushScheduler()
	var calls int32
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = s.RequestFlush("t1", func() error {
			atomic.AddInt32(&calls, 1)
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			results <- s.RequestFlush("t1", func() error {
				atomic.AddInt32(&calls, 1)
				return nil
			})
		}()
	}
	close(release)
	for i := 0; i < 3; i++ {
		require.NoError(t, <-results)
	}
	require.EqualValues(t, 1, calls, "waiters should share the in-flight flush, not start their own")
}
