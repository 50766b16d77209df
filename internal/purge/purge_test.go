package purge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/chronodb/analytic/internal/manifest"
	"github.com/chronodb/analytic/internal/objstore"
	"github.com/stretchr/testify/require"
)

func TestPurgerDeletesOnRelease(t *testing.T) {
	store := objstore.NewMemStore()
	ctx := context.Background()
	key := manifest.ObjectKey(1, 1, 7)
	require.NoError(t, store.Put(ctx, key, strings.NewReader("data"), 4))

	queue := NewQueue(4)
	p := New(queue, store, nil, nil)
	go p.Run(ctx)

	h := manifest.NewFileHandle(1, 1, manifest.FileMeta{FileID: 7}, p.BindFileHandle())
	h.Release()

	require.Eventually(t, func() bool {
		_, err := store.Stat(ctx, key)
		return err == objstore.ErrNotFound
	}, time.Second, time.Millisecond)

	queue.Close()
}

func TestQueueCloseDiscardsFurtherEnqueues(t *testing.T) {
	q := NewQueue(1)
	q.Close()
	require.NotPanics(t, func() {
		q.Enqueue(Request{})
	})
}
