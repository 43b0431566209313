package workqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_RunsSimpleItem(t *testing.T) {
	q := New(Options[int, int]{
		MaxWorkers: 2,
		Fn: func(_ context.Context, in int) (int, error) {
			return in * 2, nil
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop(true)

	id := q.AddWork(21, 0, 1, nil)
	out, err := q.GetResult(ctx, id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestQueue_DependencyOrdering(t *testing.T) {
	var aCompletedAt, bStartedAt time.Time
	var mu sync.Mutex

	q := New(Options[string, string]{
		MaxWorkers: 2,
		Fn: func(_ context.Context, in string) (string, error) {
			if in == "b" {
				mu.Lock()
				bStartedAt = time.Now()
				mu.Unlock()
			}
			time.Sleep(5 * time.Millisecond)
			if in == "a" {
				mu.Lock()
				aCompletedAt = time.Now()
				mu.Unlock()
			}
			return in, nil
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop(true)

	idA := q.AddWork("a", 0, 1, nil)
	idB := q.AddWithDependencies("b", 0, 1, nil, []string{idA})

	_, err := q.GetResult(ctx, idB, time.Second)
	require.NoError(t, err)
	_, err = q.GetResult(ctx, idA, time.Second)
	require.NoError(t, err)

	assert.True(t, aCompletedAt.Before(bStartedAt) || aCompletedAt.Equal(bStartedAt))
}

func TestQueue_RetriesThenFails(t *testing.T) {
	var attempts int32
	q := New(Options[int, int]{
		MaxWorkers: 1,
		Fn: func(_ context.Context, in int) (int, error) {
			atomic.AddInt32(&attempts, 1)
			return 0, errors.New("boom")
		},
		Retry: func(attempt int, err error) (bool, time.Duration) {
			return attempt < 3, 0
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop(true)

	id := q.AddWork(1, 0, 5, nil)
	_, err := q.GetResult(ctx, id, time.Second)
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestQueue_CancelPendingNeverRuns(t *testing.T) {
	var ran int32
	q := New(Options[int, int]{
		MaxWorkers: 0, // no workers started; item stays PENDING
		Fn: func(_ context.Context, in int) (int, error) {
			atomic.AddInt32(&ran, 1)
			return in, nil
		},
	})
	id := q.AddWork(1, 0, 1, nil)
	require.NoError(t, q.Cancel(id))

	item, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, item.Status)
	assert.Equal(t, int32(0), ran)
}
