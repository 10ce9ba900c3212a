package workqueue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, ErrInvalidConcurrency)
	_, err = New(-3)
	assert.ErrorIs(t, err, ErrInvalidConcurrency)
}

func TestSubmitWaitResult(t *testing.T) {
	q, err := New(2)
	require.NoError(t, err)
	defer q.Close()

	id := q.Submit(func(arg any) any { return arg.(int) * 7 }, 6)
	require.NotZero(t, id)
	assert.Equal(t, 42, q.Wait(id))
}

func TestFIFOCompletionOrder(t *testing.T) {
	// Single worker: units must complete in submission order.
	q, err := New(1)
	require.NoError(t, err)
	defer q.Close()

	var mu sync.Mutex
	var order []int

	ids := make([]UnitID, 0, 8)
	for i := 0; i < 8; i++ {
		i := i
		id := q.Submit(func(any) any {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i
		}, nil)
		require.NotZero(t, id)
		ids = append(ids, id)
	}

	for i, id := range ids {
		assert.Equal(t, i, q.Wait(id))
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, order)
}

func TestPoll(t *testing.T) {
	q, err := New(1)
	require.NoError(t, err)
	defer q.Close()

	release := make(chan struct{})
	id := q.Submit(func(any) any {
		<-release
		return "done"
	}, nil)
	require.NotZero(t, id)

	assert.False(t, q.Poll(id))
	close(release)

	require.Eventually(t, func() bool { return q.Poll(id) }, time.Second, time.Millisecond)
	assert.Equal(t, "done", q.Wait(id))
}

func TestCancelRace(t *testing.T) {
	// One unit running, one queued behind it: cancelling the running unit
	// fails, cancelling the queued one succeeds.
	q, err := New(1)
	require.NoError(t, err)
	defer q.Close()

	started := make(chan struct{})
	release := make(chan struct{})

	running := q.Submit(func(any) any {
		close(started)
		<-release
		return nil
	}, nil)
	require.NotZero(t, running)
	<-started

	queued := q.Submit(func(any) any { return nil }, nil)
	require.NotZero(t, queued)

	assert.False(t, q.Cancel(running))
	assert.True(t, q.Cancel(queued))
	// A cancelled id is released; cancelling again fails.
	assert.False(t, q.Cancel(queued))

	close(release)
	q.Wait(running)
}

func TestIsBusyAndWaitAll(t *testing.T) {
	q, err := New(1)
	require.NoError(t, err)
	defer q.Close()

	assert.False(t, q.IsBusy())

	var completed atomic.Int32
	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		id := q.Submit(func(any) any {
			<-release
			completed.Add(1)
			return nil
		}, nil)
		require.NotZero(t, id)
	}

	assert.True(t, q.IsBusy())
	close(release)

	q.WaitAll()
	assert.Equal(t, int32(3), completed.Load())
	assert.False(t, q.IsBusy())
}

func TestWaitAllReapsUnclaimed(t *testing.T) {
	q, err := New(2)
	require.NoError(t, err)
	defer q.Close()

	for i := 0; i < 10; i++ {
		require.NotZero(t, q.Submit(func(any) any { return nil }, nil))
	}
	q.WaitAll()

	// Every slot was reaped; the next submit reuses a freed slot rather
	// than growing.
	q.mu.Lock()
	free := 0
	for idx := q.freeHead; idx != noIndex; idx = q.units[idx].next {
		free++
	}
	total := len(q.units)
	q.mu.Unlock()
	assert.Equal(t, total, free)
}

func TestMaxUnitsCap(t *testing.T) {
	q, err := New(1, func(o *Options) { o.MaxUnits = 2 })
	require.NoError(t, err)
	defer q.Close()

	release := make(chan struct{})
	id1 := q.Submit(func(any) any { <-release; return nil }, nil)
	id2 := q.Submit(func(any) any { <-release; return nil }, nil)
	require.NotZero(t, id1)
	require.NotZero(t, id2)

	// Cap reached with every unit in use: submission fails cleanly.
	assert.Zero(t, q.Submit(func(any) any { return nil }, nil))

	close(release)
	q.Wait(id1)
	q.Wait(id2)

	// Slots freed: submission works again.
	id3 := q.Submit(func(any) any { return nil }, nil)
	require.NotZero(t, id3)
	q.Wait(id3)
}

func TestGrowthPreservesIDs(t *testing.T) {
	q, err := New(1)
	require.NoError(t, err)
	defer q.Close()

	release := make(chan struct{})
	ids := make([]UnitID, 0, 64)
	for i := 0; i < 64; i++ {
		i := i
		id := q.Submit(func(any) any {
			<-release
			return i
		}, nil)
		require.NotZero(t, id)
		ids = append(ids, id)
	}
	close(release)

	for i, id := range ids {
		assert.Equal(t, i, q.Wait(id))
	}
}

func TestSubmitNilFunc(t *testing.T) {
	q, err := New(1)
	require.NoError(t, err)
	defer q.Close()

	assert.Zero(t, q.Submit(nil, nil))
}

func TestCloseRejectsSubmit(t *testing.T) {
	q, err := New(1)
	require.NoError(t, err)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close()) // idempotent

	assert.Zero(t, q.Submit(func(any) any { return nil }, nil))
}

func TestParallelThroughput(t *testing.T) {
	q, err := New(4)
	require.NoError(t, err)
	defer q.Close()

	var sum atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				v := int64(g*100 + i)
				id := q.Submit(func(arg any) any {
					sum.Add(arg.(int64))
					return nil
				}, v)
				if id != 0 {
					q.Wait(id)
				}
			}
		}(g)
	}
	wg.Wait()

	var want int64
	for v := int64(0); v < 400; v++ {
		want += v
	}
	assert.Equal(t, want, sum.Load())
}

func TestWaitConcurrentWithWaitAll(t *testing.T) {
	q, err := New(2)
	require.NoError(t, err)
	defer q.Close()

	// A waiter blocked in Wait and a concurrent WaitAll must not both
	// release the same unit: a double free puts the slot on the free list
	// twice, two submits share it, and the second completion closes an
	// already-closed done channel.
	for i := 0; i < 500; i++ {
		id := q.Submit(func(arg any) any { return arg }, i)
		require.NotZero(t, id)

		var wg sync.WaitGroup
		wg.Add(2)
		var got any
		go func() {
			defer wg.Done()
			got = q.Wait(id)
		}()
		go func() {
			defer wg.Done()
			q.WaitAll()
		}()
		wg.Wait()

		// WaitAll may consume the unit before Wait claims it; when Wait
		// wins the claim it must observe the result.
		if got != nil {
			assert.Equal(t, i, got)
		}
	}

	// The free list must still be coherent after the races.
	q.mu.Lock()
	seen := make(map[int32]bool)
	for idx := q.freeHead; idx != noIndex; idx = q.units[idx].next {
		require.False(t, seen[idx], "unit %d on the free list twice", idx)
		seen[idx] = true
	}
	q.mu.Unlock()
}

func TestCancelFailsOnClaimedUnit(t *testing.T) {
	q, err := New(1)
	require.NoError(t, err)
	defer q.Close()

	block := make(chan struct{})
	running := q.Submit(func(any) any { <-block; return nil }, nil)
	require.NotZero(t, running)
	queued := q.Submit(func(any) any { return "late" }, nil)
	require.NotZero(t, queued)

	finished := make(chan any, 1)
	go func() {
		finished <- q.Wait(queued)
	}()
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		u := q.slot(queued)
		return u != nil && u.claimed
	}, time.Second, time.Millisecond)

	// Cancelling a unit another goroutine waits on would strand the waiter.
	assert.False(t, q.Cancel(queued))

	close(block)
	assert.Equal(t, "late", <-finished)
}
