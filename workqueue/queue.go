// Package workqueue provides a bounded-concurrency task engine.
//
// One dispatcher goroutine hands pending units to N long-lived workers in
// strict FIFO submission order. Units live in a growable array linked by
// index into a pending list and a free list, so a UnitID stays valid across
// array growth. The shared decompression queue of a runtime is one of
// these; nothing in the package knows about assets.
package workqueue

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// UnitID identifies a submitted work unit. The zero value means "no unit"
// and is what Submit returns when the queue cannot accept work. An id is
// consumed by Wait (or WaitAll) and must not be used afterwards.
type UnitID uint32

// ErrInvalidConcurrency is returned by New for a non-positive worker count.
var ErrInvalidConcurrency = errors.New("workqueue: max concurrency must be positive")

const noIndex = int32(-1)

// Options configures a Queue.
type Options struct {
	// MaxUnits caps the unit array. 0 means unbounded. Submit returns 0
	// once the cap is reached and every unit is in use.
	MaxUnits int

	// Logger for diagnostics. Defaults to a discard logger.
	Logger *slog.Logger
}

// Func is the work a unit performs. It runs on a worker goroutine with no
// queue lock held.
type Func func(arg any) any

type unit struct {
	fn        Func
	arg       any
	result    any
	started   bool
	completed bool
	claimed   bool          // a goroutine is blocked in Wait and will release the unit
	done      chan struct{} // closed on completion; nil when the slot is free
	next      int32         // pending-list link while pending, free-list link while free
}

type worker struct {
	wake chan struct{} // private binary semaphore, signalled by the dispatcher
	unit int32         // index of the executing unit, noIndex when idle
}

// Queue is a bounded-concurrency work queue.
type Queue struct {
	mu    sync.Mutex
	units []unit

	pendingHead int32
	pendingTail int32
	freeHead    int32

	workers []worker

	// gate holds one permit per idle worker: busy workers plus available
	// permits always total maxConcurrency outside the locked window.
	gate *semaphore.Weighted

	dispatchWake chan struct{}
	stop         chan struct{}
	busy         atomic.Bool
	idleWaiters  []chan struct{}

	maxConcurrency int
	maxUnits       int
	closed         bool
	wg             sync.WaitGroup
	log            *slog.Logger
}

// New creates a queue with maxConcurrency workers plus a dispatcher.
func New(maxConcurrency int, optFns ...func(*Options)) (*Queue, error) {
	if maxConcurrency <= 0 {
		return nil, ErrInvalidConcurrency
	}

	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	q := &Queue{
		pendingHead:    noIndex,
		pendingTail:    noIndex,
		freeHead:       noIndex,
		workers:        make([]worker, maxConcurrency),
		gate:           semaphore.NewWeighted(int64(maxConcurrency)),
		dispatchWake:   make(chan struct{}, 1),
		stop:           make(chan struct{}),
		maxConcurrency: maxConcurrency,
		maxUnits:       opts.MaxUnits,
		log:            opts.Logger,
	}

	for i := range q.workers {
		q.workers[i].wake = make(chan struct{}, 1)
		q.workers[i].unit = noIndex
	}

	q.wg.Add(1 + maxConcurrency)
	go q.dispatch()
	for i := range q.workers {
		go q.work(i)
	}
	return q, nil
}

// Submit queues fn(arg) for execution. It returns 0 when the queue is
// closed or the unit cap is exhausted; existing state is untouched in
// either case.
func (q *Queue) Submit(fn Func, arg any) UnitID {
	if fn == nil {
		q.log.Warn("workqueue: nil function submitted")
		return 0
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0
	}
	if q.freeHead == noIndex && !q.grow() {
		q.mu.Unlock()
		return 0
	}

	idx := q.freeHead
	q.freeHead = q.units[idx].next

	q.units[idx] = unit{
		fn:   fn,
		arg:  arg,
		done: make(chan struct{}),
		next: noIndex,
	}

	if q.pendingTail == noIndex {
		q.pendingHead = idx
	} else {
		q.units[q.pendingTail].next = idx
	}
	q.pendingTail = idx
	q.busy.Store(true)
	q.mu.Unlock()

	q.kick()
	return UnitID(idx + 1)
}

// grow extends the unit array by max(20%, maxConcurrency), threading the
// new slots onto the free list. Caller holds the lock.
func (q *Queue) grow() bool {
	step := len(q.units) / 5
	if step < q.maxConcurrency {
		step = q.maxConcurrency
	}
	if q.maxUnits > 0 {
		if len(q.units) >= q.maxUnits {
			return false
		}
		if len(q.units)+step > q.maxUnits {
			step = q.maxUnits - len(q.units)
		}
	}

	base := len(q.units)
	q.units = append(q.units, make([]unit, step)...)
	for i := base; i < len(q.units); i++ {
		q.units[i].next = q.freeHead
		q.freeHead = int32(i)
	}
	return true
}

// Poll reports whether the unit has completed. Non-blocking.
func (q *Queue) Poll(id UnitID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	u := q.slot(id)
	return u != nil && u.completed
}

// Wait blocks until the unit completes, returns its result, and releases
// the unit. The id is invalid afterwards.
func (q *Queue) Wait(id UnitID) any {
	q.mu.Lock()
	u := q.slot(id)
	if u == nil || u.done == nil {
		q.mu.Unlock()
		q.log.Warn("workqueue: wait on invalid unit", "id", uint32(id))
		return nil
	}
	// Claim the unit so a concurrent WaitAll reap leaves its release to us.
	u.claimed = true
	done := u.done
	q.mu.Unlock()

	// The queue lock is not held while blocked.
	<-done

	q.mu.Lock()
	// Re-resolve: the unit array may have been reallocated by growth. If
	// the slot no longer holds our unit it was released behind our back;
	// releasing again would corrupt the free list.
	u = q.slot(id)
	if u == nil || u.done != done {
		q.mu.Unlock()
		return nil
	}
	result := u.result
	q.release(int32(id - 1))
	q.mu.Unlock()
	return result
}

// Cancel removes a unit that has not started. It fails once a worker has
// picked the unit up; running work is never preempted. The pending-list
// scan is O(n), which is fine for how rare cancellation is.
func (q *Queue) Cancel(id UnitID) bool {
	q.mu.Lock()

	u := q.slot(id)
	if u == nil || u.done == nil || u.started || u.claimed {
		q.mu.Unlock()
		return false
	}

	target := int32(id - 1)
	prev := noIndex
	for cur := q.pendingHead; cur != noIndex; cur = q.units[cur].next {
		if cur != target {
			prev = cur
			continue
		}
		if prev == noIndex {
			q.pendingHead = q.units[cur].next
		} else {
			q.units[prev].next = q.units[cur].next
		}
		if q.pendingTail == cur {
			q.pendingTail = prev
		}
		q.release(cur)
		q.mu.Unlock()
		q.kick()
		return true
	}

	q.mu.Unlock()
	return false
}

// IsBusy reports whether any unit is pending or executing. Lock-free; the
// flag is maintained by the dispatcher.
func (q *Queue) IsBusy() bool {
	return q.busy.Load()
}

// WaitAll blocks until the queue drains, then releases every completed
// unit that was never waited on. Outstanding ids are consumed.
func (q *Queue) WaitAll() {
	q.mu.Lock()
	idle := make(chan struct{})
	q.idleWaiters = append(q.idleWaiters, idle)
	q.mu.Unlock()

	q.kick()
	<-idle

	q.mu.Lock()
	for i := range q.units {
		if q.units[i].done != nil && q.units[i].completed && !q.units[i].claimed {
			q.release(int32(i))
		}
	}
	q.mu.Unlock()
}

// Close drains the queue and stops the dispatcher and workers. The queue
// accepts no submissions afterwards.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.WaitAll()
	close(q.stop)
	q.kick()
	q.wg.Wait()
	return nil
}

// dispatch runs one round per wake-up: assign pending units to idle
// workers in FIFO order, refresh the busy flag, fire idle signals.
func (q *Queue) dispatch() {
	defer q.wg.Done()

	for {
		select {
		case <-q.stop:
			return
		case <-q.dispatchWake:
		}

		q.mu.Lock()
		for i := range q.workers {
			if q.pendingHead == noIndex {
				break
			}
			w := &q.workers[i]
			if w.unit != noIndex {
				continue
			}
			if !q.gate.TryAcquire(1) {
				break
			}

			idx := q.pendingHead
			q.pendingHead = q.units[idx].next
			if q.pendingHead == noIndex {
				q.pendingTail = noIndex
			}
			q.units[idx].started = true
			q.units[idx].next = noIndex
			w.unit = idx

			select {
			case w.wake <- struct{}{}:
			default:
			}
		}

		busy := q.pendingHead != noIndex
		if !busy {
			for i := range q.workers {
				if q.workers[i].unit != noIndex {
					busy = true
					break
				}
			}
		}
		q.busy.Store(busy)

		var waiters []chan struct{}
		if !busy && len(q.idleWaiters) > 0 {
			waiters = q.idleWaiters
			q.idleWaiters = nil
		}
		q.mu.Unlock()

		for _, ch := range waiters {
			close(ch)
		}
	}
}

// work is the worker loop: wait for an assignment, run it unlocked,
// record the result, wake the dispatcher.
func (q *Queue) work(i int) {
	defer q.wg.Done()
	w := &q.workers[i]

	for {
		select {
		case <-q.stop:
			return
		case <-w.wake:
		}

		q.mu.Lock()
		idx := w.unit
		if idx == noIndex {
			q.mu.Unlock()
			continue
		}
		fn, arg := q.units[idx].fn, q.units[idx].arg
		q.mu.Unlock()

		result := fn(arg)

		q.mu.Lock()
		q.units[idx].result = result
		q.units[idx].completed = true
		done := q.units[idx].done
		w.unit = noIndex
		q.mu.Unlock()

		q.gate.Release(1)
		close(done)
		q.kick()
	}
}

// kick wakes the dispatcher; a pending wake-up already covers us.
func (q *Queue) kick() {
	select {
	case q.dispatchWake <- struct{}{}:
	default:
	}
}

// slot validates id and returns its unit. Caller holds the lock.
func (q *Queue) slot(id UnitID) *unit {
	if id == 0 || int(id) > len(q.units) {
		return nil
	}
	return &q.units[id-1]
}

// release returns a unit slot to the free list. Caller holds the lock.
func (q *Queue) release(idx int32) {
	q.units[idx] = unit{next: q.freeHead}
	q.freeHead = idx
}
