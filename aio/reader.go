// Package aio provides bounded asynchronous positioned reads.
//
// Loads submit reads against pack blobs and poll for completion instead of
// blocking. Inflight reads are capped: when every slot is busy, Submit
// reports exhaustion and the caller retries on its next poll, which keeps a
// burst of loads from spawning unbounded I/O.
//
// An optional byte-per-second limiter throttles background streaming so
// bulk pack reads do not starve latency-sensitive ones.
package aio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// OpID identifies an in-flight read. The zero value means "no operation"
// and is what Submit returns when no slot is free.
type OpID uint32

// ErrAborted is returned by Wait for reads that were aborted before the
// underlying read began.
var ErrAborted = errors.New("aio: read aborted")

// ErrClosed is returned for operations on a closed Reader.
var ErrClosed = errors.New("aio: reader closed")

// DefaultMaxInflight is the default number of concurrent read slots.
const DefaultMaxInflight = 8

// Options configures a Reader.
type Options struct {
	// MaxInflight caps concurrent reads. Defaults to DefaultMaxInflight.
	MaxInflight int

	// BytesPerSec throttles read throughput. 0 means unlimited.
	BytesPerSec int

	// Logger for diagnostics. Defaults to a discard logger.
	Logger *slog.Logger
}

type opState struct {
	done    chan struct{}
	cancel  context.CancelFunc
	n       int
	err     error
	aborted atomic.Bool
}

// Reader issues positioned reads on background goroutines, bounded by a
// fixed set of slots.
type Reader struct {
	mu     sync.Mutex
	slots  []*opState
	gate   *semaphore.Weighted
	limit  *rate.Limiter
	log    *slog.Logger
	closed bool
}

// NewReader creates a Reader.
func NewReader(optFns ...func(*Options)) *Reader {
	opts := Options{MaxInflight: DefaultMaxInflight}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = DefaultMaxInflight
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	r := &Reader{
		slots: make([]*opState, opts.MaxInflight),
		gate:  semaphore.NewWeighted(int64(opts.MaxInflight)),
		log:   opts.Logger,
	}
	if opts.BytesPerSec > 0 {
		r.limit = rate.NewLimiter(rate.Limit(opts.BytesPerSec), opts.BytesPerSec)
	}
	return r
}

// Submit starts an asynchronous read of len(dst) bytes at off. It returns 0
// when no read slot is free or the reader is closed; slot exhaustion is
// transient and the caller should retry later.
func (r *Reader) Submit(src io.ReaderAt, off int64, dst []byte) OpID {
	if !r.gate.TryAcquire(1) {
		return 0
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.gate.Release(1)
		return 0
	}
	idx := -1
	for i, s := range r.slots {
		if s == nil {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Gate guarantees a free slot outside Close races.
		r.mu.Unlock()
		r.gate.Release(1)
		return 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	st := &opState{done: make(chan struct{}), cancel: cancel}
	r.slots[idx] = st
	r.mu.Unlock()

	go r.run(ctx, st, src, off, dst)
	return OpID(idx + 1)
}

func (r *Reader) run(ctx context.Context, st *opState, src io.ReaderAt, off int64, dst []byte) {
	defer close(st.done)

	if st.aborted.Load() {
		st.err = ErrAborted
		return
	}
	if err := r.waitQuota(ctx, len(dst)); err != nil {
		if st.aborted.Load() {
			err = ErrAborted
		}
		st.err = err
		return
	}
	if st.aborted.Load() {
		st.err = ErrAborted
		return
	}

	n, err := src.ReadAt(dst, off)
	if err == io.EOF && n == len(dst) {
		err = nil
	}
	st.n, st.err = n, err
}

// waitQuota blocks until the limiter admits n bytes. Requests above the
// burst are split.
func (r *Reader) waitQuota(ctx context.Context, n int) error {
	if r.limit == nil {
		return nil
	}
	burst := r.limit.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := r.limit.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Poll reports whether the read has completed. Non-blocking.
func (r *Reader) Poll(id OpID) bool {
	st := r.lookup(id)
	if st == nil {
		return false
	}
	select {
	case <-st.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the read completes, releases its slot, and returns the
// byte count and error. The id is invalid afterwards.
func (r *Reader) Wait(id OpID) (int, error) {
	st := r.lookup(id)
	if st == nil {
		return 0, ErrClosed
	}
	<-st.done
	st.cancel()

	r.mu.Lock()
	r.slots[id-1] = nil
	r.mu.Unlock()
	r.gate.Release(1)

	if st.aborted.Load() && st.err == nil {
		// Read finished despite the abort; the result is discarded.
		return 0, ErrAborted
	}
	return st.n, st.err
}

// Abort requests cancellation of an in-flight read. Cancellation is
// cooperative: a read that already reached the device still completes and
// its result is discarded. The caller must still Wait the id.
func (r *Reader) Abort(id OpID) {
	if st := r.lookup(id); st != nil {
		st.aborted.Store(true)
		st.cancel()
	}
}

// ReadAt performs a synchronous positioned read, the fallback for callers
// that cannot make progress without the data.
func (r *Reader) ReadAt(src io.ReaderAt, dst []byte, off int64) (int, error) {
	if err := r.waitQuota(context.Background(), len(dst)); err != nil {
		return 0, err
	}
	n, err := src.ReadAt(dst, off)
	if err == io.EOF && n == len(dst) {
		err = nil
	}
	return n, err
}

// Close rejects further submissions. In-flight reads finish and can still
// be waited on.
func (r *Reader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *Reader) lookup(id OpID) *opState {
	if id == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(id) > len(r.slots) {
		r.log.Warn("aio: invalid op id", "id", uint32(id))
		return nil
	}
	return r.slots[id-1]
}
