package resman

import (
	"io"
	"runtime"
	"sync/atomic"

	"github.com/tamberlane/assetline/aio"
	"github.com/tamberlane/assetline/codec"
	"github.com/tamberlane/assetline/internal/mem"
	"github.com/tamberlane/assetline/pack"
	"github.com/tamberlane/assetline/workqueue"
)

// loadDesc is the transient state of one in-flight load. Every slot in
// the link cycle shares the same descriptor; it is settled exactly once,
// by whichever owner-thread call finalizes or frees the load first.
//
// Cross-thread traffic is confined to the atomic flags and the contents
// of dst: the background decompression loop touches nothing else, and
// the owner thread reads dst only after the work unit completes.
type loadDesc struct {
	entry pack.Entry
	codec codec.Codec // nil for uncompressed entries

	// The reader and queue that issued readOp/bgUnit. A linked slot in
	// another manager may settle the load during its own Sync or Free, and
	// that manager's reader/queue need not be the issuing ones.
	reader *aio.Reader
	queue  *workqueue.Queue

	dst []byte // final decompressed buffer
	raw []byte // compressed staging buffer (foreground path)

	readOp aio.OpID        // outstanding foreground read, 0 if none
	bgUnit workqueue.UnitID // background decompression unit, 0 if none

	deferred      bool // decompress on the owner thread at finalization
	needClose     bool // loader owns closing entry.Blob
	submitPending bool // read not yet submitted (slot exhaustion); retried
	setupFailed   bool // resolution/codec failure recorded at load time

	abort        atomic.Bool // cooperative cancellation, checked per chunk
	readFailed   atomic.Bool
	decompFailed atomic.Bool
}

func (ld *loadDesc) failed() bool {
	return ld.setupFailed || ld.abort.Load() || ld.readFailed.Load() || ld.decompFailed.Load()
}

// LoadData requests an asynchronous load of name as raw bytes.
func (m *Manager) LoadData(name string) ID { return m.load(name, TypeData) }

// LoadTexture requests an asynchronous load finalized through the texture
// factory.
func (m *Manager) LoadTexture(name string) ID { return m.load(name, TypeTexture) }

// LoadFont requests an asynchronous load finalized through the font
// factory.
func (m *Manager) LoadFont(name string) ID { return m.load(name, TypeFont) }

// LoadSound requests an asynchronous load finalized through the sound
// factory.
func (m *Manager) LoadSound(name string) ID { return m.load(name, TypeSound) }

// load creates the slot and descriptor and starts the read pipeline. The
// returned id is usable immediately; its payload appears once a Sync or
// Wait covering the load's mark finalizes it.
func (m *Manager) load(name string, typ Type) ID {
	if typ != TypeData && m.factories.forType(typ) == nil {
		m.log.Warn("resman: no factory for type", "type", typ.String(), "name", name)
		return 0
	}

	entry, ok := m.registry.Resolve(name)
	if !ok {
		m.log.Warn("resman: load of unknown asset", "name", name)
		return 0
	}

	idx := m.alloc()
	s := m.initSlot(idx, typ)
	s.size = entry.Size

	ld := &loadDesc{
		entry:     entry,
		reader:    m.reader,
		queue:     m.queue,
		needClose: entry.CloseBlob,
	}
	s.ld = ld
	m.loading.Add(idx)

	if entry.Compressed {
		c, err := codec.Lookup(entry.Codec)
		if err != nil {
			m.log.Warn("resman: unknown pack codec", "name", name, "codec", entry.Codec)
			ld.setupFailed = true
			return ID(idx + 1)
		}
		ld.codec = c

		if m.bgDecompress && entry.CompressedSize >= m.bgThreshold && m.startBackground(ld) {
			return ID(idx + 1)
		}

		// Foreground path: read the whole compressed payload now and
		// decompress at finalization.
		ld.deferred = true
		ld.raw = mem.Alloc(int(entry.CompressedSize), mem.Zeroed)
		m.submitRead(ld)
		return ID(idx + 1)
	}

	ld.dst = mem.Alloc(int(entry.Size), mem.Zeroed)
	m.submitRead(ld)
	return ID(idx + 1)
}

// startBackground hands the load to the decompression queue. A failed
// submission (queue saturated or closed) reports false and the caller
// falls back to the foreground path.
func (m *Manager) startBackground(ld *loadDesc) bool {
	ld.dst = mem.Alloc(int(ld.entry.Size), mem.Zeroed)
	unit := ld.queue.Submit(func(arg any) any {
		m.runBackground(arg.(*loadDesc))
		return nil
	}, ld)
	if unit == 0 {
		ld.dst = nil
		return false
	}
	ld.bgUnit = unit
	return true
}

// submitRead issues the single foreground read. On read-slot exhaustion
// the load stays submit-pending and Sync/Wait retries it.
func (m *Manager) submitRead(ld *loadDesc) {
	buf := ld.dst
	if ld.deferred {
		buf = ld.raw
	}
	if len(buf) == 0 {
		// Zero-byte payload: nothing to read.
		ld.submitPending = false
		return
	}
	ld.readOp = ld.reader.Submit(ld.entry.Blob, ld.entry.Offset, buf)
	ld.submitPending = ld.readOp == 0
}

// runBackground is the background-decompression loop. It executes on a
// work-queue worker and pipelines chunk reads ahead of decompression via
// the chunk reader's double buffer. All it shares with the owner thread
// are the descriptor's atomic flags and the final buffer.
func (m *Manager) runBackground(ld *loadDesc) {
	cr := &chunkReader{
		r:     ld.reader,
		blob:  ld.entry.Blob,
		next:  ld.entry.Offset,
		end:   ld.entry.Offset + ld.entry.CompressedSize,
		chunk: m.chunkSize,
		abort: &ld.abort,
	}
	cr.bufs[0] = mem.Alloc(m.chunkSize, mem.Scratch)
	cr.bufs[1] = mem.Alloc(m.chunkSize, mem.Scratch)
	defer cr.drain()

	zr, err := ld.codec.NewReader(cr)
	if err != nil {
		ld.decompFailed.Store(true)
		return
	}
	defer zr.Close()

	if _, err := io.ReadFull(zr, ld.dst); err != nil {
		switch {
		case ld.abort.Load():
			// Unwound cooperatively; no failure flag.
		case cr.readErr:
			ld.readFailed.Store(true)
		default:
			ld.decompFailed.Store(true)
		}
	}
}

// chunkReader feeds compressed bytes to a streaming decoder from
// double-buffered asynchronous reads. The read of chunk k+1 is issued
// before chunk k is consumed, overlapping I/O latency with decompression
// CPU time. Chunks arrive strictly in stream order.
type chunkReader struct {
	r     *aio.Reader
	blob  io.ReaderAt
	next  int64 // next unsubmitted stream position
	end   int64
	chunk int

	bufs    [2][]byte
	nextBuf int
	cur     []byte

	pending    aio.OpID
	pendingBuf int
	pendingLen int

	abort   *atomic.Bool
	readErr bool
}

func (c *chunkReader) Read(p []byte) (int, error) {
	for len(c.cur) == 0 {
		if c.abort.Load() {
			return 0, aio.ErrAborted
		}
		if c.pending == 0 {
			if c.next >= c.end {
				return 0, io.EOF
			}
			if !c.submit() {
				// No read slot free: fall back to a synchronous read
				// rather than spinning against the gate.
				if err := c.syncRead(); err != nil {
					c.readErr = true
					return 0, err
				}
				continue
			}
		}

		n, err := c.r.Wait(c.pending)
		buf := c.bufs[c.pendingBuf][:c.pendingLen]
		c.pending = 0
		if err != nil {
			c.readErr = true
			return 0, err
		}
		if n != len(buf) {
			c.readErr = true
			return 0, io.ErrUnexpectedEOF
		}
		c.cur = buf

		// Read ahead while the decoder chews on this chunk.
		c.submit()
	}

	n := copy(p, c.cur)
	c.cur = c.cur[n:]
	return n, nil
}

// submit issues the next chunk read into the buffer not holding cur.
func (c *chunkReader) submit() bool {
	if c.pending != 0 || c.next >= c.end {
		return false
	}
	size := c.end - c.next
	if size > int64(c.chunk) {
		size = int64(c.chunk)
	}
	buf := c.bufs[c.nextBuf][:size]
	id := c.r.Submit(c.blob, c.next, buf)
	if id == 0 {
		return false
	}
	c.pending = id
	c.pendingBuf = c.nextBuf
	c.pendingLen = int(size)
	c.nextBuf ^= 1
	c.next += size
	return true
}

func (c *chunkReader) syncRead() error {
	size := c.end - c.next
	if size > int64(c.chunk) {
		size = int64(c.chunk)
	}
	buf := c.bufs[c.nextBuf][:size]
	n, err := c.r.ReadAt(c.blob, buf, c.next)
	if err != nil {
		return err
	}
	if int64(n) != size {
		return io.ErrUnexpectedEOF
	}
	c.cur = buf
	c.nextBuf ^= 1
	c.next += size
	return nil
}

// drain waits out a still-pending read so its buffer is not recycled
// while the device writes into it.
func (c *chunkReader) drain() {
	if c.pending != 0 {
		c.r.Abort(c.pending)
		c.r.Wait(c.pending)
		c.pending = 0
	}
}

// loadComplete reports whether the load's asynchronous work has settled.
// Non-blocking; retries a submit-pending read as a side effect.
func (m *Manager) loadComplete(ld *loadDesc) bool {
	if ld.setupFailed {
		return true
	}
	if ld.submitPending {
		m.submitRead(ld)
		if ld.submitPending {
			return false
		}
	}
	if ld.bgUnit != 0 {
		return ld.queue.Poll(ld.bgUnit)
	}
	if ld.readOp != 0 {
		return ld.reader.Poll(ld.readOp)
	}
	return true
}

// finishLoad settles a completed load: reap the asynchronous work, close
// the file if owned, run deferred decompression, dispatch the factory,
// and propagate the payload through the whole link cycle. Runs only on
// the owner goroutine, and only once per descriptor: propagation clears
// every sibling's descriptor reference.
func (m *Manager) finishLoad(idx uint32) {
	s := &m.slots[idx]
	ld := s.ld

	if ld.bgUnit != 0 {
		ld.queue.Wait(ld.bgUnit)
		ld.bgUnit = 0
	}
	if ld.readOp != 0 {
		buf := ld.dst
		if ld.deferred {
			buf = ld.raw
		}
		n, err := ld.reader.Wait(ld.readOp)
		ld.readOp = 0
		if err != nil || n != len(buf) {
			m.log.Warn("resman: read failed", "error", err, "got", n, "want", len(buf))
			ld.readFailed.Store(true)
		}
	}
	if ld.needClose && ld.entry.Blob != nil {
		if err := ld.entry.Blob.Close(); err != nil {
			m.log.Warn("resman: pack close failed", "error", err)
		}
		ld.needClose = false
	}

	var payload []byte
	if !ld.failed() {
		if ld.deferred {
			out, err := ld.codec.DecodeAll(make([]byte, 0, ld.entry.Size), ld.raw)
			if err != nil || int64(len(out)) != ld.entry.Size {
				m.log.Warn("resman: decompression failed", "error", err)
				ld.decompFailed.Store(true)
			} else {
				payload = out
			}
			ld.raw = nil
		} else {
			payload = ld.dst
		}
	}

	var data []byte
	var asset Asset
	if payload != nil {
		if factory := m.factories.forType(s.typ); factory != nil {
			built, err := factory(payload)
			if err != nil || built == nil {
				m.log.Warn("resman: factory failed", "type", s.typ.String(), "error", err)
			} else {
				asset = built
			}
		} else {
			data = payload
		}
	}

	for _, ref := range m.cycle(slotRef{m: m, idx: idx}) {
		sib := ref.slot()
		sib.data = data
		sib.asset = asset
		sib.size = int64(len(payload))
		sib.ld = nil
		ref.m.loading.Remove(ref.idx)
	}
}

// Sync finalizes every completed load whose mark precedes token, in the
// configured order. It returns false without blocking if any covered
// load is still in flight.
func (m *Manager) Sync(token Mark) bool {
	all := true
	for _, idx := range m.loadingOrder() {
		s := &m.slots[idx]
		if s.typ == TypeUnused || s.ld == nil {
			// Settled via a sibling or freed; drop the stale index.
			m.loading.Remove(idx)
			continue
		}
		if !markBefore(s.mark, token) {
			continue
		}
		if !m.loadComplete(s.ld) {
			all = false
			continue
		}
		m.finishLoad(idx)
	}
	return all
}

// Wait blocks until Sync(token) holds. Between attempts it pokes every
// other in-flight load so reads parked on slot exhaustion get resubmitted
// instead of starving behind background decompression, then yields.
func (m *Manager) Wait(token Mark) {
	for !m.Sync(token) {
		m.kickLoads(token)
		runtime.Gosched()
	}
}

// kickLoads polls loads not covered by token so their pending submissions
// make progress too.
func (m *Manager) kickLoads(token Mark) {
	for _, idx := range m.loadingOrder() {
		s := &m.slots[idx]
		if s.typ == TypeUnused || s.ld == nil || markBefore(s.mark, token) {
			continue
		}
		m.loadComplete(s.ld)
	}
}

// loadingOrder snapshots the in-flight slot indices in finalize order.
func (m *Manager) loadingOrder() []uint32 {
	idxs := m.loading.ToArray()
	if m.order == OrderReverse {
		for i, j := 0, len(idxs)-1; i < j; i, j = i+1, j-1 {
			idxs[i], idxs[j] = idxs[j], idxs[i]
		}
	}
	return idxs
}

// abortLoad requests cooperative cancellation of in-flight work.
func (m *Manager) abortLoad(ld *loadDesc) {
	ld.abort.Store(true)
	if ld.bgUnit != 0 && ld.queue.Cancel(ld.bgUnit) {
		// Never dispatched; nothing will run.
		ld.bgUnit = 0
	}
	if ld.readOp != 0 {
		ld.reader.Abort(ld.readOp)
	}
}

// drainLoad blocks until aborted work has unwound, then closes the file
// if owned.
func (m *Manager) drainLoad(ld *loadDesc) {
	if ld.bgUnit != 0 {
		ld.queue.Wait(ld.bgUnit)
		ld.bgUnit = 0
	}
	if ld.readOp != 0 {
		ld.reader.Wait(ld.readOp)
		ld.readOp = 0
	}
	if ld.needClose && ld.entry.Blob != nil {
		if err := ld.entry.Blob.Close(); err != nil {
			m.log.Warn("resman: pack close failed", "error", err)
		}
		ld.needClose = false
	}
}
