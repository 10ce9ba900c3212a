// Package resman manages typed game resources loaded from packs.
//
// A Manager owns a growable array of fixed-size resource slots addressed
// by stable 1-based IDs. Resources are created synchronously (NewData,
// CopyData, TakeData, OpenFile) or loaded asynchronously (Load and
// friends), and batches of loads are synchronized against marks: take a
// Mark after requesting loads, then Sync or Wait on it.
//
// Slots referencing the same underlying payload form a link cycle. Strong
// links keep the payload alive; weak links do not, and turn stale once the
// last strong link is freed.
//
// A Manager is confined to one owning goroutine. The only state shared
// with background work is the per-load descriptor, and that is restricted
// to flag traffic; see the load pipeline in load.go.
package resman

import (
	"log/slog"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/tamberlane/assetline/aio"
	"github.com/tamberlane/assetline/internal/mem"
	"github.com/tamberlane/assetline/pack"
	"github.com/tamberlane/assetline/workqueue"
)

// Manager is a registry of resource slots.
type Manager struct {
	slots    []slot
	freeHint int // first index that may be unused

	markCounter Mark

	// loading tracks slot indices with a live load descriptor so Sync
	// scans only in-flight work.
	loading *roaring.Bitmap

	registry  *pack.Registry
	reader    *aio.Reader
	ownReader bool
	queue     *workqueue.Queue
	factories Factories

	bgDecompress bool
	bgThreshold  int64
	chunkSize    int
	order        Order

	log *slog.Logger
}

// New creates a Manager.
func New(optFns ...func(*Options)) (*Manager, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Registry == nil {
		return nil, ErrNoRegistry
	}
	if opts.CapacityHint <= 0 {
		opts.CapacityHint = DefaultCapacity
	}
	if opts.BackgroundThreshold <= 0 {
		opts.BackgroundThreshold = DefaultBackgroundThreshold
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	m := &Manager{
		slots:        make([]slot, opts.CapacityHint),
		loading:      roaring.New(),
		registry:     opts.Registry,
		reader:       opts.Reader,
		queue:        opts.DecompQueue,
		factories:    opts.Factories,
		bgDecompress: opts.BackgroundDecompress && opts.DecompQueue != nil,
		bgThreshold:  opts.BackgroundThreshold,
		chunkSize:    opts.ChunkSize,
		order:        opts.FinalizeOrder,
		log:          opts.Logger,
	}
	if m.reader == nil {
		m.reader = aio.NewReader()
		m.ownReader = true
	}
	return m, nil
}

// Mark returns a new synchronization token covering every load requested
// before this call. The counter skips zero, which is invalid.
func (m *Manager) Mark() Mark {
	m.markCounter++
	if m.markCounter == 0 {
		m.markCounter++
	}
	return m.markCounter
}

// markBefore reports whether a precedes b, wrap-safe.
func markBefore(a, b Mark) bool {
	return int32(a-b) < 0
}

// alloc finds or grows a free slot and returns its index. The type tag is
// the sole authority on slot freedom; the array grows by a fixed step and
// never shrinks, so indices are stable.
func (m *Manager) alloc() uint32 {
	for i := m.freeHint; i < len(m.slots); i++ {
		if m.slots[i].typ == TypeUnused {
			m.freeHint = i + 1
			return uint32(i)
		}
	}
	idx := len(m.slots)
	m.slots = append(m.slots, make([]slot, slotGrowth)...)
	m.freeHint = idx + 1
	return uint32(idx)
}

// slotByID validates id and returns its index, or false for an invalid or
// free slot.
func (m *Manager) slotByID(id ID) (uint32, bool) {
	if id == 0 || int(id) > len(m.slots) {
		return 0, false
	}
	idx := uint32(id - 1)
	if m.slots[idx].typ == TypeUnused {
		return 0, false
	}
	return idx, true
}

// initSlot resets idx to a fresh self-linked slot of the given type.
func (m *Manager) initSlot(idx uint32, typ Type) *slot {
	s := &m.slots[idx]
	*s = slot{
		typ:      typ,
		mark:     m.markCounter,
		linkNext: slotRef{m: m, idx: idx},
	}
	return s
}

// NewData creates a zero-initialized raw data resource of the given size.
func (m *Manager) NewData(size int64) ID {
	if size < 0 {
		m.log.Warn("resman: negative data size", "size", size)
		return 0
	}
	idx := m.alloc()
	s := m.initSlot(idx, TypeData)
	s.data = mem.Alloc(int(size), mem.Zeroed)
	s.size = size
	return ID(idx + 1)
}

// CopyData creates a raw data resource holding a copy of b.
func (m *Manager) CopyData(b []byte) ID {
	idx := m.alloc()
	s := m.initSlot(idx, TypeData)
	s.data = append([]byte(nil), b...)
	s.size = int64(len(b))
	return ID(idx + 1)
}

// TakeData creates a raw data resource that takes ownership of b without
// copying. The caller must not touch b afterwards.
func (m *Manager) TakeData(b []byte) ID {
	idx := m.alloc()
	s := m.initSlot(idx, TypeData)
	s.data = b
	s.size = int64(len(b))
	return ID(idx + 1)
}

// OpenFile creates a raw-file resource: the pack entry stays open for
// caller-driven streaming instead of being read into memory.
func (m *Manager) OpenFile(name string) ID {
	entry, ok := m.registry.Resolve(name)
	if !ok {
		m.log.Warn("resman: open of unknown asset", "name", name)
		return 0
	}
	idx := m.alloc()
	s := m.initSlot(idx, TypeRawFile)
	s.file = &entry
	s.size = entry.Size
	return ID(idx + 1)
}

// File exposes a raw-file resource for streaming: the backing blob, the
// payload offset within it, and the stored payload size.
func (m *Manager) File(id ID) (pack.Entry, bool) {
	idx, ok := m.slotByID(id)
	if !ok || m.slots[idx].typ != TypeRawFile || m.slots[idx].file == nil {
		return pack.Entry{}, false
	}
	return *m.slots[idx].file, true
}

// Data returns the raw payload of a data resource, or nil while it is
// still loading, stale, or not byte-shaped.
func (m *Manager) Data(id ID) []byte {
	idx, ok := m.slotByID(id)
	if !ok {
		return nil
	}
	s := &m.slots[idx]
	if s.ld != nil || s.stale {
		return nil
	}
	return s.data
}

// Asset returns the constructed payload of a texture/font/sound resource,
// or nil while loading, stale, or untyped.
func (m *Manager) Asset(id ID) Asset {
	idx, ok := m.slotByID(id)
	if !ok {
		return nil
	}
	s := &m.slots[idx]
	if s.ld != nil || s.stale {
		return nil
	}
	return s.asset
}

// Size returns the decompressed payload size, or 0 for an invalid id.
func (m *Manager) Size(id ID) int64 {
	idx, ok := m.slotByID(id)
	if !ok {
		return 0
	}
	return m.slots[idx].size
}

// Type returns the slot's type tag; TypeUnused for invalid ids.
func (m *Manager) Type(id ID) Type {
	idx, ok := m.slotByID(id)
	if !ok {
		return TypeUnused
	}
	return m.slots[idx].typ
}

// IsStale reports whether id is a severed weak link whose payload is gone.
func (m *Manager) IsStale(id ID) bool {
	idx, ok := m.slotByID(id)
	return ok && m.slots[idx].stale
}

// Link creates a strong link to the resource behind srcID in src. The new
// slot joins the source's link cycle and shares its payload and any
// in-flight load descriptor, but carries its own mark in m.
func (m *Manager) Link(src *Manager, srcID ID) ID {
	return m.link(src, srcID, false)
}

// LinkWeak creates a weak link: it observes the payload but does not keep
// it alive. When the last strong link is freed, weak links turn stale.
func (m *Manager) LinkWeak(src *Manager, srcID ID) ID {
	return m.link(src, srcID, true)
}

func (m *Manager) link(src *Manager, srcID ID, weak bool) ID {
	if src == nil {
		m.log.Warn("resman: link from nil manager")
		return 0
	}
	srcIdx, ok := src.slotByID(srcID)
	if !ok {
		m.log.Warn("resman: link to invalid resource", "id", uint32(srcID))
		return 0
	}
	if src.slots[srcIdx].stale {
		m.log.Warn("resman: link to stale resource", "id", uint32(srcID))
		return 0
	}
	if src.slots[srcIdx].typ == TypeRawFile {
		m.log.Warn("resman: raw-file resources cannot be linked", "id", uint32(srcID))
		return 0
	}

	// Allocate first: growth may move m.slots, and when m == src that
	// would invalidate any source pointer taken earlier.
	idx := m.alloc()
	srcSlot := &src.slots[srcIdx]

	s := m.initSlot(idx, srcSlot.typ)
	s.data = srcSlot.data
	s.asset = srcSlot.asset
	s.size = srcSlot.size
	s.weak = weak
	s.ld = srcSlot.ld

	// Splice into the cycle behind the source.
	s.linkNext = srcSlot.linkNext
	srcSlot.linkNext = slotRef{m: m, idx: idx}

	if s.ld != nil {
		m.loading.Add(idx)
	}
	return ID(idx + 1)
}

// cycle returns every member of id's link cycle, starting at the slot
// itself. A cycle that does not close within maxCycleWalk hops is corrupt:
// it is logged, severed at the walk point, and the collected prefix is
// returned so the caller can still make progress.
func (m *Manager) cycle(start slotRef) []slotRef {
	refs := make([]slotRef, 0, 4)
	cur := start
	for steps := 0; ; steps++ {
		if steps >= maxCycleWalk {
			m.log.Error("resman: link cycle did not close, severing",
				"index", start.idx, "steps", steps)
			start.slot().linkNext = start
			break
		}
		refs = append(refs, cur)
		cur = cur.slot().linkNext
		if cur == start {
			break
		}
	}
	return refs
}

// Free releases id. Shared payloads survive while any strong sibling
// remains; weak-only siblings are severed and marked stale; a sole owner
// aborts and drains any in-flight load, then destroys the payload.
func (m *Manager) Free(id ID) {
	idx, ok := m.slotByID(id)
	if !ok {
		m.log.Warn("resman: free of invalid resource", "id", uint32(id))
		return
	}

	self := slotRef{m: m, idx: idx}
	members := m.cycle(self)

	if len(members) == 1 {
		m.destroySole(idx)
		return
	}

	// Unlink self: the predecessor is the last member of the walk.
	prev := members[len(members)-1]
	prev.slot().linkNext = m.slots[idx].linkNext

	strongRemains := false
	for _, ref := range members[1:] {
		if !ref.slot().weak && !ref.slot().stale {
			strongRemains = true
			break
		}
	}

	if strongRemains {
		// Payload lives on through the siblings; drop our references and
		// never touch the descriptor again.
		m.clearSlot(idx)
		return
	}

	// Only weak links remain. The freed slot was the last strong owner:
	// settle the load it owns, then sever every sibling into a stale
	// one-element cycle.
	s := &m.slots[idx]
	if s.ld != nil {
		m.abortLoad(s.ld)
		m.drainLoad(s.ld)
	}
	m.destroyPayload(s)

	for _, ref := range members[1:] {
		sib := ref.slot()
		sib.linkNext = ref
		sib.stale = true
		sib.data = nil
		sib.asset = nil
		sib.ld = nil
		ref.m.loading.Remove(ref.idx)
	}

	m.clearSlot(idx)
}

// destroySole frees a slot that is the only member of its cycle.
func (m *Manager) destroySole(idx uint32) {
	s := &m.slots[idx]
	if s.ld != nil {
		m.abortLoad(s.ld)
		m.drainLoad(s.ld)
	}
	m.destroyPayload(s)
	m.clearSlot(idx)
}

// destroyPayload runs the type-appropriate destructor.
func (m *Manager) destroyPayload(s *slot) {
	if s.asset != nil {
		if err := s.asset.Close(); err != nil {
			m.log.Warn("resman: asset destructor failed", "type", s.typ.String(), "error", err)
		}
	}
	if s.typ == TypeRawFile && s.file != nil && s.file.CloseBlob {
		if err := s.file.Blob.Close(); err != nil {
			m.log.Warn("resman: file close failed", "error", err)
		}
	}
}

// clearSlot resets a slot to unused and recycles its index.
func (m *Manager) clearSlot(idx uint32) {
	m.slots[idx] = slot{}
	m.loading.Remove(idx)
	if int(idx) < m.freeHint {
		m.freeHint = int(idx)
	}
}

// Close destroys the manager: every in-flight load is aborted in a single
// pass first so the per-resource waits that follow do not serialize full
// load latencies, then all live resources are freed. The pack registry,
// reader, and queue are not owned and stay usable unless private.
func (m *Manager) Close() error {
	// Pass 1: request every abort up front.
	it := m.loading.Iterator()
	for it.HasNext() {
		idx := it.Next()
		if ld := m.slots[idx].ld; ld != nil {
			m.abortLoad(ld)
		}
	}

	// Pass 2: free everything live.
	for i := range m.slots {
		if m.slots[i].typ != TypeUnused {
			m.Free(ID(i + 1))
		}
	}

	m.slots = nil
	m.loading.Clear()
	if m.ownReader {
		return m.reader.Close()
	}
	return nil
}
