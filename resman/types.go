package resman

import (
	"errors"
	"log/slog"

	"github.com/tamberlane/assetline/aio"
	"github.com/tamberlane/assetline/pack"
	"github.com/tamberlane/assetline/workqueue"
)

// ID identifies a resource slot within its manager. IDs are 1-based; the
// zero value is "no resource" and is what failed operations return. An ID
// stays valid across slot-array growth until the resource is freed.
type ID uint32

// Mark is a synchronization token. Marks compare wrap-safe; zero is
// reserved as invalid.
type Mark uint32

// Type tags what a slot holds. TypeUnused is the sole authority on
// whether a slot is free.
type Type uint8

const (
	// TypeUnused marks a free slot.
	TypeUnused Type = iota
	// TypeData is a raw byte payload.
	TypeData
	// TypeTexture is a constructed texture object.
	TypeTexture
	// TypeFont is a constructed font object.
	TypeFont
	// TypeSound is a constructed sound object.
	TypeSound
	// TypeRawFile is an open pack entry for caller-driven streaming.
	TypeRawFile
)

func (t Type) String() string {
	switch t {
	case TypeUnused:
		return "unused"
	case TypeData:
		return "data"
	case TypeTexture:
		return "texture"
	case TypeFont:
		return "font"
	case TypeSound:
		return "sound"
	case TypeRawFile:
		return "rawfile"
	default:
		return "invalid"
	}
}

// Asset is a constructed payload (texture, font, sound). Close releases
// whatever the factory allocated.
type Asset interface {
	Close() error
}

// FactoryFunc builds a typed asset from a fully-loaded buffer. A nil
// result or an error fails the load; the slot ends up empty.
type FactoryFunc func(data []byte) (Asset, error)

// Factories holds the object-construction callbacks the manager dispatches
// to when a load finishes. Raw data and raw files need none.
type Factories struct {
	Texture FactoryFunc
	Font    FactoryFunc
	Sound   FactoryFunc
}

func (f *Factories) forType(t Type) FactoryFunc {
	switch t {
	case TypeTexture:
		return f.Texture
	case TypeFont:
		return f.Font
	case TypeSound:
		return f.Sound
	default:
		return nil
	}
}

// Order selects the direction finalization walks in-flight loads during
// Sync/Wait. The order affects only incidental timing, never correctness.
type Order int

const (
	// OrderForward finalizes in ascending slot order.
	OrderForward Order = iota
	// OrderReverse finalizes in descending slot order.
	OrderReverse
)

const (
	// DefaultCapacity is the initial slot count when no hint is given.
	DefaultCapacity = 128
	// slotGrowth is the fixed slot-array growth increment.
	slotGrowth = 100
	// DefaultBackgroundThreshold is the compressed size at which loads
	// move decompression onto the work queue.
	DefaultBackgroundThreshold = 256 << 10
	// DefaultChunkSize is the read granularity of background
	// decompression.
	DefaultChunkSize = 64 << 10
	// maxCycleWalk bounds link-cycle traversal. A cycle that does not
	// close within this many hops is corrupt and gets severed.
	maxCycleWalk = 10000
)

// ErrNoRegistry is returned by New when no pack registry is configured.
var ErrNoRegistry = errors.New("resman: pack registry is required")

// Options configures a Manager.
type Options struct {
	// CapacityHint sizes the initial slot array. 0 means DefaultCapacity.
	CapacityHint int

	// Registry resolves asset names. Required.
	Registry *pack.Registry

	// Reader issues asynchronous reads. Defaults to a private reader.
	Reader *aio.Reader

	// DecompQueue runs background decompression. Nil disables the
	// background path regardless of BackgroundDecompress.
	DecompQueue *workqueue.Queue

	// Factories construct typed assets at finalization.
	Factories Factories

	// BackgroundDecompress enables the background decompression path for
	// compressed entries at or above BackgroundThreshold.
	BackgroundDecompress bool

	// BackgroundThreshold is the minimum compressed size for background
	// decompression. 0 means DefaultBackgroundThreshold.
	BackgroundThreshold int64

	// ChunkSize is the background read granularity. 0 means
	// DefaultChunkSize.
	ChunkSize int

	// FinalizeOrder picks the Sync/Wait finalization direction.
	FinalizeOrder Order

	// Logger for diagnostics. Defaults to a discard logger.
	Logger *slog.Logger
}

// slotRef names a slot in some manager. Link cycles may span managers, so
// a bare index is not enough.
type slotRef struct {
	m   *Manager
	idx uint32
}

func (r slotRef) slot() *slot {
	return &r.m.slots[r.idx]
}

// slot is one entry in the manager's registry.
type slot struct {
	typ   Type
	data  []byte // payload for TypeData; nil for constructed assets
	asset Asset  // payload for TypeTexture/TypeFont/TypeSound
	file  *pack.Entry
	size  int64

	mark  Mark
	weak  bool
	stale bool

	linkNext slotRef // next member of the link cycle; self when alone

	ld *loadDesc // non-nil while the underlying data is loading
}
