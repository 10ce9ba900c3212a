package resman

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamberlane/assetline/pack"
	"github.com/tamberlane/assetline/workqueue"
)

// testPayload is compressible and large enough to span several read
// chunks on the background path.
func testPayload(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i % 97)
	}
	return buf
}

func newLoadManager(t *testing.T, mod pack.Module, optFns ...func(*Options)) *Manager {
	t.Helper()
	reg := pack.NewRegistry()
	reg.Add(mod)
	m, err := New(append([]func(*Options){func(o *Options) {
		o.Registry = reg
	}}, optFns...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestLoadUncompressed(t *testing.T) {
	mod := pack.NewMemModule()
	want := testPayload(4096)
	mod.Add("level/terrain.bin", want)
	m := newLoadManager(t, mod)

	id := m.LoadData("level/terrain.bin")
	require.NotZero(t, id)
	tok := m.Mark()

	m.Wait(tok)
	assert.Equal(t, want, m.Data(id))
	assert.Equal(t, int64(len(want)), m.Size(id))
	assert.True(t, m.Sync(tok), "nothing covered should remain in flight")
}

func TestLoadDataNilUntilFinalized(t *testing.T) {
	blob := newGatedBlob([]byte("late"))
	m := newLoadManager(t, &gatedModule{name: "slow.bin", blob: blob})

	id := m.LoadData("slow.bin")
	require.NotZero(t, id)
	tok := m.Mark()

	assert.Nil(t, m.Data(id), "payload must not be visible before finalization")
	assert.False(t, m.Sync(tok))

	blob.release()
	m.Wait(tok)
	assert.Equal(t, []byte("late"), m.Data(id))
}

func TestLoadForegroundDecompression(t *testing.T) {
	mod := pack.NewMemModule()
	want := testPayload(32 << 10)
	require.NoError(t, mod.AddCompressed("tex/stone.raw", "zstd", want))
	m := newLoadManager(t, mod)

	id := m.LoadData("tex/stone.raw")
	require.NotZero(t, id)
	m.Wait(m.Mark())
	assert.Equal(t, want, m.Data(id))
}

func TestLoadBackgroundDecompression(t *testing.T) {
	q, err := workqueue.New(2)
	require.NoError(t, err)
	defer q.Close()

	mod := pack.NewMemModule()
	want := testPayload(512 << 10)
	require.NoError(t, mod.AddCompressed("big/world.dat", "zstd", want))
	require.NoError(t, mod.AddCompressed("big/world.lz4", "lz4", want))

	m := newLoadManager(t, mod, func(o *Options) {
		o.DecompQueue = q
		o.BackgroundDecompress = true
		o.BackgroundThreshold = 1
		o.ChunkSize = 8 << 10
	})

	a := m.LoadData("big/world.dat")
	b := m.LoadData("big/world.lz4")
	require.NotZero(t, a)
	require.NotZero(t, b)
	m.Wait(m.Mark())

	assert.True(t, bytes.Equal(want, m.Data(a)), "background zstd output must match")
	assert.True(t, bytes.Equal(want, m.Data(b)), "background lz4 output must match")
}

func TestBackgroundMatchesForeground(t *testing.T) {
	q, err := workqueue.New(1)
	require.NoError(t, err)
	defer q.Close()

	mod := pack.NewMemModule()
	want := testPayload(200 << 10)
	require.NoError(t, mod.AddCompressed("both.dat", "zstd", want))

	fg := newLoadManager(t, mod)
	bg := newLoadManager(t, mod, func(o *Options) {
		o.DecompQueue = q
		o.BackgroundDecompress = true
		o.BackgroundThreshold = 1
		o.ChunkSize = 4 << 10
	})

	fgID := fg.LoadData("both.dat")
	bgID := bg.LoadData("both.dat")
	fg.Wait(fg.Mark())
	bg.Wait(bg.Mark())

	assert.True(t, bytes.Equal(fg.Data(fgID), bg.Data(bgID)))
}

func TestLoadUnknownName(t *testing.T) {
	m := newLoadManager(t, pack.NewMemModule())
	assert.Zero(t, m.LoadData("missing.bin"))
}

func TestLoadFactoryBuildsAsset(t *testing.T) {
	mod := pack.NewMemModule()
	mod.Add("ui/font.dat", []byte("glyphs"))

	var built *countedAsset
	m := newLoadManager(t, mod, func(o *Options) {
		o.Factories = Factories{Font: func(data []byte) (Asset, error) {
			built = &countedAsset{payload: append([]byte(nil), data...)}
			return built, nil
		}}
	})

	id := m.LoadFont("ui/font.dat")
	require.NotZero(t, id)
	m.Wait(m.Mark())

	require.NotNil(t, built)
	assert.Equal(t, []byte("glyphs"), built.payload)
	assert.Same(t, Asset(built), m.Asset(id))
	assert.Nil(t, m.Data(id), "constructed assets are not byte-shaped")

	m.Free(id)
	assert.Equal(t, int32(1), built.closed.Load(), "destructor runs exactly once")
}

func TestLoadWithoutFactoryRejected(t *testing.T) {
	mod := pack.NewMemModule()
	mod.Add("a.png", []byte("img"))
	m := newLoadManager(t, mod)

	assert.Zero(t, m.LoadTexture("a.png"))
}

func TestLoadFactoryFailureLeavesSlotEmpty(t *testing.T) {
	mod := pack.NewMemModule()
	mod.Add("bad.png", []byte("img"))
	m := newLoadManager(t, mod, func(o *Options) {
		o.Factories = Factories{Texture: func([]byte) (Asset, error) {
			return nil, io.ErrUnexpectedEOF
		}}
	})

	id := m.LoadTexture("bad.png")
	require.NotZero(t, id)
	m.Wait(m.Mark())

	assert.Nil(t, m.Asset(id))
	assert.Equal(t, TypeTexture, m.Type(id), "failed loads keep their slot")
	m.Free(id)
}

func TestLoadShortEntryFails(t *testing.T) {
	// The module claims more bytes than the blob holds; the read comes up
	// short and the load finalizes empty.
	blob := newGatedBlob([]byte("tiny"))
	blob.release()
	m := newLoadManager(t, &gatedModule{name: "short.bin", blob: blob, sizeOverride: 1 << 20})

	id := m.LoadData("short.bin")
	require.NotZero(t, id)
	m.Wait(m.Mark())
	assert.Nil(t, m.Data(id))
}

func TestSyncHonorsMarks(t *testing.T) {
	mod := pack.NewMemModule()
	mod.Add("a.bin", []byte("aaa"))
	gate := newGatedBlob([]byte("bbb"))

	reg := pack.NewRegistry()
	reg.Add(mod)
	reg.Add(&gatedModule{name: "b.bin", blob: gate})
	m, err := New(func(o *Options) { o.Registry = reg })
	require.NoError(t, err)
	defer m.Close()

	a := m.LoadData("a.bin")
	tok1 := m.Mark()
	b := m.LoadData("b.bin")
	tok2 := m.Mark()

	// tok1 does not cover b, so Wait must return with b still gated.
	m.Wait(tok1)
	assert.Equal(t, []byte("aaa"), m.Data(a))
	assert.Nil(t, m.Data(b))

	gate.release()
	m.Wait(tok2)
	assert.Equal(t, []byte("bbb"), m.Data(b))
}

func TestFreeAbortsInFlightLoad(t *testing.T) {
	gate := newGatedBlob(testPayload(1024))
	m := newLoadManager(t, &gatedModule{name: "doomed.bin", blob: gate})

	id := m.LoadData("doomed.bin")
	require.NotZero(t, id)

	// Free blocks draining the read; release the gate concurrently.
	go func() {
		time.Sleep(20 * time.Millisecond)
		gate.release()
	}()
	m.Free(id)

	assert.Equal(t, TypeUnused, m.Type(id))
	assert.True(t, m.loading.IsEmpty())
}

func TestLinkedLoadFinalizesOnce(t *testing.T) {
	mod := pack.NewMemModule()
	want := testPayload(2048)
	mod.Add("shared.bin", want)

	m1 := newLoadManager(t, mod)
	m2 := newLoadManager(t, mod)

	src := m1.LoadData("shared.bin")
	require.NotZero(t, src)
	link := m2.Link(m1, src)
	require.NotZero(t, link)
	tok := m1.Mark()

	m1.Wait(tok)
	assert.Equal(t, want, m1.Data(src))
	assert.Equal(t, want, m2.Data(link), "finalization propagates through the cycle")

	// The linked manager has nothing left to settle itself.
	assert.True(t, m2.Sync(m2.Mark()))
	assert.True(t, m2.loading.IsEmpty())
}

func TestReverseFinalizeOrder(t *testing.T) {
	mod := pack.NewMemModule()
	mod.Add("one.bin", []byte("1"))
	mod.Add("two.bin", []byte("2"))
	m := newLoadManager(t, mod, func(o *Options) { o.FinalizeOrder = OrderReverse })

	a := m.LoadData("one.bin")
	b := m.LoadData("two.bin")
	m.Wait(m.Mark())
	assert.Equal(t, []byte("1"), m.Data(a))
	assert.Equal(t, []byte("2"), m.Data(b))
}

func TestCloseAbortsLoads(t *testing.T) {
	gate := newGatedBlob(testPayload(64))
	reg := pack.NewRegistry()
	reg.Add(&gatedModule{name: "open.bin", blob: gate})
	m, err := New(func(o *Options) { o.Registry = reg })
	require.NoError(t, err)

	require.NotZero(t, m.LoadData("open.bin"))
	go func() {
		time.Sleep(20 * time.Millisecond)
		gate.release()
	}()
	require.NoError(t, m.Close())
}

// countedAsset counts destructor calls.
type countedAsset struct {
	payload []byte
	closed  atomic.Int32
}

func (a *countedAsset) Close() error {
	a.closed.Add(1)
	return nil
}

// gatedModule resolves a single name to a blob whose reads block until
// released, letting tests hold a load in flight deterministically.
type gatedModule struct {
	name         string
	blob         *gatedBlob
	sizeOverride int64
}

func (g *gatedModule) Resolve(name string) (pack.Entry, bool) {
	if name != g.name {
		return pack.Entry{}, false
	}
	size := int64(len(g.blob.data))
	if g.sizeOverride != 0 {
		size = g.sizeOverride
	}
	return pack.Entry{
		Blob:           g.blob,
		Size:           size,
		CompressedSize: size,
	}, true
}

func (g *gatedModule) List(string) []string { return []string{g.name} }
func (g *gatedModule) Close() error         { return nil }

type gatedBlob struct {
	data        []byte
	gate        chan struct{}
	releaseOnce sync.Once
}

func newGatedBlob(data []byte) *gatedBlob {
	return &gatedBlob{data: data, gate: make(chan struct{})}
}

func (b *gatedBlob) release() {
	b.releaseOnce.Do(func() { close(b.gate) })
}

func (b *gatedBlob) ReadAt(p []byte, off int64) (int, error) {
	<-b.gate
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *gatedBlob) Close() error { return nil }

func (b *gatedBlob) Size() int64 { return int64(len(b.data)) }

func TestCrossManagerLinkSyncsFromDestination(t *testing.T) {
	// Managers built without an explicit Reader each own a private one, so
	// the destination manager must settle the load through the reader and
	// queue that issued it, not its own.
	want := testPayload(2048)
	gate := newGatedBlob(want)
	m1 := newLoadManager(t, &gatedModule{name: "shared/geom.bin", blob: gate})
	m2 := newLoadManager(t, pack.NewMemModule())

	src := m1.LoadData("shared/geom.bin")
	require.NotZero(t, src)
	link := m2.Link(m1, src)
	require.NotZero(t, link)
	tok := m2.Mark()

	assert.False(t, m2.Sync(tok))

	gate.release()
	m2.Wait(tok)

	assert.Equal(t, want, m2.Data(link))
	assert.Equal(t, want, m1.Data(src), "finalizing from the link settles the whole cycle")
	assert.True(t, m1.loading.IsEmpty())
	assert.True(t, m2.loading.IsEmpty())
}

func TestCrossManagerFreeDrainsIssuingReader(t *testing.T) {
	gate := newGatedBlob(testPayload(256))
	m1 := newLoadManager(t, &gatedModule{name: "solo.bin", blob: gate})
	m2 := newLoadManager(t, pack.NewMemModule())

	src := m1.LoadData("solo.bin")
	require.NotZero(t, src)
	link := m2.Link(m1, src)
	require.NotZero(t, link)

	// The link is now the last strong owner; freeing it aborts and drains
	// the in-flight read on the issuing manager's reader.
	m1.Free(src)
	go func() {
		time.Sleep(20 * time.Millisecond)
		gate.release()
	}()
	m2.Free(link)

	assert.Equal(t, TypeUnused, m2.Type(link))
	assert.True(t, m2.loading.IsEmpty())
}
