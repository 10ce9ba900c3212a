package pack

import (
	"context"
	"encoding/binary"
	"sort"
	"strings"

	"github.com/tamberlane/assetline/blobstore"
	"github.com/tamberlane/assetline/codec"
)

// Compressed loose files carry an 8-byte little-endian decompressed-size
// header ahead of the codec frame, so Resolve can report the final size
// without decoding anything.
const sizeHeaderLen = 8

// codecExts maps compressed-file suffixes to codec names. Resolution
// probes in slice order, so ".zst" wins when both forms of a name exist.
var codecExts = []struct {
	ext   string
	codec string
}{
	{".zst", "zstd"},
	{".lz4", "lz4"},
}

// DirModule serves loose files from a blob store. An entry named
// "ui/atlas.tex" resolves to the blob of the same name, or to
// "ui/atlas.tex.zst"/"ui/atlas.tex.lz4" when only a compressed form is
// stored. Development builds run straight off such a module; shipping
// builds front it with archive packs.
type DirModule struct {
	store blobstore.BlobStore
}

// NewDirModule creates a module over the given store.
func NewDirModule(store blobstore.BlobStore) *DirModule {
	return &DirModule{store: store}
}

// Resolve opens the blob backing name. The returned entry owns the blob
// (CloseBlob is set); the loader closes it when the load settles.
func (m *DirModule) Resolve(name string) (Entry, bool) {
	ctx := context.Background()

	if blob, err := m.store.Open(ctx, name); err == nil {
		size := blob.Size()
		return Entry{
			Blob:           blob,
			CompressedSize: size,
			Size:           size,
			CloseBlob:      true,
		}, true
	}

	for _, ce := range codecExts {
		blob, err := m.store.Open(ctx, name+ce.ext)
		if err != nil {
			continue
		}

		var header [sizeHeaderLen]byte
		if _, err := blob.ReadAt(header[:], 0); err != nil {
			blob.Close()
			continue
		}
		return Entry{
			Blob:           blob,
			Offset:         sizeHeaderLen,
			CompressedSize: blob.Size() - sizeHeaderLen,
			Size:           int64(binary.LittleEndian.Uint64(header[:])),
			Compressed:     true,
			Codec:          ce.codec,
			CloseBlob:      true,
		}, true
	}
	return Entry{}, false
}

// List returns asset names under dir, compressed suffixes stripped.
func (m *DirModule) List(dir string) []string {
	prefix := dir
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	stored, err := m.store.List(context.Background(), prefix)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var names []string
	for _, n := range stored {
		for _, ce := range codecExts {
			n = strings.TrimSuffix(n, ce.ext)
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close is a no-op; DirModule opens blobs per entry.
func (m *DirModule) Close() error { return nil }

// WriteCompressed compresses data with the named codec and stores it in
// the loose-file layout DirModule resolves. Tooling-facing.
func WriteCompressed(ctx context.Context, store blobstore.BlobStore, name, codecName string, data []byte) error {
	c, err := codec.Lookup(codecName)
	if err != nil {
		return err
	}

	ext := ""
	for _, ce := range codecExts {
		if ce.codec == codecName {
			ext = ce.ext
			break
		}
	}

	payload := make([]byte, sizeHeaderLen)
	binary.LittleEndian.PutUint64(payload, uint64(len(data)))
	payload, err = c.EncodeAll(payload, data)
	if err != nil {
		return err
	}
	return store.Put(ctx, name+ext, payload)
}
