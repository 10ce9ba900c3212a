package pack

import (
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/tamberlane/assetline/codec"
)

// MemModule holds entries in memory. Tests and the pack tooling use it to
// assemble content without touching storage.
type MemModule struct {
	mu      sync.RWMutex
	entries map[string]memEntry
}

type memEntry struct {
	data       []byte // stored (possibly compressed) bytes
	size       int64  // decompressed size
	compressed bool
	codecName  string
}

// NewMemModule creates an empty in-memory module.
func NewMemModule() *MemModule {
	return &MemModule{entries: make(map[string]memEntry)}
}

// Add stores an uncompressed entry.
func (m *MemModule) Add(name string, data []byte) {
	copied := make([]byte, len(data))
	copy(copied, data)

	m.mu.Lock()
	m.entries[name] = memEntry{data: copied, size: int64(len(copied))}
	m.mu.Unlock()
}

// AddCompressed compresses data with the named codec and stores the
// compressed form, recording both sizes.
func (m *MemModule) AddCompressed(name, codecName string, data []byte) error {
	c, err := codec.Lookup(codecName)
	if err != nil {
		return err
	}
	compressed, err := c.EncodeAll(nil, data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.entries[name] = memEntry{
		data:       compressed,
		size:       int64(len(data)),
		compressed: true,
		codecName:  codecName,
	}
	m.mu.Unlock()
	return nil
}

// Resolve maps name to its entry.
func (m *MemModule) Resolve(name string) (Entry, bool) {
	m.mu.RLock()
	e, ok := m.entries[name]
	m.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	return Entry{
		Blob:           memBlob(e.data),
		CompressedSize: int64(len(e.data)),
		Size:           e.size,
		Compressed:     e.compressed,
		Codec:          e.codecName,
	}, true
}

// List returns stored names under dir, sorted.
func (m *MemModule) List(dir string) []string {
	prefix := dir
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	m.mu.RLock()
	var names []string
	for n := range m.entries {
		if strings.HasPrefix(n, prefix) {
			names = append(names, n)
		}
	}
	m.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Close is a no-op.
func (m *MemModule) Close() error { return nil }

type memBlob []byte

func (b memBlob) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b memBlob) Close() error { return nil }

func (b memBlob) Size() int64 { return int64(len(b)) }
