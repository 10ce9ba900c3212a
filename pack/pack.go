// Package pack resolves asset names to the bytes that back them.
//
// A pack module knows where one body of content lives: a directory of
// loose files, an archive, a remote bucket synced to disk. Modules are
// collected in a Registry that the resource manager queries per load;
// registration order is lookup order, so a patch pack registered before
// the base pack shadows its entries.
package pack

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/tamberlane/assetline/blobstore"
)

// Entry describes where an asset's raw bytes live.
type Entry struct {
	// Blob is the backing archive or file.
	Blob blobstore.Blob
	// Offset is the byte offset of the payload within the blob.
	Offset int64
	// CompressedSize is the stored payload size. Equal to Size for
	// uncompressed entries.
	CompressedSize int64
	// Size is the decompressed payload size.
	Size int64
	// Compressed reports whether the payload must run through Codec.
	Compressed bool
	// Codec names the codec for compressed payloads ("zstd", "lz4").
	Codec string
	// CloseBlob is set when the blob was opened for this entry alone and
	// the loader owns closing it.
	CloseBlob bool
}

// Module resolves names within one body of content.
type Module interface {
	// Resolve maps an asset name to its entry. The second return is
	// false when the module does not carry the name.
	Resolve(name string) (Entry, bool)

	// List returns the asset names under dir, sorted.
	List(dir string) []string

	// Close releases any blobs the module holds open.
	Close() error
}

// Registry is an ordered collection of pack modules. It replaces any
// notion of a process-global module list: each runtime owns its registry
// and passes it to the managers it creates.
type Registry struct {
	mu      sync.RWMutex
	modules []Module
	log     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(*RegistryOptions)) *Registry {
	opts := RegistryOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{log: opts.Logger}
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger *slog.Logger
}

// Add appends a module. Earlier modules win name collisions.
func (r *Registry) Add(m Module) {
	if m == nil {
		r.log.Warn("pack: nil module ignored")
		return
	}
	r.mu.Lock()
	r.modules = append(r.modules, m)
	r.mu.Unlock()
}

// Resolve finds the first module carrying name.
func (r *Registry) Resolve(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.modules {
		if e, ok := m.Resolve(name); ok {
			return e, true
		}
	}
	return Entry{}, false
}

// List merges the listings of every module, sorted and de-duplicated.
func (r *Registry) List(dir string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var names []string
	for _, m := range r.modules {
		for _, n := range m.List(dir) {
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Close closes every module. The first error wins; remaining modules are
// still closed.
func (r *Registry) Close() error {
	r.mu.Lock()
	modules := r.modules
	r.modules = nil
	r.mu.Unlock()

	var first error
	for _, m := range modules {
		if err := m.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
