package assetline

import (
	"fmt"
	"os"
	"sync"

	"github.com/tamberlane/assetline/aio"
	"github.com/tamberlane/assetline/blobstore"
	"github.com/tamberlane/assetline/pack"
	"github.com/tamberlane/assetline/resman"
	"github.com/tamberlane/assetline/workqueue"
)

// Runtime bundles the shared asset-loading infrastructure: the pack
// registry, the asynchronous reader, and the background decompression
// queue. Resource managers created from one runtime share all three, so
// concurrency stays bounded across the whole process.
//
// The Runtime itself is safe for concurrent use. Managers created from it
// are not; each is confined to its owning goroutine.
type Runtime struct {
	mu       sync.Mutex
	registry *pack.Registry
	reader   *aio.Reader
	queue    *workqueue.Queue
	managers []*resman.Manager
	opts     options
	log      *Logger
	closed   bool
}

// Open creates a Runtime. Mount pack sources before creating managers.
func Open(optFns ...Option) (*Runtime, error) {
	opts := applyOptions(optFns)
	if opts.concurrency <= 0 {
		return nil, ErrInvalidConcurrency
	}

	queue, err := workqueue.New(opts.concurrency, func(o *workqueue.Options) {
		o.MaxUnits = opts.maxUnits
		o.Logger = opts.logger.Logger
	})
	if err != nil {
		return nil, fmt.Errorf("decompression queue: %w", err)
	}

	reader := aio.NewReader(func(o *aio.Options) {
		o.MaxInflight = opts.maxInflight
		o.BytesPerSec = opts.readBytesPerSec
		o.Logger = opts.logger.Logger
	})

	return &Runtime{
		registry: pack.NewRegistry(func(o *pack.RegistryOptions) {
			o.Logger = opts.logger.Logger
		}),
		reader: reader,
		queue:  queue,
		opts:   opts,
		log:    opts.logger,
	}, nil
}

// Mount adds a pack module to the registry. Mount order is resolution
// order: earlier mounts shadow later ones.
func (rt *Runtime) Mount(m pack.Module) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return ErrClosed
	}
	rt.registry.Add(m)
	return nil
}

// MountDir mounts loose files under path as a pack module.
func (rt *Runtime) MountDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		rt.log.LogMount(path, err)
		return &ErrMountFailed{Source: path, cause: err}
	}
	if !info.IsDir() {
		err := fmt.Errorf("not a directory: %s", path)
		rt.log.LogMount(path, err)
		return &ErrMountFailed{Source: path, cause: err}
	}

	if err := rt.Mount(pack.NewDirModule(blobstore.NewLocalStore(path))); err != nil {
		return err
	}
	rt.log.LogMount(path, nil)
	return nil
}

// MountStore mounts a blob store (local, S3, MinIO, in-memory) as a pack
// module.
func (rt *Runtime) MountStore(store blobstore.BlobStore) error {
	return rt.Mount(pack.NewDirModule(store))
}

// Registry exposes the pack registry, e.g. for listing content.
func (rt *Runtime) Registry() *pack.Registry { return rt.registry }

// Reader exposes the shared asynchronous reader.
func (rt *Runtime) Reader() *aio.Reader { return rt.reader }

// Queue exposes the shared decompression queue.
func (rt *Runtime) Queue() *workqueue.Queue { return rt.queue }

// NewManager creates a resource manager wired to the runtime's registry,
// reader, and decompression queue. Options given here override the
// runtime defaults.
func (rt *Runtime) NewManager(optFns ...func(*resman.Options)) (*resman.Manager, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return nil, ErrClosed
	}

	base := func(o *resman.Options) {
		o.Registry = rt.registry
		o.Reader = rt.reader
		o.DecompQueue = rt.queue
		o.Factories = rt.opts.factories
		o.BackgroundDecompress = rt.opts.bgDecompress
		o.BackgroundThreshold = rt.opts.bgThreshold
		o.ChunkSize = rt.opts.chunkSize
		o.Logger = rt.log.Logger
	}
	m, err := resman.New(append([]func(*resman.Options){base}, optFns...)...)
	if err != nil {
		return nil, err
	}
	rt.managers = append(rt.managers, m)
	return m, nil
}

// Close tears the runtime down: surviving managers first so their loads
// abort, then the queue, the reader, and finally the mounted packs.
// Closing a manager yourself beforehand is fine.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	managers := rt.managers
	rt.managers = nil
	rt.mu.Unlock()

	var firstErr error
	for _, m := range managers {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := rt.queue.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := rt.reader.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := rt.registry.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
