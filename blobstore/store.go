// Package blobstore abstracts storage of pack archives.
//
// A game ships packs as immutable blobs: on disk next to the executable,
// or in object storage for downloadable content. The runtime only ever
// opens and reads packs; the write path (Put, Delete) exists for the
// pack-publishing tooling.
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error satisfying
// `errors.Is(err, ErrNotFound)`. The default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// BlobStore provides access to immutable pack archives by name.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)

	// Put writes a blob atomically, replacing any existing blob of the
	// same name. Tooling-facing.
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes a blob. Tooling-facing.
	Delete(ctx context.Context, name string) error

	// List returns blob names beginning with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a pack archive. ReadAt must be safe for
// concurrent use; the async reader issues overlapping positioned reads.
type Blob interface {
	io.ReaderAt
	io.Closer
	// Size returns the size of the blob in bytes.
	Size() int64
}

// Mappable is an optional interface for Blobs backed by a memory mapping.
// Bytes is zero-copy; the slice is valid until the Blob is closed.
type Mappable interface {
	Bytes() ([]byte, error)
}
