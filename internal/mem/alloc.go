// Package mem provides buffer allocation for asset I/O.
//
// Read buffers handed to the async reader and to decompressors are allocated
// here so alignment and zeroing policy live in one place. Buffers are plain
// Go slices; the garbage collector owns their lifetime.
package mem

import (
	"unsafe"
)

// Alignment is the byte alignment used for I/O buffers. Direct and
// memory-mapped reads benefit from cache-line-aligned destinations.
const Alignment = 64

// Flag controls allocation behavior.
type Flag uint8

const (
	// Zeroed requests explicitly zero-initialized memory. Go slices are
	// always zeroed; the flag exists so call sites document intent.
	Zeroed Flag = 1 << iota
	// Scratch marks a short-lived buffer (double-buffered chunk reads).
	// Scratch buffers skip alignment padding.
	Scratch
)

// Alloc allocates a byte slice of the given size honoring flags.
// Non-scratch buffers are aligned to Alignment bytes.
func Alloc(size int, flags Flag) []byte {
	if size <= 0 {
		return nil
	}
	if flags&Scratch != 0 {
		return make([]byte, size)
	}
	return AllocAligned(size)
}

// AllocAligned allocates a byte slice of the given size whose first byte
// sits at an address divisible by Alignment.
//
// Slightly more memory than requested is allocated so an aligned offset can
// be found. The underlying array is kept alive by the returned slice.
func AllocAligned(size int) []byte {
	if size <= 0 {
		return nil
	}

	buf := make([]byte, size+Alignment)

	ptr := unsafe.Pointer(&buf[0]) //nolint:gosec // required for alignment math
	addr := uintptr(ptr)
	offset := (Alignment - (addr & (Alignment - 1))) & (Alignment - 1)

	return buf[offset : offset+uintptr(size)]
}
