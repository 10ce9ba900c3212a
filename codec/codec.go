// Package codec provides the decompression primitives pack entries are
// stored with.
//
// Two shapes of decompression are offered because the loader uses both:
// DecodeAll for foreground decompression of a fully-read compressed buffer,
// and NewReader for streaming decompression of chunked reads on a
// background worker. EncodeAll exists for the pack-building tooling and
// for tests that assemble compressed packs in memory.
package codec

import (
	"errors"
	"io"
)

// ErrUnknownCodec is returned when a pack entry names a codec that is not
// registered.
var ErrUnknownCodec = errors.New("codec: unknown codec")

// Codec compresses and decompresses pack entry payloads.
type Codec interface {
	// Name is the identifier recorded in pack entries.
	Name() string

	// DecodeAll decompresses src appending to dst and returns the result.
	DecodeAll(dst, src []byte) ([]byte, error)

	// NewReader returns a streaming decompressor over r. Close releases
	// decoder state; it must be called even after a read error.
	NewReader(r io.Reader) (io.ReadCloser, error)

	// EncodeAll compresses src appending to dst and returns the result.
	EncodeAll(dst, src []byte) ([]byte, error)
}

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, error) {
	switch name {
	case Zstd.Name():
		return Zstd, nil
	case LZ4.Name():
		return LZ4, nil
	default:
		return nil, ErrUnknownCodec
	}
}
