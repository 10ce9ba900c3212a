package codec

import (
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Zstd is the default pack codec. Good ratio, fast decode; the pack
// tooling picks it for everything that is not latency critical.
var Zstd Codec = zstdCodec{}

// Encoder/decoder state is expensive to build, so instances are pooled
// and reset between uses.
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

type zstdCodec struct{}

func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) DecodeAll(dst, src []byte) ([]byte, error) {
	dec := getZstdDecoder()
	defer zstdDecoderPool.Put(dec)
	return dec.DecodeAll(src, dst)
}

func (zstdCodec) EncodeAll(dst, src []byte) ([]byte, error) {
	enc := getZstdEncoder()
	defer zstdEncoderPool.Put(enc)
	return enc.EncodeAll(src, dst), nil
}

func (zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec := getZstdDecoder()
	if err := dec.Reset(r); err != nil {
		zstdDecoderPool.Put(dec)
		return nil, err
	}
	return &zstdReader{dec: dec}, nil
}

type zstdReader struct {
	dec *zstd.Decoder
}

func (r *zstdReader) Read(p []byte) (int, error) {
	return r.dec.Read(p)
}

func (r *zstdReader) Close() error {
	if r.dec == nil {
		return nil
	}
	// Detach from the source and return the decoder to the pool.
	_ = r.dec.Reset(nil)
	zstdDecoderPool.Put(r.dec)
	r.dec = nil
	return nil
}
