package codec

import (
	"bytes"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// LZ4 trades ratio for decode speed. Packs on the critical startup path
// (shaders, UI atlases) are usually built with it.
//
// The frame format is used throughout so one-shot and streaming decodes
// accept the same bytes.
var LZ4 Codec = lz4Codec{}

var lz4ReaderPool = sync.Pool{
	New: func() any { return lz4.NewReader(nil) },
}

type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) DecodeAll(dst, src []byte) ([]byte, error) {
	zr := lz4ReaderPool.Get().(*lz4.Reader)
	defer lz4ReaderPool.Put(zr)
	zr.Reset(bytes.NewReader(src))

	buf := bytes.NewBuffer(dst)
	if _, err := io.Copy(buf, zr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Codec) EncodeAll(dst, src []byte) ([]byte, error) {
	buf := bytes.NewBuffer(dst)
	zw := lz4.NewWriter(buf)
	if _, err := zw.Write(src); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr := lz4ReaderPool.Get().(*lz4.Reader)
	zr.Reset(r)
	return &lz4Reader{zr: zr}, nil
}

type lz4Reader struct {
	zr *lz4.Reader
}

func (r *lz4Reader) Read(p []byte) (int, error) {
	return r.zr.Read(p)
}

func (r *lz4Reader) Close() error {
	if r.zr == nil {
		return nil
	}
	r.zr.Reset(nil)
	lz4ReaderPool.Put(r.zr)
	r.zr = nil
	return nil
}
