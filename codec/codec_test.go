package codec

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload(size int) []byte {
	rng := rand.New(rand.NewSource(42))
	data := make([]byte, size)
	// Compressible content: long runs with sparse noise.
	for i := range data {
		if rng.Intn(16) == 0 {
			data[i] = byte(rng.Intn(256))
		} else {
			data[i] = 'a'
		}
	}
	return data
}

func TestCodecRoundTrip(t *testing.T) {
	payload := testPayload(256 * 1024)

	for _, c := range []Codec{Zstd, LZ4} {
		t.Run(c.Name(), func(t *testing.T) {
			compressed, err := c.EncodeAll(nil, payload)
			require.NoError(t, err)
			assert.Less(t, len(compressed), len(payload))

			got, err := c.DecodeAll(nil, compressed)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestStreamingMatchesOneShot(t *testing.T) {
	payload := testPayload(512 * 1024)

	for _, c := range []Codec{Zstd, LZ4} {
		t.Run(c.Name(), func(t *testing.T) {
			compressed, err := c.EncodeAll(nil, payload)
			require.NoError(t, err)

			zr, err := c.NewReader(bytes.NewReader(compressed))
			require.NoError(t, err)
			streamed, err := io.ReadAll(zr)
			require.NoError(t, err)
			require.NoError(t, zr.Close())

			oneShot, err := c.DecodeAll(nil, compressed)
			require.NoError(t, err)
			assert.Equal(t, oneShot, streamed)
		})
	}
}

func TestReaderReuse(t *testing.T) {
	// Close returns decoder state to the pool; a fresh NewReader must not
	// observe leftovers from the previous stream.
	for _, c := range []Codec{Zstd, LZ4} {
		t.Run(c.Name(), func(t *testing.T) {
			for i := 0; i < 3; i++ {
				payload := testPayload(1024 * (i + 1))
				compressed, err := c.EncodeAll(nil, payload)
				require.NoError(t, err)

				zr, err := c.NewReader(bytes.NewReader(compressed))
				require.NoError(t, err)
				got, err := io.ReadAll(zr)
				require.NoError(t, err)
				require.NoError(t, zr.Close())
				require.NoError(t, zr.Close()) // idempotent

				assert.Equal(t, payload, got)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	c, err := Lookup("zstd")
	require.NoError(t, err)
	assert.Equal(t, "zstd", c.Name())

	c, err = Lookup("lz4")
	require.NoError(t, err)
	assert.Equal(t, "lz4", c.Name())

	_, err = Lookup("brotli")
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

func TestDecodeAllCorrupt(t *testing.T) {
	for _, c := range []Codec{Zstd, LZ4} {
		t.Run(c.Name(), func(t *testing.T) {
			_, err := c.DecodeAll(nil, []byte("definitely not a frame"))
			assert.Error(t, err)
		})
	}
}
