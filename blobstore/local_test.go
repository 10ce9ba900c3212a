package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	data := []byte("pack archive payload")
	require.NoError(t, s.Put(ctx, "levels/forest.pak", data))

	blob, err := s.Open(ctx, "levels/forest.pak")
	require.NoError(t, err)
	defer blob.Close()

	assert.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 4)
	n, err := blob.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("pack"), buf)

	// Zero-copy path.
	m, ok := blob.(Mappable)
	require.True(t, ok)
	raw, err := m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data, raw)
}

func TestLocalStoreList(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	require.NoError(t, s.Put(ctx, "levels/forest.pak", []byte("a")))
	require.NoError(t, s.Put(ctx, "levels/cave.pak", []byte("b")))
	require.NoError(t, s.Put(ctx, "audio/theme.pak", []byte("c")))

	names, err := s.List(ctx, "levels/")
	require.NoError(t, err)
	assert.Equal(t, []string{"levels/cave.pak", "levels/forest.pak"}, names)
}

func TestLocalStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	require.NoError(t, s.Put(ctx, "a.pak", []byte("x")))
	require.NoError(t, s.Delete(ctx, "a.pak"))

	_, err := s.Open(ctx, "a.pak")
	assert.Error(t, err)
}
