package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "ui.pak", []byte("widgets")))

	blob, err := s.Open(ctx, "ui.pak")
	require.NoError(t, err)
	assert.Equal(t, int64(7), blob.Size())

	buf := make([]byte, 7)
	n, err := blob.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("widgets"), buf[:n])

	// Short read past the end.
	n, err = blob.ReadAt(buf, 5)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Open(ctx, "missing.pak")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "missing.pak"), ErrNotFound)
}

func TestMemoryStoreOpenIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "a.pak", []byte("old")))
	blob, err := s.Open(ctx, "a.pak")
	require.NoError(t, err)

	// Overwrite after open; the open handle keeps the old bytes.
	require.NoError(t, s.Put(ctx, "a.pak", []byte("new")))

	buf := make([]byte, 3)
	_, err = blob.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), buf)
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "b.pak", nil))
	require.NoError(t, s.Put(ctx, "a.pak", nil))
	require.NoError(t, s.Put(ctx, "sub/c.pak", nil))

	names, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pak", "b.pak", "sub/c.pak"}, names)
}
