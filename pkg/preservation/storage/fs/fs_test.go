package fs

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-preservation/pkg/preservation"
)

func TestFSBackend_BasicOps(t *testing.T) {
	tmp := t.TempDir()
	backend, err := New(Config{BaseDir: tmp})
	require.NoError(t, err)

	ctx := context.Background()
	key := "A/asset/file.txt"
	data := []byte("hello fs")

	require.NoError(t, backend.Upload(ctx, key, bytes.NewReader(data)))

	meta, err := backend.GetObjectMeta(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), meta.Size)

	rc, err := backend.Download(ctx, key)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, data, got)

	require.NoError(t, backend.Delete(ctx, key))
	_, err = os.Stat(filepath.Join(tmp, key))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(tmp, "A"))
	assert.True(t, os.IsNotExist(err), "empty directories are removed")

	_, err = backend.Download(ctx, key)
	assert.ErrorIs(t, err, preservation.ErrFileNotFound)
}

func TestFSBackend_List(t *testing.T) {
	backend, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"scans/book/a.tif", "scans/book/b.tif", "scans/book/sub/c.tif", "scans/bookmark.txt"} {
		require.NoError(t, backend.Upload(ctx, key, bytes.NewReader([]byte(key))))
	}

	keys, err := backend.List(ctx, "scans/book/")
	require.NoError(t, err)
	assert.Equal(t, []string{"scans/book/a.tif", "scans/book/b.tif", "scans/book/sub/c.tif"}, keys)

	keys, err = backend.List(ctx, "scans/book")
	require.NoError(t, err)
	assert.Len(t, keys, 4)

	keys, err = backend.List(ctx, "nothing/here/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFSBackend_RejectsEscapingKeys(t *testing.T) {
	backend, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	err = backend.Upload(context.Background(), "../outside.txt", bytes.NewReader([]byte("x")))
	assert.Error(t, err)
}
