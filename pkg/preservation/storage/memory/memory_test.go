package memory_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-preservation/pkg/preservation"
	"github.com/tendant/simple-preservation/pkg/preservation/storage/memory"
)

func TestMemoryBackend(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	t.Run("Upload and Download", func(t *testing.T) {
		require.NoError(t, backend.Upload(ctx, "books/a.tif", strings.NewReader("page a")))

		reader, err := backend.Download(ctx, "books/a.tif")
		require.NoError(t, err)
		defer reader.Close()
		data, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, "page a", string(data))
	})

	t.Run("UploadWithParams records mime type", func(t *testing.T) {
		err := backend.UploadWithParams(ctx, bytes.NewReader([]byte("x")), preservation.UploadParams{
			ObjectKey: "books/b.jpg",
			MimeType:  "image/jpeg",
		})
		require.NoError(t, err)

		meta, err := backend.GetObjectMeta(ctx, "books/b.jpg")
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", meta.ContentType)
		assert.Equal(t, int64(1), meta.Size)
	})

	t.Run("List includes nested keys", func(t *testing.T) {
		require.NoError(t, backend.Upload(ctx, "books/nested/c.tif", strings.NewReader("c")))
		require.NoError(t, backend.Upload(ctx, "other/d.tif", strings.NewReader("d")))

		keys, err := backend.List(ctx, "books/")
		require.NoError(t, err)
		assert.Equal(t, []string{"books/a.tif", "books/b.jpg", "books/nested/c.tif"}, keys)
	})

	t.Run("missing objects", func(t *testing.T) {
		_, err := backend.Download(ctx, "missing")
		assert.ErrorIs(t, err, preservation.ErrFileNotFound)
		_, err = backend.GetObjectMeta(ctx, "missing")
		assert.ErrorIs(t, err, preservation.ErrFileNotFound)
		assert.ErrorIs(t, backend.Delete(ctx, "missing"), preservation.ErrFileNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, backend.Delete(ctx, "other/d.tif"))
		_, err := backend.Download(ctx, "other/d.tif")
		assert.Error(t, err)
	})
}
