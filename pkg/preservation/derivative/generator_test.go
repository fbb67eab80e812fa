package derivative_test

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-preservation/pkg/preservation"
	"github.com/tendant/simple-preservation/pkg/preservation/derivative"
	"github.com/tendant/simple-preservation/pkg/preservation/storage/memory"
)

func setup(t *testing.T) (*memory.Backend, *memory.Backend, *derivative.Generator) {
	t.Helper()
	preserved := memory.New()
	derivatives := memory.New()
	stores := preservation.Stores{"preservation": preserved, "derivatives": derivatives}
	g, err := derivative.New(stores, "derivatives")
	require.NoError(t, err)
	return preserved, derivatives, g
}

func storeImage(t *testing.T, store *memory.Backend, key string, w, h int) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	require.NoError(t, store.Upload(context.Background(), key, &buf))
}

func decodedBounds(t *testing.T, store *memory.Backend, key string) image.Rectangle {
	t.Helper()
	rc, err := store.Download(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	img, err := jpeg.Decode(rc)
	require.NoError(t, err)
	return img.Bounds()
}

func TestGenerate_Image(t *testing.T) {
	preserved, derivatives, g := setup(t)
	storeImage(t, preserved, "page.png", 800, 400)

	asset := &preservation.Asset{
		ID:                uuid.New(),
		OriginalFilename:  "page.png",
		PreservationFile:  &preservation.FileRef{Storage: "preservation", Key: "page.png"},
		TechnicalMetadata: preservation.TechnicalMetadata{MimeType: "image/png"},
	}

	generated, err := g.Generate(context.Background(), asset, preservation.DefaultDerivativeTypes)
	require.NoError(t, err)
	require.Len(t, generated, 2)
	assert.Equal(t, 2, derivatives.Len())

	thumb := generated[0]
	assert.Equal(t, preservation.DerivativeThumbnail, thumb.Type)
	assert.Equal(t, "derivatives", thumb.File.Storage)
	assert.Equal(t, "image/jpeg", thumb.MimeType)
	assert.False(t, thumb.Stale)
	assert.Equal(t, 200, decodedBounds(t, derivatives, thumb.File.Key).Dx())
	assert.Equal(t, 100, decodedBounds(t, derivatives, thumb.File.Key).Dy())

	// images smaller than the access size are not enlarged
	access := generated[1]
	assert.Equal(t, preservation.DerivativeAccess, access.Type)
	assert.Equal(t, 800, decodedBounds(t, derivatives, access.File.Key).Dx())
}

func TestGenerate_NonImage(t *testing.T) {
	_, derivatives, g := setup(t)
	asset := &preservation.Asset{
		ID:                uuid.New(),
		PreservationFile:  &preservation.FileRef{Storage: "preservation", Key: "talk.wav"},
		TechnicalMetadata: preservation.TechnicalMetadata{MimeType: "audio/wav"},
	}

	generated, err := g.Generate(context.Background(), asset, preservation.DefaultDerivativeTypes)
	require.NoError(t, err)
	assert.Empty(t, generated)
	assert.Zero(t, derivatives.Len())
}

func TestGenerate_Undecodable(t *testing.T) {
	preserved, derivatives, g := setup(t)
	require.NoError(t, preserved.Upload(context.Background(), "bad.png", bytes.NewReader([]byte("not an image"))))

	asset := &preservation.Asset{
		ID:                uuid.New(),
		OriginalFilename:  "bad.png",
		PreservationFile:  &preservation.FileRef{Storage: "preservation", Key: "bad.png"},
		TechnicalMetadata: preservation.TechnicalMetadata{MimeType: "image/png"},
	}

	_, err := g.Generate(context.Background(), asset, preservation.DefaultDerivativeTypes)
	assert.ErrorIs(t, err, preservation.ErrDerivativeGeneration)
	assert.Zero(t, derivatives.Len())
}

func TestNew_UnknownStorage(t *testing.T) {
	_, err := derivative.New(preservation.Stores{}, "derivatives")
	assert.ErrorIs(t, err, preservation.ErrStorageBackendNotFound)
}
