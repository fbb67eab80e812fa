package characterize_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/tendant/simple-preservation/pkg/preservation"
	"github.com/tendant/simple-preservation/pkg/preservation/characterize"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func TestExamine_Images(t *testing.T) {
	var pngData bytes.Buffer
	require.NoError(t, png.Encode(&pngData, testImage(30, 20)))
	var tiffData bytes.Buffer
	require.NoError(t, tiff.Encode(&tiffData, testImage(12, 40), nil))

	tests := []struct {
		name     string
		data     []byte
		filename string
		mimeType string
		width    int
		height   int
	}{
		{"png", pngData.Bytes(), "page.png", "image/png", 30, 20},
		{"tiff", tiffData.Bytes(), "page.tif", "image/tiff", 12, 40},
	}

	c := characterize.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm, err := c.Examine(context.Background(), bytes.NewReader(tt.data), tt.filename)
			require.NoError(t, err)

			sha := sha256.Sum256(tt.data)
			sum := md5.Sum(tt.data)
			assert.Equal(t, tt.mimeType, tm.MimeType)
			assert.Equal(t, tt.width, tm.Width)
			assert.Equal(t, tt.height, tm.Height)
			assert.Equal(t, int64(len(tt.data)), tm.Size)
			assert.Equal(t, hex.EncodeToString(sha[:]), tm.SHA256)
			assert.Equal(t, hex.EncodeToString(sum[:]), tm.MD5)
		})
	}
}

func TestExamine_NonImage(t *testing.T) {
	data := strings.Repeat("transcribed text\n", 100)
	tm, err := characterize.New().Examine(context.Background(), strings.NewReader(data), "notes.txt")
	require.NoError(t, err)

	sha := sha256.Sum256([]byte(data))
	assert.Equal(t, "text/plain", tm.MimeType)
	assert.Equal(t, int64(len(data)), tm.Size)
	assert.Equal(t, hex.EncodeToString(sha[:]), tm.SHA256)
	assert.Zero(t, tm.Width)
}

func TestExamine_Failures(t *testing.T) {
	c := characterize.New()

	t.Run("empty file", func(t *testing.T) {
		_, err := c.Examine(context.Background(), bytes.NewReader(nil), "empty.tif")
		assert.ErrorIs(t, err, preservation.ErrCharacterization)
	})

	t.Run("corrupt tiff", func(t *testing.T) {
		data := append([]byte("II*\x00"), bytes.Repeat([]byte{0xff}, 64)...)
		_, err := c.Examine(context.Background(), bytes.NewReader(data), "broken.tif")
		assert.ErrorIs(t, err, preservation.ErrCharacterization)
	})
}

func TestDetectMimeType(t *testing.T) {
	assert.Equal(t, "image/tiff", characterize.DetectMimeType([]byte("MM\x00*rest"), "x.bin"))
	assert.Equal(t, "image/tiff", characterize.DetectMimeType([]byte("II*\x00rest"), "x"))
	assert.Equal(t, "application/pdf", characterize.DetectMimeType([]byte("%PDF-1.7\n"), "scan.pdf"))
	assert.Equal(t, "image/png", characterize.DetectMimeType([]byte{0x00, 0x01, 0x02}, "page.PNG"))
}
