// Package derivative renders thumbnail and access copies of image assets.
package derivative

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/tiff"

	"github.com/tendant/simple-preservation/pkg/preservation"
	"github.com/tendant/simple-preservation/pkg/preservation/objectkey"
)

// Default bounding boxes, in pixels.
const (
	DefaultThumbnailSize = 200
	DefaultAccessSize    = 1600
	DefaultQuality       = 85
)

// Generator renders JPEG derivatives of image preservation files into a
// derivative store. Assets that are not images get no derivatives.
type Generator struct {
	stores  preservation.Stores
	storage string
	keys    objectkey.Generator
	sizes   map[preservation.DerivativeType]uint
	quality int
	logger  *slog.Logger
	clock   func() time.Time
}

var _ preservation.DerivativeGenerator = (*Generator)(nil)

// Option configures a Generator
type Option func(*Generator)

// WithKeyGenerator sets how derivative keys are laid out
func WithKeyGenerator(keys objectkey.Generator) Option {
	return func(g *Generator) {
		g.keys = keys
	}
}

// WithSize sets the bounding box of one derivative type
func WithSize(t preservation.DerivativeType, size uint) Option {
	return func(g *Generator) {
		g.sizes[t] = size
	}
}

// WithQuality sets the JPEG quality of every derivative
func WithQuality(quality int) Option {
	return func(g *Generator) {
		g.quality = quality
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		g.logger = logger
	}
}

// WithClock sets the time source for GeneratedAt
func WithClock(clock func() time.Time) Option {
	return func(g *Generator) {
		g.clock = clock
	}
}

// New creates a generator writing to the named storage in stores.
func New(stores preservation.Stores, storage string, opts ...Option) (*Generator, error) {
	if _, err := stores.Get(storage); err != nil {
		return nil, fmt.Errorf("derivative storage: %w", err)
	}
	g := &Generator{
		stores:  stores,
		storage: storage,
		keys:    objectkey.NewRecommendedGenerator(),
		sizes: map[preservation.DerivativeType]uint{
			preservation.DerivativeThumbnail: DefaultThumbnailSize,
			preservation.DerivativeAccess:    DefaultAccessSize,
		},
		quality: DefaultQuality,
		logger:  slog.Default(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate implements preservation.DerivativeGenerator. Either every
// requested derivative is stored or none is.
func (g *Generator) Generate(ctx context.Context, asset *preservation.Asset, types []preservation.DerivativeType) ([]preservation.Derivative, error) {
	if asset.PreservationFile == nil || !strings.HasPrefix(asset.TechnicalMetadata.MimeType, "image/") {
		return nil, nil
	}

	source, err := g.stores.Get(asset.PreservationFile.Storage)
	if err != nil {
		return nil, err
	}
	target, err := g.stores.Get(g.storage)
	if err != nil {
		return nil, err
	}

	reader, err := source.Download(ctx, asset.PreservationFile.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", preservation.ErrDerivativeGeneration, err)
	}
	img, _, err := image.Decode(reader)
	reader.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", preservation.ErrDerivativeGeneration, asset.OriginalFilename, err)
	}

	var generated []preservation.Derivative
	for _, t := range types {
		size, ok := g.sizes[t]
		if !ok {
			continue
		}
		d, err := g.render(ctx, target, asset, img, t, size)
		if err != nil {
			g.discard(ctx, target, generated)
			return nil, fmt.Errorf("%w: %s of %s: %w", preservation.ErrDerivativeGeneration, t, asset.OriginalFilename, err)
		}
		generated = append(generated, *d)
	}
	return generated, nil
}

func (g *Generator) render(ctx context.Context, target preservation.BlobStore, asset *preservation.Asset, img image.Image, t preservation.DerivativeType, size uint) (*preservation.Derivative, error) {
	scaled := img
	bounds := img.Bounds()
	if uint(bounds.Dx()) > size || uint(bounds.Dy()) > size {
		scaled = resize.Thumbnail(size, size, img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: g.quality}); err != nil {
		return nil, err
	}

	key := g.keys.GenerateKey(asset.ID, uuid.New(), &objectkey.KeyMetadata{
		FileName:       string(t) + ".jpg",
		DerivativeType: string(t),
	})
	size64 := int64(buf.Len())
	if err := target.UploadWithParams(ctx, &buf, preservation.UploadParams{ObjectKey: key, MimeType: "image/jpeg"}); err != nil {
		return nil, err
	}

	return &preservation.Derivative{
		Type:        t,
		File:        preservation.FileRef{Storage: g.storage, Key: key},
		MimeType:    "image/jpeg",
		Size:        size64,
		GeneratedAt: g.clock().UTC(),
	}, nil
}

func (g *Generator) discard(ctx context.Context, target preservation.BlobStore, derivatives []preservation.Derivative) {
	var errs []error
	for _, d := range derivatives {
		if err := target.Delete(ctx, d.File.Key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		g.logger.Warn("failed to remove partial derivatives", "err", err)
	}
}
