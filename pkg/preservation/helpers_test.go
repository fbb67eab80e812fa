package preservation_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-preservation/pkg/preservation"
	"github.com/tendant/simple-preservation/pkg/preservation/repo/memory"
	memorystorage "github.com/tendant/simple-preservation/pkg/preservation/storage/memory"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sha(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// hashingCharacterizer reports every file as a TIFF. Files named in failOn
// fail characterization and files named in panicOn panic.
type hashingCharacterizer struct {
	mu      sync.Mutex
	failOn  map[string]bool
	panicOn map[string]bool
}

func (c *hashingCharacterizer) explode(filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panicOn == nil {
		c.panicOn = make(map[string]bool)
	}
	c.panicOn[filename] = true
}

func (c *hashingCharacterizer) fail(filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOn == nil {
		c.failOn = make(map[string]bool)
	}
	c.failOn[filename] = true
}

func (c *hashingCharacterizer) Examine(ctx context.Context, r io.Reader, filename string) (*preservation.TechnicalMetadata, error) {
	c.mu.Lock()
	fail := c.failOn[filename]
	explode := c.panicOn[filename]
	c.mu.Unlock()
	if explode {
		panic(fmt.Sprintf("decoder blew up on %s\ngoroutine 7 [running]:\nmain.decode()", filename))
	}
	if fail {
		return nil, fmt.Errorf("%w: %s is corrupt", preservation.ErrCharacterization, filename)
	}
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return nil, err
	}
	return &preservation.TechnicalMetadata{
		MimeType: "image/tiff",
		Size:     n,
		SHA256:   hex.EncodeToString(h.Sum(nil)),
		MD5:      "md5",
	}, nil
}

// fakeIdentifiers answers Exists from known, after returning the scripted
// errors in order.
type fakeIdentifiers struct {
	mu     sync.Mutex
	known  map[string]bool
	errs   []error
	calls  int
	minted int
}

func (f *fakeIdentifiers) Exists(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return false, err
	}
	return f.known[id], nil
}

func (f *fakeIdentifiers) Mint(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minted++
	return fmt.Sprintf("ark:/99999/fk4minted%d", f.minted), nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	err       error
	published []string
}

func (p *recordingPublisher) Publish(ctx context.Context, item *preservation.Item, assets []*preservation.Asset) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, item.UniqueIdentifier)
	return nil
}

func (p *recordingPublisher) Unpublish(ctx context.Context, item *preservation.Item) error {
	return p.err
}

// recordingDerivatives stores nothing but remembers each request.
type recordingDerivatives struct {
	mu    sync.Mutex
	calls map[string][]preservation.DerivativeType
}

func (g *recordingDerivatives) Generate(ctx context.Context, asset *preservation.Asset, types []preservation.DerivativeType) ([]preservation.Derivative, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls == nil {
		g.calls = make(map[string][]preservation.DerivativeType)
	}
	g.calls[asset.OriginalFilename] = append(g.calls[asset.OriginalFilename], types...)
	return nil, nil
}

func (g *recordingDerivatives) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// checksumStore reports SHA-256 checksums without downloading and counts
// downloads.
type checksumStore struct {
	*memorystorage.Backend
	mu        sync.Mutex
	downloads int
}

func (s *checksumStore) Checksum(ctx context.Context, key string) (string, error) {
	rc, err := s.Backend.Download(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *checksumStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	s.downloads++
	s.mu.Unlock()
	return s.Backend.Download(ctx, key)
}

// racingRepository lets another writer save the item just before the first
// item update.
type racingRepository struct {
	*memory.Repository
	raced bool
}

func (r *racingRepository) UpdateItem(ctx context.Context, item *preservation.Item) error {
	if !r.raced {
		r.raced = true
		other, err := r.Repository.GetItem(ctx, item.ID)
		if err != nil {
			return err
		}
		other.HumanReadableName = "edited elsewhere"
		if err := r.Repository.UpdateItem(ctx, other); err != nil {
			return err
		}
	}
	return r.Repository.UpdateItem(ctx, item)
}

// failingItemRepository saves assets but never items.
type failingItemRepository struct {
	*memory.Repository
}

func (r failingItemRepository) CreateItem(ctx context.Context, item *preservation.Item) error {
	return errors.New("database unavailable")
}

type fixture struct {
	repo          *memory.Repository
	source        *checksumStore
	preserved     *memorystorage.Backend
	characterizer *hashingCharacterizer
	identifiers   *fakeIdentifiers
	publisher     *recordingPublisher
	derivatives   *recordingDerivatives
}

func newFixture(t *testing.T, files ...string) *fixture {
	t.Helper()
	f := &fixture{
		repo:          memory.New(),
		source:        &checksumStore{Backend: memorystorage.New()},
		preserved:     memorystorage.New(),
		characterizer: &hashingCharacterizer{},
		identifiers:   &fakeIdentifiers{known: map[string]bool{}},
		publisher:     &recordingPublisher{},
		derivatives:   &recordingDerivatives{},
	}
	for _, name := range files {
		f.put(t, "book/"+name, "scan of "+name)
	}
	return f
}

func (f *fixture) put(t *testing.T, key, content string) {
	t.Helper()
	require.NoError(t, f.source.Upload(context.Background(), key, strings.NewReader(content)))
}

func (f *fixture) importer(t *testing.T, opts ...preservation.Option) *preservation.Importer {
	t.Helper()
	options := append([]preservation.Option{
		preservation.WithRepository(f.repo),
		preservation.WithBlobStore("sceti", f.source),
		preservation.WithBlobStore("preservation", f.preserved),
		preservation.WithPreservationStorage("preservation"),
		preservation.WithCharacterizer(f.characterizer),
		preservation.WithIdentifierService(f.identifiers),
		preservation.WithPublisher(f.publisher),
		preservation.WithDerivativeGenerator(f.derivatives),
		preservation.WithIdentifierRetry(3, 0),
		preservation.WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	im, err := preservation.New(options...)
	require.NoError(t, err)
	return im
}

func ptr[T any](v T) *T {
	return &v
}

func createRequest(arranged, unarranged string) *preservation.ImportRequest {
	in := &preservation.AssetSetInput{
		Storage:           "sceti",
		Path:              preservation.StringList{"book"},
		ArrangedFilenames: ptr(arranged),
	}
	if unarranged != "" {
		in.UnarrangedFilenames = ptr(unarranged)
	}
	return &preservation.ImportRequest{
		Action:              preservation.ActionCreate,
		HumanReadableName:   "Letter to a friend",
		DescriptiveMetadata: map[string]interface{}{"title": "Letter to a friend", "language": "English"},
		Assets:              in,
		ImportedBy:          "importer@example.org",
	}
}

func updateRequest(id string) *preservation.ImportRequest {
	return &preservation.ImportRequest{
		Action:           preservation.ActionUpdate,
		UniqueIdentifier: id,
		ImportedBy:       "editor@example.org",
	}
}

func mustCreate(t *testing.T, im *preservation.Importer, req *preservation.ImportRequest) *preservation.Item {
	t.Helper()
	outcome := im.Run(context.Background(), req)
	require.True(t, outcome.Succeeded(), "%v", outcome.Errors)
	return outcome.Item
}

func assetsByName(t *testing.T, im *preservation.Importer, item *preservation.Item) map[string]*preservation.Asset {
	t.Helper()
	assets, err := im.GetItemAssets(context.Background(), item)
	require.NoError(t, err)
	out := make(map[string]*preservation.Asset, len(assets))
	for _, a := range assets {
		out[a.OriginalFilename] = a
	}
	return out
}

var errTransient = errors.New("connection reset")
