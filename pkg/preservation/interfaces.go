package preservation

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore defines the interface for storage backends
type BlobStore interface {
	// List returns every key starting with prefix, including keys in
	// nested "directories". Callers filter as they need.
	List(ctx context.Context, prefix string) ([]string, error)

	// Upload uploads content directly
	Upload(ctx context.Context, objectKey string, reader io.Reader) error

	// UploadWithParams uploads content with additional parameters
	UploadWithParams(ctx context.Context, reader io.Reader, params UploadParams) error

	// Download downloads content directly
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Delete deletes content
	Delete(ctx context.Context, objectKey string) error

	// GetObjectMeta retrieves metadata for an object
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)
}

// ChecksumProvider is implemented by blob stores that can report a SHA-256
// checksum without transferring the object. Implementations return
// ErrChecksumUnavailable when no checksum is stored for a key.
type ChecksumProvider interface {
	Checksum(ctx context.Context, objectKey string) (string, error)
}

// ObjectMeta contains metadata about an object in storage
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
	Metadata    map[string]string
}

// UploadParams contains parameters for uploading an object
type UploadParams struct {
	ObjectKey string
	MimeType  string
}

// Stores maps storage backend names to blob stores.
type Stores map[string]BlobStore

// Get returns the named backend.
func (s Stores) Get(name string) (BlobStore, error) {
	store, ok := s[name]
	if !ok || store == nil {
		return nil, fmt.Errorf("%w: %s", ErrStorageBackendNotFound, name)
	}
	return store, nil
}

// AssetRepository persists Assets.
type AssetRepository interface {
	CreateAsset(ctx context.Context, asset *Asset) error
	GetAsset(ctx context.Context, id uuid.UUID) (*Asset, error)
	// GetAssets returns the assets in the order of ids. Unknown ids are an error.
	GetAssets(ctx context.Context, ids []uuid.UUID) ([]*Asset, error)
	// UpdateAsset saves asset if asset.LockVersion matches the stored token,
	// then increments asset.LockVersion. A mismatch returns ErrStaleObject.
	UpdateAsset(ctx context.Context, asset *Asset) error
	DeleteAsset(ctx context.Context, id uuid.UUID) error
}

// ItemRepository persists Items.
type ItemRepository interface {
	CreateItem(ctx context.Context, item *Item) error
	GetItem(ctx context.Context, id uuid.UUID) (*Item, error)
	GetItemByUniqueIdentifier(ctx context.Context, uniqueIdentifier string) (*Item, error)
	// UpdateItem follows the same optimistic locking rules as UpdateAsset.
	UpdateItem(ctx context.Context, item *Item) error
	DeleteItem(ctx context.Context, id uuid.UUID) error
}

// Repository combines asset and item persistence
type Repository interface {
	AssetRepository
	ItemRepository
}

// IdentifierService mints and resolves persistent identifiers.
type IdentifierService interface {
	// Exists reports whether id has been minted. A definitive "unknown"
	// answer is (false, nil) or an error wrapping ErrIdentifierNotFound;
	// any other error is treated as transient.
	Exists(ctx context.Context, id string) (bool, error)
	Mint(ctx context.Context) (string, error)
}

// Characterizer extracts technical metadata from file content.
type Characterizer interface {
	// Examine reads r to the end. Unparseable content returns an error
	// wrapping ErrCharacterization.
	Examine(ctx context.Context, r io.Reader, filename string) (*TechnicalMetadata, error)
}

// DerivativeGenerator produces derivatives from an Asset's preservation file.
type DerivativeGenerator interface {
	// Generate returns the derivatives it could produce among types. Files
	// are already stored when it returns.
	Generate(ctx context.Context, asset *Asset, types []DerivativeType) ([]Derivative, error)
}

// Publisher pushes items to, and withdraws them from, the public site.
type Publisher interface {
	Publish(ctx context.Context, item *Item, assets []*Asset) error
	Unpublish(ctx context.Context, item *Item) error
}
