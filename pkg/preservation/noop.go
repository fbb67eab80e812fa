package preservation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NoopPublisher is a no-operation implementation of Publisher
// Useful when items are never exposed publicly or for testing
type NoopPublisher struct{}

// NewNoopPublisher creates a new no-operation publisher
func NewNoopPublisher() Publisher {
	return &NoopPublisher{}
}

// Publish does nothing and returns nil
func (n *NoopPublisher) Publish(ctx context.Context, item *Item, assets []*Asset) error {
	return nil
}

// Unpublish does nothing and returns nil
func (n *NoopPublisher) Unpublish(ctx context.Context, item *Item) error {
	return nil
}

// NoopDerivativeGenerator produces no derivatives
type NoopDerivativeGenerator struct{}

// NewNoopDerivativeGenerator creates a new no-operation derivative generator
func NewNoopDerivativeGenerator() DerivativeGenerator {
	return &NoopDerivativeGenerator{}
}

// Generate always returns no derivatives
func (n *NoopDerivativeGenerator) Generate(ctx context.Context, asset *Asset, types []DerivativeType) ([]Derivative, error) {
	return nil, nil
}

// LocalIdentifierService mints identifiers locally under a prefix and treats
// every identifier carrying that prefix as minted. It stands in for an
// external minting service during development.
type LocalIdentifierService struct {
	Prefix string
}

// NewLocalIdentifierService creates a local identifier service; an empty
// prefix uses the test shoulder "ark:/99999/fk4".
func NewLocalIdentifierService(prefix string) IdentifierService {
	if prefix == "" {
		prefix = "ark:/99999/fk4"
	}
	return &LocalIdentifierService{Prefix: prefix}
}

// Exists reports whether id carries the service's prefix
func (l *LocalIdentifierService) Exists(ctx context.Context, id string) (bool, error) {
	return strings.HasPrefix(id, l.Prefix), nil
}

// Mint returns the prefix followed by a random suffix
func (l *LocalIdentifierService) Mint(ctx context.Context) (string, error) {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s%s", l.Prefix, suffix), nil
}
