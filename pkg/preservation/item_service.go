package preservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// itemService persists items and publishes them.
type itemService struct {
	repo        Repository
	identifiers IdentifierService
	publisher   Publisher
	assets      *assetService
	logger      *slog.Logger
	clock       func() time.Time
}

// publication records who published an item and when.
type publication struct {
	By    string
	First time.Time
	Last  time.Time
}

func (s *itemService) validate(item *Item) error {
	var errs []string
	if strings.TrimSpace(item.HumanReadableName) == "" {
		errs = append(errs, "human_readable_name is required")
	}
	if len(item.DescriptiveMetadata) == 0 {
		errs = append(errs, "descriptive_metadata is required")
	}
	if strings.TrimSpace(item.UpdatedBy) == "" {
		errs = append(errs, "updated_by is required")
	}
	for _, id := range item.StructuralMetadata.ArrangedAssetIDs {
		if !slices.Contains(item.AssetIDs, id) {
			errs = append(errs, fmt.Sprintf("arranged asset %s is not attached to the item", id))
		}
	}
	if item.ThumbnailAssetID != uuid.Nil && !slices.Contains(item.AssetIDs, item.ThumbnailAssetID) {
		errs = append(errs, fmt.Sprintf("thumbnail asset %s is not attached to the item", item.ThumbnailAssetID))
	}
	return NewValidationError(errs)
}

// create mints an identifier when none is set, picks a default thumbnail and
// saves the item. Timestamps already set on item are kept.
func (s *itemService) create(ctx context.Context, item *Item) error {
	if err := s.validate(item); err != nil {
		return err
	}

	if item.UniqueIdentifier == "" {
		id, err := s.identifiers.Mint(ctx)
		if err != nil {
			return &ItemError{ItemID: item.ID, Op: "mint_identifier", Err: err}
		}
		item.UniqueIdentifier = id
	}

	now := s.clock().UTC()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	if item.CreatedBy == "" {
		item.CreatedBy = item.UpdatedBy
	}
	defaultThumbnail(item)

	if err := s.repo.CreateItem(ctx, item); err != nil {
		return &ItemError{ItemID: item.ID, Op: "create", Err: err}
	}
	s.logger.Info("item created", "item_id", item.ID, "unique_identifier", item.UniqueIdentifier, "assets", len(item.AssetIDs))
	return nil
}

// update saves item under its current lock version.
func (s *itemService) update(ctx context.Context, item *Item) error {
	if err := s.validate(item); err != nil {
		return err
	}
	item.UpdatedAt = s.clock().UTC()
	defaultThumbnail(item)

	if err := s.repo.UpdateItem(ctx, item); err != nil {
		return &ItemError{ItemID: item.ID, Op: "update", Err: err}
	}
	s.logger.Info("item updated", "item_id", item.ID, "unique_identifier", item.UniqueIdentifier)
	return nil
}

// publish pushes the item to the publisher and records the publication. A
// failure leaves the saved item untouched and is returned as *PublishError.
func (s *itemService) publish(ctx context.Context, item *Item, p publication) error {
	assets, err := s.repo.GetAssets(ctx, item.AssetIDs)
	if err != nil {
		return &PublishError{ItemID: item.ID, UniqueIdentifier: item.UniqueIdentifier, Err: err}
	}
	if err := s.publisher.Publish(ctx, item, assets); err != nil {
		s.logger.Error("publish failed", "item_id", item.ID, "unique_identifier", item.UniqueIdentifier, "err", err)
		return &PublishError{ItemID: item.ID, UniqueIdentifier: item.UniqueIdentifier, Err: err}
	}

	first := p.First
	if item.FirstPublishedAt != nil {
		first = *item.FirstPublishedAt
	}
	last := p.Last
	item.Published = true
	item.FirstPublishedAt = &first
	item.LastPublishedAt = &last
	item.PublishedBy = p.By

	if err := s.repo.UpdateItem(ctx, item); err != nil {
		s.logger.Error("recording publication failed", "item_id", item.ID, "err", err)
		return &PublishError{ItemID: item.ID, UniqueIdentifier: item.UniqueIdentifier, Err: err}
	}
	s.logger.Info("item published", "item_id", item.ID, "unique_identifier", item.UniqueIdentifier)
	return nil
}

// unpublish withdraws the item; publication timestamps are kept.
func (s *itemService) unpublish(ctx context.Context, item *Item, actor string) error {
	if err := s.publisher.Unpublish(ctx, item); err != nil {
		s.logger.Error("unpublish failed", "item_id", item.ID, "unique_identifier", item.UniqueIdentifier, "err", err)
		return &PublishError{ItemID: item.ID, UniqueIdentifier: item.UniqueIdentifier, Err: err}
	}
	item.Published = false
	item.UpdatedBy = actor
	item.UpdatedAt = s.clock().UTC()
	if err := s.repo.UpdateItem(ctx, item); err != nil {
		return &ItemError{ItemID: item.ID, Op: "unpublish", Err: err}
	}
	s.logger.Info("item unpublished", "item_id", item.ID, "unique_identifier", item.UniqueIdentifier)
	return nil
}

// regenerateDerivatives rebuilds every default derivative of every asset of
// item. All assets are attempted; failures are reported together.
func (s *itemService) regenerateDerivatives(ctx context.Context, item *Item, actor string) error {
	assets, err := s.repo.GetAssets(ctx, item.AssetIDs)
	if err != nil {
		return &ItemError{ItemID: item.ID, Op: "generate_derivatives", Err: err}
	}

	var errs []error
	for _, asset := range assets {
		if asset.PreservationFile == nil {
			continue
		}
		if err := s.assets.regenerate(ctx, asset, DefaultDerivativeTypes, actor); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &ItemError{ItemID: item.ID, Op: "generate_derivatives", Err: errors.Join(errs...)}
	}
	s.logger.Info("derivatives regenerated", "item_id", item.ID, "assets", len(assets))
	return nil
}

// defaultThumbnail falls back to the first arranged asset, then the first
// asset.
func defaultThumbnail(item *Item) {
	if item.ThumbnailAssetID != uuid.Nil {
		return
	}
	switch {
	case len(item.StructuralMetadata.ArrangedAssetIDs) > 0:
		item.ThumbnailAssetID = item.StructuralMetadata.ArrangedAssetIDs[0]
	case len(item.AssetIDs) > 0:
		item.ThumbnailAssetID = item.AssetIDs[0]
	}
}
