package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/tendant/simple-preservation/pkg/preservation"
)

// Repository implements preservation.Repository using in-memory storage
type Repository struct {
	mu           sync.RWMutex
	assets       map[uuid.UUID]*preservation.Asset
	items        map[uuid.UUID]*preservation.Item
	itemsByIdent map[string]uuid.UUID // unique_identifier -> item id
}

var _ preservation.Repository = (*Repository)(nil)

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		assets:       make(map[uuid.UUID]*preservation.Asset),
		items:        make(map[uuid.UUID]*preservation.Item),
		itemsByIdent: make(map[string]uuid.UUID),
	}
}

// Asset operations

func (r *Repository) CreateAsset(ctx context.Context, asset *preservation.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	asset.LockVersion = 1
	r.assets[asset.ID] = copyAsset(asset)
	return nil
}

func (r *Repository) GetAsset(ctx context.Context, id uuid.UUID) (*preservation.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asset, exists := r.assets[id]
	if !exists {
		return nil, preservation.ErrAssetNotFound
	}
	return copyAsset(asset), nil
}

func (r *Repository) GetAssets(ctx context.Context, ids []uuid.UUID) ([]*preservation.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*preservation.Asset, 0, len(ids))
	for _, id := range ids {
		asset, exists := r.assets[id]
		if !exists {
			return nil, preservation.ErrAssetNotFound
		}
		result = append(result, copyAsset(asset))
	}
	return result, nil
}

func (r *Repository) UpdateAsset(ctx context.Context, asset *preservation.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.assets[asset.ID]
	if !exists {
		return preservation.ErrAssetNotFound
	}
	if stored.LockVersion != asset.LockVersion {
		return preservation.ErrStaleObject
	}

	asset.LockVersion++
	r.assets[asset.ID] = copyAsset(asset)
	return nil
}

func (r *Repository) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[id]; !exists {
		return preservation.ErrAssetNotFound
	}
	delete(r.assets, id)
	return nil
}

// CountAssets returns how many assets are stored.
func (r *Repository) CountAssets() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}

// Item operations

func (r *Repository) CreateItem(ctx context.Context, item *preservation.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.itemsByIdent[item.UniqueIdentifier]; taken {
		return preservation.ErrDuplicateIdentifier
	}

	item.LockVersion = 1
	r.items[item.ID] = copyItem(item)
	r.itemsByIdent[item.UniqueIdentifier] = item.ID
	return nil
}

func (r *Repository) GetItem(ctx context.Context, id uuid.UUID) (*preservation.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, exists := r.items[id]
	if !exists {
		return nil, preservation.ErrItemNotFound
	}
	return copyItem(item), nil
}

func (r *Repository) GetItemByUniqueIdentifier(ctx context.Context, uniqueIdentifier string) (*preservation.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.itemsByIdent[uniqueIdentifier]
	if !exists {
		return nil, preservation.ErrItemNotFound
	}
	return copyItem(r.items[id]), nil
}

func (r *Repository) UpdateItem(ctx context.Context, item *preservation.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.items[item.ID]
	if !exists {
		return preservation.ErrItemNotFound
	}
	if stored.LockVersion != item.LockVersion {
		return preservation.ErrStaleObject
	}
	if item.UniqueIdentifier != stored.UniqueIdentifier {
		if _, taken := r.itemsByIdent[item.UniqueIdentifier]; taken {
			return preservation.ErrDuplicateIdentifier
		}
		delete(r.itemsByIdent, stored.UniqueIdentifier)
		r.itemsByIdent[item.UniqueIdentifier] = item.ID
	}

	item.LockVersion++
	r.items[item.ID] = copyItem(item)
	return nil
}

func (r *Repository) DeleteItem(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, exists := r.items[id]
	if !exists {
		return preservation.ErrItemNotFound
	}
	delete(r.itemsByIdent, item.UniqueIdentifier)
	delete(r.items, id)
	return nil
}

// CountItems returns how many items are stored.
func (r *Repository) CountItems() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// copies keep callers from mutating stored state through shared slices

func copyAsset(a *preservation.Asset) *preservation.Asset {
	c := *a
	c.Annotations = slices.Clone(a.Annotations)
	c.Transcriptions = slices.Clone(a.Transcriptions)
	c.Derivatives = slices.Clone(a.Derivatives)
	c.PreservationEvents = slices.Clone(a.PreservationEvents)
	if a.PreservationFile != nil {
		ref := *a.PreservationFile
		c.PreservationFile = &ref
	}
	if a.PreservationBackup != nil {
		ref := *a.PreservationBackup
		c.PreservationBackup = &ref
	}
	return &c
}

func copyItem(i *preservation.Item) *preservation.Item {
	c := *i
	c.DescriptiveMetadata = maps.Clone(i.DescriptiveMetadata)
	c.AssetIDs = slices.Clone(i.AssetIDs)
	c.StructuralMetadata.ArrangedAssetIDs = slices.Clone(i.StructuralMetadata.ArrangedAssetIDs)
	if i.FirstPublishedAt != nil {
		t := *i.FirstPublishedAt
		c.FirstPublishedAt = &t
	}
	if i.LastPublishedAt != nil {
		t := *i.LastPublishedAt
		c.LastPublishedAt = &t
	}
	return &c
}
