package preservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// assetService creates, updates and removes single assets.
type assetService struct {
	repo        AssetRepository
	stores      Stores
	steps       *assetSteps
	concurrency int
	logger      *slog.Logger
	clock       func() time.Time
}

// assetUpdate pairs a descriptor with the asset it restates.
type assetUpdate struct {
	descriptor AssetDescriptor
	asset      *Asset
}

// create saves a bare asset from the descriptor's metadata and then attaches
// its file. If the file cannot be attached the bare asset is removed again.
func (s *assetService) create(ctx context.Context, d AssetDescriptor, actor string, createdAt time.Time) (*Asset, error) {
	if d.MetadataOnly() {
		return nil, &AssetError{Filename: d.Filename, Op: "create", Err: fmt.Errorf("%w: %s has no file location", ErrFileNotFound, d.Filename)}
	}

	now := s.clock().UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	asset := &Asset{
		ID:               uuid.New(),
		OriginalFilename: d.Filename,
		Label:            d.Label,
		Annotations:      d.annotations(),
		Transcriptions:   d.Transcriptions,
		CreatedBy:        actor,
		UpdatedBy:        actor,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
	if err := s.repo.CreateAsset(ctx, asset); err != nil {
		return nil, &AssetError{Filename: d.Filename, AssetID: asset.ID, Op: "create", Err: err}
	}

	change := &AssetChange{
		Asset:     asset,
		Changes:   AssetChanges{File: d.FileLocation, ExpectedChecksum: d.ExpectedChecksum},
		Actor:     actor,
		Timestamp: now,
	}
	if err := s.steps.updateAsset().run(ctx, change, s.logger); err != nil {
		if derr := s.repo.DeleteAsset(ctx, asset.ID); derr != nil {
			s.logger.Warn("failed to remove asset after file attachment failed", "asset_id", asset.ID, "filename", d.Filename, "err", derr)
		}
		return nil, &AssetError{Filename: d.Filename, AssetID: asset.ID, Op: "attach_file", Err: err}
	}

	s.logger.Info("asset created", "asset_id", asset.ID, "filename", d.Filename)
	return asset, nil
}

// createBatch creates assets in order and stops at the first failure, removing
// every asset created before it. A panic removes them too before it is
// re-raised.
func (s *assetService) createBatch(ctx context.Context, descriptors []AssetDescriptor, actor string, createdAt time.Time) ([]*Asset, error) {
	created := make([]*Asset, 0, len(descriptors))
	defer func() {
		if r := recover(); r != nil {
			s.deleteAll(ctx, created)
			panic(r)
		}
	}()
	for _, d := range descriptors {
		asset, err := s.create(ctx, d, actor, createdAt)
		if err != nil {
			s.deleteAll(ctx, created)
			return nil, err
		}
		created = append(created, asset)
	}
	return created, nil
}

// update writes the difference between d and asset. It is a no-op, returning
// asset unchanged, when nothing differs.
func (s *assetService) update(ctx context.Context, d AssetDescriptor, asset *Asset, actor string) (*Asset, bool, error) {
	var sum string
	if d.FileLocation != nil {
		store, err := s.stores.Get(d.FileLocation.Storage)
		if err != nil {
			return nil, false, &AssetError{Filename: d.Filename, AssetID: asset.ID, Op: "checksum", Err: err}
		}
		sum, err = checksumOf(ctx, store, d.FileLocation.Storage, d.FileLocation.Key)
		if err != nil {
			return nil, false, &AssetError{Filename: d.Filename, AssetID: asset.ID, Op: "checksum", Err: err}
		}
	}

	changes := d.Diff(asset, sum)
	if changes.Empty() {
		return asset, false, nil
	}

	change := &AssetChange{
		Asset:     asset,
		Changes:   changes,
		Actor:     actor,
		Timestamp: s.clock().UTC(),
	}
	if err := s.steps.updateAsset().run(ctx, change, s.logger); err != nil {
		return nil, false, &AssetError{Filename: d.Filename, AssetID: asset.ID, Op: "update", Err: err}
	}

	s.logger.Info("asset updated", "asset_id", asset.ID, "filename", d.Filename, "changes", changes.String())
	return asset, true, nil
}

// updateAll runs every update independently, at most s.concurrency at a
// time, and reports all failures together.
func (s *assetService) updateAll(ctx context.Context, updates []assetUpdate, actor string) ([]*Asset, error) {
	var (
		mu      sync.Mutex
		errs    []error
		results = make([]*Asset, len(updates))
	)

	g := new(errgroup.Group)
	if s.concurrency > 0 {
		g.SetLimit(s.concurrency)
	}
	for i, u := range updates {
		g.Go(func() error {
			asset, _, err := s.update(ctx, u.descriptor, u.asset, actor)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			results[i] = asset
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return nil, &AggregateError{Errors: errs}
	}
	return results, nil
}

// regenerate rebuilds the given derivative types of asset.
func (s *assetService) regenerate(ctx context.Context, asset *Asset, types []DerivativeType, actor string) error {
	change := &AssetChange{
		Asset:           asset,
		Actor:           actor,
		Timestamp:       s.clock().UTC(),
		DerivativeTypes: types,
	}
	if err := s.steps.regenerateDerivatives().run(ctx, change, s.logger); err != nil {
		return &AssetError{Filename: asset.OriginalFilename, AssetID: asset.ID, Op: "generate_derivatives", Err: err}
	}
	return nil
}

// delete removes the asset record and every file it references.
func (s *assetService) delete(ctx context.Context, asset *Asset) error {
	if err := s.repo.DeleteAsset(ctx, asset.ID); err != nil && !errors.Is(err, ErrAssetNotFound) {
		return &AssetError{Filename: asset.OriginalFilename, AssetID: asset.ID, Op: "delete", Err: err}
	}

	refs := make([]FileRef, 0, len(asset.Derivatives)+2)
	if asset.PreservationFile != nil {
		refs = append(refs, *asset.PreservationFile)
	}
	if asset.PreservationBackup != nil {
		refs = append(refs, *asset.PreservationBackup)
	}
	for _, d := range asset.Derivatives {
		refs = append(refs, d.File)
	}

	var errs []error
	for _, ref := range refs {
		if err := s.steps.deleteFile(ctx, ref); err != nil {
			errs = append(errs, &StorageError{Backend: ref.Storage, Key: ref.Key, Op: "delete", Err: err})
		}
	}
	s.logger.Info("asset deleted", "asset_id", asset.ID, "filename", asset.OriginalFilename)
	return errors.Join(errs...)
}

// deleteAll is best-effort compensation: failures are logged, never returned.
func (s *assetService) deleteAll(ctx context.Context, assets []*Asset) {
	if len(assets) == 0 {
		return
	}
	s.logger.Warn("removing assets created before the failure", "count", len(assets))
	for _, asset := range assets {
		if err := s.delete(ctx, asset); err != nil {
			s.logger.Warn("compensating delete failed", "asset_id", asset.ID, "err", err)
		}
	}
}
