package preservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-preservation/pkg/preservation/objectkey"
)

// Outcome states.
const (
	StateSucceeded     = "succeeded"
	StateFailed        = "failed"
	StatePublishFailed = "publish_failed"
)

// Outcome is the structured result of one import. Run always returns one,
// whatever went wrong.
type Outcome struct {
	State  string   `json:"state"`
	Item   *Item    `json:"item,omitempty"`
	Errors []string `json:"errors,omitempty"`

	// Err is the underlying error for callers that classify failures.
	Err error `json:"-"`
}

// Succeeded reports whether the item was saved. Publish failures count as
// saved.
func (o *Outcome) Succeeded() bool {
	return o.State == StateSucceeded
}

// Importer runs import requests against the configured repositories and
// stores.
type Importer struct {
	repo                Repository
	stores              Stores
	preservationStorage string
	backupStorage       string
	keys                objectkey.Generator
	characterizer       Characterizer
	derivatives         DerivativeGenerator
	identifiers         IdentifierService
	publisher           Publisher
	extensions          []string
	mimeTypes           []string

	identifierAttempts   int
	identifierRetryDelay time.Duration
	updateConcurrency    int

	logger *slog.Logger
	clock  func() time.Time

	resolver *AssetSetResolver
	assets   *assetService
	items    *itemService
}

// Option represents a functional option for configuring the importer
type Option func(*Importer)

// WithRepository sets the asset and item repository
func WithRepository(repo Repository) Option {
	return func(im *Importer) {
		im.repo = repo
	}
}

// WithBlobStore adds a named storage backend
func WithBlobStore(name string, store BlobStore) Option {
	return func(im *Importer) {
		if im.stores == nil {
			im.stores = make(Stores)
		}
		im.stores[name] = store
	}
}

// WithPreservationStorage names the backend preservation files are written to
func WithPreservationStorage(name string) Option {
	return func(im *Importer) {
		im.preservationStorage = name
	}
}

// WithBackupStorage names a backend that receives a copy of every
// preservation file
func WithBackupStorage(name string) Option {
	return func(im *Importer) {
		im.backupStorage = name
	}
}

// WithKeyGenerator sets how preservation file keys are built
func WithKeyGenerator(keys objectkey.Generator) Option {
	return func(im *Importer) {
		im.keys = keys
	}
}

// WithCharacterizer sets the technical metadata extractor
func WithCharacterizer(c Characterizer) Option {
	return func(im *Importer) {
		im.characterizer = c
	}
}

// WithDerivativeGenerator sets the derivative generator
func WithDerivativeGenerator(g DerivativeGenerator) Option {
	return func(im *Importer) {
		im.derivatives = g
	}
}

// WithIdentifierService sets the persistent identifier service
func WithIdentifierService(ids IdentifierService) Option {
	return func(im *Importer) {
		im.identifiers = ids
	}
}

// WithPublisher sets the publisher
func WithPublisher(p Publisher) Option {
	return func(im *Importer) {
		im.publisher = p
	}
}

// Preservation formats accepted when no other list is configured.
var (
	DefaultSupportedExtensions = []string{"tif", "tiff", "jpg", "jpeg", "png", "gif", "jp2", "wav", "mp3", "mp4", "pdf"}
	DefaultSupportedMimeTypes  = []string{
		"image/tiff", "image/jpeg", "image/png", "image/gif", "image/jp2",
		"audio/wav", "audio/wave", "audio/x-wav", "audio/mpeg", "video/mp4", "application/pdf",
	}
)

// WithSupportedExtensions limits the file extensions accepted for ingest.
// Calling it with no extensions accepts every extension.
func WithSupportedExtensions(exts ...string) Option {
	return func(im *Importer) {
		im.extensions = make([]string, 0, len(exts))
		for _, ext := range exts {
			im.extensions = append(im.extensions, strings.ToLower(strings.TrimPrefix(ext, ".")))
		}
	}
}

// WithSupportedMimeTypes limits the characterized mime types accepted for
// ingest. Calling it with no types accepts every type.
func WithSupportedMimeTypes(types ...string) Option {
	return func(im *Importer) {
		im.mimeTypes = append(make([]string, 0, len(types)), types...)
	}
}

// WithIdentifierRetry sets how many times, in total, the identifier service
// is asked whether an identifier exists, and the pause between attempts.
func WithIdentifierRetry(attempts int, delay time.Duration) Option {
	return func(im *Importer) {
		im.identifierAttempts = attempts
		im.identifierRetryDelay = delay
	}
}

// WithUpdateConcurrency bounds how many existing assets are updated at once
func WithUpdateConcurrency(n int) Option {
	return func(im *Importer) {
		im.updateConcurrency = n
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(im *Importer) {
		im.logger = logger
	}
}

// WithClock replaces time.Now
func WithClock(clock func() time.Time) Option {
	return func(im *Importer) {
		im.clock = clock
	}
}

// New creates an importer with the given options
func New(options ...Option) (*Importer, error) {
	im := &Importer{
		stores:               make(Stores),
		identifierAttempts:   3,
		identifierRetryDelay: time.Second,
		updateConcurrency:    4,
		logger:               slog.Default(),
		clock:                time.Now,
	}

	for _, option := range options {
		option(im)
	}

	if im.repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if im.characterizer == nil {
		return nil, fmt.Errorf("characterizer is required")
	}
	if _, err := im.stores.Get(im.preservationStorage); err != nil {
		return nil, fmt.Errorf("preservation storage: %w", err)
	}
	if im.backupStorage != "" {
		if _, err := im.stores.Get(im.backupStorage); err != nil {
			return nil, fmt.Errorf("backup storage: %w", err)
		}
	}
	if im.keys == nil {
		im.keys = objectkey.NewRecommendedGenerator()
	}
	if im.derivatives == nil {
		im.derivatives = NewNoopDerivativeGenerator()
	}
	if im.identifiers == nil {
		im.identifiers = NewLocalIdentifierService("")
	}
	if im.publisher == nil {
		im.publisher = NewNoopPublisher()
	}
	if im.extensions == nil {
		im.extensions = slices.Clone(DefaultSupportedExtensions)
	}
	if im.mimeTypes == nil {
		im.mimeTypes = slices.Clone(DefaultSupportedMimeTypes)
	}
	if im.identifierAttempts < 1 {
		im.identifierAttempts = 1
	}

	steps := &assetSteps{
		repo:                im.repo,
		stores:              im.stores,
		preservationStorage: im.preservationStorage,
		backupStorage:       im.backupStorage,
		keys:                im.keys,
		characterizer:       im.characterizer,
		derivatives:         im.derivatives,
		extensions:          im.extensions,
		mimeTypes:           im.mimeTypes,
		logger:              im.logger,
	}
	im.resolver = NewAssetSetResolver(im.stores)
	im.assets = &assetService{
		repo:        im.repo,
		stores:      im.stores,
		steps:       steps,
		concurrency: im.updateConcurrency,
		logger:      im.logger,
		clock:       im.clock,
	}
	im.items = &itemService{
		repo:        im.repo,
		identifiers: im.identifiers,
		publisher:   im.publisher,
		assets:      im.assets,
		logger:      im.logger,
		clock:       im.clock,
	}

	return im, nil
}

// Run executes req and converts every failure, including panics, into an
// Outcome.
func (im *Importer) Run(ctx context.Context, req *ImportRequest) (outcome *Outcome) {
	if req == nil {
		err := NewValidationError([]string{"request is required"})
		return &Outcome{State: StateFailed, Errors: []string{"request is required"}, Err: err}
	}
	defer func() {
		if r := recover(); r != nil {
			im.logger.Error("import panicked", "action", req.Action, "unique_identifier", req.UniqueIdentifier, "panic", panicMessage(r), "stack", string(debug.Stack()))
			err := fmt.Errorf("unexpected error: %s", panicMessage(r))
			outcome = &Outcome{State: StateFailed, Errors: []string{err.Error()}, Err: err}
		}
	}()

	item, err := im.Import(ctx, req)
	outcome = newOutcome(item, err)
	im.logger.Info("import finished", "action", req.Action, "unique_identifier", uniqueIdentifier(item, req), "state", outcome.State)
	return outcome
}

func newOutcome(item *Item, err error) *Outcome {
	if err == nil {
		return &Outcome{State: StateSucceeded, Item: item}
	}

	var (
		validation *ValidationError
		aggregate  *AggregateError
		publish    *PublishError
	)
	switch {
	case errors.As(err, &publish):
		return &Outcome{State: StatePublishFailed, Item: item, Errors: []string{err.Error()}, Err: err}
	case errors.As(err, &validation):
		return &Outcome{State: StateFailed, Errors: validation.Errors, Err: err}
	case errors.As(err, &aggregate):
		msgs := make([]string, 0, len(aggregate.Errors)+1)
		for _, e := range aggregate.Errors {
			msgs = append(msgs, e.Error())
		}
		msgs = append(msgs, "partial update occurred and must be corrected manually")
		return &Outcome{State: StateFailed, Item: item, Errors: msgs, Err: err}
	default:
		return &Outcome{State: StateFailed, Item: item, Errors: []string{err.Error()}, Err: err}
	}
}

func uniqueIdentifier(item *Item, req *ImportRequest) string {
	if item != nil {
		return item.UniqueIdentifier
	}
	return req.UniqueIdentifier
}

// Import dispatches req to the workflow of its action. A *PublishError is
// returned together with the saved item.
func (im *Importer) Import(ctx context.Context, req *ImportRequest) (*Item, error) {
	switch req.Action {
	case ActionCreate, ActionMigrate:
		return im.create(ctx, req)
	case ActionUpdate:
		return im.update(ctx, req)
	default:
		return nil, req.Validate()
	}
}

// create implements both the create and the migrate workflows.
func (im *Importer) create(ctx context.Context, req *ImportRequest) (*Item, error) {
	var errs []string
	var verr *ValidationError

	if err := req.Validate(); errors.As(err, &verr) {
		errs = append(errs, verr.Errors...)
	}

	var set *AssetSet
	if req.Assets != nil {
		resolved, err := im.resolver.Resolve(ctx, req.Assets, req.resolveMode())
		switch {
		case errors.As(err, &verr):
			errs = append(errs, verr.Errors...)
		case err != nil:
			return nil, err
		default:
			set = resolved
		}
	}

	if id := strings.TrimSpace(req.UniqueIdentifier); id != "" {
		msgs, err := im.checkNewIdentifier(ctx, id)
		if err != nil {
			return nil, err
		}
		errs = append(errs, msgs...)
	}

	if set != nil {
		if missing := set.Unlocated(); len(missing) > 0 {
			errs = append(errs, fmt.Sprintf("files missing from storage: %s", strings.Join(missing, ", ")))
		}
		if name := req.ThumbnailFilename; name != "" {
			if d, ok := set.Descriptor(name); !ok || d.FileLocation == nil {
				errs = append(errs, fmt.Sprintf("thumbnail %s is not among the assets in storage", name))
			}
		}
	}

	if err := NewValidationError(errs); err != nil {
		return nil, err
	}

	var createdAt time.Time
	if req.CreatedAt != nil {
		createdAt = req.CreatedAt.UTC()
	}

	created, err := im.assets.createBatch(ctx, set.All(), req.creator(), createdAt)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]uuid.UUID, len(created))
	allIDs := make([]uuid.UUID, 0, len(created))
	for _, asset := range created {
		ids[asset.OriginalFilename] = asset.ID
		allIDs = append(allIDs, asset.ID)
	}

	item := &Item{
		UniqueIdentifier:    strings.TrimSpace(req.UniqueIdentifier),
		HumanReadableName:   req.HumanReadableName,
		DescriptiveMetadata: req.DescriptiveMetadata,
		StructuralMetadata:  structuralMetadata(StructuralMetadata{}, req.StructuralMetadata),
		AssetIDs:            allIDs,
		CreatedBy:           req.creator(),
		UpdatedBy:           req.ImportedBy,
		CreatedAt:           createdAt,
	}
	if req.OCRStrategy != nil {
		item.OCRStrategy = *req.OCRStrategy
	}
	item.StructuralMetadata.ArrangedAssetIDs = arrangedIDs(set.Arranged, ids)
	if req.ThumbnailFilename != "" {
		item.ThumbnailAssetID = ids[req.ThumbnailFilename]
	}
	if req.Action == ActionMigrate {
		if req.UpdatedBy != "" {
			item.UpdatedBy = req.UpdatedBy
		}
		if req.UpdatedAt != nil {
			item.UpdatedAt = req.UpdatedAt.UTC()
		}
	}

	if err := im.items.create(ctx, item); err != nil {
		im.assets.deleteAll(ctx, created)
		return nil, err
	}

	if req.Publish {
		if err := im.items.publish(ctx, item, im.publication(req)); err != nil {
			return item, err
		}
	}
	return item, nil
}

// checkNewIdentifier returns validation messages when id cannot be used for
// a new item.
func (im *Importer) checkNewIdentifier(ctx context.Context, id string) ([]string, error) {
	var errs []string

	existing, err := im.repo.GetItemByUniqueIdentifier(ctx, id)
	switch {
	case err == nil && existing != nil:
		errs = append(errs, fmt.Sprintf("unique_identifier %s is already assigned to an item", id))
	case err != nil && !errors.Is(err, ErrItemNotFound):
		return nil, err
	}

	if !im.identifierMinted(ctx, id) {
		errs = append(errs, fmt.Sprintf("unique_identifier %s has not been minted", id))
	}
	return errs, nil
}

// identifierMinted asks the identifier service whether id exists. Errors
// other than a definitive not-found are retried; when attempts run out the
// identifier is considered not minted.
func (im *Importer) identifierMinted(ctx context.Context, id string) bool {
	for attempt := 1; attempt <= im.identifierAttempts; attempt++ {
		exists, err := im.identifiers.Exists(ctx, id)
		if err == nil {
			return exists
		}
		if errors.Is(err, ErrIdentifierNotFound) {
			return false
		}
		im.logger.Warn("identifier lookup failed", "identifier", id, "attempt", attempt, "err", err)
		if attempt == im.identifierAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(im.identifierRetryDelay):
		}
	}
	return false
}

func (im *Importer) update(ctx context.Context, req *ImportRequest) (*Item, error) {
	var errs []string
	var verr *ValidationError

	if err := req.Validate(); errors.As(err, &verr) {
		errs = append(errs, verr.Errors...)
	}

	var item *Item
	if id := strings.TrimSpace(req.UniqueIdentifier); id != "" {
		found, err := im.repo.GetItemByUniqueIdentifier(ctx, id)
		switch {
		case errors.Is(err, ErrItemNotFound):
			errs = append(errs, fmt.Sprintf("item %s does not exist", id))
		case err != nil:
			return nil, err
		default:
			item = found
		}
	}

	var set *AssetSet
	if req.Assets != nil {
		resolved, err := im.resolver.Resolve(ctx, req.Assets, ResolveStandard)
		switch {
		case errors.As(err, &verr):
			errs = append(errs, verr.Errors...)
		case err != nil:
			return nil, err
		default:
			set = resolved
		}
	}

	if item == nil {
		return nil, NewValidationError(errs)
	}

	current, err := im.repo.GetAssets(ctx, item.AssetIDs)
	if err != nil {
		return nil, &ItemError{ItemID: item.ID, Op: "load_assets", Err: err}
	}
	existing := make(map[string]*Asset, len(current))
	for _, asset := range current {
		existing[asset.OriginalFilename] = asset
	}

	var (
		newDescriptors []AssetDescriptor
		updates        []assetUpdate
	)
	if set != nil {
		var missing []string
		for _, asset := range current {
			if _, ok := set.Descriptor(asset.OriginalFilename); !ok {
				missing = append(missing, asset.OriginalFilename)
			}
		}
		if len(missing) > 0 {
			errs = append(errs, fmt.Sprintf("assets missing from update: %s", strings.Join(missing, ", ")))
		}

		for _, d := range set.All() {
			if asset, ok := existing[d.Filename]; ok {
				updates = append(updates, assetUpdate{descriptor: d, asset: asset})
				continue
			}
			if d.FileLocation == nil {
				errs = append(errs, fmt.Sprintf("new asset %s is not in storage", d.Filename))
			}
			newDescriptors = append(newDescriptors, d)
		}
	}

	if name := req.ThumbnailFilename; name != "" {
		_, inSet := descriptorIn(set, name)
		if _, inItem := existing[name]; !inSet && !inItem {
			errs = append(errs, fmt.Sprintf("thumbnail %s is not among the item's assets", name))
		}
	}

	if err := NewValidationError(errs); err != nil {
		return nil, err
	}

	created, err := im.assets.createBatch(ctx, newDescriptors, req.ImportedBy, time.Time{})
	if err != nil {
		return nil, err
	}

	if _, err := im.assets.updateAll(ctx, updates, req.ImportedBy); err != nil {
		im.assets.deleteAll(ctx, created)
		return nil, err
	}

	ids := make(map[string]uuid.UUID, len(current)+len(created))
	for name, asset := range existing {
		ids[name] = asset.ID
	}
	for _, asset := range created {
		ids[asset.OriginalFilename] = asset.ID
		item.AssetIDs = append(item.AssetIDs, asset.ID)
	}

	regenerate := derivativesAffected(item, req)

	if req.HumanReadableName != "" {
		item.HumanReadableName = req.HumanReadableName
	}
	if req.DescriptiveMetadata != nil {
		item.DescriptiveMetadata = maps.Clone(req.DescriptiveMetadata)
	}
	if req.OCRStrategy != nil {
		item.OCRStrategy = *req.OCRStrategy
	}
	item.StructuralMetadata = structuralMetadata(item.StructuralMetadata, req.StructuralMetadata)
	if set != nil {
		item.StructuralMetadata.ArrangedAssetIDs = arrangedIDs(set.Arranged, ids)
	}
	if req.ThumbnailFilename != "" {
		item.ThumbnailAssetID = ids[req.ThumbnailFilename]
	}
	item.UpdatedBy = req.ImportedBy

	if err := im.items.update(ctx, item); err != nil {
		// Existing assets already updated stay updated.
		im.assets.deleteAll(ctx, created)
		return nil, err
	}

	if regenerate {
		if err := im.items.regenerateDerivatives(ctx, item, req.ImportedBy); err != nil {
			return item, err
		}
	}

	if req.Publish {
		if err := im.items.publish(ctx, item, im.publication(req)); err != nil {
			return item, err
		}
	}
	return item, nil
}

// derivativesAffected reports whether req changes a value derivatives are
// built from: the OCR strategy, the viewing direction or the language.
func derivativesAffected(item *Item, req *ImportRequest) bool {
	if req.OCRStrategy != nil && *req.OCRStrategy != item.OCRStrategy {
		return true
	}
	if s := req.StructuralMetadata; s != nil && s.ViewingDirection != nil && *s.ViewingDirection != item.StructuralMetadata.ViewingDirection {
		return true
	}
	if req.DescriptiveMetadata != nil {
		return fmt.Sprint(req.DescriptiveMetadata["language"]) != fmt.Sprint(item.DescriptiveMetadata["language"])
	}
	return false
}

func (im *Importer) publication(req *ImportRequest) publication {
	now := im.clock().UTC()
	p := publication{By: req.ImportedBy, First: now, Last: now}
	if req.Action == ActionMigrate {
		if req.PublishedBy != "" {
			p.By = req.PublishedBy
		}
		if req.FirstPublishedAt != nil {
			p.First = req.FirstPublishedAt.UTC()
		}
		if req.LastPublishedAt != nil {
			p.Last = req.LastPublishedAt.UTC()
		}
	}
	return p
}

func structuralMetadata(current StructuralMetadata, in *StructuralInput) StructuralMetadata {
	if in == nil {
		return current
	}
	if in.ViewingDirection != nil {
		current.ViewingDirection = *in.ViewingDirection
	}
	if in.ViewingHint != nil {
		current.ViewingHint = *in.ViewingHint
	}
	return current
}

// arrangedIDs maps arranged descriptors to asset ids in arranged order.
func arrangedIDs(arranged []AssetDescriptor, ids map[string]uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(arranged))
	for _, d := range arranged {
		if id, ok := ids[d.Filename]; ok {
			out = append(out, id)
		}
	}
	return out
}

func descriptorIn(set *AssetSet, filename string) (AssetDescriptor, bool) {
	if set == nil {
		return AssetDescriptor{}, false
	}
	return set.Descriptor(filename)
}

// GetItem returns the item with the given id.
func (im *Importer) GetItem(ctx context.Context, id uuid.UUID) (*Item, error) {
	return im.repo.GetItem(ctx, id)
}

// GetItemAssets returns the item's assets in attachment order.
func (im *Importer) GetItemAssets(ctx context.Context, item *Item) ([]*Asset, error) {
	return im.repo.GetAssets(ctx, slices.Clone(item.AssetIDs))
}

// Publish publishes an existing item.
func (im *Importer) Publish(ctx context.Context, id uuid.UUID, actor string) (*Item, error) {
	item, err := im.repo.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	now := im.clock().UTC()
	if err := im.items.publish(ctx, item, publication{By: actor, First: now, Last: now}); err != nil {
		return item, err
	}
	return item, nil
}

// Unpublish withdraws an existing item.
func (im *Importer) Unpublish(ctx context.Context, id uuid.UUID, actor string) (*Item, error) {
	item, err := im.repo.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := im.items.unpublish(ctx, item, actor); err != nil {
		return item, err
	}
	return item, nil
}

// RegenerateDerivatives rebuilds the derivatives of every asset of an item.
func (im *Importer) RegenerateDerivatives(ctx context.Context, id uuid.UUID, actor string) (*Item, error) {
	item, err := im.repo.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return item, im.items.regenerateDerivatives(ctx, item, actor)
}
