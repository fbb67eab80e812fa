package preservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-preservation/pkg/preservation/objectkey"
)

// AssetChange carries one asset through a Pipeline. Every event recorded
// while it runs shares Timestamp.
type AssetChange struct {
	Asset     *Asset
	Changes   AssetChanges
	Actor     string
	Timestamp time.Time

	// DerivativeTypes are regenerated by the derivative step. Storing a new
	// preservation file requests every default type.
	DerivativeTypes []DerivativeType

	fileChanged bool
	events      []PreservationEvent
	cleanups    []func(context.Context) error
	committed   []func(context.Context) error
}

func (c *AssetChange) recordEvent(t EventType, outcome, note string) {
	c.events = append(c.events, PreservationEvent{
		ID:        uuid.New(),
		Type:      t,
		Outcome:   outcome,
		Note:      note,
		Agent:     c.Actor,
		Timestamp: c.Timestamp,
	})
}

// onFailure registers a compensation run when a later step fails.
func (c *AssetChange) onFailure(fn func(context.Context) error) {
	c.cleanups = append(c.cleanups, fn)
}

// onCommit registers work run once the asset has been saved.
func (c *AssetChange) onCommit(fn func(context.Context) error) {
	c.committed = append(c.committed, fn)
}

// Step is one stage of an asset transaction.
type Step func(ctx context.Context, c *AssetChange) error

// Pipeline is an ordered list of steps. Steps run in order until one fails,
// after which the compensations registered so far run in reverse.
type Pipeline struct {
	Name  string
	Steps []Step
}

func (p Pipeline) run(ctx context.Context, c *AssetChange, logger *slog.Logger) error {
	for _, step := range p.Steps {
		if err := p.runStep(ctx, step, c, logger); err != nil {
			for i := len(c.cleanups) - 1; i >= 0; i-- {
				if cerr := c.cleanups[i](ctx); cerr != nil {
					logger.Warn("cleanup after failed step", "pipeline", p.Name, "asset_id", c.Asset.ID, "err", cerr)
				}
			}
			c.cleanups = nil
			return err
		}
	}
	for _, fn := range c.committed {
		if err := fn(ctx); err != nil {
			logger.Warn("post-save cleanup", "pipeline", p.Name, "asset_id", c.Asset.ID, "err", err)
		}
	}
	return nil
}

// runStep converts a panic in step into ErrStepPanicked so the registered
// compensations still run.
func (p Pipeline) runStep(ctx context.Context, step Step, c *AssetChange, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("step panicked", "pipeline", p.Name, "asset_id", c.Asset.ID, "panic", panicMessage(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %s", ErrStepPanicked, panicMessage(r))
		}
	}()
	return step(ctx, c)
}

// assetSteps holds the collaborators shared by every step.
type assetSteps struct {
	repo                AssetRepository
	stores              Stores
	preservationStorage string
	backupStorage       string
	keys                objectkey.Generator
	characterizer       Characterizer
	derivatives         DerivativeGenerator
	extensions          []string
	mimeTypes           []string
	logger              *slog.Logger
}

// updateAsset writes changed metadata and, when present, a new preservation
// file.
func (s *assetSteps) updateAsset() Pipeline {
	return Pipeline{
		Name: "update_asset",
		Steps: []Step{
			s.validateRequired,
			s.storeFile,
			s.markStaleDerivatives,
			s.applyMetadata,
			s.generateDerivatives,
			s.backupFile,
			s.addPreservationEvents,
			s.save,
		},
	}
}

// regenerateDerivatives rebuilds derivatives of an unchanged file.
func (s *assetSteps) regenerateDerivatives() Pipeline {
	return Pipeline{
		Name: "generate_derivatives",
		Steps: []Step{
			s.validateRequired,
			s.requirePreservationFile,
			s.generateDerivatives,
			s.addPreservationEvents,
			s.save,
		},
	}
}

func (s *assetSteps) validateRequired(ctx context.Context, c *AssetChange) error {
	var errs []string
	if c.Asset == nil {
		return NewValidationError([]string{"asset is required"})
	}
	if c.Asset.ID == uuid.Nil {
		errs = append(errs, "asset id is required")
	}
	if strings.TrimSpace(c.Asset.OriginalFilename) == "" {
		errs = append(errs, "original_filename is required")
	}
	if strings.TrimSpace(c.Actor) == "" {
		errs = append(errs, "updated_by is required")
	}
	return NewValidationError(errs)
}

func (s *assetSteps) requirePreservationFile(ctx context.Context, c *AssetChange) error {
	if c.Asset.PreservationFile == nil {
		return fmt.Errorf("%w: asset has no preservation file", ErrFileNotFound)
	}
	return nil
}

func (s *assetSteps) storeFile(ctx context.Context, c *AssetChange) error {
	src := c.Changes.File
	if src == nil {
		return nil
	}

	filename := c.Asset.OriginalFilename
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if len(s.extensions) > 0 && !slices.Contains(s.extensions, ext) {
		return fmt.Errorf("%w: extension %q of %s", ErrUnsupportedFileType, ext, filename)
	}

	source, err := s.stores.Get(src.Storage)
	if err != nil {
		return err
	}
	target, err := s.stores.Get(s.preservationStorage)
	if err != nil {
		return err
	}

	reader, err := source.Download(ctx, src.Key)
	if err != nil {
		return &StorageError{Backend: src.Storage, Key: src.Key, Op: "download", Err: err}
	}
	key := s.keys.GenerateKey(c.Asset.ID, uuid.New(), &objectkey.KeyMetadata{FileName: filename})
	err = target.UploadWithParams(ctx, reader, UploadParams{ObjectKey: key})
	reader.Close()
	if err != nil {
		return &StorageError{Backend: s.preservationStorage, Key: key, Op: "upload", Err: err}
	}
	c.onFailure(func(ctx context.Context) error {
		return target.Delete(ctx, key)
	})

	stored, err := target.Download(ctx, key)
	if err != nil {
		return &StorageError{Backend: s.preservationStorage, Key: key, Op: "download", Err: err}
	}
	tm, err := s.characterizer.Examine(ctx, stored, filename)
	stored.Close()
	if err != nil {
		return err
	}

	if len(s.mimeTypes) > 0 && !slices.Contains(s.mimeTypes, tm.MimeType) {
		return fmt.Errorf("%w: mime type %q of %s", ErrUnsupportedFileType, tm.MimeType, filename)
	}

	fixity := false
	if expected := c.Changes.ExpectedChecksum; expected != "" {
		if !strings.EqualFold(expected, tm.SHA256) {
			return fmt.Errorf("%w: %s expected %s, got %s", ErrChecksumMismatch, filename, expected, tm.SHA256)
		}
		fixity = true
	}

	if previous := c.Asset.PreservationFile; previous != nil {
		old := *previous
		c.onCommit(func(ctx context.Context) error {
			store, err := s.stores.Get(old.Storage)
			if err != nil {
				return err
			}
			return store.Delete(ctx, old.Key)
		})
		c.recordEvent(EventIngestion, OutcomeSuccess, fmt.Sprintf("Replaced preservation file with %s", filename))
	} else {
		c.recordEvent(EventIngestion, OutcomeSuccess, fmt.Sprintf("Ingested %s", filename))
	}
	c.recordEvent(EventMessageDigest, OutcomeSuccess, fmt.Sprintf("sha256 %s, md5 %s", tm.SHA256, tm.MD5))
	if fixity {
		c.recordEvent(EventFixityCheck, OutcomeSuccess, "Checksum matches the value supplied by the source system")
	}

	c.Asset.PreservationFile = &FileRef{Storage: s.preservationStorage, Key: key}
	c.Asset.TechnicalMetadata = *tm
	c.fileChanged = true
	return nil
}

func (s *assetSteps) markStaleDerivatives(ctx context.Context, c *AssetChange) error {
	if !c.fileChanged {
		return nil
	}
	for i := range c.Asset.Derivatives {
		c.Asset.Derivatives[i].Stale = true
	}
	c.DerivativeTypes = slices.Clone(DefaultDerivativeTypes)
	return nil
}

func (s *assetSteps) applyMetadata(ctx context.Context, c *AssetChange) error {
	fields := c.Changes.MetadataFields()
	if len(fields) == 0 {
		return nil
	}
	if c.Changes.Label != nil {
		c.Asset.Label = *c.Changes.Label
	}
	if c.Changes.SetAnnotations {
		c.Asset.Annotations = slices.Clone(c.Changes.Annotations)
	}
	if c.Changes.SetTranscriptions {
		c.Asset.Transcriptions = slices.Clone(c.Changes.Transcriptions)
	}
	c.recordEvent(EventMetadataModification, OutcomeSuccess, fmt.Sprintf("Updated %s", strings.Join(fields, ", ")))
	return nil
}

func (s *assetSteps) generateDerivatives(ctx context.Context, c *AssetChange) error {
	if len(c.DerivativeTypes) == 0 || s.derivatives == nil {
		return nil
	}

	generated, err := s.derivatives.Generate(ctx, c.Asset, c.DerivativeTypes)
	if err != nil {
		if !errors.Is(err, ErrDerivativeGeneration) {
			err = fmt.Errorf("%w: %w", ErrDerivativeGeneration, err)
		}
		return err
	}
	if len(generated) == 0 {
		return nil
	}

	for _, d := range generated {
		ref := d.File
		c.onFailure(func(ctx context.Context) error {
			return s.deleteFile(ctx, ref)
		})
	}

	kept := c.Asset.Derivatives[:0:0]
	for _, existing := range c.Asset.Derivatives {
		if slices.ContainsFunc(generated, func(d Derivative) bool { return d.Type == existing.Type }) {
			old := existing.File
			c.onCommit(func(ctx context.Context) error {
				return s.deleteFile(ctx, old)
			})
			continue
		}
		kept = append(kept, existing)
	}
	c.Asset.Derivatives = append(kept, generated...)

	types := make([]string, 0, len(generated))
	for _, d := range generated {
		types = append(types, string(d.Type))
	}
	c.recordEvent(EventDerivativeGeneration, OutcomeSuccess, fmt.Sprintf("Generated %s", strings.Join(types, ", ")))
	return nil
}

func (s *assetSteps) backupFile(ctx context.Context, c *AssetChange) error {
	if s.backupStorage == "" || !c.fileChanged {
		return nil
	}

	source, err := s.stores.Get(c.Asset.PreservationFile.Storage)
	if err != nil {
		return err
	}
	backup, err := s.stores.Get(s.backupStorage)
	if err != nil {
		return err
	}

	key := c.Asset.PreservationFile.Key
	reader, err := source.Download(ctx, key)
	if err != nil {
		return &StorageError{Backend: c.Asset.PreservationFile.Storage, Key: key, Op: "download", Err: err}
	}
	defer reader.Close()

	if err := backup.Upload(ctx, key, reader); err != nil {
		return &StorageError{Backend: s.backupStorage, Key: key, Op: "upload", Err: err}
	}
	c.onFailure(func(ctx context.Context) error {
		return backup.Delete(ctx, key)
	})

	if previous := c.Asset.PreservationBackup; previous != nil && previous.Key != key {
		old := *previous
		c.onCommit(func(ctx context.Context) error {
			return s.deleteFile(ctx, old)
		})
	}
	c.Asset.PreservationBackup = &FileRef{Storage: s.backupStorage, Key: key}
	return nil
}

func (s *assetSteps) addPreservationEvents(ctx context.Context, c *AssetChange) error {
	c.Asset.PreservationEvents = append(c.Asset.PreservationEvents, c.events...)
	c.events = nil
	return nil
}

func (s *assetSteps) save(ctx context.Context, c *AssetChange) error {
	c.Asset.UpdatedBy = c.Actor
	c.Asset.UpdatedAt = c.Timestamp
	if err := s.repo.UpdateAsset(ctx, c.Asset); err != nil {
		return err
	}
	return nil
}

func (s *assetSteps) deleteFile(ctx context.Context, ref FileRef) error {
	store, err := s.stores.Get(ref.Storage)
	if err != nil {
		return err
	}
	return store.Delete(ctx, ref.Key)
}

