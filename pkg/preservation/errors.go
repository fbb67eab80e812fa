package preservation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrValidation marks structural errors found before any side effect
	ErrValidation = errors.New("validation failed")

	// ErrAssetNotFound indicates an asset was not found
	ErrAssetNotFound = errors.New("asset not found")

	// ErrItemNotFound indicates an item was not found
	ErrItemNotFound = errors.New("item not found")

	// ErrStaleObject indicates the optimistic lock token no longer matches
	ErrStaleObject = errors.New("stale object: modified by another process")

	// ErrDuplicateIdentifier indicates an item already uses the unique identifier
	ErrDuplicateIdentifier = errors.New("unique identifier already in use")

	// ErrStorageBackendNotFound indicates a storage backend was not found
	ErrStorageBackendNotFound = errors.New("storage backend not found")

	// ErrFileNotFound indicates a key does not exist in a storage backend
	ErrFileNotFound = errors.New("file not found")

	// ErrChecksumUnavailable is returned by a ChecksumProvider that has no
	// stored checksum for a key
	ErrChecksumUnavailable = errors.New("checksum unavailable")

	// ErrChecksumMismatch indicates a computed checksum differs from the expected one
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrUnsupportedFileType indicates a file extension or mime type cannot be preserved
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrCharacterization indicates a file could not be characterized
	ErrCharacterization = errors.New("characterization failed")

	// ErrIdentifierNotFound indicates the identifier service definitively
	// does not know an identifier
	ErrIdentifierNotFound = errors.New("identifier not found")

	// ErrPublish indicates publishing or unpublishing failed
	ErrPublish = errors.New("publish failed")

	// ErrDerivativeGeneration indicates derivatives could not be generated
	ErrDerivativeGeneration = errors.New("derivative generation failed")

	// ErrStepPanicked indicates an asset step panicked and was rolled back
	ErrStepPanicked = errors.New("step panicked")
)

// ValidationError collects every structural problem found while checking a
// request. It is always returned before any side effect.
type ValidationError struct {
	Errors []string
}

// NewValidationError returns nil when there is nothing to report.
func NewValidationError(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: errs}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// AssetError represents a failure while creating or updating one asset
type AssetError struct {
	Filename string
	AssetID  uuid.UUID
	Op       string
	Err      error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset operation %s failed for %s: %v", e.Op, e.Filename, e.Err)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// AggregateError collects independent per-asset failures. Assets that were
// updated successfully alongside the failures are left in their new state.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("error(s) updating assets: %s; partial update occurred and must be corrected manually", strings.Join(msgs, "; "))
}

func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// ItemError represents an error related to item operations
type ItemError struct {
	ItemID uuid.UUID
	Op     string
	Err    error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item operation %s failed for item %s: %v", e.Op, e.ItemID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// PublishError reports that an item was saved but could not be published.
// The item and its assets stay in place; publishing has to be retried.
type PublishError struct {
	ItemID           uuid.UUID
	UniqueIdentifier string
	Err              error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("item %s saved but publishing must be retried: %v", e.UniqueIdentifier, e.Err)
}

func (e *PublishError) Unwrap() []error {
	return []error{ErrPublish, e.Err}
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// panicMessage returns the first line of a recovered panic value. Stack
// traces are logged, never reported to callers.
func panicMessage(r any) string {
	msg := fmt.Sprint(r)
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return strings.TrimSpace(msg)
}
