package preservation

import (
	"time"

	"github.com/google/uuid"
)

// Action is the kind of import instruction.
type Action string

// Import actions.
const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionMigrate Action = "migrate"
)

// DerivativeType identifies one kind of generated artifact.
type DerivativeType string

// Derivative types.
const (
	DerivativeThumbnail DerivativeType = "thumbnail"
	DerivativeAccess    DerivativeType = "access"
)

// DefaultDerivativeTypes are generated whenever a preservation file changes.
var DefaultDerivativeTypes = []DerivativeType{DerivativeThumbnail, DerivativeAccess}

// EventType is the kind of a preservation event.
type EventType string

// Preservation event types.
const (
	EventIngestion            EventType = "ingestion"
	EventMessageDigest        EventType = "message_digest_calculation"
	EventFixityCheck          EventType = "fixity_check"
	EventMetadataModification EventType = "metadata_modification"
	EventDerivativeGeneration EventType = "derivative_generation"
)

// Event outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// FileRef points at a stored file in a named storage backend.
type FileRef struct {
	Storage string `json:"storage"`
	Key     string `json:"key"`
}

// Annotation is a free-text note attached to an Asset.
type Annotation struct {
	Text string `json:"text"`
}

// Transcription is a text rendering of an Asset's content.
type Transcription struct {
	MimeType string `json:"mime_type"`
	Contents string `json:"contents"`
}

// TechnicalMetadata is produced by characterization of a preservation file.
type TechnicalMetadata struct {
	MimeType string  `json:"mime_type,omitempty"`
	Size     int64   `json:"size,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	SHA256   string  `json:"sha256,omitempty"`
	MD5      string  `json:"md5,omitempty"`
}

// Derivative is a generated artifact of an Asset's preservation file.
type Derivative struct {
	Type        DerivativeType `json:"type"`
	File        FileRef        `json:"file"`
	MimeType    string         `json:"mime_type,omitempty"`
	Size        int64          `json:"size,omitempty"`
	Stale       bool           `json:"stale"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// PreservationEvent is an immutable audit entry describing one change to an
// Asset.
type PreservationEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      EventType `json:"type"`
	Outcome   string    `json:"outcome"`
	Note      string    `json:"note,omitempty"`
	Agent     string    `json:"agent"`
	Timestamp time.Time `json:"timestamp"`
}

// Asset is one digitized file plus its technical metadata and derivatives.
//
// LockVersion is the optimistic concurrency token. Repositories reject an
// update whose LockVersion does not match the stored one and increment it on
// success.
type Asset struct {
	ID                 uuid.UUID           `json:"id"`
	OriginalFilename   string              `json:"original_filename"`
	Label              string              `json:"label,omitempty"`
	Annotations        []Annotation        `json:"annotations,omitempty"`
	Transcriptions     []Transcription     `json:"transcriptions,omitempty"`
	TechnicalMetadata  TechnicalMetadata   `json:"technical_metadata"`
	PreservationFile   *FileRef            `json:"preservation_file,omitempty"`
	PreservationBackup *FileRef            `json:"preservation_backup,omitempty"`
	Derivatives        []Derivative        `json:"derivatives,omitempty"`
	PreservationEvents []PreservationEvent `json:"preservation_events,omitempty"`
	CreatedBy          string              `json:"created_by,omitempty"`
	UpdatedBy          string              `json:"updated_by,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	LockVersion        int                 `json:"lock_version"`
}

// Derivative returns the derivative of the given type, if any.
func (a *Asset) Derivative(t DerivativeType) (*Derivative, bool) {
	for i := range a.Derivatives {
		if a.Derivatives[i].Type == t {
			return &a.Derivatives[i], true
		}
	}
	return nil, false
}

// AnnotationTexts returns the annotation texts in order.
func (a *Asset) AnnotationTexts() []string {
	texts := make([]string, 0, len(a.Annotations))
	for _, an := range a.Annotations {
		texts = append(texts, an.Text)
	}
	return texts
}

// TranscriptionContents returns the transcription contents in order.
func (a *Asset) TranscriptionContents() []string {
	contents := make([]string, 0, len(a.Transcriptions))
	for _, t := range a.Transcriptions {
		contents = append(contents, t.Contents)
	}
	return contents
}

// StructuralMetadata describes how an Item's assets are presented.
type StructuralMetadata struct {
	ViewingDirection string      `json:"viewing_direction,omitempty"`
	ViewingHint      string      `json:"viewing_hint,omitempty"`
	ArrangedAssetIDs []uuid.UUID `json:"arranged_asset_ids"`
}

// Item is a digitized intellectual work composed of Assets.
type Item struct {
	ID                  uuid.UUID              `json:"id"`
	UniqueIdentifier    string                 `json:"unique_identifier"`
	HumanReadableName   string                 `json:"human_readable_name"`
	DescriptiveMetadata map[string]interface{} `json:"descriptive_metadata"`
	StructuralMetadata  StructuralMetadata     `json:"structural_metadata"`
	OCRStrategy         string                 `json:"ocr_strategy,omitempty"`
	AssetIDs            []uuid.UUID            `json:"asset_ids"`
	ThumbnailAssetID    uuid.UUID              `json:"thumbnail_asset_id"`
	Published           bool                   `json:"published"`
	FirstPublishedAt    *time.Time             `json:"first_published_at,omitempty"`
	LastPublishedAt     *time.Time             `json:"last_published_at,omitempty"`
	PublishedBy         string                 `json:"published_by,omitempty"`
	CreatedBy           string                 `json:"created_by,omitempty"`
	UpdatedBy           string                 `json:"updated_by,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
	LockVersion         int                    `json:"lock_version"`
}
