package preservation

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ImportRequest is one create, update or migrate instruction.
//
// Only its effects persist; the request itself is discarded once the
// workflow returns.
type ImportRequest struct {
	Action              Action                 `json:"action"`
	UniqueIdentifier    string                 `json:"unique_identifier,omitempty"`
	HumanReadableName   string                 `json:"human_readable_name,omitempty"`
	DescriptiveMetadata map[string]interface{} `json:"descriptive_metadata,omitempty"`
	StructuralMetadata  *StructuralInput       `json:"structural_metadata,omitempty"`
	OCRStrategy         *string                `json:"ocr_strategy,omitempty"`
	Assets              *AssetSetInput         `json:"assets,omitempty"`
	ThumbnailFilename   string                 `json:"thumbnail,omitempty"`
	Publish             bool                   `json:"publish,omitempty"`
	ImportedBy          string                 `json:"imported_by"`

	// Historical values carried over by migrations.
	CreatedBy        string     `json:"created_by,omitempty"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
	UpdatedBy        string     `json:"updated_by,omitempty"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
	PublishedBy      string     `json:"published_by,omitempty"`
	FirstPublishedAt *time.Time `json:"first_published_at,omitempty"`
	LastPublishedAt  *time.Time `json:"last_published_at,omitempty"`
}

// StructuralInput holds the structural metadata a request may set. The
// arranged asset ids are always computed from the asset set.
type StructuralInput struct {
	ViewingDirection *string `json:"viewing_direction,omitempty"`
	ViewingHint      *string `json:"viewing_hint,omitempty"`
}

var viewingDirections = []string{"left-to-right", "right-to-left", "top-to-bottom", "bottom-to-top"}

// Validate checks the fields required by the request's action. It performs
// no lookups; every problem is reported at once.
func (r *ImportRequest) Validate() error {
	var errs []string

	if strings.TrimSpace(r.ImportedBy) == "" {
		errs = append(errs, "imported_by is required")
	}

	switch r.Action {
	case ActionCreate:
		errs = append(errs, r.validateCreate()...)
	case ActionUpdate:
		if strings.TrimSpace(r.UniqueIdentifier) == "" {
			errs = append(errs, "unique_identifier is required to update an item")
		}
	case ActionMigrate:
		errs = append(errs, r.validateCreate()...)
		errs = append(errs, r.validateMigration()...)
	case "":
		errs = append(errs, "action is required")
	default:
		errs = append(errs, fmt.Sprintf("action %q is not one of create, update or migrate", r.Action))
	}

	if r.StructuralMetadata != nil && r.StructuralMetadata.ViewingDirection != nil {
		dir := *r.StructuralMetadata.ViewingDirection
		if dir != "" && !slices.Contains(viewingDirections, dir) {
			errs = append(errs, fmt.Sprintf("viewing_direction %q is not one of %s", dir, strings.Join(viewingDirections, ", ")))
		}
	}

	return NewValidationError(errs)
}

func (r *ImportRequest) validateCreate() []string {
	var errs []string
	if strings.TrimSpace(r.HumanReadableName) == "" {
		errs = append(errs, "human_readable_name is required")
	}
	if len(r.DescriptiveMetadata) == 0 {
		errs = append(errs, "descriptive_metadata is required")
	}
	if r.Assets == nil {
		errs = append(errs, "assets are required")
	}
	return errs
}

func (r *ImportRequest) validateMigration() []string {
	var errs []string
	if strings.TrimSpace(r.UniqueIdentifier) == "" {
		errs = append(errs, "unique_identifier is required for migrations")
	}
	if r.CreatedAt == nil {
		errs = append(errs, "created_at is required for migrations")
	}
	if strings.TrimSpace(r.CreatedBy) == "" {
		errs = append(errs, "created_by is required for migrations")
	}
	if r.Publish {
		if r.FirstPublishedAt == nil {
			errs = append(errs, "first_published_at is required to migrate a published item")
		}
		if r.LastPublishedAt == nil {
			errs = append(errs, "last_published_at is required to migrate a published item")
		}
	}
	return errs
}

// creator is the actor recorded as the creator of new records.
func (r *ImportRequest) creator() string {
	if r.CreatedBy != "" {
		return r.CreatedBy
	}
	return r.ImportedBy
}

func (r *ImportRequest) resolveMode() ResolveMode {
	if r.Action == ActionMigrate {
		return ResolveMigration
	}
	return ResolveStandard
}
