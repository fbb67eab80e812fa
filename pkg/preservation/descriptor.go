package preservation

import (
	"slices"
	"strings"
)

// AssetDescriptor is one asset to be created or updated, as resolved from an
// import request. A descriptor without a FileLocation is metadata-only: it
// can update an existing asset's metadata but cannot supply content.
type AssetDescriptor struct {
	Filename         string          `json:"filename"`
	Label            string          `json:"label,omitempty"`
	Annotations      []string        `json:"annotations,omitempty"`
	Transcriptions   []Transcription `json:"transcriptions,omitempty"`
	ExpectedChecksum string          `json:"expected_checksum,omitempty"`
	FileLocation     *FileRef        `json:"file_location,omitempty"`
}

// MetadataOnly reports whether the descriptor carries no file.
func (d AssetDescriptor) MetadataOnly() bool {
	return d.FileLocation == nil
}

func (d AssetDescriptor) annotations() []Annotation {
	if len(d.Annotations) == 0 {
		return nil
	}
	out := make([]Annotation, 0, len(d.Annotations))
	for _, text := range d.Annotations {
		out = append(out, Annotation{Text: text})
	}
	return out
}

// AssetChanges is the minimal set of attributes to write to an existing asset.
type AssetChanges struct {
	File             *FileRef
	ExpectedChecksum string

	Label *string

	Annotations    []Annotation
	SetAnnotations bool

	Transcriptions    []Transcription
	SetTranscriptions bool
}

// Empty reports whether nothing needs to be written.
func (c AssetChanges) Empty() bool {
	return c.File == nil && c.Label == nil && !c.SetAnnotations && !c.SetTranscriptions
}

// MetadataFields names the metadata attributes that change.
func (c AssetChanges) MetadataFields() []string {
	var fields []string
	if c.Label != nil {
		fields = append(fields, "label")
	}
	if c.SetAnnotations {
		fields = append(fields, "annotations")
	}
	if c.SetTranscriptions {
		fields = append(fields, "transcriptions")
	}
	return fields
}

func (c AssetChanges) String() string {
	fields := c.MetadataFields()
	if c.File != nil {
		fields = append([]string{"file"}, fields...)
	}
	return strings.Join(fields, ", ")
}

// Diff compares the descriptor with an asset's current state.
// fileChecksum is the SHA-256 of the descriptor's file and is only consulted
// when the descriptor has a file.
func (d AssetDescriptor) Diff(asset *Asset, fileChecksum string) AssetChanges {
	var changes AssetChanges

	if d.FileLocation != nil && !strings.EqualFold(asset.TechnicalMetadata.SHA256, fileChecksum) {
		loc := *d.FileLocation
		changes.File = &loc
		changes.ExpectedChecksum = d.ExpectedChecksum
	}
	if asset.Label != d.Label {
		label := d.Label
		changes.Label = &label
	}
	if !slices.Equal(asset.AnnotationTexts(), d.Annotations) {
		changes.Annotations = d.annotations()
		changes.SetAnnotations = true
	}
	if !slices.Equal(asset.TranscriptionContents(), transcriptionContents(d.Transcriptions)) {
		changes.Transcriptions = slices.Clone(d.Transcriptions)
		changes.SetTranscriptions = true
	}

	return changes
}

func transcriptionContents(ts []Transcription) []string {
	contents := make([]string, 0, len(ts))
	for _, t := range ts {
		contents = append(contents, t.Contents)
	}
	return contents
}
