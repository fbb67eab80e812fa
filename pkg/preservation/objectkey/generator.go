package objectkey

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator builds storage keys for preservation files and derivatives.
type Generator interface {
	// GenerateKey creates the key of one stored file belonging to an asset.
	GenerateKey(assetID, fileID uuid.UUID, metadata *KeyMetadata) string
}

// KeyMetadata contains information that influences key generation
type KeyMetadata struct {
	// FileName is the original filename; only its extension is kept.
	FileName string

	// DerivativeType is empty for preservation files.
	DerivativeType string
}

func (m *KeyMetadata) derivative() string {
	if m == nil {
		return ""
	}
	return sanitizePathComponent(m.DerivativeType)
}

func (m *KeyMetadata) extension() string {
	if m == nil {
		return ""
	}
	i := strings.LastIndex(m.FileName, ".")
	if i < 0 || i == len(m.FileName)-1 {
		return ""
	}
	return strings.ToLower(sanitizeFilename(m.FileName[i:]))
}

// FlatGenerator groups every file of an asset under one prefix:
//
//	A/{asset}/{file}.tif
//	A/{asset}/thumbnail/{file}.jpg
type FlatGenerator struct{}

func NewFlatGenerator() *FlatGenerator {
	return &FlatGenerator{}
}

func (g *FlatGenerator) GenerateKey(assetID, fileID uuid.UUID, metadata *KeyMetadata) string {
	name := fileID.String() + metadata.extension()
	if d := metadata.derivative(); d != "" {
		return fmt.Sprintf("A/%s/%s/%s", assetID, d, name)
	}
	return fmt.Sprintf("A/%s/%s", assetID, name)
}

// ShardedGenerator spreads files across Git-style shard directories keyed on
// the file id:
//
//	preservation/ab/cd1234ef5678.tif
//	derivatives/thumbnail/ab/cd1234ef5678.jpg
type ShardedGenerator struct {
	// ShardLength controls how many characters to use for sharding (default: 2)
	ShardLength int
}

func NewShardedGenerator() *ShardedGenerator {
	return &ShardedGenerator{ShardLength: 2}
}

func (g *ShardedGenerator) GenerateKey(assetID, fileID uuid.UUID, metadata *KeyMetadata) string {
	id := strings.ReplaceAll(fileID.String(), "-", "")

	shard := g.ShardLength
	if shard <= 0 || shard > len(id) {
		shard = 2
	}

	prefix := "preservation"
	if d := metadata.derivative(); d != "" {
		prefix = "derivatives/" + d
	}
	return fmt.Sprintf("%s/%s/%s%s", prefix, id[:shard], id[shard:], metadata.extension())
}

func sanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	return replacer.Replace(filename)
}

func sanitizePathComponent(component string) string {
	return strings.ToLower(sanitizeFilename(component))
}

// NewRecommendedGenerator returns the generator used when none is configured
func NewRecommendedGenerator() Generator {
	return NewFlatGenerator()
}

// ForName returns the generator registered under name ("flat" or "sharded").
func ForName(name string) (Generator, error) {
	switch strings.ToLower(name) {
	case "", "flat":
		return NewFlatGenerator(), nil
	case "sharded", "git-like":
		return NewShardedGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown object key strategy %q", name)
	}
}
