package objectkey

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	assetID = uuid.MustParse("123e4567-e89b-12d3-a456-426614174000")
	fileID  = uuid.MustParse("987fcdeb-51a2-43d1-9f12-345678901234")
)

func TestFlatGenerator(t *testing.T) {
	gen := NewFlatGenerator()

	tests := []struct {
		name     string
		metadata *KeyMetadata
		expected string
	}{
		{
			name:     "without metadata",
			metadata: nil,
			expected: "A/123e4567-e89b-12d3-a456-426614174000/987fcdeb-51a2-43d1-9f12-345678901234",
		},
		{
			name:     "preservation file keeps extension",
			metadata: &KeyMetadata{FileName: "Front Cover.TIF"},
			expected: "A/123e4567-e89b-12d3-a456-426614174000/987fcdeb-51a2-43d1-9f12-345678901234.tif",
		},
		{
			name:     "derivative",
			metadata: &KeyMetadata{FileName: "thumb.jpg", DerivativeType: "thumbnail"},
			expected: "A/123e4567-e89b-12d3-a456-426614174000/thumbnail/987fcdeb-51a2-43d1-9f12-345678901234.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, gen.GenerateKey(assetID, fileID, tt.metadata))
		})
	}
}

func TestShardedGenerator(t *testing.T) {
	gen := NewShardedGenerator()

	t.Run("preservation file", func(t *testing.T) {
		key := gen.GenerateKey(assetID, fileID, &KeyMetadata{FileName: "page.tif"})
		assert.Equal(t, "preservation/98/7fcdeb51a243d19f12345678901234.tif", key)
	})

	t.Run("derivative", func(t *testing.T) {
		key := gen.GenerateKey(assetID, fileID, &KeyMetadata{FileName: "x.jpg", DerivativeType: "Access"})
		assert.True(t, strings.HasPrefix(key, "derivatives/access/98/"), key)
		assert.True(t, strings.HasSuffix(key, ".jpg"), key)
	})

	t.Run("invalid shard length falls back", func(t *testing.T) {
		g := &ShardedGenerator{ShardLength: 100}
		key := g.GenerateKey(assetID, fileID, nil)
		assert.Equal(t, "preservation/98/7fcdeb51a243d19f12345678901234", key)
	})
}

func TestForName(t *testing.T) {
	gen, err := ForName("")
	require.NoError(t, err)
	assert.IsType(t, &FlatGenerator{}, gen)

	gen, err = ForName("sharded")
	require.NoError(t, err)
	assert.IsType(t, &ShardedGenerator{}, gen)

	_, err = ForName("nope")
	assert.Error(t, err)
}
