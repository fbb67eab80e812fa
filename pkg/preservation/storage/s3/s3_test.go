package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"os"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-preservation/pkg/preservation"
)

func TestS3Backend_Configuration(t *testing.T) {
	t.Run("EmptyBucket", func(t *testing.T) {
		_, err := New(Config{Region: "us-east-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket name is required")
	})

	t.Run("DefaultRegion", func(t *testing.T) {
		backend, err := New(Config{
			Bucket:          "test-bucket",
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
		})
		require.NoError(t, err)
		assert.Equal(t, "us-east-1", backend.config.Region)
	})
}

func TestChecksumHex(t *testing.T) {
	sum := sha256.Sum256([]byte("page"))

	t.Run("full object checksum", func(t *testing.T) {
		got, err := checksumHex(base64.StdEncoding.EncodeToString(sum[:]))
		require.NoError(t, err)
		assert.Equal(t, hex.EncodeToString(sum[:]), got)
	})

	for name, encoded := range map[string]string{
		"missing":   "",
		"composite": base64.StdEncoding.EncodeToString(sum[:]) + "-3",
		"garbage":   "not base64!",
		"too short": base64.StdEncoding.EncodeToString([]byte("abc")),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := checksumHex(encoded)
			assert.ErrorIs(t, err, preservation.ErrChecksumUnavailable)
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isNotFound(io.EOF))
}

// TestS3Backend_Integration runs against S3_TEST_BUCKET (for example a local
// MinIO with S3_TEST_ENDPOINT).
func TestS3Backend_Integration(t *testing.T) {
	bucket := os.Getenv("S3_TEST_BUCKET")
	if bucket == "" {
		t.Skip("S3_TEST_BUCKET not set")
	}

	backend, err := New(Config{
		Bucket:                 bucket,
		Region:                 os.Getenv("S3_TEST_REGION"),
		Endpoint:               os.Getenv("S3_TEST_ENDPOINT"),
		AccessKeyID:            os.Getenv("S3_TEST_ACCESS_KEY_ID"),
		SecretAccessKey:        os.Getenv("S3_TEST_SECRET_ACCESS_KEY"),
		UsePathStyle:           true,
		CreateBucketIfNotExist: true,
	})
	require.NoError(t, err)

	ctx := context.Background()
	prefix := "test/" + uuid.NewString() + "/"
	key := prefix + "page.tif"
	data := []byte("preserved page")

	require.NoError(t, backend.Upload(ctx, key, bytes.NewReader(data)))
	t.Cleanup(func() { _ = backend.Delete(context.Background(), key) })

	keys, err := backend.List(ctx, prefix)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	sum, err := backend.Checksum(ctx, key)
	if err == nil {
		expected := sha256.Sum256(data)
		assert.Equal(t, hex.EncodeToString(expected[:]), sum)
	} else {
		assert.ErrorIs(t, err, preservation.ErrChecksumUnavailable)
	}

	rc, err := backend.Download(ctx, key)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, data, got)

	_, err = backend.GetObjectMeta(ctx, prefix+"missing.tif")
	assert.ErrorIs(t, err, preservation.ErrFileNotFound)
}
