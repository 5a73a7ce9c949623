package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-index/pkg/simpleindex"
)

func TestS3Backend_Configuration(t *testing.T) {
	t.Run("EmptyBucket", func(t *testing.T) {
		_, err := New(Config{Region: "us-east-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket name is required")
	})

	t.Run("Defaults", func(t *testing.T) {
		backend, err := New(Config{
			Bucket:          "test-bucket",
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
		})
		require.NoError(t, err)
		assert.Equal(t, "us-east-1", backend.config.Region)
		assert.Equal(t, time.Hour, backend.presignDuration)
	})

	t.Run("Prefix", func(t *testing.T) {
		backend, err := New(Config{
			Bucket:          "test-bucket",
			Prefix:          "index/",
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
		})
		require.NoError(t, err)
		assert.Equal(t, "index/packages/foo", backend.key("packages/foo"))
	})
}

func TestBucketErrorClassification(t *testing.T) {
	wrap := func(err error) error { return fmt.Errorf("operation HeadBucket: %w", err) }

	tests := []struct {
		name    string
		err     error
		missing bool
		taken   bool
	}{
		{"typed not found", wrap(&types.NotFound{}), true, false},
		{"typed no such bucket", wrap(&types.NoSuchBucket{}), true, false},
		{"generic not found", wrap(&smithy.GenericAPIError{Code: "NotFound"}), true, false},
		{"minio bad request", wrap(&smithy.GenericAPIError{Code: "BadRequest"}), true, false},
		{"access denied", wrap(&smithy.GenericAPIError{Code: "AccessDenied"}), false, false},
		{"typed already owned", wrap(&types.BucketAlreadyOwnedByYou{}), false, true},
		{"generic already exists", wrap(&smithy.GenericAPIError{Code: "BucketAlreadyExists"}), false, true},
		{"message mentioning a code", fmt.Errorf("NoSuchBucket BucketAlreadyExists"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.missing, isMissingBucket(tt.err))
			assert.Equal(t, tt.taken, isBucketTaken(tt.err))
		})
	}
}

func TestS3Backend_PresignedDownloadURL(t *testing.T) {
	backend, err := New(Config{
		Bucket:          "test-bucket",
		Region:          "us-west-2",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Endpoint:        "http://localhost:9000",
		UsePathStyle:    true,
		PresignDuration: 60,
	})
	require.NoError(t, err)

	u, err := backend.GetDownloadURL(context.Background(), "packages/foo/1.0/x/foo-1.0.tar.gz", "foo-1.0.tar.gz")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "http://localhost:9000/test-bucket/packages/foo/1.0/x/foo-1.0.tar.gz?"), u)
	assert.Contains(t, u, "X-Amz-Expires=60")
	assert.Contains(t, u, "response-content-disposition=")
}

// TestS3Backend_MinIO runs against a live S3-compatible endpoint when
// S3_TEST_ENDPOINT is set (e.g. http://localhost:9000 for MinIO).
func TestS3Backend_MinIO(t *testing.T) {
	endpoint := os.Getenv("S3_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("S3_TEST_ENDPOINT not set")
	}

	backend, err := New(Config{
		Bucket:                 "simple-index-test",
		AccessKeyID:            envOr("S3_TEST_ACCESS_KEY", "minioadmin"),
		SecretAccessKey:        envOr("S3_TEST_SECRET_KEY", "minioadmin"),
		Endpoint:               endpoint,
		UsePathStyle:           true,
		CreateBucketIfNotExist: true,
	})
	require.NoError(t, err)

	ctx := context.Background()
	key := "test/" + uuid.NewString() + "/foo-1.0.tar.gz"
	data := []byte("artifact bytes")

	require.NoError(t, backend.UploadWithParams(ctx, bytes.NewReader(data), simpleindex.UploadParams{
		ObjectKey: key,
		MimeType:  "application/octet-stream",
	}))

	rc, err := backend.Download(ctx, key)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, backend.Delete(ctx, key))
	_, err = backend.Download(ctx, key)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
