package memory_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-index/pkg/simpleindex"
	memorystorage "github.com/tendant/simple-index/pkg/simpleindex/storage/memory"
)

func TestMemoryBackend(t *testing.T) {
	backend := memorystorage.New()
	ctx := context.Background()
	testKey := "packages/foo/1.0/abc/foo-1.0.tar.gz"
	testData := "\x1f\x8b\x08 not really gzip"

	t.Run("Upload", func(t *testing.T) {
		err := backend.UploadWithParams(ctx, strings.NewReader(testData), simpleindex.UploadParams{
			ObjectKey: testKey,
		})
		require.NoError(t, err)
		assert.True(t, backend.Has(testKey))
		assert.Equal(t, "application/octet-stream", backend.MimeType(testKey))
	})

	t.Run("Download", func(t *testing.T) {
		reader, err := backend.Download(ctx, testKey)
		require.NoError(t, err)
		defer reader.Close()

		downloaded, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, testData, string(downloaded))
	})

	t.Run("DownloadURLUnsupported", func(t *testing.T) {
		_, err := backend.GetDownloadURL(ctx, testKey, "foo-1.0.tar.gz")
		assert.Error(t, err)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, backend.Delete(ctx, testKey))
		assert.False(t, backend.Has(testKey))

		_, err := backend.Download(ctx, testKey)
		assert.ErrorIs(t, err, memorystorage.ErrObjectNotFound)
		assert.ErrorIs(t, backend.Delete(ctx, testKey), memorystorage.ErrObjectNotFound)
	})
}
