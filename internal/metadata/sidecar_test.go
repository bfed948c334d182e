package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSidecarEmbedder(t *testing.T) {
	embedder := NewSidecarEmbedder()
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "cat.jpg")
	require.NoError(t, os.WriteFile(imagePath, []byte("image"), 0o644))

	t.Run("missing sidecar reads as nil without error", func(t *testing.T) {
		md, err := embedder.ReadMetadata(imagePath)
		require.NoError(t, err)
		assert.Nil(t, md)
	})

	t.Run("write then read round-trips", func(t *testing.T) {
		md := &MemeMetadata{
			SchemaVersion: CurrentSchemaVersion,
			Emojis:        []string{"😂", "🐱"},
			Title:         "Cat",
			ContentHash:   "abc123",
		}
		require.NoError(t, embedder.WriteMetadata(imagePath, md))

		got, err := embedder.ReadMetadata(imagePath)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, md.Emojis, got.Emojis)
		assert.Equal(t, "abc123", got.ContentHash)

		// The sidecar sits next to the image, named after it.
		_, err = os.Stat(filepath.Join(dir, "cat.jpg.json"))
		assert.NoError(t, err)
	})

	t.Run("rewrite replaces the previous sidecar", func(t *testing.T) {
		require.NoError(t, embedder.WriteMetadata(imagePath, &MemeMetadata{Emojis: []string{"🔥"}}))

		got, err := embedder.ReadMetadata(imagePath)
		require.NoError(t, err)
		assert.Equal(t, []string{"🔥"}, got.Emojis)
	})
}
