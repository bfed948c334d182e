package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memevault/memevault/internal/entities"
)

// setupTestDB creates a fresh test database
func setupTestDB(t *testing.T) *Database {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := NewDatabase(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMemeStore(t *testing.T) {
	db := setupTestDB(t)

	meme := &entities.Meme{
		FilePath:    "/library/memes/abc.jpg",
		FileName:    "cat.jpg",
		MimeType:    "image/jpeg",
		Width:       800,
		Height:      600,
		ContentHash: "deadbeef00000000000000000000000000000000000000000000000000000001",
		ImportedAt:  time.Now(),
	}

	t.Run("InsertMeme assigns an id", func(t *testing.T) {
		id, err := db.InsertMeme(meme)
		require.NoError(t, err)
		assert.NotZero(t, id)
	})

	t.Run("ExistsByHash and FindByHash agree", func(t *testing.T) {
		exists, err := db.ExistsByHash(meme.ContentHash)
		require.NoError(t, err)
		assert.True(t, exists)

		found, err := db.FindByHash(meme.ContentHash)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, meme.ID, found.ID)

		exists, err = db.ExistsByHash("0000000000000000000000000000000000000000000000000000000000000000")
		require.NoError(t, err)
		assert.False(t, exists)

		missing, err := db.FindByHash("0000000000000000000000000000000000000000000000000000000000000000")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("duplicate content hash is rejected by the unique index", func(t *testing.T) {
		dup := &entities.Meme{
			FilePath:    "/library/memes/other.jpg",
			FileName:    "copy.jpg",
			ContentHash: meme.ContentHash,
			ImportedAt:  time.Now(),
		}
		_, err := db.InsertMeme(dup)
		assert.Error(t, err)
	})

	t.Run("emoji tags round-trip", func(t *testing.T) {
		require.NoError(t, db.InsertEmojiTags(meme.ID, []string{"😂", "🐱"}))

		found, err := db.GetMemeByID(meme.ID)
		require.NoError(t, err)
		assert.Len(t, found.EmojiTags, 2)

		require.NoError(t, db.DeleteEmojiTags(meme.ID))
		found, err = db.GetMemeByID(meme.ID)
		require.NoError(t, err)
		assert.Empty(t, found.EmojiTags)
	})

	t.Run("GetStats counts rows", func(t *testing.T) {
		memes, tags, err := db.GetStats()
		require.NoError(t, err)
		assert.Equal(t, int64(1), memes)
		assert.Equal(t, int64(0), tags)
	})

	t.Run("DeleteMeme removes the record and its tags", func(t *testing.T) {
		require.NoError(t, db.InsertEmojiTags(meme.ID, []string{"💀"}))
		require.NoError(t, db.DeleteMeme(meme.ID))

		exists, err := db.ExistsByHash(meme.ContentHash)
		require.NoError(t, err)
		assert.False(t, exists)

		_, tags, err := db.GetStats()
		require.NoError(t, err)
		assert.Equal(t, int64(0), tags)
	})
}

func TestImportRequests(t *testing.T) {
	db := setupTestDB(t)

	newRequest := func(t *testing.T, itemCount int) *entities.ImportRequest {
		t.Helper()
		items := make([]entities.ImportRequestItem, itemCount)
		for i := range items {
			items[i] = entities.ImportRequestItem{
				StagedFilePath:   "/staging/file.jpg",
				OriginalFileName: "file.jpg",
			}
		}
		req := &entities.ImportRequest{StagingDir: "/staging"}
		require.NoError(t, db.CreateImportRequest(req, items))
		return req
	}

	t.Run("creation starts pending with counters at zero", func(t *testing.T) {
		req := newRequest(t, 3)
		assert.Equal(t, entities.ImportStatusPending, req.Status)
		assert.Equal(t, 3, req.ImageCount)

		items, err := db.GetPendingItems(req.ID)
		require.NoError(t, err)
		assert.Len(t, items, 3)
	})

	t.Run("item transitions are forward-only", func(t *testing.T) {
		req := newRequest(t, 2)
		items, err := db.GetPendingItems(req.ID)
		require.NoError(t, err)

		require.NoError(t, db.MarkItemCompleted(items[0].ID))

		// A second transition of any kind is rejected.
		assert.ErrorIs(t, db.MarkItemCompleted(items[0].ID), ErrItemNotPending)
		assert.ErrorIs(t, db.MarkItemFailed(items[0].ID, "late failure"), ErrItemNotPending)

		// Completed items drop out of the pending set.
		pending, err := db.GetPendingItems(req.ID)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})

	t.Run("counters track item outcomes", func(t *testing.T) {
		req := newRequest(t, 2)
		items, err := db.GetPendingItems(req.ID)
		require.NoError(t, err)

		require.NoError(t, db.MarkItemCompleted(items[0].ID))
		require.NoError(t, db.MarkItemFailed(items[1].ID, "undecodable image"))

		got, err := db.GetImportRequest(req.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.CompletedCount)
		assert.Equal(t, 1, got.FailedCount)
	})

	t.Run("finalize is a no-op while items are pending", func(t *testing.T) {
		req := newRequest(t, 2)
		items, err := db.GetPendingItems(req.ID)
		require.NoError(t, err)
		require.NoError(t, db.MarkItemCompleted(items[0].ID))

		got, err := db.FinalizeRequest(req.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.ImportStatusPending, got.Status)
	})

	t.Run("finalize completes when at least one item succeeded", func(t *testing.T) {
		req := newRequest(t, 2)
		items, err := db.GetPendingItems(req.ID)
		require.NoError(t, err)
		require.NoError(t, db.MarkItemCompleted(items[0].ID))
		require.NoError(t, db.MarkItemFailed(items[1].ID, "bad"))

		got, err := db.FinalizeRequest(req.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.ImportStatusCompleted, got.Status)
	})

	t.Run("finalize fails when every item failed", func(t *testing.T) {
		req := newRequest(t, 1)
		items, err := db.GetPendingItems(req.ID)
		require.NoError(t, err)
		require.NoError(t, db.MarkItemFailed(items[0].ID, "bad"))

		got, err := db.FinalizeRequest(req.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.ImportStatusFailed, got.Status)
	})

	t.Run("expired requests are listed and deletable", func(t *testing.T) {
		req := newRequest(t, 1)
		items, err := db.GetPendingItems(req.ID)
		require.NoError(t, err)
		require.NoError(t, db.MarkItemCompleted(items[0].ID))
		_, err = db.FinalizeRequest(req.ID)
		require.NoError(t, err)

		// Not expired yet with a generous retention.
		expired, err := db.GetExpiredRequests(24 * time.Hour)
		require.NoError(t, err)
		for _, e := range expired {
			assert.NotEqual(t, req.ID, e.ID)
		}

		// Zero retention expires everything terminal.
		expired, err = db.GetExpiredRequests(-time.Minute)
		require.NoError(t, err)
		found := false
		for _, e := range expired {
			if e.ID == req.ID {
				found = true
			}
		}
		assert.True(t, found)

		require.NoError(t, db.DeleteImportRequest(req.ID))
		items, err = db.GetPendingItems(req.ID)
		require.NoError(t, err)
		assert.Empty(t, items)
	})
}
