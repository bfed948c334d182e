package importer

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memevault/memevault/internal/entities"
)

// mockRequests is an in-memory RequestStore.
type mockRequests struct {
	nextReqID  uint
	nextItemID uint
	requests   map[uint]*entities.ImportRequest
	items      map[uint][]entities.ImportRequestItem
}

func newMockRequests() *mockRequests {
	return &mockRequests{
		requests: make(map[uint]*entities.ImportRequest),
		items:    make(map[uint][]entities.ImportRequestItem),
	}
}

func (m *mockRequests) CreateImportRequest(req *entities.ImportRequest, items []entities.ImportRequestItem) error {
	m.nextReqID++
	req.ID = m.nextReqID
	req.Status = entities.ImportStatusPending
	req.ImageCount = len(items)
	for i := range items {
		m.nextItemID++
		items[i].ID = m.nextItemID
		items[i].RequestID = req.ID
		items[i].Status = entities.ImportStatusPending
	}
	m.requests[req.ID] = req
	m.items[req.ID] = items
	return nil
}

func (m *mockRequests) GetImportRequest(id uint) (*entities.ImportRequest, error) {
	req, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %d not found", id)
	}
	return req, nil
}

func (m *mockRequests) GetPendingItems(requestID uint) ([]entities.ImportRequestItem, error) {
	var pending []entities.ImportRequestItem
	for _, item := range m.items[requestID] {
		if item.Status == entities.ImportStatusPending {
			pending = append(pending, item)
		}
	}
	return pending, nil
}

func (m *mockRequests) finish(itemID uint, status entities.ImportStatus, reason string) error {
	for reqID, items := range m.items {
		for i := range items {
			if items[i].ID != itemID {
				continue
			}
			if items[i].Status != entities.ImportStatusPending {
				return fmt.Errorf("item %d is not pending", itemID)
			}
			items[i].Status = status
			items[i].FailureReason = reason
			if status == entities.ImportStatusCompleted {
				m.requests[reqID].CompletedCount++
			} else {
				m.requests[reqID].FailedCount++
			}
			return nil
		}
	}
	return fmt.Errorf("item %d not found", itemID)
}

func (m *mockRequests) MarkItemCompleted(itemID uint) error {
	return m.finish(itemID, entities.ImportStatusCompleted, "")
}

func (m *mockRequests) MarkItemFailed(itemID uint, reason string) error {
	return m.finish(itemID, entities.ImportStatusFailed, reason)
}

func (m *mockRequests) FinalizeRequest(requestID uint) (*entities.ImportRequest, error) {
	req, ok := m.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("request %d not found", requestID)
	}
	if req.CompletedCount+req.FailedCount < req.ImageCount {
		return req, nil
	}
	if req.CompletedCount > 0 {
		req.Status = entities.ImportStatusCompleted
	} else {
		req.Status = entities.ImportStatusFailed
	}
	return req, nil
}

func newTestPipeline(t *testing.T, store MemeStore, requests RequestStore) *Pipeline {
	t.Helper()
	coordinator, _ := newTestCoordinator(t, store)
	return NewPipeline(coordinator, requests, t.TempDir())
}

func TestImportFiles(t *testing.T) {
	t.Run("one bad file does not stop the batch", func(t *testing.T) {
		store := newMockStore()
		pipeline := newTestPipeline(t, store, newMockRequests())

		dir := t.TempDir()
		good := writeTestImage(t, dir, "good.png", 64, 64, 1)
		bad := filepath.Join(dir, "bad.jpg")
		require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o644))
		alsoGood := writeTestImage(t, dir, "also.png", 64, 64, 2)

		result, err := pipeline.ImportFiles(context.Background(), []string{good, bad, alsoGood}, DefaultBatchOptions())
		require.NoError(t, err)
		assert.Equal(t, 3, result.Processed)
		assert.Equal(t, 2, result.Succeeded)
		assert.Equal(t, 1, result.Failed)
		assert.Contains(t, result.Errors["bad.jpg"], "undecodable")
	})

	t.Run("duplicate policies", func(t *testing.T) {
		store := newMockStore()
		pipeline := newTestPipeline(t, store, newMockRequests())

		dir := t.TempDir()
		src := writeTestImage(t, dir, "meme.png", 64, 64, 5)

		first, err := pipeline.ImportFiles(context.Background(), []string{src}, DefaultBatchOptions())
		require.NoError(t, err)
		assert.Equal(t, 1, first.Succeeded)

		// Skip: the second run leaves the store untouched.
		second, err := pipeline.ImportFiles(context.Background(), []string{src}, DefaultBatchOptions())
		require.NoError(t, err)
		assert.Equal(t, 0, second.Succeeded)
		assert.Equal(t, 1, second.SkippedDuplicates)
		assert.Len(t, store.memes, 1)

		// Update: metadata on the existing entity is refreshed in place.
		sidecar := src + ".json"
		require.NoError(t, os.WriteFile(sidecar, []byte(`{"emojis":["🔥"],"title":"Refreshed"}`), 0o644))

		third, err := pipeline.ImportFiles(context.Background(), []string{src},
			BatchOptions{DuplicatePolicy: DuplicateUpdateMetadata})
		require.NoError(t, err)
		assert.Equal(t, 1, third.UpdatedDuplicates)
		assert.Len(t, store.memes, 1)

		for _, meme := range store.memes {
			assert.Equal(t, "Refreshed", meme.Title)
		}
	})

	t.Run("cancellation stops between units", func(t *testing.T) {
		store := newMockStore()
		pipeline := newTestPipeline(t, store, newMockRequests())

		src := writeTestImage(t, t.TempDir(), "meme.png", 64, 64, 6)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result, err := pipeline.ImportFiles(ctx, []string{src}, DefaultBatchOptions())
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, result.Processed)
	})

	t.Run("sidecar next to a picked file is applied", func(t *testing.T) {
		store := newMockStore()
		pipeline := newTestPipeline(t, store, newMockRequests())

		dir := t.TempDir()
		src := writeTestImage(t, dir, "tagged.png", 64, 64, 8)
		require.NoError(t, os.WriteFile(src+".json", []byte(`{"emojis":["🐸"],"title":"Tagged"}`), 0o644))

		result, err := pipeline.ImportFiles(context.Background(), []string{src}, DefaultBatchOptions())
		require.NoError(t, err)
		require.Equal(t, 1, result.Succeeded)

		for id, meme := range store.memes {
			assert.Equal(t, "Tagged", meme.Title)
			assert.Equal(t, []string{"🐸"}, store.tags[id])
		}
	})
}

func TestResumableRequests(t *testing.T) {
	t.Run("begin stages files and run processes them", func(t *testing.T) {
		store := newMockStore()
		requests := newMockRequests()
		pipeline := newTestPipeline(t, store, requests)

		dir := t.TempDir()
		paths := []string{
			writeTestImage(t, dir, "one.png", 64, 64, 1),
			writeTestImage(t, dir, "two.png", 64, 64, 2),
		}

		req, err := pipeline.BeginFileRequest(paths)
		require.NoError(t, err)
		assert.Equal(t, entities.ImportStatusPending, req.Status)
		assert.Equal(t, 2, req.ImageCount)

		// Staged copies exist independently of the originals.
		staged, err := requests.GetPendingItems(req.ID)
		require.NoError(t, err)
		require.Len(t, staged, 2)
		for _, item := range staged {
			assert.FileExists(t, item.StagedFilePath)
		}

		result, err := pipeline.Run(context.Background(), req.ID, DefaultBatchOptions())
		require.NoError(t, err)
		assert.Equal(t, 2, result.Succeeded)
		assert.Equal(t, entities.ImportStatusCompleted, requests.requests[req.ID].Status)

		// The staging directory is gone once the request is terminal.
		assert.NoDirExists(t, req.StagingDir)
	})

	t.Run("resume skips items that already completed", func(t *testing.T) {
		store := newMockStore()
		requests := newMockRequests()
		pipeline := newTestPipeline(t, store, requests)

		dir := t.TempDir()
		paths := []string{
			writeTestImage(t, dir, "one.png", 64, 64, 11),
			writeTestImage(t, dir, "two.png", 64, 64, 12),
		}

		req, err := pipeline.BeginFileRequest(paths)
		require.NoError(t, err)

		// Simulate a prior partial run that finished the first item.
		staged, err := requests.GetPendingItems(req.ID)
		require.NoError(t, err)
		require.NoError(t, requests.MarkItemCompleted(staged[0].ID))

		result, err := pipeline.Run(context.Background(), req.ID, DefaultBatchOptions())
		require.NoError(t, err)
		assert.Equal(t, 1, result.Processed)
		assert.Equal(t, 1, result.Succeeded)
		assert.Equal(t, entities.ImportStatusCompleted, requests.requests[req.ID].Status)
	})

	t.Run("request with only failures finalizes as failed", func(t *testing.T) {
		store := newMockStore()
		requests := newMockRequests()
		pipeline := newTestPipeline(t, store, requests)

		dir := t.TempDir()
		bad := filepath.Join(dir, "bad.png")
		require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o644))

		req, err := pipeline.BeginFileRequest([]string{bad})
		require.NoError(t, err)

		result, err := pipeline.Run(context.Background(), req.ID, DefaultBatchOptions())
		require.NoError(t, err)
		assert.Equal(t, 1, result.Failed)
		assert.Equal(t, entities.ImportStatusFailed, requests.requests[req.ID].Status)
	})
}

func TestImportBundle(t *testing.T) {
	writeBundle := func(t *testing.T, entries map[string][]byte, order []string) string {
		t.Helper()
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		for _, name := range order {
			w, err := zw.Create(name)
			require.NoError(t, err)
			_, err = w.Write(entries[name])
			require.NoError(t, err)
		}
		require.NoError(t, zw.Close())

		path := filepath.Join(t.TempDir(), "bundle.zip")
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
		return path
	}

	pngBytes := func(t *testing.T, seed uint8) []byte {
		t.Helper()
		path := writeTestImage(t, t.TempDir(), "img.png", 32, 32, seed)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		return data
	}

	t.Run("streams units and isolates bad entries", func(t *testing.T) {
		store := newMockStore()
		pipeline := newTestPipeline(t, store, newMockRequests())

		bundlePath := writeBundle(t, map[string][]byte{
			"cat.png.json": []byte(`{"emojis":["😺"],"title":"Cat"}`),
			"cat.png":      pngBytes(t, 1),
			"dog.png":      pngBytes(t, 2),
			"../evil.png":  []byte("evil"),
		}, []string{"cat.png.json", "cat.png", "dog.png", "../evil.png"})

		result, err := pipeline.ImportBundle(context.Background(), bundlePath, DefaultBatchOptions())
		require.NoError(t, err)
		assert.Equal(t, 3, result.Processed)
		assert.Equal(t, 2, result.Succeeded)
		assert.Equal(t, 1, result.Failed)
		assert.Contains(t, result.Errors["../evil.png"], "path traversal")

		// Sidecar metadata arrived before the image entry, so it was applied.
		found := false
		for id, meme := range store.memes {
			if meme.FileName == "cat.png" {
				found = true
				assert.Equal(t, "Cat", meme.Title)
				assert.Equal(t, []string{"😺"}, store.tags[id])
			}
		}
		assert.True(t, found)
	})

	t.Run("unreadable archive is fatal", func(t *testing.T) {
		store := newMockStore()
		pipeline := newTestPipeline(t, store, newMockRequests())

		path := filepath.Join(t.TempDir(), "broken.zip")
		require.NoError(t, os.WriteFile(path, []byte("nope"), 0o644))

		_, err := pipeline.ImportBundle(context.Background(), path, DefaultBatchOptions())
		assert.Error(t, err)
	})

	t.Run("resumable bundle request stages all units first", func(t *testing.T) {
		store := newMockStore()
		requests := newMockRequests()
		pipeline := newTestPipeline(t, store, requests)

		bundlePath := writeBundle(t, map[string][]byte{
			"cat.png": pngBytes(t, 3),
			"dog.png": pngBytes(t, 4),
		}, []string{"cat.png", "dog.png"})

		req, extractErrors, err := pipeline.BeginBundleRequest(bundlePath)
		require.NoError(t, err)
		assert.Empty(t, extractErrors)
		assert.Equal(t, 2, req.ImageCount)

		result, err := pipeline.Run(context.Background(), req.ID, DefaultBatchOptions())
		require.NoError(t, err)
		assert.Equal(t, 2, result.Succeeded)
		assert.Equal(t, entities.ImportStatusCompleted, requests.requests[req.ID].Status)
	})
}
