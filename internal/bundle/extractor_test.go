package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zipEntry struct {
	name string
	data []byte
}

// writeTestBundle builds a ZIP file on disk with the given entries in order.
func writeTestBundle(t *testing.T, entries []zipEntry) string {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range entries {
		w, err := zw.Create(entry.name)
		require.NoError(t, err)
		_, err = w.Write(entry.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "bundle.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	extractor, err := NewExtractor(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { extractor.Cleanup() })
	return extractor
}

func sidecarJSON(emojis ...string) []byte {
	quoted := make([]string, len(emojis))
	for i, e := range emojis {
		quoted[i] = fmt.Sprintf("%q", e)
	}
	return []byte(fmt.Sprintf(`{"schemaVersion":"1.3","emojis":[%s]}`, strings.Join(quoted, ",")))
}

func TestExtractAll(t *testing.T) {
	t.Run("pairs sidecar written before image", func(t *testing.T) {
		path := writeTestBundle(t, []zipEntry{
			{"cat.jpg.json", sidecarJSON("😺")},
			{"cat.jpg", []byte("cat-bytes")},
		})

		result, err := newTestExtractor(t).ExtractAll(path)
		require.NoError(t, err)
		require.Len(t, result.Units, 1)
		assert.Empty(t, result.Errors)
		require.NotNil(t, result.Units[0].Metadata)
		assert.Equal(t, []string{"😺"}, result.Units[0].Metadata.Emojis)
	})

	t.Run("pairs sidecar written after image", func(t *testing.T) {
		path := writeTestBundle(t, []zipEntry{
			{"cat.jpg", []byte("cat-bytes")},
			{"cat.jpg.json", sidecarJSON("😺")},
		})

		result, err := newTestExtractor(t).ExtractAll(path)
		require.NoError(t, err)
		require.Len(t, result.Units, 1)
		require.NotNil(t, result.Units[0].Metadata)
		assert.Equal(t, []string{"😺"}, result.Units[0].Metadata.Emojis)
	})

	t.Run("image without sidecar extracts with nil metadata", func(t *testing.T) {
		path := writeTestBundle(t, []zipEntry{
			{"dog.png", []byte("dog-bytes")},
		})

		result, err := newTestExtractor(t).ExtractAll(path)
		require.NoError(t, err)
		require.Len(t, result.Units, 1)
		assert.Equal(t, "dog.png", result.Units[0].FileName)
		assert.Nil(t, result.Units[0].Metadata)

		data, err := os.ReadFile(result.Units[0].ImagePath)
		require.NoError(t, err)
		assert.Equal(t, []byte("dog-bytes"), data)
	})

	t.Run("traversal names are reported, other noise is skipped", func(t *testing.T) {
		path := writeTestBundle(t, []zipEntry{
			{"cat.jpg", []byte("cat-bytes")},
			{"../evil.jpg", []byte("evil")},
			{"photos/nested.jpg", []byte("nested")},
			{".hidden.jpg", []byte("hidden")},
			{"notes.txt", []byte("ignored")},
		})

		extractor := newTestExtractor(t)
		result, err := extractor.ExtractAll(path)
		require.NoError(t, err)

		require.Len(t, result.Units, 1)
		assert.Equal(t, "cat.jpg", result.Units[0].FileName)

		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors["../evil.jpg"], "path traversal")

		// Nothing escaped or snuck into the sandbox besides the good entry.
		entries, err := os.ReadDir(extractor.SandboxDir())
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("uppercase sidecar suffix still pairs with its image", func(t *testing.T) {
		path := writeTestBundle(t, []zipEntry{
			{"CAT.JPG.JSON", sidecarJSON("😺")},
			{"CAT.JPG", []byte("cat-bytes")},
		})

		result, err := newTestExtractor(t).ExtractAll(path)
		require.NoError(t, err)
		assert.Empty(t, result.Errors)
		require.Len(t, result.Units, 1)
		assert.Equal(t, "CAT.JPG", result.Units[0].FileName)
		require.NotNil(t, result.Units[0].Metadata)
		assert.Equal(t, []string{"😺"}, result.Units[0].Metadata.Emojis)
	})

	t.Run("oversized metadata is rejected while its image survives", func(t *testing.T) {
		big := bytes.Repeat([]byte("x"), MaxJSONSize+1)
		path := writeTestBundle(t, []zipEntry{
			{"cat.jpg.json", big},
			{"cat.jpg", []byte("cat-bytes")},
		})

		result, err := newTestExtractor(t).ExtractAll(path)
		require.NoError(t, err)
		require.Len(t, result.Units, 1)
		assert.Nil(t, result.Units[0].Metadata)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors["cat.jpg.json"], "size limit exceeded")
	})

	t.Run("malformed sidecar fails only itself", func(t *testing.T) {
		path := writeTestBundle(t, []zipEntry{
			{"cat.jpg", []byte("cat-bytes")},
			{"cat.jpg.json", []byte("{not json")},
			{"dog.jpg", []byte("dog-bytes")},
		})

		result, err := newTestExtractor(t).ExtractAll(path)
		require.NoError(t, err)
		assert.Len(t, result.Units, 2)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors["cat.jpg.json"], "malformed metadata")
	})

	t.Run("duplicate entry names after collapsing are rejected", func(t *testing.T) {
		path := writeTestBundle(t, []zipEntry{
			{"cat.jpg", []byte("first")},
			{"cat.jpg", []byte("second")},
		})

		result, err := newTestExtractor(t).ExtractAll(path)
		require.NoError(t, err)
		require.Len(t, result.Units, 1)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors["cat.jpg"], "duplicate")
	})

	t.Run("entry count over the cap is archive-fatal", func(t *testing.T) {
		entries := make([]zipEntry, MaxEntryCount+1)
		for i := range entries {
			// Unrecognized extension: counted against the cap, never written.
			entries[i] = zipEntry{fmt.Sprintf("filler-%05d.txt", i), []byte("x")}
		}
		path := writeTestBundle(t, entries)

		_, err := newTestExtractor(t).ExtractAll(path)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEntryCountExceeded)
	})

	t.Run("unreadable archive is fatal", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.zip")
		require.NoError(t, os.WriteFile(path, []byte("this is not a zip"), 0o644))

		_, err := newTestExtractor(t).ExtractAll(path)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrArchiveOpen)
	})
}

func TestExtractStream(t *testing.T) {
	collect := func(t *testing.T, events <-chan ExtractionEvent) (units []*ExtractedUnit, errs []ExtractionEvent, complete *ExtractionEvent, fatal *ExtractionEvent) {
		t.Helper()
		for ev := range events {
			switch ev.Kind {
			case EventUnit:
				units = append(units, ev.Unit)
			case EventError:
				e := ev
				errs = append(errs, e)
			case EventComplete:
				e := ev
				complete = &e
			case EventFatal:
				e := ev
				fatal = &e
			}
		}
		return
	}

	t.Run("mixed bundle yields units, errors and completion", func(t *testing.T) {
		path := writeTestBundle(t, []zipEntry{
			{"cat.jpg.json", sidecarJSON("😹", "🐱")},
			{"cat.jpg", []byte("cat-bytes")},
			{"dog.jpg", []byte("dog-bytes")},
			{"../evil.jpg", []byte("evil")},
		})

		events := newTestExtractor(t).ExtractStream(context.Background(), path)
		units, errs, complete, fatal := collect(t, events)

		require.Nil(t, fatal)
		require.NotNil(t, complete)
		assert.Equal(t, 4, complete.Processed)
		assert.Equal(t, 1, complete.TotalErrors)

		require.Len(t, units, 2)
		assert.Equal(t, "cat.jpg", units[0].FileName)
		require.NotNil(t, units[0].Metadata)
		assert.Equal(t, []string{"😹", "🐱"}, units[0].Metadata.Emojis)
		assert.Equal(t, "dog.jpg", units[1].FileName)
		assert.Nil(t, units[1].Metadata)

		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0].Err, ErrPathTraversalBlocked)
	})

	t.Run("sidecar after image is not retroactively attached", func(t *testing.T) {
		path := writeTestBundle(t, []zipEntry{
			{"cat.jpg", []byte("cat-bytes")},
			{"cat.jpg.json", sidecarJSON("😺")},
		})

		events := newTestExtractor(t).ExtractStream(context.Background(), path)
		units, _, complete, _ := collect(t, events)

		require.NotNil(t, complete)
		require.Len(t, units, 1)
		assert.Nil(t, units[0].Metadata)
	})

	t.Run("cancellation closes the stream without completion", func(t *testing.T) {
		entries := make([]zipEntry, 50)
		for i := range entries {
			entries[i] = zipEntry{fmt.Sprintf("img-%02d.jpg", i), []byte("data")}
		}
		path := writeTestBundle(t, entries)

		ctx, cancel := context.WithCancel(context.Background())
		events := newTestExtractor(t).ExtractStream(ctx, path)

		// Consume a couple of events, then stop pulling.
		<-events
		<-events
		cancel()

		sawTerminal := false
		for ev := range events {
			if ev.Kind == EventComplete || ev.Kind == EventFatal {
				sawTerminal = true
			}
		}
		assert.False(t, sawTerminal)
	})

	t.Run("cancellation halts archive reads, not just event delivery", func(t *testing.T) {
		entries := make([]zipEntry, 20)
		for i := range entries {
			entries[i] = zipEntry{fmt.Sprintf("img-%02d.jpg", i), []byte("data")}
		}
		path := writeTestBundle(t, entries)

		ctx, cancel := context.WithCancel(context.Background())
		extractor := newTestExtractor(t)
		events := extractor.ExtractStream(ctx, path)

		<-events
		cancel()
		for range events {
		}

		// Only the entry in flight at cancellation time may have reached the
		// sandbox; the rest of the archive must not have been extracted.
		written, err := os.ReadDir(extractor.SandboxDir())
		require.NoError(t, err)
		assert.LessOrEqual(t, len(written), 2)
	})

	t.Run("entry count overflow surfaces as fatal event", func(t *testing.T) {
		entries := make([]zipEntry, MaxEntryCount+1)
		for i := range entries {
			entries[i] = zipEntry{fmt.Sprintf("filler-%05d.txt", i), []byte("x")}
		}
		path := writeTestBundle(t, entries)

		events := newTestExtractor(t).ExtractStream(context.Background(), path)
		_, _, complete, fatal := collect(t, events)

		assert.Nil(t, complete)
		require.NotNil(t, fatal)
		assert.ErrorIs(t, fatal.Err, ErrEntryCountExceeded)
	})
}

func TestIsBundle(t *testing.T) {
	assert.True(t, IsBundle("memes.zip"))
	assert.True(t, IsBundle("memes.MEMEBUNDLE"))
	assert.False(t, IsBundle("cat.jpg"))
	assert.False(t, IsBundle("notes.txt"))

	// Extensionless files fall back to content sniffing.
	path := writeTestBundle(t, []zipEntry{{"cat.jpg", []byte("data")}})
	noExt := strings.TrimSuffix(path, ".zip")
	require.NoError(t, os.Rename(path, noExt))
	assert.True(t, IsBundle(noExt))
}

func TestReadCapped(t *testing.T) {
	data, err := readCapped(strings.NewReader("hello"), 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	_, err = readCapped(strings.NewReader("hello world"), 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSizeLimitExceeded)
}

func TestWriteCapped(t *testing.T) {
	dir := t.TempDir()

	t.Run("within limit", func(t *testing.T) {
		path := filepath.Join(dir, "ok.bin")
		n, err := writeCapped(path, strings.NewReader("hello"), 10)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
	})

	t.Run("overrun deletes the partial file", func(t *testing.T) {
		path := filepath.Join(dir, "big.bin")
		_, err := writeCapped(path, strings.NewReader("hello world"), 5)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSizeLimitExceeded)

		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr))
	})
}
