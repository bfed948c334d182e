// Package bundle implements the streaming, security-hardened reader for meme
// bundles: flat ZIP archives pairing images with JSON metadata sidecars.
//
// The extractor defends against crafted archives on three fronts: entry names
// are collapsed to flat basenames and re-checked by canonical-path containment
// before anything touches disk (ZIP slip), the entry count is hard-capped
// (archive bombs), and every entry's bytes are capped both by the declared
// size and by an independent incremental ceiling while copying, since archive
// headers are allowed to lie about sizes.
package bundle

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/memevault/memevault/internal/metadata"
	"github.com/memevault/memevault/internal/utils"
)

// Hard limits of the bundle container format. These are part of the wire
// contract and must not drift.
const (
	MaxEntryCount = 10000
	MaxFileSize   = 50 * 1024 * 1024
	MaxJSONSize   = 1 * 1024 * 1024
)

var (
	// ErrPathTraversalBlocked marks an entry whose name attempted to escape
	// the sandbox directory.
	ErrPathTraversalBlocked = errors.New("path traversal blocked")
	// ErrEntryCountExceeded is archive-fatal: iteration halts at the cap.
	ErrEntryCountExceeded = errors.New("archive entry count exceeded")
	// ErrSizeLimitExceeded marks a single entry over its byte ceiling.
	ErrSizeLimitExceeded = errors.New("size limit exceeded")
	// ErrArchiveOpen is archive-fatal: the container itself cannot be read.
	ErrArchiveOpen = errors.New("failed to open archive")
)

// ExtractedUnit is one paired (image, metadata) result. The image has been
// fully written to a temporary file inside the extractor's sandbox; the
// consumer owns that file and deletes it after the import attempt.
type ExtractedUnit struct {
	ImagePath string                 // temp file inside the sandbox
	FileName  string                 // sanitized original entry name
	Metadata  *metadata.MemeMetadata // nil when the image has no sidecar
}

// EventKind discriminates ExtractionEvent. Every consumer switch should
// handle all kinds.
type EventKind int

const (
	// EventProgress reports the entry currently being processed.
	EventProgress EventKind = iota
	// EventUnit carries a fully extracted unit.
	EventUnit
	// EventError reports a non-fatal, per-entry failure.
	EventError
	// EventComplete is the final event of a successful iteration.
	EventComplete
	// EventFatal reports an archive-fatal failure; no further events follow.
	EventFatal
)

// ExtractionEvent is the tagged union streamed by ExtractStream. Only the
// fields relevant to Kind are populated.
type ExtractionEvent struct {
	Kind EventKind

	Processed int    // EventProgress, EventComplete
	EntryName string // EventProgress, EventError

	Unit *ExtractedUnit // EventUnit

	Err error // EventError, EventFatal

	TotalErrors int // EventComplete
}

// ExtractResult is the buffered-mode outcome: all units plus a map of entry
// name to failure reason. Partial success is the caller's call.
type ExtractResult struct {
	Units  []ExtractedUnit
	Errors map[string]string
}

// Extractor unpacks one bundle into a private sandbox directory.
type Extractor struct {
	sandboxDir string
}

// NewExtractor creates an extractor with a fresh sandbox under baseDir
// (os.TempDir() when empty).
func NewExtractor(baseDir string) (*Extractor, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	dir, err := os.MkdirTemp(baseDir, "memevault-bundle-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox directory: %w", err)
	}
	return &Extractor{sandboxDir: dir}, nil
}

// SandboxDir returns the private extraction directory.
func (e *Extractor) SandboxDir() string {
	return e.sandboxDir
}

// Cleanup recursively deletes the sandbox and everything extracted into it.
func (e *Extractor) Cleanup() error {
	return os.RemoveAll(e.sandboxDir)
}

// IsBundle cheaply decides whether a file should be treated as a bundle
// rather than a single image: by extension first, by content sniff for
// unknown extensions.
func IsBundle(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip", ".memebundle":
		return true
	case "":
		mt, err := mimetype.DetectFile(path)
		return err == nil && mt.Is("application/zip")
	default:
		return false
	}
}

// ExtractAll unpacks the whole bundle, buffering every unit. Unlike the
// streaming mode, pairing here is order-independent in both directions: a
// sidecar read after its image is still attached before the result returns.
func (e *Extractor) ExtractAll(path string) (*ExtractResult, error) {
	result := &ExtractResult{Errors: make(map[string]string)}

	images := make(map[string]int) // sanitized name -> index into result.Units
	pendingMeta := make(map[string]*metadata.MemeMetadata)

	err := e.walk(path, func(processed int, entryName string) bool { return true }, func(name string, md *metadata.MemeMetadata) {
		pendingMeta[name] = md
	}, func(name, imagePath string) {
		result.Units = append(result.Units, ExtractedUnit{ImagePath: imagePath, FileName: name})
		images[name] = len(result.Units) - 1
	}, func(entryName string, entryErr error) {
		result.Errors[entryName] = entryErr.Error()
	})
	if err != nil {
		return nil, err
	}

	// Late pairing pass: attach metadata wherever an image was written,
	// regardless of entry order.
	for name, md := range pendingMeta {
		if idx, ok := images[name]; ok {
			result.Units[idx].Metadata = md
		}
	}

	return result, nil
}

// ExtractStream unpacks the bundle incrementally, emitting one event at a
// time over an unbuffered channel: a slow consumer throttles archive reads
// instead of buffering unboundedly. The channel closes after EventComplete
// or EventFatal, or when ctx is cancelled; cancellation halts archive reads
// after the entry in flight, so nothing new is written into the sandbox.
//
// A unit is emitted as soon as its image entry has been fully written,
// carrying whatever sidecar has been seen for it so far; metadata arriving
// after its image's event has fired is not retroactively attached.
func (e *Extractor) ExtractStream(ctx context.Context, path string) <-chan ExtractionEvent {
	events := make(chan ExtractionEvent)

	go func() {
		defer close(events)

		send := func(ev ExtractionEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		pendingMeta := make(map[string]*metadata.MemeMetadata)
		emitted := make(map[string]bool)
		processed := 0
		totalErrors := 0
		aborted := false

		err := e.walk(path, func(n int, entryName string) bool {
			processed = n
			if aborted || ctx.Err() != nil {
				aborted = true
				return false
			}
			if !send(ExtractionEvent{Kind: EventProgress, Processed: n, EntryName: entryName}) {
				aborted = true
				return false
			}
			return true
		}, func(name string, md *metadata.MemeMetadata) {
			if aborted || emitted[name] {
				return
			}
			pendingMeta[name] = md
		}, func(name, imagePath string) {
			if aborted {
				return
			}
			unit := &ExtractedUnit{ImagePath: imagePath, FileName: name, Metadata: pendingMeta[name]}
			delete(pendingMeta, name)
			emitted[name] = true
			if !send(ExtractionEvent{Kind: EventUnit, Unit: unit}) {
				aborted = true
			}
		}, func(entryName string, entryErr error) {
			if aborted {
				return
			}
			totalErrors++
			if !send(ExtractionEvent{Kind: EventError, EntryName: entryName, Err: entryErr}) {
				aborted = true
			}
		})

		if aborted {
			return
		}
		if err != nil {
			send(ExtractionEvent{Kind: EventFatal, Err: err})
			return
		}
		send(ExtractionEvent{Kind: EventComplete, Processed: processed, TotalErrors: totalErrors})
	}()

	return events
}

// walk iterates the archive entries strictly in order, invoking the
// callbacks as entries are classified and written. onProgress returning
// false stops the iteration before the entry is read. The returned error is
// archive-fatal only; per-entry failures go through onError.
func (e *Extractor) walk(
	path string,
	onProgress func(processed int, entryName string) bool,
	onMetadata func(imageName string, md *metadata.MemeMetadata),
	onImage func(imageName, imagePath string),
	onError func(entryName string, err error),
) error {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveOpen, err)
	}
	defer reader.Close()

	seen := make(map[string]bool)

	for i, entry := range reader.File {
		if i >= MaxEntryCount {
			return fmt.Errorf("%w: more than %d entries", ErrEntryCountExceeded, MaxEntryCount)
		}
		if !onProgress(i+1, entry.Name) {
			return nil
		}

		name := entry.Name

		// Traversal sequences are reported; everything else outside the
		// flat, visible namespace is skipped without noise.
		if strings.Contains(name, "..") {
			onError(name, ErrPathTraversalBlocked)
			continue
		}
		if entry.FileInfo().IsDir() || strings.HasSuffix(name, "/") {
			continue
		}
		if strings.HasPrefix(filepath.Base(name), ".") || strings.ContainsAny(name, "/\\") {
			continue
		}

		switch {
		case strings.HasSuffix(strings.ToLower(name), metadata.SidecarSuffix):
			e.handleSidecar(entry, onMetadata, onError)
		case utils.HasImageExtension(name):
			e.handleImage(entry, seen, onImage, onError)
		default:
			// Not part of the bundle contract; ignore.
		}
	}

	return nil
}

func (e *Extractor) handleSidecar(
	entry *zip.File,
	onMetadata func(string, *metadata.MemeMetadata),
	onError func(string, error),
) {
	// First layer: the size the archive declares.
	if entry.UncompressedSize64 > MaxJSONSize {
		onError(entry.Name, fmt.Errorf("%w: declared metadata size %d exceeds %d bytes",
			ErrSizeLimitExceeded, entry.UncompressedSize64, MaxJSONSize))
		return
	}

	imageName, ok := metadata.ImageNameForSidecar(entry.Name)
	if !ok {
		return
	}
	imageName, err := utils.SanitizeEntryName(imageName)
	if err != nil {
		onError(entry.Name, ErrPathTraversalBlocked)
		return
	}

	rc, err := entry.Open()
	if err != nil {
		onError(entry.Name, fmt.Errorf("failed to open entry: %w", err))
		return
	}
	defer rc.Close()

	// Second layer: enforce the ceiling while reading, since declared sizes
	// can lie.
	data, err := readCapped(rc, MaxJSONSize)
	if err != nil {
		onError(entry.Name, err)
		return
	}

	md, err := metadata.Parse(data)
	if err != nil {
		onError(entry.Name, err)
		return
	}

	onMetadata(imageName, md)
}

func (e *Extractor) handleImage(
	entry *zip.File,
	seen map[string]bool,
	onImage func(string, string),
	onError func(string, error),
) {
	if entry.UncompressedSize64 > MaxFileSize {
		onError(entry.Name, fmt.Errorf("%w: declared entry size %d exceeds %d bytes",
			ErrSizeLimitExceeded, entry.UncompressedSize64, MaxFileSize))
		return
	}

	name, err := utils.SanitizeEntryName(entry.Name)
	if err != nil {
		onError(entry.Name, ErrPathTraversalBlocked)
		return
	}
	if seen[name] {
		onError(entry.Name, fmt.Errorf("duplicate entry name %q", name))
		return
	}

	destPath, err := e.containedPath(name)
	if err != nil {
		onError(entry.Name, err)
		return
	}

	rc, err := entry.Open()
	if err != nil {
		onError(entry.Name, fmt.Errorf("failed to open entry: %w", err))
		return
	}
	defer rc.Close()

	written, err := writeCapped(destPath, rc, MaxFileSize)
	if err != nil {
		// writeCapped removed the partial file already.
		onError(entry.Name, err)
		return
	}
	_ = written

	seen[name] = true
	onImage(name, destPath)
}

// containedPath resolves name against the sandbox and re-validates by
// canonical-path containment. This is deliberately independent of
// SanitizeEntryName: two layers, each sufficient on its own.
func (e *Extractor) containedPath(name string) (string, error) {
	sandbox, err := filepath.EvalSymlinks(e.sandboxDir)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize sandbox: %w", err)
	}

	dest := filepath.Clean(filepath.Join(sandbox, name))
	rel, err := filepath.Rel(sandbox, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversalBlocked
	}

	// The destination must sit directly inside the canonical sandbox; a
	// symlinked parent smuggled into the sandbox would fail this check.
	parent, err := filepath.EvalSymlinks(filepath.Dir(dest))
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize destination: %w", err)
	}
	if parent != sandbox {
		return "", ErrPathTraversalBlocked
	}

	return dest, nil
}

// readCapped reads at most limit bytes, failing with ErrSizeLimitExceeded if
// the stream has more. Partial data is discarded on failure.
func readCapped(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read entry: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: entry exceeds %d bytes", ErrSizeLimitExceeded, limit)
	}
	return data, nil
}

// writeCapped streams r to path, enforcing the byte ceiling incrementally.
// On overrun or write failure the partial file is deleted before returning.
func writeCapped(path string, r io.Reader, limit int64) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}

	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	closeErr := f.Close()

	switch {
	case err != nil:
		os.Remove(path)
		return n, fmt.Errorf("failed to write entry: %w", err)
	case n > limit:
		os.Remove(path)
		return n, fmt.Errorf("%w: entry exceeds %d bytes", ErrSizeLimitExceeded, limit)
	case closeErr != nil:
		os.Remove(path)
		return n, closeErr
	}

	return n, nil
}
