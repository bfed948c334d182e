package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/memevault/memevault/internal/bundle"
	"github.com/memevault/memevault/internal/entities"
	"github.com/memevault/memevault/internal/metadata"
)

// BatchOptions tune one batch run.
type BatchOptions struct {
	DuplicatePolicy DuplicatePolicy
}

func DefaultBatchOptions() BatchOptions {
	return BatchOptions{DuplicatePolicy: DuplicateSkip}
}

// BatchResult summarizes a batch: partial failure is a summary, not an
// abort.
type BatchResult struct {
	Processed         int
	Succeeded         int
	Failed            int
	SkippedDuplicates int
	UpdatedDuplicates int
	Errors            map[string]string
}

func newBatchResult() *BatchResult {
	return &BatchResult{Errors: make(map[string]string)}
}

// Pipeline drives many units through the coordinator with per-item
// isolation, cancellation between units, and resumable on-disk bookkeeping.
type Pipeline struct {
	coordinator *Coordinator
	requests    RequestStore
	stagingBase string
}

func NewPipeline(coordinator *Coordinator, requests RequestStore, stagingBase string) *Pipeline {
	if stagingBase == "" {
		stagingBase = os.TempDir()
	}
	return &Pipeline{coordinator: coordinator, requests: requests, stagingBase: stagingBase}
}

// ImportFiles imports a flat selection of image files. One failure never
// stops the batch; cancellation is honored between units only, so the unit
// in flight always finishes.
func (p *Pipeline) ImportFiles(ctx context.Context, paths []string, opts BatchOptions) (*BatchResult, error) {
	result := newBatchResult()

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		md := p.sidecarFor(path)
		p.importOne(path, filepath.Base(path), md, opts, result)
	}

	return result, nil
}

// ImportBundle streams a bundle through the extractor, importing each unit
// as it arrives. Each unit's temporary file is deleted immediately after the
// attempt, success or not, to bound disk usage.
func (p *Pipeline) ImportBundle(ctx context.Context, bundlePath string, opts BatchOptions) (*BatchResult, error) {
	result := newBatchResult()

	extractor, err := bundle.NewExtractor(p.stagingBase)
	if err != nil {
		return result, err
	}
	defer func() {
		if err := extractor.Cleanup(); err != nil {
			log.Printf("Failed to clean bundle sandbox: %v", err)
		}
	}()

	events := extractor.ExtractStream(ctx, bundlePath)
	for event := range events {
		switch event.Kind {
		case bundle.EventProgress:
			// Consumed for pacing only.
		case bundle.EventUnit:
			unit := event.Unit
			p.importOne(unit.ImagePath, unit.FileName, unit.Metadata, opts, result)
			if err := os.Remove(unit.ImagePath); err != nil && !os.IsNotExist(err) {
				log.Printf("Failed to remove extracted file %s: %v", unit.ImagePath, err)
			}
			if err := ctx.Err(); err != nil {
				// Drain until the extractor notices the cancellation and
				// closes the channel; Cleanup must not run while the
				// extraction goroutine is still writing into the sandbox.
				for range events {
				}
				return result, err
			}
		case bundle.EventError:
			result.Processed++
			result.Failed++
			result.Errors[event.EntryName] = event.Err.Error()
		case bundle.EventComplete:
			return result, nil
		case bundle.EventFatal:
			return result, event.Err
		}
	}

	// Channel closed without a terminal event: the context was cancelled.
	return result, ctx.Err()
}

// BeginFileRequest stages a file selection and persists the resumable
// ImportRequest and its pending items. Nothing is imported yet; Run
// processes the request and can be re-invoked after a crash.
func (p *Pipeline) BeginFileRequest(paths []string) (*entities.ImportRequest, error) {
	stagingDir, err := os.MkdirTemp(p.stagingBase, "memevault-staging-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}

	items := make([]entities.ImportRequestItem, 0, len(paths))
	for _, path := range paths {
		staged := filepath.Join(stagingDir, uuid.NewString()+filepath.Ext(path))
		if err := copyFile(path, staged); err != nil {
			os.RemoveAll(stagingDir)
			return nil, fmt.Errorf("failed to stage %s: %w", path, err)
		}
		items = append(items, p.newItem(staged, filepath.Base(path), p.sidecarFor(path)))
	}

	req := &entities.ImportRequest{StagingDir: stagingDir}
	if err := p.requests.CreateImportRequest(req, items); err != nil {
		os.RemoveAll(stagingDir)
		return nil, fmt.Errorf("failed to persist import request: %w", err)
	}
	return req, nil
}

// BeginBundleRequest extracts a whole bundle into a staging directory and
// persists the resumable request. Buffered extraction is used here so that
// sidecar pairing is order-independent; per-entry extraction errors are
// returned without aborting the request.
func (p *Pipeline) BeginBundleRequest(bundlePath string) (*entities.ImportRequest, map[string]string, error) {
	stagingDir, err := os.MkdirTemp(p.stagingBase, "memevault-staging-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create staging dir: %w", err)
	}

	extractor, err := bundle.NewExtractor(stagingDir)
	if err != nil {
		os.RemoveAll(stagingDir)
		return nil, nil, err
	}

	extracted, err := extractor.ExtractAll(bundlePath)
	if err != nil {
		os.RemoveAll(stagingDir)
		return nil, nil, err
	}

	items := make([]entities.ImportRequestItem, 0, len(extracted.Units))
	for _, unit := range extracted.Units {
		items = append(items, p.newItem(unit.ImagePath, unit.FileName, unit.Metadata))
	}

	req := &entities.ImportRequest{StagingDir: stagingDir}
	if err := p.requests.CreateImportRequest(req, items); err != nil {
		os.RemoveAll(stagingDir)
		return nil, nil, fmt.Errorf("failed to persist import request: %w", err)
	}
	return req, extracted.Errors, nil
}

// Run processes every pending item of a request. Completed items are never
// reprocessed, so Run doubles as the resume entry point after process
// death. Interrupted runs leave the request pending and resumable.
func (p *Pipeline) Run(ctx context.Context, requestID uint, opts BatchOptions) (*BatchResult, error) {
	result := newBatchResult()

	items, err := p.requests.GetPendingItems(requestID)
	if err != nil {
		return result, fmt.Errorf("failed to load pending items: %w", err)
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		md := itemMetadata(item)
		ok := p.importOne(item.StagedFilePath, item.OriginalFileName, md, opts, result)

		if ok {
			if err := p.requests.MarkItemCompleted(item.ID); err != nil {
				log.Printf("Failed to mark item %d completed: %v", item.ID, err)
			}
		} else {
			if err := p.requests.MarkItemFailed(item.ID, result.Errors[item.OriginalFileName]); err != nil {
				log.Printf("Failed to mark item %d failed: %v", item.ID, err)
			}
		}

		if err := os.Remove(item.StagedFilePath); err != nil && !os.IsNotExist(err) {
			log.Printf("Failed to remove staged file %s: %v", item.StagedFilePath, err)
		}
	}

	req, err := p.requests.FinalizeRequest(requestID)
	if err != nil {
		return result, fmt.Errorf("failed to finalize request: %w", err)
	}
	if req.Status != entities.ImportStatusPending && req.StagingDir != "" {
		if err := os.RemoveAll(req.StagingDir); err != nil {
			log.Printf("Failed to remove staging dir %s: %v", req.StagingDir, err)
		}
	}

	return result, nil
}

// importOne pushes a single unit through the coordinator, branching on the
// duplicate policy. Returns whether the unit counts as handled successfully.
func (p *Pipeline) importOne(path, originalName string, md *metadata.MemeMetadata, opts BatchOptions, result *BatchResult) bool {
	result.Processed++

	hash, err := p.coordinator.HashSource(path)
	if err != nil {
		result.Failed++
		result.Errors[originalName] = err.Error()
		return false
	}

	if opts.DuplicatePolicy != DuplicateImport {
		dupID, err := p.coordinator.FindDuplicateID(hash)
		if err != nil {
			result.Failed++
			result.Errors[originalName] = err.Error()
			return false
		}
		if dupID != 0 {
			switch opts.DuplicatePolicy {
			case DuplicateSkip:
				result.SkippedDuplicates++
				return true
			case DuplicateUpdateMetadata:
				if err := p.coordinator.UpdateMetadata(dupID, md); err != nil {
					result.Failed++
					result.Errors[originalName] = err.Error()
					return false
				}
				result.UpdatedDuplicates++
				return true
			}
		}
	}

	if _, err := p.coordinator.Import(path, originalName, md); err != nil {
		result.Failed++
		result.Errors[originalName] = err.Error()
		return false
	}
	result.Succeeded++
	return true
}

// sidecarFor looks for a metadata sidecar next to a directly picked file.
func (p *Pipeline) sidecarFor(path string) *metadata.MemeMetadata {
	if p.coordinator.embedder == nil {
		return nil
	}
	md, err := p.coordinator.embedder.ReadMetadata(path)
	if err != nil {
		log.Printf("Failed to read sidecar for %s: %v", path, err)
		return nil
	}
	return md
}

func (p *Pipeline) newItem(stagedPath, originalName string, md *metadata.MemeMetadata) entities.ImportRequestItem {
	item := entities.ImportRequestItem{
		StagedFilePath:   stagedPath,
		OriginalFileName: originalName,
	}
	if md == nil {
		return item
	}

	item.Title = md.Title
	item.Description = md.Description
	item.ExtractedText = md.TextContent
	if len(md.Emojis) > 0 {
		if data, err := json.Marshal(md.Emojis); err == nil {
			item.Emojis = string(data)
		}
	}
	if data, err := json.Marshal(md); err == nil {
		item.MetadataJSON = string(data)
	}
	return item
}

func itemMetadata(item entities.ImportRequestItem) *metadata.MemeMetadata {
	if item.MetadataJSON == "" {
		return nil
	}
	md, err := metadata.Parse([]byte(item.MetadataJSON))
	if err != nil {
		log.Printf("Ignoring unreadable stored metadata for item %d: %v", item.ID, err)
		return nil
	}
	return md
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
