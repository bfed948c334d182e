package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/memevault/memevault/internal/importer"
)

// ResumeImportTask processes the remaining pending items of a persisted
// import request. Completed items are never reprocessed, so the task is safe
// to retry after a crash or timeout.
type ResumeImportTask struct {
	RequestID uint `json:"request_id"`
}

// Config returns the queue configuration for import resume tasks.
func (t ResumeImportTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "resume_import",
		MaxAttempts: 3,
		Backoff:     2 * time.Minute,
		Timeout:     10 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// ResumeImportProcessor creates a processor function for ResumeImportTask.
func ResumeImportProcessor(pipeline *importer.Pipeline) backlite.QueueProcessor[ResumeImportTask] {
	return func(ctx context.Context, task ResumeImportTask) error {
		if pipeline == nil {
			return fmt.Errorf("import pipeline not configured")
		}

		result, err := pipeline.Run(ctx, task.RequestID, importer.DefaultBatchOptions())
		if err != nil {
			return fmt.Errorf("resume import request %d: %w", task.RequestID, err)
		}

		log.Printf("[TASK] Import request %d: %d processed, %d succeeded, %d failed, %d duplicates skipped",
			task.RequestID, result.Processed, result.Succeeded, result.Failed, result.SkippedDuplicates)
		return nil
	}
}

// NewResumeImportQueue creates a backlite queue for import resume tasks.
func NewResumeImportQueue(pipeline *importer.Pipeline) backlite.Queue {
	return backlite.NewQueue(ResumeImportProcessor(pipeline))
}
