package tasks

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/memevault/memevault/internal/entities"
)

// RequestCleaner provides access to finished import requests that have
// outlived their retention period.
type RequestCleaner interface {
	GetExpiredRequests(retention time.Duration) ([]entities.ImportRequest, error)
	DeleteImportRequest(id uint) error
}

// CleanupRequestsTask removes finished import requests, their item rows and
// any leftover staging directories once the retention period has passed.
type CleanupRequestsTask struct {
	RetentionDays int `json:"retention_days"`
}

// Config returns the queue configuration for request cleanup tasks.
func (t CleanupRequestsTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "cleanup_requests",
		MaxAttempts: 3,
		Backoff:     5 * time.Minute,
		Timeout:     2 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// CleanupRequestsProcessor creates a processor function for CleanupRequestsTask.
func CleanupRequestsProcessor(cleaner RequestCleaner) backlite.QueueProcessor[CleanupRequestsTask] {
	return func(ctx context.Context, task CleanupRequestsTask) error {
		if cleaner == nil {
			return fmt.Errorf("request cleaner not configured")
		}

		retentionDays := task.RetentionDays
		if retentionDays <= 0 {
			retentionDays = 7
		}
		retention := time.Duration(retentionDays) * 24 * time.Hour

		expired, err := cleaner.GetExpiredRequests(retention)
		if err != nil {
			return fmt.Errorf("list expired requests: %w", err)
		}

		deleted := 0
		for _, req := range expired {
			if req.StagingDir != "" {
				if err := os.RemoveAll(req.StagingDir); err != nil {
					log.Printf("[TASK] Failed to remove staging dir %s: %v", req.StagingDir, err)
				}
			}
			if err := cleaner.DeleteImportRequest(req.ID); err != nil {
				log.Printf("[TASK] Failed to delete import request %d: %v", req.ID, err)
				continue
			}
			deleted++
		}

		log.Printf("[TASK] Cleaned up %d import requests older than %d days", deleted, retentionDays)
		return nil
	}
}

// NewCleanupRequestsQueue creates a backlite queue for request cleanup tasks.
func NewCleanupRequestsQueue(cleaner RequestCleaner) backlite.Queue {
	return backlite.NewQueue(CleanupRequestsProcessor(cleaner))
}
