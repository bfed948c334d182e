// Package entrypoint wires the long-running daemon: database, storage,
// import pipeline, task queue, drop-folder watcher and retention scheduler.
package entrypoint

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/memevault/memevault/internal/config"
	"github.com/memevault/memevault/internal/database"
	"github.com/memevault/memevault/internal/importer"
	"github.com/memevault/memevault/internal/metadata"
	"github.com/memevault/memevault/internal/scheduler"
	"github.com/memevault/memevault/internal/storage"
	"github.com/memevault/memevault/internal/tasks"
	"github.com/memevault/memevault/internal/watcher"
)

// Run starts the daemon and blocks until SIGINT or SIGTERM.
func Run(cfg *config.Config, version string) {
	log.Printf("Starting MemeVault v%s", version)

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	files, err := storage.NewStorage(cfg.Storage.Dir)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	log.Printf("Library storage at %s", cfg.Storage.Dir)

	if memes, tags, err := db.GetStats(); err != nil {
		log.Printf("Failed to read library stats: %v", err)
	} else {
		log.Printf("Library contains %d memes with %d emoji tags", memes, tags)
	}

	policy, err := duplicatePolicy(cfg.Import.DuplicatePolicy)
	if err != nil {
		log.Fatalf("Invalid import configuration: %v", err)
	}

	coordinatorCfg := importer.CoordinatorConfig{
		MaxDimension:  cfg.Import.MaxDimension,
		ThumbnailSize: cfg.Import.ThumbnailSize,
		JPEGQuality:   cfg.Import.JPEGQuality,
	}

	// Initialize task queue if enabled
	var taskClient *tasks.Client
	var taskCtxCancel context.CancelFunc
	var embeddings importer.EmbeddingScheduler = importer.NopEmbeddingScheduler{}
	if cfg.Tasks.Enabled {
		taskCfg := tasks.Config{
			Workers:           cfg.Tasks.Workers,
			MaxRetries:        cfg.Tasks.MaxRetries,
			RetryDelay:        cfg.Tasks.RetryDelay,
			TaskTimeout:       cfg.Tasks.TaskTimeout,
			ReleaseAfter:      cfg.Tasks.ReleaseAfter,
			CleanupInterval:   cfg.Tasks.CleanupInterval,
			RetentionDuration: cfg.Tasks.RetentionDuration,
		}

		taskClient, err = tasks.NewClient(cfg.Database.Path, taskCfg)
		if err != nil {
			log.Fatalf("Failed to initialize task queue: %v", err)
		}
		defer func() {
			if err := taskClient.Close(); err != nil {
				log.Printf("Error closing task client: %v", err)
			}
		}()
		embeddings = tasks.NewEmbeddingScheduler(taskClient)
	}

	coordinator := importer.NewCoordinator(
		db,
		files,
		importer.NopTextRecognizer{},
		metadata.NewSidecarEmbedder(),
		embeddings,
		coordinatorCfg,
	)
	pipeline := importer.NewPipeline(coordinator, db, cfg.Storage.StagingDir)

	if taskClient != nil {
		taskClient.Register(
			tasks.NewResumeImportQueue(pipeline),
			tasks.NewCleanupRequestsQueue(db),
			tasks.NewGenerateEmbeddingsQueue(nil),
		)

		var taskCtx context.Context
		taskCtx, taskCtxCancel = context.WithCancel(context.Background())
		go taskClient.Start(taskCtx)

		// Re-enqueue requests left pending by a previous run.
		if pending, err := db.GetPendingRequests(); err != nil {
			log.Printf("Failed to list pending import requests: %v", err)
		} else {
			for _, req := range pending {
				if _, err := taskClient.Add(tasks.ResumeImportTask{RequestID: req.ID}).Save(); err != nil {
					log.Printf("Failed to enqueue resume of request %d: %v", req.ID, err)
				} else {
					log.Printf("Queued resume of import request %d (%d items)", req.ID, req.ImageCount)
				}
			}
		}
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Retention scheduler
	retention := scheduler.NewRetentionScheduler(db, cfg.Retention)
	if err := retention.Start(rootCtx); err != nil {
		log.Fatalf("Failed to start retention scheduler: %v", err)
	}

	// Drop folder watcher
	var dropWatcher *watcher.DropFolderWatcher
	if cfg.Watch.Enabled {
		dropWatcher = watcher.NewDropFolderWatcher(pipeline, cfg.Watch.Dir, importer.BatchOptions{DuplicatePolicy: policy})
		if err := dropWatcher.Start(rootCtx); err != nil {
			log.Fatalf("Failed to start drop folder watcher: %v", err)
		}
	}

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second
	log.Printf("Shutting down, waiting up to %v for active work", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if dropWatcher != nil {
		dropWatcher.Stop()
	}
	retention.Stop()
	if taskClient != nil && taskCtxCancel != nil {
		taskClient.Stop(ctx)
		taskCtxCancel()
	}
	rootCancel()

	log.Println("Daemon exiting")
}

func duplicatePolicy(value string) (importer.DuplicatePolicy, error) {
	switch value {
	case "skip", "":
		return importer.DuplicateSkip, nil
	case "update":
		return importer.DuplicateUpdateMetadata, nil
	case "import":
		return importer.DuplicateImport, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q", value)
	}
}
