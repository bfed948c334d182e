package config

import (
	"time"

	"github.com/spf13/viper"
)

type (
	Config struct {
		Database
		Storage
		Import
		Watch
		Retention
		Tasks
		Global
	}

	Database struct {
		Path string
	}
	Storage struct {
		Dir        string // Library root holding memes/ and thumbnails/
		StagingDir string // Where staged batches and bundle sandboxes live
	}
	Import struct {
		MaxDimension    int    // Longest edge after normalization
		ThumbnailSize   int    // Thumbnail bounding box
		JPEGQuality     int    // Quality for JPEG re-encodes
		DuplicatePolicy string // skip, update or import
	}
	Watch struct {
		Enabled bool
		Dir     string // Drop folder scanned for new images
	}
	Retention struct {
		Enabled  bool
		Schedule string // Cron format: "30 3 * * *" = daily at 03:30
		Days     int    // Days to keep finished import requests
	}
	Tasks struct {
		Enabled           bool
		Workers           int
		MaxRetries        int
		RetryDelay        time.Duration
		TaskTimeout       time.Duration
		ReleaseAfter      time.Duration
		CleanupInterval   time.Duration
		RetentionDuration time.Duration
	}
	Global struct {
		ShutdownTimeoutInSeconds int
	}
)

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("storage_dir", DefaultStorageDir)
	v.SetDefault("staging_dir", "")
	v.SetDefault("shutdown_timeout_in_seconds", 2)

	// Import defaults
	v.SetDefault("import_max_dimension", DefaultMaxDimension)
	v.SetDefault("import_thumbnail_size", DefaultThumbnailSize)
	v.SetDefault("import_jpeg_quality", DefaultJPEGQuality)
	v.SetDefault("import_duplicate_policy", "skip")

	// Drop folder defaults
	v.SetDefault("watch_enabled", false)
	v.SetDefault("watch_dir", "")

	// Request retention defaults
	v.SetDefault("retention_enabled", true)
	v.SetDefault("retention_schedule", "30 3 * * *")
	v.SetDefault("retention_days", 7)

	// Task queue defaults
	v.SetDefault("tasks_enabled", true)
	v.SetDefault("task_workers", 2)
	v.SetDefault("task_max_retries", 3)
	v.SetDefault("task_retry_delay", "1m")
	v.SetDefault("task_timeout", "10m")
	v.SetDefault("task_release_after", "15m")
	v.SetDefault("task_cleanup_interval", "1h")
	v.SetDefault("task_retention_duration", "24h")

	return &Config{
		Database: Database{
			Path: v.GetString("DATABASE_PATH"),
		},
		Storage: Storage{
			Dir:        v.GetString("STORAGE_DIR"),
			StagingDir: v.GetString("STAGING_DIR"),
		},
		Import: Import{
			MaxDimension:    v.GetInt("IMPORT_MAX_DIMENSION"),
			ThumbnailSize:   v.GetInt("IMPORT_THUMBNAIL_SIZE"),
			JPEGQuality:     v.GetInt("IMPORT_JPEG_QUALITY"),
			DuplicatePolicy: v.GetString("IMPORT_DUPLICATE_POLICY"),
		},
		Watch: Watch{
			Enabled: v.GetBool("WATCH_ENABLED"),
			Dir:     v.GetString("WATCH_DIR"),
		},
		Retention: Retention{
			Enabled:  v.GetBool("RETENTION_ENABLED"),
			Schedule: v.GetString("RETENTION_SCHEDULE"),
			Days:     v.GetInt("RETENTION_DAYS"),
		},
		Tasks: Tasks{
			Enabled:           v.GetBool("TASKS_ENABLED"),
			Workers:           v.GetInt("TASK_WORKERS"),
			MaxRetries:        v.GetInt("TASK_MAX_RETRIES"),
			RetryDelay:        v.GetDuration("TASK_RETRY_DELAY"),
			TaskTimeout:       v.GetDuration("TASK_TIMEOUT"),
			ReleaseAfter:      v.GetDuration("TASK_RELEASE_AFTER"),
			CleanupInterval:   v.GetDuration("TASK_CLEANUP_INTERVAL"),
			RetentionDuration: v.GetDuration("TASK_RETENTION_DURATION"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
	}
}
