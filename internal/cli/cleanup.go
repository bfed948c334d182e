package cli

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/memevault/memevault/internal/config"
	"github.com/memevault/memevault/internal/database"
)

// CleanupCommand removes finished import requests past their retention
// period, including leftover staging directories.
type CleanupCommand struct {
	DatabasePath  string
	RetentionDays int
	DryRun        bool
}

// NewCleanupCommand creates a new CleanupCommand
func NewCleanupCommand() *CleanupCommand {
	return &CleanupCommand{}
}

// ParseFlags parses command line flags
func (cmd *CleanupCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)

	fs.StringVar(&cmd.DatabasePath, "db", config.DefaultDatabasePath, "Path to the local database file")
	fs.IntVar(&cmd.RetentionDays, "retention-days", 7, "Remove finished requests older than this many days")
	fs.BoolVar(&cmd.DryRun, "dry-run", false, "Show what would be removed without making changes")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s cleanup [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Remove finished import requests and their staging directories once the\n")
		fmt.Fprintf(os.Stderr, "retention period has passed. Pending requests are never touched.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	return fs.Parse(args)
}

// Run executes the cleanup command
func (cmd *CleanupCommand) Run() error {
	fmt.Println("🧹 Request Cleanup")
	fmt.Println("==================")

	if cmd.DryRun {
		fmt.Println("🔍 DRY RUN MODE - No changes will be made")
		fmt.Println()
	}

	db, err := database.NewDatabase(cmd.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	retention := time.Duration(cmd.RetentionDays) * 24 * time.Hour
	expired, err := db.GetExpiredRequests(retention)
	if err != nil {
		return fmt.Errorf("failed to list expired requests: %w", err)
	}

	if len(expired) == 0 {
		fmt.Println("ℹ️  Nothing to clean up")
		return nil
	}

	fmt.Printf("Found %d requests older than %d days\n\n", len(expired), cmd.RetentionDays)

	deleted := 0
	for _, req := range expired {
		if cmd.DryRun {
			fmt.Printf("  Would remove #%d (%s, created %s)\n",
				req.ID, req.Status, req.CreatedAt.Format("2006-01-02"))
			continue
		}

		if req.StagingDir != "" {
			if err := os.RemoveAll(req.StagingDir); err != nil {
				fmt.Printf("  ⚠️  Failed to remove staging dir for #%d: %v\n", req.ID, err)
			}
		}
		if err := db.DeleteImportRequest(req.ID); err != nil {
			fmt.Printf("  ❌ Failed to remove #%d: %v\n", req.ID, err)
			continue
		}
		deleted++
		fmt.Printf("  🗑️  Removed #%d\n", req.ID)
	}

	if cmd.DryRun {
		fmt.Println("\n✅ Dry run complete. Use without -dry-run to clean up.")
		return nil
	}

	fmt.Printf("\n✅ Removed %d requests\n", deleted)
	return nil
}
