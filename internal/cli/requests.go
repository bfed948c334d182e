package cli

import (
	"flag"
	"fmt"
	"os"

	"github.com/memevault/memevault/internal/config"
	"github.com/memevault/memevault/internal/database"
	"github.com/memevault/memevault/internal/entities"
)

// RequestsCommand lists import requests and their progress.
type RequestsCommand struct {
	DatabasePath string
	PendingOnly  bool
}

// NewRequestsCommand creates a new RequestsCommand
func NewRequestsCommand() *RequestsCommand {
	return &RequestsCommand{}
}

// ParseFlags parses command line flags
func (cmd *RequestsCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("requests", flag.ExitOnError)

	fs.StringVar(&cmd.DatabasePath, "db", config.DefaultDatabasePath, "Path to the local database file")
	fs.BoolVar(&cmd.PendingOnly, "pending", false, "Show only requests with unprocessed items")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s requests [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "List import requests with their progress counters.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	return fs.Parse(args)
}

// Run executes the requests command
func (cmd *RequestsCommand) Run() error {
	db, err := database.NewDatabase(cmd.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	var requests []entities.ImportRequest
	if cmd.PendingOnly {
		requests, err = db.GetPendingRequests()
	} else {
		requests, err = db.GetImportRequests()
	}
	if err != nil {
		return fmt.Errorf("failed to list requests: %w", err)
	}

	if len(requests) == 0 {
		fmt.Println("ℹ️  No import requests found")
		return nil
	}

	fmt.Printf("📋 %d import requests\n\n", len(requests))
	for _, req := range requests {
		icon := statusIcon(req.Status)
		fmt.Printf("%s #%d  %-9s  %d items, %d done, %d failed  (created %s)\n",
			icon, req.ID, req.Status, req.ImageCount, req.CompletedCount, req.FailedCount,
			req.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func statusIcon(status entities.ImportStatus) string {
	switch status {
	case entities.ImportStatusCompleted:
		return "✅"
	case entities.ImportStatusFailed:
		return "❌"
	default:
		return "⏳"
	}
}
