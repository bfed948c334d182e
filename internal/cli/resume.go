package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/memevault/memevault/internal/config"
	"github.com/memevault/memevault/internal/entities"
	"github.com/memevault/memevault/internal/importer"
)

// ResumeCommand continues an interrupted import request.
type ResumeCommand struct {
	DatabasePath string
	StorageDir   string
	StagingDir   string
	OnDuplicate  string
	RequestID    uint
	All          bool
}

// NewResumeCommand creates a new ResumeCommand
func NewResumeCommand() *ResumeCommand {
	return &ResumeCommand{}
}

// ParseFlags parses command line flags
func (cmd *ResumeCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)

	var requestID uint64
	fs.StringVar(&cmd.DatabasePath, "db", config.DefaultDatabasePath, "Path to the local database file")
	fs.StringVar(&cmd.StorageDir, "storage", config.DefaultStorageDir, "Library directory for stored images")
	fs.StringVar(&cmd.StagingDir, "staging", "", "Staging directory (temp dir if empty)")
	fs.StringVar(&cmd.OnDuplicate, "on-duplicate", "skip", "What to do with already-imported content: skip, update or import")
	fs.Uint64Var(&requestID, "id", 0, "Import request to resume")
	fs.BoolVar(&cmd.All, "all", false, "Resume every pending import request")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s resume [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Continue an interrupted import request. Items that already completed\n")
		fmt.Fprintf(os.Stderr, "are never reprocessed.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s resume -id 42\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s resume -all\n", os.Args[0])
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	cmd.RequestID = uint(requestID)
	if cmd.RequestID == 0 && !cmd.All {
		return fmt.Errorf("either -id or -all is required")
	}
	return nil
}

// Run executes the resume command
func (cmd *ResumeCommand) Run() error {
	fmt.Println("▶️  Resume Import")
	fmt.Println("================")

	policy, err := parsePolicy(cmd.OnDuplicate)
	if err != nil {
		return err
	}

	stack, err := openStack(cmd.DatabasePath, cmd.StorageDir, cmd.StagingDir, importer.DefaultCoordinatorConfig())
	if err != nil {
		return err
	}
	defer stack.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := importer.BatchOptions{DuplicatePolicy: policy}

	var requests []entities.ImportRequest
	if cmd.All {
		requests, err = stack.db.GetPendingRequests()
		if err != nil {
			return fmt.Errorf("failed to list pending requests: %w", err)
		}
		if len(requests) == 0 {
			fmt.Println("ℹ️  No pending import requests")
			return nil
		}
	} else {
		req, err := stack.db.GetImportRequest(cmd.RequestID)
		if err != nil {
			return fmt.Errorf("failed to load request %d: %w", cmd.RequestID, err)
		}
		if req.Status != entities.ImportStatusPending {
			fmt.Printf("ℹ️  Request %d is already %s\n", req.ID, req.Status)
			return nil
		}
		requests = []entities.ImportRequest{*req}
	}

	for _, req := range requests {
		fmt.Printf("\n📋 Request %d (%d items, %d done, %d failed)\n",
			req.ID, req.ImageCount, req.CompletedCount, req.FailedCount)

		result, err := stack.pipeline.Run(ctx, req.ID, opts)
		printBatchResult(result)
		if err != nil {
			fmt.Printf("\n⏸️  Interrupted. Resume again with: %s resume -id %d\n", os.Args[0], req.ID)
			return err
		}
	}

	fmt.Println("\n✅ Resume complete!")
	return nil
}
