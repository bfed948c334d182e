package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/memevault/memevault/internal/bundle"
	"github.com/memevault/memevault/internal/config"
	"github.com/memevault/memevault/internal/importer"
)

// ImportBundleCommand imports a ZIP bundle of images and metadata sidecars.
type ImportBundleCommand struct {
	DatabasePath string
	StorageDir   string
	StagingDir   string
	OnDuplicate  string
	Resumable    bool
	Verbose      bool

	BundlePath string
}

// NewImportBundleCommand creates a new ImportBundleCommand
func NewImportBundleCommand() *ImportBundleCommand {
	return &ImportBundleCommand{}
}

// ParseFlags parses command line flags
func (cmd *ImportBundleCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("import-bundle", flag.ExitOnError)

	fs.StringVar(&cmd.DatabasePath, "db", config.DefaultDatabasePath, "Path to the local database file")
	fs.StringVar(&cmd.StorageDir, "storage", config.DefaultStorageDir, "Library directory for stored images")
	fs.StringVar(&cmd.StagingDir, "staging", "", "Staging directory for extraction (temp dir if empty)")
	fs.StringVar(&cmd.OnDuplicate, "on-duplicate", "skip", "What to do with already-imported content: skip, update or import")
	fs.BoolVar(&cmd.Resumable, "resumable", false, "Extract everything first and record a resumable import request")
	fs.BoolVar(&cmd.Verbose, "verbose", false, "Enable verbose logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s import-bundle [options] <bundle.zip>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Import a ZIP bundle of images with optional metadata sidecars\n")
		fmt.Fprintf(os.Stderr, "(photo.jpg paired with photo.jpg.json). Entries are extracted into a\n")
		fmt.Fprintf(os.Stderr, "sandbox, validated against path traversal and size limits, then\n")
		fmt.Fprintf(os.Stderr, "imported one by one. A bad entry fails only itself.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Stream a bundle into the library:\n")
		fmt.Fprintf(os.Stderr, "  %s import-bundle memes-2024.zip\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Large bundle, survive interruption:\n")
		fmt.Fprintf(os.Stderr, "  %s import-bundle -resumable huge-collection.zip\n", os.Args[0])
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one bundle path")
	}
	cmd.BundlePath = fs.Arg(0)
	return nil
}

// Run executes the bundle import command
func (cmd *ImportBundleCommand) Run() error {
	fmt.Println("📦 Bundle Import")
	fmt.Println("================")

	policy, err := parsePolicy(cmd.OnDuplicate)
	if err != nil {
		return err
	}

	if _, err := os.Stat(cmd.BundlePath); err != nil {
		return fmt.Errorf("cannot read bundle: %w", err)
	}
	if !bundle.IsBundle(cmd.BundlePath) {
		return fmt.Errorf("%s does not look like a ZIP bundle", filepath.Base(cmd.BundlePath))
	}

	stack, err := openStack(cmd.DatabasePath, cmd.StorageDir, cmd.StagingDir, importer.DefaultCoordinatorConfig())
	if err != nil {
		return err
	}
	defer stack.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := importer.BatchOptions{DuplicatePolicy: policy}
	fmt.Printf("📥 Importing %s...\n", filepath.Base(cmd.BundlePath))

	if cmd.Resumable {
		req, extractErrors, err := stack.pipeline.BeginBundleRequest(cmd.BundlePath)
		if err != nil {
			return fmt.Errorf("failed to extract bundle: %w", err)
		}
		fmt.Printf("📋 Import request %d created with %d items\n", req.ID, req.ImageCount)
		if len(extractErrors) > 0 {
			fmt.Printf("\n⚠️  %d entries were rejected during extraction:\n", len(extractErrors))
			for name, msg := range extractErrors {
				fmt.Printf("  ❌ %s: %s\n", name, msg)
			}
		}

		result, err := stack.pipeline.Run(ctx, req.ID, opts)
		printBatchResult(result)
		if err != nil {
			fmt.Printf("\n⏸️  Interrupted. Resume with: %s resume -id %d\n", os.Args[0], req.ID)
			return err
		}
		fmt.Println("\n✅ Import complete!")
		return nil
	}

	result, err := stack.pipeline.ImportBundle(ctx, cmd.BundlePath, opts)
	printBatchResult(result)
	if err != nil {
		return err
	}
	fmt.Println("\n✅ Import complete!")
	return nil
}
