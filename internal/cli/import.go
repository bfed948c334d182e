package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/memevault/memevault/internal/config"
	"github.com/memevault/memevault/internal/importer"
	"github.com/memevault/memevault/internal/utils"
)

// ImportCommand imports image files straight into the library.
type ImportCommand struct {
	DatabasePath string
	StorageDir   string
	StagingDir   string
	OnDuplicate  string
	MaxDimension int
	Resumable    bool
	Verbose      bool

	Paths []string
}

// NewImportCommand creates a new ImportCommand
func NewImportCommand() *ImportCommand {
	return &ImportCommand{}
}

// ParseFlags parses command line flags
func (cmd *ImportCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)

	fs.StringVar(&cmd.DatabasePath, "db", config.DefaultDatabasePath, "Path to the local database file")
	fs.StringVar(&cmd.StorageDir, "storage", config.DefaultStorageDir, "Library directory for stored images")
	fs.StringVar(&cmd.StagingDir, "staging", "", "Staging directory for resumable imports (temp dir if empty)")
	fs.StringVar(&cmd.OnDuplicate, "on-duplicate", "skip", "What to do with already-imported content: skip, update or import")
	fs.IntVar(&cmd.MaxDimension, "max-dimension", config.DefaultMaxDimension, "Longest edge after normalization")
	fs.BoolVar(&cmd.Resumable, "resumable", false, "Stage files and record a resumable import request before processing")
	fs.BoolVar(&cmd.Verbose, "verbose", false, "Enable verbose logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s import [options] <file>...\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Import image files into the meme library. Each file is validated,\n")
		fmt.Fprintf(os.Stderr, "deduplicated by content hash and normalized before storage. A metadata\n")
		fmt.Fprintf(os.Stderr, "sidecar next to a file (photo.jpg.json for photo.jpg) is picked up\n")
		fmt.Fprintf(os.Stderr, "automatically.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Import a few files, skipping known content:\n")
		fmt.Fprintf(os.Stderr, "  %s import cat.jpg dog.png\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Refresh tags on files already in the library:\n")
		fmt.Fprintf(os.Stderr, "  %s import -on-duplicate update tagged/*.jpg\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Stage a large batch so it survives interruption:\n")
		fmt.Fprintf(os.Stderr, "  %s import -resumable ~/Downloads/memes/*.png\n", os.Args[0])
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	cmd.Paths = fs.Args()
	if len(cmd.Paths) == 0 {
		return fmt.Errorf("no files to import")
	}
	return nil
}

// Run executes the import command
func (cmd *ImportCommand) Run() error {
	fmt.Println("🖼️  Meme Import")
	fmt.Println("===============")

	policy, err := parsePolicy(cmd.OnDuplicate)
	if err != nil {
		return err
	}

	paths := make([]string, 0, len(cmd.Paths))
	for _, path := range cmd.Paths {
		if !utils.HasImageExtension(path) {
			fmt.Printf("⚠️  Skipping %s: not a recognized image extension\n", filepath.Base(path))
			continue
		}
		paths = append(paths, path)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no importable files in selection")
	}

	cfg := importer.DefaultCoordinatorConfig()
	cfg.MaxDimension = cmd.MaxDimension

	stack, err := openStack(cmd.DatabasePath, cmd.StorageDir, cmd.StagingDir, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := importer.BatchOptions{DuplicatePolicy: policy}

	if cmd.Resumable {
		req, err := stack.pipeline.BeginFileRequest(paths)
		if err != nil {
			return fmt.Errorf("failed to create import request: %w", err)
		}
		fmt.Printf("📋 Import request %d created with %d items\n\n", req.ID, len(paths))

		result, err := stack.pipeline.Run(ctx, req.ID, opts)
		printBatchResult(result)
		if err != nil {
			fmt.Printf("\n⏸️  Interrupted. Resume with: %s resume -id %d\n", os.Args[0], req.ID)
			return err
		}
		fmt.Println("\n✅ Import complete!")
		return nil
	}

	fmt.Printf("📥 Importing %d files...\n", len(paths))
	result, err := stack.pipeline.ImportFiles(ctx, paths, opts)
	printBatchResult(result)
	if err != nil {
		return err
	}
	fmt.Println("\n✅ Import complete!")
	return nil
}
