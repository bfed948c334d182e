package cli

import (
	"fmt"
	"path/filepath"

	"github.com/memevault/memevault/internal/database"
	"github.com/memevault/memevault/internal/importer"
	"github.com/memevault/memevault/internal/metadata"
	"github.com/memevault/memevault/internal/storage"
)

// stack bundles the pieces every import command needs: the database, the
// library storage and the pipeline wired on top of them.
type stack struct {
	db       *database.Database
	files    *storage.Storage
	pipeline *importer.Pipeline
}

func openStack(dbPath, storageDir, stagingDir string, cfg importer.CoordinatorConfig) (*stack, error) {
	absDBPath, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for database: %w", err)
	}

	db, err := database.NewDatabase(absDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	files, err := storage.NewStorage(storageDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	coordinator := importer.NewCoordinator(
		db,
		files,
		importer.NopTextRecognizer{},
		metadata.NewSidecarEmbedder(),
		importer.NopEmbeddingScheduler{},
		cfg,
	)
	pipeline := importer.NewPipeline(coordinator, db, stagingDir)

	return &stack{db: db, files: files, pipeline: pipeline}, nil
}

func (s *stack) Close() {
	s.db.Close()
}

// parsePolicy maps the -on-duplicate flag value to a duplicate policy.
func parsePolicy(value string) (importer.DuplicatePolicy, error) {
	switch value {
	case "skip", "":
		return importer.DuplicateSkip, nil
	case "update":
		return importer.DuplicateUpdateMetadata, nil
	case "import":
		return importer.DuplicateImport, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q (expected skip, update or import)", value)
	}
}

// printBatchResult renders a batch summary in a consistent shape across
// commands.
func printBatchResult(result *importer.BatchResult) {
	fmt.Println("\n=== Import Summary ===")
	fmt.Printf("🖼️  Processed: %d\n", result.Processed)
	fmt.Printf("✅ Imported: %d\n", result.Succeeded)
	if result.SkippedDuplicates > 0 {
		fmt.Printf("♻️  Duplicates skipped: %d\n", result.SkippedDuplicates)
	}
	if result.UpdatedDuplicates > 0 {
		fmt.Printf("🔄 Duplicates updated: %d\n", result.UpdatedDuplicates)
	}
	if result.Failed > 0 {
		fmt.Printf("\n⚠️  %d failures:\n", result.Failed)
		for name, msg := range result.Errors {
			fmt.Printf("  ❌ %s: %s\n", name, msg)
		}
	}
}
