package cli

import (
	"flag"
	"fmt"
	"os"

	"github.com/memevault/memevault/internal/config"
	"github.com/memevault/memevault/internal/database"
	"github.com/memevault/memevault/internal/entities"
	"github.com/memevault/memevault/internal/hashing"
	"github.com/memevault/memevault/internal/images"
	"github.com/memevault/memevault/internal/importer"
)

// DedupeCommand finds near-duplicate images across the library using the
// perceptual fingerprints recorded at import time.
type DedupeCommand struct {
	DatabasePath string
	Threshold    int
	Rehash       bool
}

// NewDedupeCommand creates a new DedupeCommand
func NewDedupeCommand() *DedupeCommand {
	return &DedupeCommand{}
}

// ParseFlags parses command line flags
func (cmd *DedupeCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("dedupe", flag.ExitOnError)

	fs.StringVar(&cmd.DatabasePath, "db", config.DefaultDatabasePath, "Path to the local database file")
	fs.IntVar(&cmd.Threshold, "threshold", importer.DefaultNearDuplicateThreshold,
		"Maximum Hamming distance between perception hashes to call two images the same")
	fs.BoolVar(&cmd.Rehash, "rehash", false, "Backfill perceptual fingerprints for memes imported without one")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s dedupe [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Scan the library for near-duplicate images. Exact duplicates are already\n")
		fmt.Fprintf(os.Stderr, "blocked at import by the content hash; this finds the rescaled and\n")
		fmt.Fprintf(os.Stderr, "re-encoded copies that slip past it, using 64-bit DCT perception hashes.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s dedupe\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s dedupe -rehash -threshold 6\n", os.Args[0])
	}

	return fs.Parse(args)
}

// Run executes the dedupe command
func (cmd *DedupeCommand) Run() error {
	fmt.Println("🔍 Near-Duplicate Scan")
	fmt.Println("======================")

	db, err := database.NewDatabase(cmd.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	memes, err := db.GetAllMemes()
	if err != nil {
		return fmt.Errorf("failed to list memes: %w", err)
	}
	if len(memes) == 0 {
		fmt.Println("ℹ️  Library is empty")
		return nil
	}

	if cmd.Rehash {
		rehashed := cmd.backfill(db, memes)
		if rehashed > 0 {
			fmt.Printf("🔁 Backfilled fingerprints for %d memes\n", rehashed)
		}
	}

	groups := importer.FindNearDuplicates(memes, cmd.Threshold)
	if len(groups) == 0 {
		fmt.Printf("✅ No near-duplicates among %d memes (threshold %d)\n", len(memes), cmd.Threshold)
		return nil
	}

	fmt.Printf("⚠️  %d near-duplicate groups (threshold %d):\n", len(groups), cmd.Threshold)
	for i, group := range groups {
		fmt.Printf("\nGroup %d:\n", i+1)
		for _, meme := range group {
			distance := hashing.HammingDistance(meme.PerceptualHash, group[0].PerceptualHash)
			fmt.Printf("  #%d  %s  %dx%d  distance %d\n",
				meme.ID, meme.FileName, meme.Width, meme.Height, distance)
		}
	}
	fmt.Println("\nReview each group and remove the copies you do not want to keep.")
	return nil
}

// backfill computes fingerprints for memes that predate perceptual hashing,
// updating both the database and the in-memory slice used for grouping.
func (cmd *DedupeCommand) backfill(db *database.Database, memes []entities.Meme) int {
	rehashed := 0
	for i := range memes {
		if memes[i].PerceptualHash != 0 {
			continue
		}

		f, err := os.Open(memes[i].FilePath)
		if err != nil {
			fmt.Printf("  ⚠️  Cannot open %s: %v\n", memes[i].FileName, err)
			continue
		}
		raster, err := images.LoadBounded(f, images.DefaultMaxDimension)
		f.Close()
		if err != nil {
			fmt.Printf("  ⚠️  Cannot decode %s: %v\n", memes[i].FileName, err)
			continue
		}

		hash, err := hashing.PerceptualHash(raster.Image)
		if err != nil {
			fmt.Printf("  ⚠️  Cannot fingerprint %s: %v\n", memes[i].FileName, err)
			continue
		}

		memes[i].PerceptualHash = hash
		if err := db.UpdateMeme(&memes[i]); err != nil {
			fmt.Printf("  ⚠️  Failed to save fingerprint for %s: %v\n", memes[i].FileName, err)
			continue
		}
		rehashed++
	}
	return rehashed
}
