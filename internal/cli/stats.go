package cli

import (
	"flag"
	"fmt"
	"os"

	"github.com/memevault/memevault/internal/config"
	"github.com/memevault/memevault/internal/database"
)

// StatsCommand prints a library overview.
type StatsCommand struct {
	DatabasePath string
	Recent       int
}

// NewStatsCommand creates a new StatsCommand
func NewStatsCommand() *StatsCommand {
	return &StatsCommand{}
}

// ParseFlags parses command line flags
func (cmd *StatsCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)

	fs.StringVar(&cmd.DatabasePath, "db", config.DefaultDatabasePath, "Path to the local database file")
	fs.IntVar(&cmd.Recent, "recent", 5, "How many recent imports to list")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s stats [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Print library totals and the most recent imports.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	return fs.Parse(args)
}

// Run executes the stats command
func (cmd *StatsCommand) Run() error {
	db, err := database.NewDatabase(cmd.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	memes, tags, err := db.GetStats()
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}

	fmt.Println("📊 Library Stats")
	fmt.Println("================")
	fmt.Printf("🖼️  Memes: %d\n", memes)
	fmt.Printf("🏷️  Emoji tags: %d\n", tags)

	if cmd.Recent <= 0 || memes == 0 {
		return nil
	}

	all, err := db.GetAllMemes()
	if err != nil {
		return fmt.Errorf("failed to list memes: %w", err)
	}

	limit := cmd.Recent
	if limit > len(all) {
		limit = len(all)
	}
	fmt.Printf("\nMost recent %d imports:\n", limit)
	for _, meme := range all[:limit] {
		emojis := ""
		for _, tag := range meme.EmojiTags {
			emojis += tag.Emoji
		}
		fmt.Printf("  %s  %dx%d  %s  %s\n",
			meme.ImportedAt.Format("2006-01-02 15:04"), meme.Width, meme.Height,
			meme.FileName, emojis)
	}
	return nil
}
