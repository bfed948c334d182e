package config

// Default paths and normalization knobs
const (
	// DefaultDatabasePath is the default path for the main application database
	DefaultDatabasePath = "./memevault.db"

	// DefaultStorageDir is the default library root for stored images
	DefaultStorageDir = "./library"

	// DefaultMaxDimension bounds the longest edge of normalized images
	DefaultMaxDimension = 2048

	// DefaultThumbnailSize bounds thumbnail edges
	DefaultThumbnailSize = 256

	// DefaultJPEGQuality is the quality used for JPEG re-encodes
	DefaultJPEGQuality = 90
)
