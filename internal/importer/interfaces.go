package importer

import (
	"image"

	"github.com/memevault/memevault/internal/entities"
	"github.com/memevault/memevault/internal/metadata"
)

// MemeStore is the persistence surface the coordinator needs. The database
// package satisfies it; tests use plain struct mocks.
type MemeStore interface {
	ExistsByHash(hash string) (bool, error)
	FindByHash(hash string) (*entities.Meme, error)
	GetMemeByID(id uint) (*entities.Meme, error)
	InsertMeme(meme *entities.Meme) (uint, error)
	UpdateMeme(meme *entities.Meme) error
	InsertEmojiTags(memeID uint, emojis []string) error
	DeleteEmojiTags(memeID uint) error
}

// RequestStore is the resumable-batch bookkeeping surface used by the
// pipeline.
type RequestStore interface {
	CreateImportRequest(req *entities.ImportRequest, items []entities.ImportRequestItem) error
	GetImportRequest(id uint) (*entities.ImportRequest, error)
	GetPendingItems(requestID uint) ([]entities.ImportRequestItem, error)
	MarkItemCompleted(itemID uint) error
	MarkItemFailed(itemID uint, reason string) error
	FinalizeRequest(requestID uint) (*entities.ImportRequest, error)
}

// TextRecognizer extracts visible text from a decoded raster. The on-device
// model behind it is out of scope; failures are best-effort.
type TextRecognizer interface {
	RecognizeText(img image.Image) (string, error)
}

// MetadataEmbedder reads and writes a metadata record attached to an image
// file on disk.
type MetadataEmbedder interface {
	WriteMetadata(filePath string, md *metadata.MemeMetadata) error
	ReadMetadata(sourcePath string) (*metadata.MemeMetadata, error)
}

// EmbeddingScheduler requests asynchronous embedding-vector generation.
// Fire-and-forget: the import never waits on it.
type EmbeddingScheduler interface {
	ScheduleGeneration() error
	MarkForRegeneration(memeID uint) error
}

// NopTextRecognizer satisfies TextRecognizer without a model.
type NopTextRecognizer struct{}

func (NopTextRecognizer) RecognizeText(image.Image) (string, error) { return "", nil }

// NopEmbeddingScheduler satisfies EmbeddingScheduler without a queue.
type NopEmbeddingScheduler struct{}

func (NopEmbeddingScheduler) ScheduleGeneration() error      { return nil }
func (NopEmbeddingScheduler) MarkForRegeneration(uint) error { return nil }

// DuplicatePolicy decides what happens when a source's content hash already
// exists in the store.
type DuplicatePolicy string

const (
	// DuplicateImport imports anyway. The unique index on the hash will
	// reject an exact re-insert; use for stores without the index.
	DuplicateImport DuplicatePolicy = "import"
	// DuplicateSkip leaves the existing entity untouched.
	DuplicateSkip DuplicatePolicy = "skip"
	// DuplicateUpdateMetadata refreshes the existing entity's emoji tags
	// and text fields, preserving id, file path and content hash.
	DuplicateUpdateMetadata DuplicatePolicy = "update"
)
