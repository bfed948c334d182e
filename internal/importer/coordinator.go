package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/memevault/memevault/internal/entities"
	"github.com/memevault/memevault/internal/hashing"
	"github.com/memevault/memevault/internal/images"
	"github.com/memevault/memevault/internal/metadata"
	"github.com/memevault/memevault/internal/storage"
)

var (
	// ErrUndecodableImage is terminal for one unit, never for a batch.
	ErrUndecodableImage = errors.New("undecodable image")
	// ErrPersistence wraps store failures so callers can route them.
	ErrPersistence = errors.New("persistence failure")
)

// CoordinatorConfig tunes the normalization step.
type CoordinatorConfig struct {
	MaxDimension  int
	ThumbnailSize int
	JPEGQuality   int
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		MaxDimension:  images.DefaultMaxDimension,
		ThumbnailSize: images.DefaultThumbnailSize,
		JPEGQuality:   images.DefaultJPEGQuality,
	}
}

// Coordinator runs one logical import: hash, decode, normalize, persist.
// Duplicate handling is deliberately left to callers, which branch on
// IsDuplicate / FindDuplicateID before deciding to call Import at all.
type Coordinator struct {
	store      MemeStore
	files      *storage.Storage
	recognizer TextRecognizer
	embedder   MetadataEmbedder
	embeddings EmbeddingScheduler
	config     CoordinatorConfig
}

func NewCoordinator(
	store MemeStore,
	files *storage.Storage,
	recognizer TextRecognizer,
	embedder MetadataEmbedder,
	embeddings EmbeddingScheduler,
	config CoordinatorConfig,
) *Coordinator {
	if config.MaxDimension <= 0 {
		config = DefaultCoordinatorConfig()
	}
	return &Coordinator{
		store:      store,
		files:      files,
		recognizer: recognizer,
		embedder:   embedder,
		embeddings: embeddings,
		config:     config,
	}
}

// IsDuplicate reports whether content with this hash is already persisted.
func (c *Coordinator) IsDuplicate(hash string) (bool, error) {
	return c.store.ExistsByHash(hash)
}

// FindDuplicateID returns the persisted entity id for a hash, or 0 when the
// content is new. Uses the same hash the dedup check uses, bit for bit.
func (c *Coordinator) FindDuplicateID(hash string) (uint, error) {
	meme, err := c.store.FindByHash(hash)
	if err != nil {
		return 0, err
	}
	if meme == nil {
		return 0, nil
	}
	return meme.ID, nil
}

// HashSource computes the content hash of the original, unmodified source
// bytes. This exact value is what gets persisted, regardless of any
// transcoding that happens later in the import.
func (c *Coordinator) HashSource(sourcePath string) (string, error) {
	return hashing.HashFile(sourcePath)
}

// Import runs the full import of one unit. originalName is the display name
// recorded on the entity; the stored file gets a freshly generated name.
func (c *Coordinator) Import(sourcePath, originalName string, md *metadata.MemeMetadata) (*entities.Meme, error) {
	// Step 1: hash the original bytes before anything touches them.
	contentHash, err := hashing.HashFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash source: %w", err)
	}

	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source: %w", err)
	}

	// Step 3: bounded decode. Undecodable input fails this unit only.
	f, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	raster, err := images.LoadBounded(f, c.config.MaxDimension)
	f.Close()
	if err != nil {
		if errors.Is(err, images.ErrUndecodable) {
			return nil, fmt.Errorf("%w: %s", ErrUndecodableImage, originalName)
		}
		return nil, err
	}

	mimeType := detectSourceMIME(sourcePath)

	// Best-effort perceptual fingerprint for near-duplicate detection; a
	// failure here never fails the import.
	perceptualHash, err := hashing.PerceptualHash(raster.Image)
	if err != nil {
		log.Printf("Perceptual hash failed for %s: %v", originalName, err)
		perceptualHash = 0
	}

	// Step 4: reuse caller-supplied text, otherwise run recognition on the
	// decoded raster. Recognition is best-effort.
	textContent := ""
	if md != nil {
		textContent = md.TextContent
	}
	if textContent == "" && c.recognizer != nil {
		text, rerr := c.recognizer.RecognizeText(raster.Image)
		if rerr != nil {
			log.Printf("Text recognition failed for %s: %v", originalName, rerr)
		} else {
			textContent = text
		}
	}

	// Step 5: re-encode and persist full-size plus thumbnail under a fresh
	// unique name.
	format, ext := encodeTarget(mimeType)
	fullData, err := images.Encode(raster.Image, format, c.config.JPEGQuality)
	if err != nil {
		return nil, err
	}
	thumbData, err := images.Encode(images.Thumbnail(raster.Image, c.config.ThumbnailSize), format, c.config.JPEGQuality)
	if err != nil {
		return nil, err
	}

	fileName := c.files.NewFileName(ext)
	storedPath, err := c.files.SaveImage(fileName, fullData)
	if err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}
	if _, err := c.files.SaveThumbnail(fileName, thumbData); err != nil {
		return nil, fmt.Errorf("failed to store thumbnail: %w", err)
	}

	// Step 6: best-effort metadata embedding; the database stays the
	// authoritative copy of the tags.
	if md != nil && len(md.Emojis) > 0 && c.embedder != nil {
		embedded := md.Clone()
		embedded.ContentHash = contentHash
		if err := c.embedder.WriteMetadata(storedPath, embedded); err != nil {
			log.Printf("Failed to embed metadata into %s: %v", fileName, err)
		}
	}

	// Step 7: insert the entity and its emoji rows.
	meme := buildEntity(md, entityFields{
		filePath:       storedPath,
		fileName:       originalName,
		mimeType:       mimeType,
		width:          raster.Width,
		height:         raster.Height,
		fileSizeBytes:  info.Size(),
		contentHash:    contentHash,
		perceptualHash: perceptualHash,
		textContent:    textContent,
	})

	id, err := c.store.InsertMeme(meme)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	meme.ID = id

	if md != nil && len(md.Emojis) > 0 {
		if err := c.store.InsertEmojiTags(id, md.Emojis); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}

	// Embedding generation is fire-and-forget.
	if c.embeddings != nil {
		if err := c.embeddings.ScheduleGeneration(); err != nil {
			log.Printf("Failed to schedule embedding generation: %v", err)
		}
	}

	return meme, nil
}

// UpdateMetadata refreshes the tag and text fields of an existing entity,
// preserving id, file path and content hash.
func (c *Coordinator) UpdateMetadata(memeID uint, md *metadata.MemeMetadata) error {
	if md == nil {
		return nil
	}

	existing, err := c.store.GetMemeByID(memeID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	existing.Title = md.Title
	existing.Description = md.Description
	if md.TextContent != "" {
		existing.TextContent = md.TextContent
	}
	existing.SearchPhrases = marshalStrings(md.SearchPhrases)
	existing.Localizations = marshalLocalizations(md.Localizations)
	existing.BasedOn = md.BasedOn
	existing.PrimaryLanguage = primaryLanguage(md, existing.TextContent)

	if err := c.store.UpdateMeme(existing); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := c.store.DeleteEmojiTags(memeID); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := c.store.InsertEmojiTags(memeID, md.Emojis); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if c.embeddings != nil {
		if err := c.embeddings.MarkForRegeneration(memeID); err != nil {
			log.Printf("Failed to mark meme %d for embedding regeneration: %v", memeID, err)
		}
	}
	return nil
}

type entityFields struct {
	filePath       string
	fileName       string
	mimeType       string
	width          int
	height         int
	fileSizeBytes  int64
	contentHash    string
	perceptualHash uint64
	textContent    string
}

func buildEntity(md *metadata.MemeMetadata, f entityFields) *entities.Meme {
	meme := &entities.Meme{
		FilePath:       f.filePath,
		FileName:       f.fileName,
		MimeType:       f.mimeType,
		Width:          f.width,
		Height:         f.height,
		FileSizeBytes:  f.fileSizeBytes,
		ImportedAt:     time.Now(),
		ContentHash:    f.contentHash,
		PerceptualHash: f.perceptualHash,
		TextContent:    f.textContent,
	}
	if md != nil {
		meme.Title = md.Title
		meme.Description = md.Description
		meme.SearchPhrases = marshalStrings(md.SearchPhrases)
		meme.Localizations = marshalLocalizations(md.Localizations)
		meme.BasedOn = md.BasedOn
	}
	meme.PrimaryLanguage = primaryLanguage(md, f.textContent)
	return meme
}

// primaryLanguage prefers the sidecar's declared language, falling back to
// detection over whatever text the meme carries.
func primaryLanguage(md *metadata.MemeMetadata, textContent string) string {
	if md != nil && md.PrimaryLanguage != "" {
		return md.PrimaryLanguage
	}
	parts := make([]string, 0, 3)
	if md != nil {
		if md.Title != "" {
			parts = append(parts, md.Title)
		}
		if md.Description != "" {
			parts = append(parts, md.Description)
		}
	}
	if textContent != "" {
		parts = append(parts, textContent)
	}
	return metadata.DetectLanguage(strings.Join(parts, " "))
}

func marshalStrings(values []string) string {
	if len(values) == 0 {
		return ""
	}
	data, err := json.Marshal(values)
	if err != nil {
		return ""
	}
	return string(data)
}

func marshalLocalizations(loc map[string]metadata.LocalizedFields) string {
	if len(loc) == 0 {
		return ""
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return ""
	}
	return string(data)
}

// encodeTarget picks the re-encode format: transparent-capable sources keep
// PNG, everything else becomes JPEG.
func encodeTarget(mimeType string) (format, ext string) {
	switch {
	case strings.Contains(mimeType, "png"), strings.Contains(mimeType, "gif"):
		return "png", "png"
	default:
		return "jpeg", "jpg"
	}
}

func detectSourceMIME(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()

	header := make([]byte, 512)
	n, _ := f.Read(header)
	return images.DetectMIME(header[:n])
}
