package entities

import (
	"time"
)

type ImportStatus string

const (
	ImportStatusPending   ImportStatus = "pending"
	ImportStatusCompleted ImportStatus = "completed"
	ImportStatusFailed    ImportStatus = "failed"
)

// Meme is the persisted record for one imported image.
// ContentHash is the SHA-256 of the original source bytes and is
// unique-indexed for O(1) duplicate lookup.
type Meme struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	FilePath      string    `gorm:"size:1024" json:"file_path"`
	FileName      string    `gorm:"size:256" json:"file_name"`
	MimeType      string    `gorm:"size:64" json:"mime_type"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	FileSizeBytes int64     `json:"file_size_bytes"`
	ImportedAt    time.Time `json:"imported_at"`

	Title         string `gorm:"size:512" json:"title,omitempty"`
	Description   string `gorm:"type:text" json:"description,omitempty"`
	TextContent   string `gorm:"type:text" json:"text_content,omitempty"`
	SearchPhrases string `gorm:"type:text" json:"search_phrases,omitempty"` // JSON array
	Localizations string `gorm:"type:text" json:"localizations,omitempty"`  // JSON object keyed by language code

	ContentHash     string `gorm:"uniqueIndex;size:64" json:"content_hash"`
	PerceptualHash  uint64 `gorm:"index" json:"perceptual_hash,omitempty"` // 64-bit DCT hash of the decoded pixels
	BasedOn         string `gorm:"size:64" json:"based_on,omitempty"`      // content hash of the template this meme derives from
	PrimaryLanguage string `gorm:"size:16" json:"primary_language,omitempty"`

	EmojiTags []EmojiTag `gorm:"foreignKey:MemeID" json:"emoji_tags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmojiTag associates a single emoji with a meme. One row per emoji.
type EmojiTag struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	MemeID uint   `gorm:"index" json:"meme_id"`
	Emoji  string `gorm:"index;size:32" json:"emoji"`
}

// ImportRequest is the resumable bookkeeping record for one batch import.
// A resumed run re-reads the request and continues with items still pending.
type ImportRequest struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	Status         ImportStatus `gorm:"size:20;default:'pending'" json:"status"`
	ImageCount     int          `json:"image_count"`
	CompletedCount int          `json:"completed_count"`
	FailedCount    int          `json:"failed_count"`
	StagingDir     string       `gorm:"size:1024" json:"staging_dir"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`

	Items []ImportRequestItem `gorm:"foreignKey:RequestID" json:"items,omitempty"`
}

// ImportRequestItem is one staged unit of an ImportRequest. Status only
// moves forward: pending -> completed or pending -> failed.
type ImportRequestItem struct {
	ID               uint         `gorm:"primaryKey" json:"id"`
	RequestID        uint         `gorm:"index" json:"request_id"`
	Status           ImportStatus `gorm:"size:20;default:'pending'" json:"status"`
	StagedFilePath   string       `gorm:"size:1024" json:"staged_file_path"`
	OriginalFileName string       `gorm:"size:256" json:"original_file_name"`
	Emojis           string       `gorm:"size:512" json:"emojis,omitempty"` // JSON array
	Title            string       `gorm:"size:512" json:"title,omitempty"`
	Description      string       `gorm:"type:text" json:"description,omitempty"`
	ExtractedText    string       `gorm:"type:text" json:"extracted_text,omitempty"`
	MetadataJSON     string       `gorm:"type:text" json:"metadata_json,omitempty"`
	FailureReason    string       `gorm:"size:1024" json:"failure_reason,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func (Meme) TableName() string {
	return "memes"
}

func (EmojiTag) TableName() string {
	return "emoji_tags"
}

func (ImportRequest) TableName() string {
	return "import_requests"
}

func (ImportRequestItem) TableName() string {
	return "import_request_items"
}
