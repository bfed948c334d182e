package database

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/memevault/memevault/internal/entities"
)

// ErrItemNotPending is returned when a status update targets an item that
// already reached a terminal state. Item status only moves forward.
var ErrItemNotPending = errors.New("import request item is not pending")

type Database struct {
	DB *gorm.DB
}

func NewDatabase(dbPath string) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto-migrate all entities
	err = db.AutoMigrate(
		&entities.Meme{},
		&entities.EmojiTag{},
		&entities.ImportRequest{},
		&entities.ImportRequestItem{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Printf("Database initialized at %s", dbPath)

	return &Database{DB: db}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ExistsByHash reports whether a meme with the given content hash is already
// persisted. Must agree bit-for-bit with FindByHash.
func (d *Database) ExistsByHash(hash string) (bool, error) {
	var count int64
	err := d.DB.Model(&entities.Meme{}).Where("content_hash = ?", hash).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (d *Database) FindByHash(hash string) (*entities.Meme, error) {
	var meme entities.Meme
	err := d.DB.Preload("EmojiTags").Where("content_hash = ?", hash).First(&meme).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &meme, nil
}

func (d *Database) InsertMeme(meme *entities.Meme) (uint, error) {
	if err := d.DB.Omit("EmojiTags").Create(meme).Error; err != nil {
		return 0, err
	}
	return meme.ID, nil
}

func (d *Database) UpdateMeme(meme *entities.Meme) error {
	return d.DB.Omit("EmojiTags").Save(meme).Error
}

func (d *Database) GetMemeByID(id uint) (*entities.Meme, error) {
	var meme entities.Meme
	err := d.DB.Preload("EmojiTags").First(&meme, id).Error
	if err != nil {
		return nil, err
	}
	return &meme, nil
}

func (d *Database) GetAllMemes() ([]entities.Meme, error) {
	var memes []entities.Meme
	err := d.DB.Preload("EmojiTags").Order("imported_at DESC").Find(&memes).Error
	return memes, err
}

func (d *Database) DeleteMeme(id uint) error {
	if err := d.DeleteEmojiTags(id); err != nil {
		return err
	}
	return d.DB.Delete(&entities.Meme{}, id).Error
}

func (d *Database) InsertEmojiTags(memeID uint, emojis []string) error {
	if len(emojis) == 0 {
		return nil
	}
	rows := make([]entities.EmojiTag, 0, len(emojis))
	for _, e := range emojis {
		rows = append(rows, entities.EmojiTag{MemeID: memeID, Emoji: e})
	}
	return d.DB.Create(&rows).Error
}

func (d *Database) DeleteEmojiTags(memeID uint) error {
	return d.DB.Where("meme_id = ?", memeID).Delete(&entities.EmojiTag{}).Error
}

func (d *Database) GetStats() (totalMemes int64, totalTags int64, err error) {
	err = d.DB.Model(&entities.Meme{}).Count(&totalMemes).Error
	if err != nil {
		return
	}
	err = d.DB.Model(&entities.EmojiTag{}).Count(&totalTags).Error
	return
}

// CreateImportRequest persists a request and its items in one transaction.
// Items start pending; the request's aggregate counts start at zero.
func (d *Database) CreateImportRequest(req *entities.ImportRequest, items []entities.ImportRequestItem) error {
	return d.DB.Transaction(func(tx *gorm.DB) error {
		req.Status = entities.ImportStatusPending
		req.ImageCount = len(items)
		if err := tx.Create(req).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].RequestID = req.ID
			items[i].Status = entities.ImportStatusPending
		}
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Database) GetImportRequest(id uint) (*entities.ImportRequest, error) {
	var req entities.ImportRequest
	err := d.DB.First(&req, id).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (d *Database) GetImportRequests() ([]entities.ImportRequest, error) {
	var reqs []entities.ImportRequest
	err := d.DB.Order("created_at DESC").Find(&reqs).Error
	return reqs, err
}

func (d *Database) GetPendingRequests() ([]entities.ImportRequest, error) {
	var reqs []entities.ImportRequest
	err := d.DB.Where("status = ?", entities.ImportStatusPending).
		Order("created_at ASC").Find(&reqs).Error
	return reqs, err
}

// GetPendingItems returns only items still awaiting processing, so a resumed
// run never reprocesses completed work.
func (d *Database) GetPendingItems(requestID uint) ([]entities.ImportRequestItem, error) {
	var items []entities.ImportRequestItem
	err := d.DB.Where("request_id = ? AND status = ?", requestID, entities.ImportStatusPending).
		Order("id ASC").Find(&items).Error
	return items, err
}

func (d *Database) MarkItemCompleted(itemID uint) error {
	return d.finishItem(itemID, entities.ImportStatusCompleted, "")
}

func (d *Database) MarkItemFailed(itemID uint, reason string) error {
	return d.finishItem(itemID, entities.ImportStatusFailed, reason)
}

// finishItem transitions an item out of pending and bumps the request's
// aggregate counter in the same transaction. The WHERE guard on status keeps
// the transition forward-only.
func (d *Database) finishItem(itemID uint, status entities.ImportStatus, reason string) error {
	return d.DB.Transaction(func(tx *gorm.DB) error {
		var item entities.ImportRequestItem
		if err := tx.First(&item, itemID).Error; err != nil {
			return err
		}

		updates := map[string]any{"status": status}
		if reason != "" {
			updates["failure_reason"] = reason
		}
		res := tx.Model(&entities.ImportRequestItem{}).
			Where("id = ? AND status = ?", itemID, entities.ImportStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrItemNotPending
		}

		counter := "completed_count"
		if status == entities.ImportStatusFailed {
			counter = "failed_count"
		}
		return tx.Model(&entities.ImportRequest{}).
			Where("id = ?", item.RequestID).
			Updates(map[string]any{
				counter:      gorm.Expr(counter + " + 1"),
				"updated_at": time.Now(),
			}).Error
	})
}

// FinalizeRequest sets the terminal status once every item has been
// processed: completed if at least one item succeeded, failed otherwise.
// Requests with items still pending are left untouched.
func (d *Database) FinalizeRequest(requestID uint) (*entities.ImportRequest, error) {
	req, err := d.GetImportRequest(requestID)
	if err != nil {
		return nil, err
	}

	if req.CompletedCount+req.FailedCount < req.ImageCount {
		return req, nil
	}

	status := entities.ImportStatusFailed
	if req.CompletedCount > 0 {
		status = entities.ImportStatusCompleted
	}
	if err := d.DB.Model(req).Update("status", status).Error; err != nil {
		return nil, err
	}
	req.Status = status
	return req, nil
}

// GetExpiredRequests returns terminal requests older than the retention
// period, for the cleanup task to prune alongside their staging directories.
func (d *Database) GetExpiredRequests(retention time.Duration) ([]entities.ImportRequest, error) {
	cutoff := time.Now().Add(-retention)
	var reqs []entities.ImportRequest
	err := d.DB.Where("status IN ? AND updated_at < ?",
		[]entities.ImportStatus{entities.ImportStatusCompleted, entities.ImportStatusFailed}, cutoff).
		Find(&reqs).Error
	return reqs, err
}

func (d *Database) DeleteImportRequest(id uint) error {
	return d.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("request_id = ?", id).Delete(&entities.ImportRequestItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&entities.ImportRequest{}, id).Error
	})
}
