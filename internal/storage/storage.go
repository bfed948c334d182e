// Package storage persists normalized images and their thumbnails under the
// local library directory. Stored filenames are freshly generated, never the
// source filename, so bundle entries can never collide with or overwrite
// library content.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

type Storage struct {
	memesDir  string
	thumbsDir string
}

// NewStorage creates the library layout under baseDir.
func NewStorage(baseDir string) (*Storage, error) {
	s := &Storage{
		memesDir:  filepath.Join(baseDir, "memes"),
		thumbsDir: filepath.Join(baseDir, "thumbnails"),
	}
	for _, dir := range []string{s.memesDir, s.thumbsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage dir %s: %w", dir, err)
		}
	}
	return s, nil
}

// NewFileName generates a unique stored filename with the given extension
// (without dot).
func (s *Storage) NewFileName(ext string) string {
	return fmt.Sprintf("%s.%s", uuid.NewString(), ext)
}

// SaveImage writes the full-size image bytes under fileName and returns the
// absolute path.
func (s *Storage) SaveImage(fileName string, data []byte) (string, error) {
	return s.write(s.memesDir, fileName, data)
}

// SaveThumbnail writes thumbnail bytes under the same fileName in the
// thumbnail directory.
func (s *Storage) SaveThumbnail(fileName string, data []byte) (string, error) {
	return s.write(s.thumbsDir, fileName, data)
}

// Delete removes a stored image and its thumbnail, ignoring files already
// gone.
func (s *Storage) Delete(fileName string) error {
	for _, dir := range []string{s.memesDir, s.thumbsDir} {
		if err := os.Remove(filepath.Join(dir, fileName)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// MemesDir returns the full-size image directory.
func (s *Storage) MemesDir() string {
	return s.memesDir
}

// ThumbnailsDir returns the thumbnail directory.
func (s *Storage) ThumbnailsDir() string {
	return s.thumbsDir
}

// write lands data atomically: temp file in the destination directory, then
// rename.
func (s *Storage) write(dir, fileName string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, "store_tmp_")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", fileName, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	dest := filepath.Join(dir, fileName)
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", err
	}
	return dest, nil
}
