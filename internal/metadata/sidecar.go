package metadata

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SidecarEmbedder persists metadata as a JSON sidecar file next to a stored
// image. It is the production metadata-embedding collaborator: writing is
// best-effort during import since the authoritative copy of the tags lives
// in the database.
type SidecarEmbedder struct{}

func NewSidecarEmbedder() *SidecarEmbedder {
	return &SidecarEmbedder{}
}

// WriteMetadata writes the sidecar for the image at filePath. An existing
// sidecar is replaced atomically.
func (e *SidecarEmbedder) WriteMetadata(filePath string, md *MemeMetadata) error {
	data, err := Encode(md)
	if err != nil {
		return err
	}

	sidecarPath := SidecarName(filePath)
	tmp, err := os.CreateTemp(filepath.Dir(filePath), "sidecar_tmp_")
	if err != nil {
		return fmt.Errorf("failed to create sidecar temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, sidecarPath)
}

// ReadMetadata reads the sidecar for an image source, if one exists.
// A missing sidecar is not an error; it returns (nil, nil).
func (e *SidecarEmbedder) ReadMetadata(sourcePath string) (*MemeMetadata, error) {
	f, err := os.Open(SidecarName(sourcePath))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
