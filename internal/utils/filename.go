package utils

import (
	"errors"
	"path"
	"strings"
)

var (
	// ErrUnsafeEntryName marks archive entry names that could escape the
	// extraction directory or hide from directory listings.
	ErrUnsafeEntryName = errors.New("unsafe entry name")
)

// SanitizeEntryName reduces an archive entry name to a bare, safe filename.
// Directory components are stripped; names that are empty, hidden, or still
// carry traversal sequences after stripping are rejected.
func SanitizeEntryName(name string) (string, error) {
	// Normalize Windows-style separators before taking the basename.
	normalized := strings.ReplaceAll(name, "\\", "/")
	base := path.Base(normalized)

	if base == "" || base == "." || base == ".." || base == "/" {
		return "", ErrUnsafeEntryName
	}
	if strings.HasPrefix(base, ".") {
		return "", ErrUnsafeEntryName
	}
	if strings.Contains(base, "..") || strings.ContainsAny(base, "/\\") {
		return "", ErrUnsafeEntryName
	}
	if strings.ContainsRune(base, '\x00') {
		return "", ErrUnsafeEntryName
	}
	return base, nil
}

// KnownImageExtensions is the allow-list of image payload extensions
// recognized inside a bundle.
var KnownImageExtensions = []string{
	".jpg", ".jpeg", ".png", ".webp", ".gif",
	".bmp", ".tiff", ".tif", ".heic", ".heif",
	".avif", ".jxl",
}

// HasImageExtension reports whether name ends in a recognized image
// extension, case-insensitively.
func HasImageExtension(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range KnownImageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
