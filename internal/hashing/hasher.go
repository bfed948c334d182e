// Package hashing provides deterministic content addressing for imported
// images. The digest is always computed over the original source bytes, never
// over re-encoded output, so the same source yields the same hash regardless
// of any downstream format conversion.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// chunkSize is the read granularity for streaming hashing. Sources of any
// size, including zero bytes, are handled without full buffering.
const chunkSize = 8192

// Hash computes the lowercase hex SHA-256 digest of everything readable
// from r.
func Hash(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes computes the digest of an in-memory byte slice.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile computes the digest of a file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Hash(f)
}
