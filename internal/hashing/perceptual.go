package hashing

import (
	"image"
	"math/bits"

	"github.com/corona10/goimagehash"
)

// PerceptualHash computes the 64-bit DCT perception hash of a decoded image.
// Unlike the content hash it survives re-encoding, scaling and small edits,
// which makes it usable for near-duplicate detection across the library.
func PerceptualHash(img image.Image) (uint64, error) {
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0, err
	}
	return hash.GetHash(), nil
}

// HammingDistance counts the differing bits between two perception hashes.
// Identical images score 0; unrelated images usually land well above 20.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
