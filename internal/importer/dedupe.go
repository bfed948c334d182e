package importer

import (
	"github.com/memevault/memevault/internal/entities"
	"github.com/memevault/memevault/internal/hashing"
)

// DefaultNearDuplicateThreshold is the Hamming distance up to which two
// perception hashes count as the same picture. 0 catches only re-encodes of
// identical pixels; around 10 also catches rescales and recompression.
const DefaultNearDuplicateThreshold = 10

// FindNearDuplicates groups memes whose perception hashes sit within
// threshold bits of each other. Memes without a recorded hash are ignored.
// Grouping is greedy single-link against the first member of each group;
// only groups with at least two members are returned.
func FindNearDuplicates(memes []entities.Meme, threshold int) [][]entities.Meme {
	var groups [][]entities.Meme

	for _, meme := range memes {
		if meme.PerceptualHash == 0 {
			continue
		}
		placed := false
		for i, group := range groups {
			if hashing.HammingDistance(meme.PerceptualHash, group[0].PerceptualHash) <= threshold {
				groups[i] = append(groups[i], meme)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []entities.Meme{meme})
		}
	}

	var duplicates [][]entities.Meme
	for _, group := range groups {
		if len(group) > 1 {
			duplicates = append(duplicates, group)
		}
	}
	return duplicates
}
