package metadata

import (
	"strings"

	"github.com/abadojack/whatlanggo"
)

// minDetectionConfidence filters out guesses on very short or ambiguous
// text, which whatlanggo scores low.
const minDetectionConfidence = 0.5

// DetectLanguage returns the ISO 639-1 code of the dominant language in
// text, or "" when the text is too short or ambiguous to classify.
func DetectLanguage(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	info := whatlanggo.Detect(trimmed)
	if info.Confidence < minDetectionConfidence {
		return ""
	}
	return info.Lang.Iso6391()
}
