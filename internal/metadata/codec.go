// Package metadata implements the JSON sidecar schema that pairs images with
// their emoji tags, titles and search phrases. Parsing is lenient: unknown
// fields are ignored and absent optional fields default to zero values, so
// sidecars written by older or newer producers still import.
package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// CurrentSchemaVersion is written into sidecars produced by this tool.
const CurrentSchemaVersion = "1.3"

// SidecarSuffix is appended to the full image filename, so "cat.jpg" pairs
// with "cat.jpg.json".
const SidecarSuffix = ".json"

// LocalizedFields carries per-language overrides of the searchable text
// fields.
type LocalizedFields struct {
	Title         string   `json:"title,omitempty"`
	Description   string   `json:"description,omitempty"`
	SearchPhrases []string `json:"searchPhrases,omitempty"`
}

// MemeMetadata is the parsed sidecar record. Immutable by convention once
// produced; callers copy before modifying.
type MemeMetadata struct {
	SchemaVersion   string                     `json:"schemaVersion"`
	Emojis          []string                   `json:"emojis"`
	Title           string                     `json:"title,omitempty"`
	Description     string                     `json:"description,omitempty"`
	CreatedAt       string                     `json:"createdAt,omitempty"`
	AppVersion      string                     `json:"appVersion,omitempty"`
	Source          string                     `json:"source,omitempty"`
	Tags            []string                   `json:"tags,omitempty"`
	TextContent     string                     `json:"textContent,omitempty"`
	SearchPhrases   []string                   `json:"searchPhrases,omitempty"`
	ContentHash     string                     `json:"contentHash,omitempty"`
	BasedOn         string                     `json:"basedOn,omitempty"`
	PrimaryLanguage string                     `json:"primaryLanguage,omitempty"`
	Localizations   map[string]LocalizedFields `json:"localizations,omitempty"`
}

// Parse decodes a sidecar document. Parse failure is reported as an error,
// never panics. Schema validation (required emojis etc.) is the importer's
// concern, not the codec's.
func Parse(data []byte) (*MemeMetadata, error) {
	var md MemeMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("malformed metadata: %w", err)
	}
	return &md, nil
}

// Encode serializes metadata as UTF-8 JSON. Emojis and other non-ASCII text
// are written verbatim rather than \u-escaped, matching what the mobile app
// and CLI producers emit.
func Encode(md *MemeMetadata) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(md); err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return buf.Bytes(), nil
}

// SidecarName returns the sidecar filename for an image filename.
func SidecarName(imageName string) string {
	return imageName + SidecarSuffix
}

// ImageNameForSidecar strips the sidecar suffix, recovering the image
// filename the sidecar describes. Returns false if name is not a sidecar.
// The suffix match is case-insensitive, so "CAT.JPG.JSON" pairs with
// "CAT.JPG".
func ImageNameForSidecar(name string) (string, bool) {
	if len(name) <= len(SidecarSuffix) {
		return "", false
	}
	if !strings.EqualFold(name[len(name)-len(SidecarSuffix):], SidecarSuffix) {
		return "", false
	}
	return name[:len(name)-len(SidecarSuffix)], true
}

// Clone returns a deep copy, so callers can adjust fields without mutating
// the shared record.
func (md *MemeMetadata) Clone() *MemeMetadata {
	if md == nil {
		return nil
	}
	out := *md
	out.Emojis = append([]string(nil), md.Emojis...)
	out.Tags = append([]string(nil), md.Tags...)
	out.SearchPhrases = append([]string(nil), md.SearchPhrases...)
	if md.Localizations != nil {
		out.Localizations = make(map[string]LocalizedFields, len(md.Localizations))
		for lang, fields := range md.Localizations {
			fields.SearchPhrases = append([]string(nil), fields.SearchPhrases...)
			out.Localizations[lang] = fields
		}
	}
	return &out
}
