package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// File names of the manifests inside a workspace.
const (
	RootManifestName   = "galleries.json"
	DetailManifestName = "gallery-details.json"
)

// GallerySummary is one entry of the root manifest.
type GallerySummary struct {
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Date  string `json:"date"`
	Cover string `json:"cover"`
}

// RootManifest is the parsed galleries.json. Both the legacy bare array
// layout and the versioned object layout are accepted.
type RootManifest struct {
	SchemaVersion int              `json:"schemaVersion"`
	Galleries     []GallerySummary `json:"galleries"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *RootManifest) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty document")
	}

	if trimmed[0] == '[' {
		var galleries []GallerySummary
		if err := json.Unmarshal(trimmed, &galleries); err != nil {
			return err
		}
		m.SchemaVersion = 0
		m.Galleries = galleries
		return nil
	}

	type plain RootManifest
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	if p.Galleries == nil {
		return fmt.Errorf("missing \"galleries\" field")
	}
	*m = RootManifest(p)
	return nil
}

// Photo is one entry of a gallery detail manifest. References are relative
// to the gallery directory.
type Photo struct {
	Thumbnail string `json:"thumbnail"`
	Full      string `json:"full"`
	Alt       string `json:"alt"`
}

// DetailManifest is a parsed {slug}/gallery-details.json.
type DetailManifest struct {
	SchemaVersion int     `json:"schemaVersion"`
	Name          string  `json:"name"`
	Slug          string  `json:"slug"`
	Date          string  `json:"date"`
	Description   string  `json:"description"`
	Photos        []Photo `json:"photos"`
}

// Gallery pairs a root manifest entry with its parsed detail manifest.
type Gallery struct {
	Summary GallerySummary
	Detail  *DetailManifest
}

// Graph is an immutable snapshot of every manifest reachable from the root.
type Graph struct {
	Root      RootManifest
	Galleries []Gallery
}
