package tiers

import (
	"encoding/json"
	"fmt"
	"time"

	"bezhas-entitlements/pkg/tierfile"
)

type catalogDocument struct {
	tierfile.Header
	Tiers []Definition `json:"tiers"`
}

// LoadCatalog builds the catalog from a tier document, or the built-in table when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	var doc catalogDocument
	if _, err := tierfile.Load(path, &doc); err != nil {
		return nil, fmt.Errorf("load tier catalog %s: %w", path, err)
	}
	return NewCatalog(doc.Tiers, ID(doc.DefaultTier))
}

// ParseCatalog is LoadCatalog for an in-memory document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc catalogDocument
	if _, err := tierfile.Decode(data, &doc); err != nil {
		return nil, err
	}
	return NewCatalog(doc.Tiers, ID(doc.DefaultTier))
}

// MarshalDocument renders c as a tier document that ParseCatalog accepts.
func MarshalDocument(c *Catalog, version string) ([]byte, error) {
	doc := catalogDocument{
		Header: tierfile.Header{
			Version:     version,
			LastUpdated: time.Now().UTC().Format("2006-01-02"),
			DefaultTier: string(c.Default()),
		},
		Tiers: c.All(),
	}
	return json.MarshalIndent(doc, "", "  ")
}
