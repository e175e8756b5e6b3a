package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SourceMetaVersion is the current schema version of the source_meta blob.
// Version 1 rows (written before translation gating existed) are upgraded
// in place on scan.
const SourceMetaVersion = 2

// SourceMeta is the structured feed-origin metadata stored as JSONB on each
// catalog row: the feed snapshot, per-variant snapshots, and translation state.
type SourceMeta struct {
	Version     int               `json:"version"`
	Feed        FeedMeta          `json:"feed"`
	Variants    []VariantSnapshot `json:"variants,omitempty"`
	Translation TranslationState  `json:"translation"`
}

// FeedMeta records where a product came from in the supplier feed.
type FeedMeta struct {
	ExternalID   string    `json:"externalId"`
	URL          string    `json:"url,omitempty"`
	Brand        string    `json:"brand,omitempty"`
	Category     string    `json:"category,omitempty"`
	CategoryTree string    `json:"categoryTree,omitempty"`
	FetchedAt    time.Time `json:"fetchedAt"`
}

// VariantSnapshot is the per-variant state captured at sync time.
type VariantSnapshot struct {
	VariationID string `json:"variationId,omitempty"`
	SKU         string `json:"sku,omitempty"`
	Barcode     string `json:"barcode,omitempty"`
	Size        string `json:"size,omitempty"`
	PriceEUR    string `json:"priceEur,omitempty"`
	InStock     bool   `json:"inStock"`
	SpecialSize bool   `json:"specialSize,omitempty"`
}

// TranslationScopes are per-scope "localized text is current" flags. A false
// flag means the scope is pending regeneration by the translation job.
type TranslationScopes struct {
	Title       bool `json:"title"`
	Description bool `json:"description"`
	Features    bool `json:"features"`
	Care        bool `json:"care"`
}

// TranslationState gates downstream translation work. ContentHash changes if
// and only if a field feeding localized content changed; an unchanged hash
// leaves the scopes exactly as persisted.
type TranslationState struct {
	ContentHash string            `json:"contentHash"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	Mode        string            `json:"mode,omitempty"`
	Scopes      TranslationScopes `json:"scopes"`
}

// Value serializes the blob for storage, stamping the current version.
func (m SourceMeta) Value() (driver.Value, error) {
	m.Version = SourceMetaVersion
	return json.Marshal(m)
}

// Scan validates the blob at the storage boundary instead of trusting it at
// every read site. Unknown future versions are rejected.
func (m *SourceMeta) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = SourceMeta{Version: SourceMetaVersion}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("source_meta: cannot scan %T", src)
	}

	var decoded SourceMeta
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("source_meta: invalid json: %w", err)
	}
	if decoded.Version > SourceMetaVersion {
		return fmt.Errorf("source_meta: unsupported version %d", decoded.Version)
	}
	if decoded.Version == 0 {
		decoded.Version = 1
	}
	*m = decoded
	return nil
}
