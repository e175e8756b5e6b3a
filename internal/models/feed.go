package models

import "github.com/shopspring/decimal"

// TechnicalDetail is one key/value pair from a product's technical details.
type TechnicalDetail struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RawVariant is a variant as read from the feed, before normalization.
type RawVariant struct {
	Active          bool
	VariationID     string
	SKU             string
	Barcode         string
	StockStatus     string
	Price           string
	DiscountedPrice string
	CurrencyCode    string
	Size            string
}

// RawProduct is a complete product record assembled by the feed extractor.
// It lives only for the duration of one run: built while parsing, consumed by
// reconciliation, then discarded.
type RawProduct struct {
	ExternalID   string
	Active       bool
	Name         string
	ShortHTML    string
	LongHTML     string
	Brand        string
	Category     string
	CategoryTree string
	URL          string
	Images       []string
	Variants     []RawVariant
	Details      []TechnicalDetail
}

// NormalizedVariant is a RawVariant with derived pricing, sizing and stock
// fields attached by the consolidator.
type NormalizedVariant struct {
	RawVariant

	PriceUSD      *decimal.Decimal
	PriceEUR      *decimal.Decimal
	SizeLabel     string
	SizeArea      float64
	IsActive      bool
	InStock       bool
	IsSpecialSize bool
}
