package models

import (
	"time"

	"github.com/lib/pq"
)

// Source enumerates catalog product origins.
type Source string

const (
	// SourceSupplierFeed tags products synced from the supplier XML feed.
	SourceSupplierFeed Source = "supplier_feed"
)

// PriceOnRequest is the sentinel price for made-to-order products that are
// orderable but carry no fixed price. An empty price means hidden/no-price.
const PriceOnRequest = "0.00"

// CatalogProduct is the persisted catalog row. product_code is the stable
// external id and the join key for reconciliation across runs.
type CatalogProduct struct {
	ID          int            `db:"id" json:"id"`
	ProductCode string         `db:"product_code" json:"productCode"`
	Name        string         `db:"name" json:"name"`
	Slug        string         `db:"slug" json:"slug"`
	Price       string         `db:"price" json:"price"`
	Sizes       pq.StringArray `db:"sizes" json:"sizes"`
	DefaultSize *string        `db:"default_size" json:"defaultSize,omitempty"`
	Images      pq.StringArray `db:"images" json:"images"`
	InStock     bool           `db:"in_stock" json:"inStock"`
	IsNew       bool           `db:"is_new" json:"isNew"`
	IsRunners   bool           `db:"is_runners" json:"isRunners"`
	Source      Source         `db:"source" json:"source"`
	SourceMeta  SourceMeta     `db:"source_meta" json:"sourceMeta"`
	CreatedAt   time.Time      `db:"created_at" json:"-"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updatedAt"`
}

// Visible reports whether the product currently carries a price, i.e. it has
// not been hidden by reconciliation or the missing-product sweep.
func (p *CatalogProduct) Visible() bool {
	return p.Price != ""
}
