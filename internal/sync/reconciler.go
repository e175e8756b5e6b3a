package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rughaus/feedsync/internal/models"
	"github.com/rughaus/feedsync/internal/normalize"
)

// CatalogStore is the narrow persistence interface the engine consumes. The
// storage engine itself lives behind it.
type CatalogStore interface {
	// FindByCode returns the persisted product or (nil, nil) when absent.
	FindByCode(ctx context.Context, code string) (*models.CatalogProduct, error)
	Upsert(ctx context.Context, p *models.CatalogProduct) error
	// BulkHide hides every visible product of the source whose code is not in
	// seen, returning how many rows were affected.
	BulkHide(ctx context.Context, source models.Source, seen []string) (int64, error)
}

// Outcome classifies one reconciled record.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
)

// Result describes what reconciliation decided for one record.
type Result struct {
	Outcome Outcome
	Product *models.CatalogProduct

	VariantsFound  int
	VariantsParsed int

	PriceOnRequest bool
	Hidden         bool
	PriceChange    *models.PriceChange
}

// Reconciler compares normalized records against the persisted catalog and
// applies the visibility decision table.
type Reconciler struct {
	store  CatalogStore
	rate   decimal.Decimal
	dryRun bool
	now    func() time.Time
}

// NewReconciler builds a reconciler. rate must already be sanitized.
func NewReconciler(store CatalogStore, rate decimal.Decimal, dryRun bool) *Reconciler {
	return &Reconciler{store: store, rate: rate, dryRun: dryRun, now: time.Now}
}

// Reconcile consolidates the record's variants, decides visibility, gates
// translation by content hash and upserts when something changed.
func (r *Reconciler) Reconcile(ctx context.Context, raw *models.RawProduct) (*Result, error) {
	cons := normalize.Consolidate(raw.Variants, r.rate)

	price, inStock, onRequest := decideVisibility(raw.Active, cons)
	sizes := sizeLabels(cons)
	defaultSize := chooseDefaultSize(cons, sizes)

	prior, err := r.store.FindByCode(ctx, raw.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", raw.ExternalID, err)
	}

	next := &models.CatalogProduct{
		ProductCode: raw.ExternalID,
		Name:        raw.Name,
		Price:       price,
		Sizes:       sizes,
		DefaultSize: defaultSize,
		Images:      append([]string(nil), raw.Images...),
		InStock:     inStock,
		IsNew:       false,
		IsRunners:   false,
		Source:      models.SourceSupplierFeed,
	}

	// A partial feed must never silently wipe sizes: when the current run
	// yields none, the persisted ones are retained.
	if len(sizes) == 0 && prior != nil {
		next.Sizes = prior.Sizes
		if next.DefaultSize == nil {
			next.DefaultSize = prior.DefaultSize
		}
	}

	// The slug is regenerated only when the name changes.
	if prior != nil && prior.Name == raw.Name && prior.Slug != "" {
		next.Slug = prior.Slug
	} else {
		next.Slug = normalize.Slug(raw.Name)
	}

	hash := ContentHash(raw)
	hashChanged := prior == nil || prior.SourceMeta.Translation.ContentHash != hash
	next.SourceMeta = r.buildMeta(raw, cons, prior, hash, hashChanged)

	res := &Result{
		Product:        next,
		VariantsFound:  len(raw.Variants),
		VariantsParsed: cons.VariantsParsed,
		PriceOnRequest: onRequest,
		Hidden:         price == "",
	}

	switch {
	case prior == nil:
		res.Outcome = OutcomeCreated
	case visibleFieldsDiffer(prior, next):
		res.Outcome = OutcomeUpdated
	default:
		res.Outcome = OutcomeUnchanged
	}

	if prior != nil && prior.Price != next.Price {
		res.PriceChange = &models.PriceChange{
			ProductCode: next.ProductCode,
			Name:        next.Name,
			OldPrice:    prior.Price,
			NewPrice:    next.Price,
		}
	}

	if r.dryRun {
		return res, nil
	}
	// Unchanged records with an unchanged hash skip the write entirely.
	if res.Outcome != OutcomeUnchanged || hashChanged {
		if err := r.store.Upsert(ctx, next); err != nil {
			return nil, fmt.Errorf("upsert %s: %w", next.ProductCode, err)
		}
	}
	return res, nil
}

// decideVisibility implements the decision table over the product-level
// active flag and the consolidated variant booleans.
func decideVisibility(productActive bool, c normalize.Consolidated) (price string, inStock, onRequest bool) {
	if !productActive {
		return "", false, false
	}
	if c.HasPositivePrice {
		return minPriceEUR(c).StringFixed(2), c.HasInStockVariant, false
	}
	if c.HasInStockVariant && c.HasSpecialSize {
		return models.PriceOnRequest, true, true
	}
	return "", c.HasInStockVariant, false
}

// minPriceEUR is the representative's price, or the minimum across all priced
// variants when every priced variant is custom-size.
func minPriceEUR(c normalize.Consolidated) decimal.Decimal {
	if c.Representative != nil {
		return *c.Representative.PriceEUR
	}
	var min decimal.Decimal
	found := false
	for i := range c.Variants {
		p := c.Variants[i].PriceEUR
		if p == nil {
			continue
		}
		if !found || p.LessThan(min) {
			min = *p
			found = true
		}
	}
	return min
}

// sizeLabels collects canonical labels of active, dimension-parsed variants
// in document order, deduplicated.
func sizeLabels(c normalize.Consolidated) []string {
	var labels []string
	seen := make(map[string]struct{})
	for i := range c.Variants {
		v := &c.Variants[i]
		if !v.IsActive || v.SizeArea <= 0 {
			continue
		}
		if _, dup := seen[v.SizeLabel]; dup {
			continue
		}
		seen[v.SizeLabel] = struct{}{}
		labels = append(labels, v.SizeLabel)
	}
	return labels
}

// chooseDefaultSize prefers the representative variant's size, then a
// custom-size variant's label, then the first available size.
func chooseDefaultSize(c normalize.Consolidated, sizes []string) *string {
	if c.Representative != nil && c.Representative.SizeLabel != "" {
		s := c.Representative.SizeLabel
		return &s
	}
	for i := range c.Variants {
		if c.Variants[i].IsSpecialSize {
			s := c.Variants[i].SizeLabel
			return &s
		}
	}
	if len(sizes) > 0 {
		s := sizes[0]
		return &s
	}
	return nil
}

// buildMeta assembles the versioned source_meta blob. An unchanged content
// hash carries the persisted translation state over untouched, which is what
// lets a full resync avoid re-triggering translation.
func (r *Reconciler) buildMeta(raw *models.RawProduct, c normalize.Consolidated, prior *models.CatalogProduct, hash string, hashChanged bool) models.SourceMeta {
	meta := models.SourceMeta{
		Version: models.SourceMetaVersion,
		Feed: models.FeedMeta{
			ExternalID:   raw.ExternalID,
			URL:          raw.URL,
			Brand:        raw.Brand,
			Category:     raw.Category,
			CategoryTree: raw.CategoryTree,
			FetchedAt:    r.now().UTC(),
		},
		Variants: snapshots(c),
	}

	if !hashChanged {
		meta.Translation = prior.SourceMeta.Translation
		return meta
	}

	mode := "auto"
	if prior != nil && prior.SourceMeta.Translation.Mode != "" {
		mode = prior.SourceMeta.Translation.Mode
	}
	meta.Translation = models.TranslationState{
		ContentHash: hash,
		UpdatedAt:   r.now().UTC(),
		Mode:        mode,
		// All scopes reset: pending regeneration.
		Scopes: models.TranslationScopes{},
	}
	return meta
}

func snapshots(c normalize.Consolidated) []models.VariantSnapshot {
	if len(c.Variants) == 0 {
		return nil
	}
	out := make([]models.VariantSnapshot, 0, len(c.Variants))
	for i := range c.Variants {
		v := &c.Variants[i]
		snap := models.VariantSnapshot{
			VariationID: v.VariationID,
			SKU:         v.SKU,
			Barcode:     v.Barcode,
			Size:        v.SizeLabel,
			InStock:     v.InStock,
			SpecialSize: v.IsSpecialSize,
		}
		if v.PriceEUR != nil {
			snap.PriceEUR = v.PriceEUR.StringFixed(2)
		}
		out = append(out, snap)
	}
	return out
}

// visibleFieldsDiffer compares the fields that define an "updated" record
// with order-sensitive array comparison.
func visibleFieldsDiffer(prior, next *models.CatalogProduct) bool {
	if prior.Price != next.Price ||
		prior.InStock != next.InStock ||
		prior.IsNew != next.IsNew ||
		prior.IsRunners != next.IsRunners {
		return true
	}
	if !strPtrEqual(prior.DefaultSize, next.DefaultSize) {
		return true
	}
	return !strSliceEqual(prior.Sizes, next.Sizes) || !strSliceEqual(prior.Images, next.Images)
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func strSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
