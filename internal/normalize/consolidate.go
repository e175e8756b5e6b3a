package normalize

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rughaus/feedsync/internal/models"
)

// Consolidated is the per-product result of normalizing all raw variants.
// The derived booleans drive the reconciler's visibility decision table.
type Consolidated struct {
	Variants []models.NormalizedVariant

	// Representative is the minimum-priced, non-custom-size variant, or nil
	// when no variant carries a positive price.
	Representative *models.NormalizedVariant

	HasPositivePrice  bool
	HasActiveVariants bool
	HasInStockVariant bool
	HasSpecialSize    bool

	// VariantsParsed counts variants that yielded a usable price or size.
	VariantsParsed int
}

// Consolidate normalizes each raw variant (pricing, sizing, stock) and picks
// the representative variant. Input order is preserved so selection ties
// resolve to the first-seen variant, deterministic per feed.
func Consolidate(raw []models.RawVariant, rate decimal.Decimal) Consolidated {
	out := Consolidated{Variants: make([]models.NormalizedVariant, 0, len(raw))}

	for _, rv := range raw {
		nv := normalizeVariant(rv, rate)
		out.Variants = append(out.Variants, nv)

		if nv.PriceEUR != nil || nv.SizeArea > 0 || nv.IsSpecialSize {
			out.VariantsParsed++
		}
		if nv.IsActive {
			out.HasActiveVariants = true
		}
		if nv.InStock {
			out.HasInStockVariant = true
		}
		if nv.IsSpecialSize {
			out.HasSpecialSize = true
		}
		if nv.PriceEUR != nil {
			out.HasPositivePrice = true
		}
	}

	for i := range out.Variants {
		v := &out.Variants[i]
		if v.IsSpecialSize || v.PriceEUR == nil {
			continue
		}
		if out.Representative == nil || v.PriceEUR.LessThan(*out.Representative.PriceEUR) {
			out.Representative = v
		}
	}

	return out
}

// normalizeVariant applies price and size normalization to one raw variant.
// A positive discounted price wins over the regular price; a zero or invalid
// discount falls back to the regular price.
func normalizeVariant(rv models.RawVariant, rate decimal.Decimal) models.NormalizedVariant {
	nv := models.NormalizedVariant{RawVariant: rv, IsActive: rv.Active}

	price := Price(rv.DiscountedPrice, rate)
	if price.Class != PriceOK {
		price = Price(rv.Price, rate)
	}
	if price.Class == PriceOK {
		usd, eur := price.USD, price.EUR
		nv.PriceUSD = &usd
		nv.PriceEUR = &eur
	}

	size := Size(rv.Size)
	nv.SizeLabel = size.Label
	nv.SizeArea = size.Area
	nv.IsSpecialSize = IsSpecialSize(rv.Size)
	nv.InStock = rv.Active && StockAvailable(rv.StockStatus)

	return nv
}

// StockAvailable reports whether a raw stock-status string signals that the
// variant can be ordered. The feed mixes English and Turkish vocabulary.
func StockAvailable(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "available", "in stock", "instock", "in_stock", "yes", "true", "1", "var", "stokta", "mevcut":
		return true
	}
	return false
}
