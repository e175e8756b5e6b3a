package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/rughaus/feedsync/internal/models"
)

// CatalogRepository handles data access for catalog products. It implements
// the engine's CatalogStore interface.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// FindByCode returns a product by its stable external code, or (nil, nil)
// when no row exists.
func (r *CatalogRepository) FindByCode(ctx context.Context, code string) (*models.CatalogProduct, error) {
	const q = `SELECT * FROM catalog_products WHERE product_code = $1 LIMIT 1`

	var p models.CatalogProduct
	if err := r.db.GetContext(ctx, &p, q, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// Upsert inserts or updates a product by product_code.
func (r *CatalogRepository) Upsert(ctx context.Context, p *models.CatalogProduct) error {
	const q = `
        INSERT INTO catalog_products
            (product_code, name, slug, price, sizes, default_size, images,
             in_stock, is_new, is_runners, source, source_meta)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (product_code) DO UPDATE SET
            name = EXCLUDED.name,
            slug = EXCLUDED.slug,
            price = EXCLUDED.price,
            sizes = EXCLUDED.sizes,
            default_size = EXCLUDED.default_size,
            images = EXCLUDED.images,
            in_stock = EXCLUDED.in_stock,
            is_new = EXCLUDED.is_new,
            is_runners = EXCLUDED.is_runners,
            source = EXCLUDED.source,
            source_meta = EXCLUDED.source_meta,
            updated_at = NOW()`

	_, err := r.db.ExecContext(ctx, q,
		p.ProductCode,
		p.Name,
		p.Slug,
		p.Price,
		p.Sizes,
		p.DefaultSize,
		p.Images,
		p.InStock,
		p.IsNew,
		p.IsRunners,
		p.Source,
		p.SourceMeta,
	)
	return err
}

// BulkHide hides every visible product of the source whose code was not seen
// in the current run: price cleared, out of stock, sizes wiped.
func (r *CatalogRepository) BulkHide(ctx context.Context, source models.Source, seen []string) (int64, error) {
	const q = `
        UPDATE catalog_products
        SET price = '', in_stock = false, sizes = '{}', default_size = NULL, updated_at = NOW()
        WHERE source = $1
          AND price <> ''
          AND NOT (product_code = ANY($2))`

	res, err := r.db.ExecContext(ctx, q, source, pq.Array(seen))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
