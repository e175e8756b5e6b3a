package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/rughaus/feedsync/internal/models"
)

// RunRepository persists sync run records. It implements the engine's
// RunStore interface.
type RunRepository struct {
	db *sqlx.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts the initial RUNNING row.
func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	const q = `
        INSERT INTO sync_runs (id, status, dry_run, parse_only, record_limit, started_at)
        VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, q, run.ID, run.Status, run.DryRun, run.ParseOnly, run.Limit, run.StartedAt)
	return err
}

// Checkpoint updates the totals of an in-flight run.
func (r *RunRepository) Checkpoint(ctx context.Context, run *models.Run) error {
	const q = `
        UPDATE sync_runs SET
            products_found = $2, products_parsed = $3,
            variants_found = $4, variants_parsed = $5,
            created = $6, updated = $7, unchanged = $8, deactivated = $9,
            hidden_no_price = $10, price_on_request = $11,
            skipped = $12, errors = $13
        WHERE id = $1`

	t := run.Totals
	_, err := r.db.ExecContext(ctx, q, run.ID,
		t.ProductsFound, t.ProductsParsed,
		t.VariantsFound, t.VariantsParsed,
		t.Created, t.Updated, t.Unchanged, t.Deactivated,
		t.HiddenNoPrice, t.PriceOnRequest,
		t.Skipped, t.Errors,
	)
	return err
}

// Finalize writes the terminal status, totals, summary and report pointers.
func (r *RunRepository) Finalize(ctx context.Context, run *models.Run) error {
	priceChanges, err := json.Marshal(run.PriceChanges)
	if err != nil {
		return fmt.Errorf("marshal price changes: %w", err)
	}
	topErrors, err := json.Marshal(run.TopErrors)
	if err != nil {
		return fmt.Errorf("marshal top errors: %w", err)
	}

	const q = `
        UPDATE sync_runs SET
            status = $2, finished_at = $3, duration_ms = $4,
            products_found = $5, products_parsed = $6,
            variants_found = $7, variants_parsed = $8,
            created = $9, updated = $10, unchanged = $11, deactivated = $12,
            hidden_no_price = $13, price_on_request = $14,
            skipped = $15, errors = $16,
            price_changes = $17, top_errors = $18,
            summary = $19, hint = $20,
            report_path = $21, summary_path = $22, log_path = $23, errlog_path = $24
        WHERE id = $1`

	t := run.Totals
	_, err = r.db.ExecContext(ctx, q, run.ID,
		run.Status, run.FinishedAt, run.DurationMS,
		t.ProductsFound, t.ProductsParsed,
		t.VariantsFound, t.VariantsParsed,
		t.Created, t.Updated, t.Unchanged, t.Deactivated,
		t.HiddenNoPrice, t.PriceOnRequest,
		t.Skipped, t.Errors,
		priceChanges, topErrors,
		run.Summary, run.Hint,
		run.ReportPath, run.SummaryPath, run.LogPath, run.ErrLogPath,
	)
	return err
}

// GetLatest returns the most recent run, or (nil, nil) when none exist.
func (r *RunRepository) GetLatest(ctx context.Context) (*models.Run, error) {
	const q = `
        SELECT id, status, dry_run, parse_only, record_limit, started_at,
               finished_at, duration_ms, summary, hint,
               report_path, summary_path, log_path, errlog_path
        FROM sync_runs ORDER BY started_at DESC LIMIT 1`

	var run models.Run
	if err := r.db.GetContext(ctx, &run, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}
