package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rughaus/feedsync/internal/lock"
	"github.com/rughaus/feedsync/internal/models"
	"github.com/rughaus/feedsync/pkg/supplierfeed"
)

type memRuns struct {
	created     int
	checkpoints int
	finalized   *models.Run
}

func (r *memRuns) Create(context.Context, *models.Run) error { r.created++; return nil }
func (r *memRuns) Checkpoint(context.Context, *models.Run) error {
	r.checkpoints++
	return nil
}
func (r *memRuns) Finalize(_ context.Context, run *models.Run) error {
	r.finalized = run
	return nil
}

type nopGuard struct {
	acquired int
	released int
}

func (g *nopGuard) Acquire(context.Context) error { g.acquired++; return nil }
func (g *nopGuard) Release(context.Context) error { g.released++; return nil }

type contendedGuard struct{}

func (contendedGuard) Acquire(context.Context) error { return lock.ErrContended }
func (contendedGuard) Release(context.Context) error { return nil }

type staticSource struct {
	data string
	err  error
}

func (s staticSource) Fetch(context.Context) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.data)), nil
}

func productXML(code, name, price string) string {
	return fmt.Sprintf(`<Product>
  <Active>true</Active>
  <ExternalId>%s</ExternalId>
  <Name>%s</Name>
  <Variant>
    <Active>true</Active>
    <StockStatus>available</StockStatus>
    <Price>%s</Price>
    <Size>80x150 cm</Size>
  </Variant>
</Product>`, code, name, price)
}

func feedXML(products ...string) string {
	return "<Products>" + strings.Join(products, "") + "</Products>"
}

func newTestEngine(store CatalogStore, runs RunStore, source FeedSource, opts Options) *Engine {
	if opts.RateUSDToEUR == 0 {
		opts.RateUSDToEUR = 1.0
	}
	return New(&nopGuard{}, source, store, runs, nil, opts)
}

func TestEngineRunSuccess(t *testing.T) {
	store := newMemCatalog()
	runs := &memRuns{}
	guard := &nopGuard{}
	src := staticSource{data: feedXML(
		productXML("P1", "Rug One", "100"),
		productXML("P2", "Rug Two", "80"),
	)}
	e := New(guard, src, store, runs, nil, Options{RateUSDToEUR: 1.0})

	run := e.Run(context.Background())

	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, 2, run.Totals.ProductsFound)
	assert.Equal(t, 2, run.Totals.ProductsParsed)
	assert.Equal(t, 2, run.Totals.Created)
	assert.Equal(t, 0, run.Totals.Errors)
	assert.Contains(t, run.Summary, "2 created")
	require.NotNil(t, run.FinishedAt)

	assert.Equal(t, 1, runs.created)
	require.NotNil(t, runs.finalized)
	assert.Equal(t, models.RunStatusSuccess, runs.finalized.Status)
	assert.Equal(t, 1, guard.acquired)
	assert.Equal(t, 1, guard.released)

	assert.Len(t, store.products, 2)
	assert.Equal(t, "100.00", store.products["P1"].Price)
}

func TestEngineSecondRunIsIdempotent(t *testing.T) {
	store := newMemCatalog()
	data := feedXML(productXML("P1", "Rug One", "100"), productXML("P2", "Rug Two", "80"))

	run := newTestEngine(store, &memRuns{}, staticSource{data: data}, Options{}).Run(context.Background())
	require.Equal(t, models.RunStatusSuccess, run.Status)
	require.Equal(t, 2, run.Totals.Created)

	run = newTestEngine(store, &memRuns{}, staticSource{data: data}, Options{}).Run(context.Background())
	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, 0, run.Totals.Created)
	assert.Equal(t, 0, run.Totals.Updated)
	assert.Equal(t, 2, run.Totals.Unchanged)
	assert.Equal(t, 0, run.Totals.Deactivated)
}

func TestEngineSkipsInvalidRecords(t *testing.T) {
	store := newMemCatalog()
	src := staticSource{data: feedXML(
		productXML("P1", "Rug One", "100"),
		productXML("", "No Id", "50"),
		productXML("P1", "Rug One Again", "60"),
	)}

	run := newTestEngine(store, &memRuns{}, src, Options{}).Run(context.Background())

	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, 3, run.Totals.ProductsFound)
	assert.Equal(t, 3, run.Totals.ProductsParsed)
	assert.Equal(t, 1, run.Totals.Created)
	assert.Equal(t, 2, run.Totals.Skipped)
	assert.Equal(t, 2, run.Totals.Errors)
	assert.Contains(t, run.Summary, "2 errors")
	assert.NotEmpty(t, run.Hint)
	require.Len(t, run.TopErrors, 2)
	assert.Equal(t, "validate", run.TopErrors[0].Stage)

	// The duplicate never overwrote the first occurrence.
	assert.Equal(t, "Rug One", store.products["P1"].Name)
}

func TestEngineLimitStopsEarlyAndSkipsSweep(t *testing.T) {
	store := newMemCatalog()
	store.products["OLD"] = &models.CatalogProduct{
		ProductCode: "OLD", Price: "50.00", Source: models.SourceSupplierFeed,
	}

	var products []string
	for i := 1; i <= 5; i++ {
		products = append(products, productXML(fmt.Sprintf("P%d", i), fmt.Sprintf("Rug %d", i), "100"))
	}
	src := staticSource{data: feedXML(products...)}

	run := newTestEngine(store, &memRuns{}, src, Options{Limit: 2, QueueSize: 1}).Run(context.Background())

	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, 2, run.Totals.ProductsParsed)
	assert.Equal(t, 2, run.Totals.Created)
	assert.Equal(t, 0, run.Totals.Deactivated)

	// A limited pass must not hide products it never reached.
	assert.Equal(t, "50.00", store.products["OLD"].Price)
}

func TestEngineSweepHidesMissingProducts(t *testing.T) {
	store := newMemCatalog()
	store.products["OLD"] = &models.CatalogProduct{
		ProductCode: "OLD", Price: "50.00", InStock: true, Source: models.SourceSupplierFeed,
	}

	src := staticSource{data: feedXML(productXML("P1", "Rug One", "100"))}
	run := newTestEngine(store, &memRuns{}, src, Options{}).Run(context.Background())

	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, 1, run.Totals.Deactivated)
	assert.Contains(t, run.Summary, "1 deactivated")

	old := store.products["OLD"]
	assert.False(t, old.Visible())
	assert.False(t, old.InStock)
	assert.Equal(t, "100.00", store.products["P1"].Price)
}

func TestEngineLockContention(t *testing.T) {
	store := newMemCatalog()
	runs := &memRuns{}
	src := staticSource{data: feedXML(productXML("P1", "Rug One", "100"))}
	e := New(contendedGuard{}, src, store, runs, nil, Options{RateUSDToEUR: 1.0})

	run := e.Run(context.Background())

	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, "another sync run is already active", run.Summary)
	assert.NotEmpty(t, run.Hint)
	assert.Equal(t, models.RunTotals{}, run.Totals)
	assert.Empty(t, store.products)
	require.NotNil(t, runs.finalized)
}

func TestEngineUnauthorizedFeed(t *testing.T) {
	src := staticSource{err: fmt.Errorf("fetch feed: %w", supplierfeed.ErrUnauthorized)}
	run := newTestEngine(newMemCatalog(), &memRuns{}, src, Options{}).Run(context.Background())

	assert.Equal(t, models.RunStatusNeedAuth, run.Status)
	assert.Contains(t, run.Hint, "token")
}

func TestEngineFetchFailure(t *testing.T) {
	src := staticSource{err: errors.New("connection refused")}
	run := newTestEngine(newMemCatalog(), &memRuns{}, src, Options{}).Run(context.Background())

	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, "feed could not be fetched", run.Summary)
}

func TestEngineMalformedFeedFailsAfterDraining(t *testing.T) {
	store := newMemCatalog()
	broken := "<Products>" + productXML("P1", "Rug One", "100") + "<Product><Name>oops</Products>"

	run := newTestEngine(store, &memRuns{}, staticSource{data: broken}, Options{}).Run(context.Background())

	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, "feed is malformed; sync aborted", run.Summary)

	// Records emitted before the damage were still reconciled.
	assert.Equal(t, 1, run.Totals.Created)
	assert.Contains(t, store.products, "P1")
}

func TestEnginePersistFailuresAreNonFatal(t *testing.T) {
	store := newMemCatalog()
	store.upsertErr = errors.New("deadlock detected")
	src := staticSource{data: feedXML(
		productXML("P1", "Rug One", "100"),
		productXML("P2", "Rug Two", "80"),
	)}

	run := newTestEngine(store, &memRuns{}, src, Options{}).Run(context.Background())

	// Per-record store failures are counted and skipped, never terminal.
	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, 2, run.Totals.ProductsParsed)
	assert.Equal(t, 0, run.Totals.Created)
	assert.Equal(t, 2, run.Totals.Errors)
	assert.Contains(t, run.Summary, "2 errors")
	assert.NotEmpty(t, run.Hint)
	require.Len(t, run.TopErrors, 2)
	assert.Equal(t, "reconcile", run.TopErrors[0].Stage)
	assert.Equal(t, "P1", run.TopErrors[0].ProductCode)
	assert.Contains(t, run.TopErrors[0].Message, "deadlock detected")
}

func TestEngineSweepFailureKeepsRunStatus(t *testing.T) {
	store := newMemCatalog()
	store.products["OLD"] = &models.CatalogProduct{
		ProductCode: "OLD", Price: "50.00", Source: models.SourceSupplierFeed,
	}
	store.hideErr = errors.New("db down")

	src := staticSource{data: feedXML(productXML("P1", "Rug One", "100"))}
	run := newTestEngine(store, &memRuns{}, src, Options{}).Run(context.Background())

	// A failed sweep is recorded but never changes the terminal status.
	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, 1, run.Totals.Created)
	assert.Equal(t, 0, run.Totals.Deactivated)
	assert.Equal(t, 1, run.Totals.Errors)
	require.Len(t, run.TopErrors, 1)
	assert.Equal(t, "sweep", run.TopErrors[0].Stage)
	assert.Equal(t, "50.00", store.products["OLD"].Price)
}

func TestEngineDryRunWritesNothing(t *testing.T) {
	store := newMemCatalog()
	store.products["OLD"] = &models.CatalogProduct{
		ProductCode: "OLD", Price: "50.00", Source: models.SourceSupplierFeed,
	}

	src := staticSource{data: feedXML(productXML("P1", "Rug One", "100"))}
	run := newTestEngine(store, &memRuns{}, src, Options{DryRun: true}).Run(context.Background())

	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, 1, run.Totals.Created)
	assert.Equal(t, 0, store.upserts)
	assert.NotContains(t, store.products, "P1")
	assert.Equal(t, "50.00", store.products["OLD"].Price, "dry run must not sweep")
}

func TestEngineParseOnlyCountsWithoutReconciling(t *testing.T) {
	store := newMemCatalog()
	src := staticSource{data: feedXML(
		productXML("P1", "Rug One", "100"),
		productXML("P2", "Rug Two", "80"),
	)}

	run := newTestEngine(store, &memRuns{}, src, Options{ParseOnly: true}).Run(context.Background())

	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, 2, run.Totals.ProductsParsed)
	assert.Equal(t, 2, run.Totals.VariantsFound)
	assert.Equal(t, 2, run.Totals.VariantsParsed)
	assert.Equal(t, 0, run.Totals.Created)
	assert.Equal(t, 0, store.upserts)
}

func TestEngineCheckpointsPeriodically(t *testing.T) {
	runs := &memRuns{}
	var products []string
	for i := 1; i <= 60; i++ {
		products = append(products, productXML(fmt.Sprintf("P%d", i), fmt.Sprintf("Rug %d", i), "100"))
	}

	run := newTestEngine(newMemCatalog(), runs, staticSource{data: feedXML(products...)}, Options{}).Run(context.Background())

	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, 2, runs.checkpoints)
}
