package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rughaus/feedsync/internal/feed"
	"github.com/rughaus/feedsync/internal/lock"
	"github.com/rughaus/feedsync/internal/models"
	"github.com/rughaus/feedsync/internal/normalize"
	"github.com/rughaus/feedsync/internal/observability"
	"github.com/rughaus/feedsync/internal/report"
	"github.com/rughaus/feedsync/pkg/supplierfeed"
)

// FeedSource produces the feed byte stream for one run.
type FeedSource interface {
	Fetch(ctx context.Context) (io.ReadCloser, error)
}

// FileSource reads the feed from a local file instead of the network.
type FileSource struct {
	Path string
}

func (s FileSource) Fetch(context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open feed file: %w", err)
	}
	return f, nil
}

// Options are the per-run knobs.
type Options struct {
	// DryRun classifies and reports but performs no persistence writes.
	DryRun bool
	// ParseOnly parses and counts without reconciling.
	ParseOnly bool
	// Limit stops the run after N records; queued records past it are
	// discarded. A limited run never sweeps.
	Limit int
	// QueueSize bounds the record channel between extractor and reconciler;
	// this is the sole backpressure mechanism.
	QueueSize int
	// RateUSDToEUR converts feed prices; sanitized before use.
	RateUSDToEUR float64
}

const defaultQueueSize = 50

func nowUTC() time.Time { return time.Now().UTC() }

// Engine wires lock, feed, extraction, reconciliation, sweep and run
// finalization into one end-to-end run.
type Engine struct {
	guard  lock.Guard
	source FeedSource
	store  CatalogStore
	runs   RunStore
	sinks  report.Factory
	opts   Options

	// sink is the current run's report sink; one run is active at a time.
	sink report.Sink
}

// New constructs an engine.
func New(guard lock.Guard, source FeedSource, store CatalogStore, runs RunStore, sinks report.Factory, opts Options) *Engine {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if sinks == nil {
		sinks = report.NopFactory{}
	}
	return &Engine{guard: guard, source: source, store: store, runs: runs, sinks: sinks, opts: opts}
}

// Run executes one sync run and always returns a finalized run record:
// errors change what is reported, never whether finalization happens.
func (e *Engine) Run(ctx context.Context) *models.Run {
	run := &models.Run{
		ID:        uuid.New(),
		Status:    models.RunStatusRunning,
		DryRun:    e.opts.DryRun,
		ParseOnly: e.opts.ParseOnly,
		Limit:     e.opts.Limit,
		StartedAt: nowUTC(),
	}
	ledger := NewLedger(run, e.runs)

	sink, err := e.sinks.NewSink(run.ID.String())
	if err != nil {
		log.Warn().Err(err).Msg("report sink unavailable, continuing without artifacts")
		sink = report.Nop{}
	}
	e.sink = sink
	defer func() {
		if err := sink.Close(); err != nil {
			log.Warn().Err(err).Msg("report sink close failed")
		}
	}()

	log.Info().
		Str("run", run.ID.String()).
		Bool("dry_run", run.DryRun).
		Bool("parse_only", run.ParseOnly).
		Int("limit", run.Limit).
		Msg("starting feed sync")

	if err := e.runs.Create(ctx, run); err != nil {
		log.Warn().Err(err).Msg("initial run write failed")
	}

	if err := e.guard.Acquire(ctx); err != nil {
		if errors.Is(err, lock.ErrContended) {
			e.finish(ctx, ledger, models.RunStatusFailed,
				"another sync run is already active",
				"wait for the current run to finish, then retry")
			return run
		}
		e.finish(ctx, ledger, models.RunStatusFailed,
			fmt.Sprintf("could not acquire run lock: %v", err), "")
		return run
	}
	defer func() {
		if err := e.guard.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("lock release failed")
		}
	}()

	stream, err := e.source.Fetch(ctx)
	if err != nil {
		if errors.Is(err, supplierfeed.ErrUnauthorized) {
			e.finish(ctx, ledger, models.RunStatusNeedAuth,
				"feed credentials were rejected",
				"renew the supplier feed token and rerun")
			return run
		}
		e.sink.Error(models.RunError{Stage: "fetch", Message: err.Error(), At: nowUTC()})
		e.finish(ctx, ledger, models.RunStatusFailed,
			"feed could not be fetched",
			"check feed URL and network, then retry")
		return run
	}
	defer stream.Close()

	fatal := e.consume(ctx, ledger, stream)

	var parseErr *feed.ParseError
	switch {
	case errors.As(fatal, &parseErr):
		e.sink.Error(models.RunError{Stage: "parse", Message: parseErr.Error(), At: nowUTC()})
		e.finish(ctx, ledger, models.RunStatusFailed,
			"feed is malformed; sync aborted",
			"inspect the error log and ask the supplier to validate the feed")
		return run
	case fatal != nil:
		e.finish(ctx, ledger, models.RunStatusFailed, "run cancelled", "")
		return run
	}

	t := run.Totals
	summary := fmt.Sprintf("synced %d products: %d created, %d updated, %d unchanged, %d deactivated",
		t.ProductsParsed, t.Created, t.Updated, t.Unchanged, t.Deactivated)
	hint := ""
	if t.Errors > 0 {
		summary = fmt.Sprintf("%s, %d errors", summary, t.Errors)
		hint = "some records failed; see the error log"
	}
	e.finish(ctx, ledger, models.RunStatusSuccess, summary, hint)
	return run
}

// consume runs the extractor as a producer goroutine behind a bounded channel
// and reconciles records in document order. Returns the fatal error, if any.
func (e *Engine) consume(ctx context.Context, ledger *Ledger, stream io.Reader) error {
	rate := normalize.SanitizeRate(e.opts.RateUSDToEUR)
	reconciler := NewReconciler(e.store, rate, e.opts.DryRun)

	records := make(chan *models.RawProduct, e.opts.QueueSize)
	producerErr := make(chan error, 1)
	pctx, cancelProducer := context.WithCancel(ctx)
	defer cancelProducer()

	extractor := &feed.Extractor{}
	go func() {
		defer close(records)
		producerErr <- extractor.Run(pctx, stream, func(p *models.RawProduct) error {
			select {
			case records <- p:
				return nil
			case <-pctx.Done():
				return pctx.Err()
			}
		})
	}()

	seen := make(map[string]struct{})
	seenCodes := make([]string, 0, 1024)
	processed := 0
	limitReached := false

	for rec := range records {
		ledger.RecordFound()
		if limitReached {
			continue // discard, not reconcile
		}

		e.process(ctx, ledger, reconciler, rec, seen, &seenCodes)
		processed++

		if e.opts.Limit > 0 && processed >= e.opts.Limit {
			limitReached = true
			cancelProducer()
		}
	}
	perr := <-producerErr
	ledger.RecordVariantsSeen(extractor.VariantsSeen)

	// A producer error after we cancelled for the limit is expected.
	if perr != nil && !limitReached {
		return perr
	}
	if ctx.Err() != nil && !limitReached {
		return ctx.Err()
	}

	e.sweep(ctx, ledger, limitReached, seenCodes)
	return nil
}

// process handles one record with failure isolation: validation and
// persistence errors are recorded and skipped, never fatal.
func (e *Engine) process(ctx context.Context, ledger *Ledger, reconciler *Reconciler, rec *models.RawProduct, seen map[string]struct{}, seenCodes *[]string) {
	code := strings.TrimSpace(rec.ExternalID)
	if code == "" {
		log.Warn().Str("name", rec.Name).Msg("record has no external id, skipping")
		e.sink.Error(models.RunError{Stage: "validate", Message: "missing external id", At: nowUTC()})
		ledger.RecordSkipped(ctx, "", "missing external id")
		observability.ProductsProcessed.WithLabelValues("skipped").Inc()
		return
	}
	if _, dup := seen[code]; dup {
		log.Warn().Str("code", code).Msg("duplicate external id, skipping")
		e.sink.Error(models.RunError{Stage: "validate", ProductCode: code, Message: "duplicate external id", At: nowUTC()})
		ledger.RecordSkipped(ctx, code, "duplicate external id")
		observability.ProductsProcessed.WithLabelValues("skipped").Inc()
		return
	}
	seen[code] = struct{}{}
	*seenCodes = append(*seenCodes, code)

	if e.opts.ParseOnly {
		cons := normalize.Consolidate(rec.Variants, reconciler.rate)
		ledger.RecordParsedOnly(ctx, len(rec.Variants), cons.VariantsParsed)
		return
	}

	res, err := reconciler.Reconcile(ctx, rec)
	if err != nil {
		log.Error().Err(err).Str("code", code).Msg("record reconciliation failed")
		e.sink.Error(models.RunError{Stage: "reconcile", ProductCode: code, Message: err.Error(), At: nowUTC()})
		ledger.RecordFailed(ctx, code, err)
		observability.FeedErrors.Inc()
		return
	}

	ledger.RecordResult(ctx, res)
	observability.ProductsProcessed.WithLabelValues(string(res.Outcome)).Inc()
	if res.Outcome != OutcomeUnchanged {
		e.sink.Logf("%s %s price=%q in_stock=%t", res.Outcome, code, res.Product.Price, res.Product.InStock)
	}
}

// sweep hides previously visible products absent from a full, non-dry-run
// pass. Its failure is recorded but never changes the terminal status.
func (e *Engine) sweep(ctx context.Context, ledger *Ledger, limited bool, seenCodes []string) {
	if e.opts.DryRun || e.opts.ParseOnly || e.opts.Limit > 0 || limited {
		return
	}
	hidden, err := e.store.BulkHide(ctx, models.SourceSupplierFeed, seenCodes)
	if err != nil {
		log.Error().Err(err).Msg("missing-product sweep failed")
		e.sink.Error(models.RunError{Stage: "sweep", Message: err.Error(), At: nowUTC()})
		ledger.RecordSweepFailed(err)
		return
	}
	if hidden > 0 {
		e.sink.Logf("sweep hid %d products missing from the feed", hidden)
	}
	ledger.RecordSweep(hidden)
}

// finish writes report artifacts and the terminal run record. It runs for
// every outcome, including pre-start failures.
func (e *Engine) finish(ctx context.Context, ledger *Ledger, status models.RunStatus, summary, hint string) {
	run := ledger.Run()
	e.sink.Logf("run %s finished: %s (%s)", run.ID, status, summary)
	if err := e.sink.Finalize(run); err != nil {
		log.Warn().Err(err).Msg("report finalization failed")
	}

	// Finalization must survive caller cancellation.
	ledger.Finalize(context.WithoutCancel(ctx), status, summary, hint)

	observability.RunsTotal.WithLabelValues(string(status)).Inc()
	observability.LastRunDuration.Set(float64(run.DurationMS) / 1000.0)

	log.Info().
		Str("run", run.ID.String()).
		Str("status", string(status)).
		Int("created", run.Totals.Created).
		Int("updated", run.Totals.Updated).
		Int("unchanged", run.Totals.Unchanged).
		Int("deactivated", run.Totals.Deactivated).
		Int("errors", run.Totals.Errors).
		Int64("duration_ms", run.DurationMS).
		Msg("feed sync finished")
}
