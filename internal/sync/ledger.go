package sync

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rughaus/feedsync/internal/models"
)

// RunStore persists the Run entity: an initial RUNNING row, periodic
// checkpoints and one terminal write.
type RunStore interface {
	Create(ctx context.Context, run *models.Run) error
	Checkpoint(ctx context.Context, run *models.Run) error
	Finalize(ctx context.Context, run *models.Run) error
}

const (
	// checkpointEvery is how many processed records trigger a checkpoint.
	checkpointEvery = 25
	// maxTopErrors bounds the representative errors kept on the run record
	// so a pathological feed cannot grow it without limit.
	maxTopErrors = 10
)

// Ledger accumulates run totals, price changes and top errors, and
// periodically checkpoints the Run row.
type Ledger struct {
	run       *models.Run
	store     RunStore
	processed int
}

// NewLedger wraps a freshly created run.
func NewLedger(run *models.Run, store RunStore) *Ledger {
	return &Ledger{run: run, store: store}
}

// Run exposes the underlying run record.
func (l *Ledger) Run() *models.Run { return l.run }

// RecordFound notes one record received from the extractor.
func (l *Ledger) RecordFound() {
	l.run.Totals.ProductsFound++
}

// RecordSkipped notes a record rejected by validation (missing or duplicate
// external id). Skipped records still count as parsed attempts.
func (l *Ledger) RecordSkipped(ctx context.Context, code, reason string) {
	l.run.Totals.ProductsParsed++
	l.run.Totals.Skipped++
	l.addError("validate", code, reason)
	l.tick(ctx)
}

// RecordFailed notes a record whose reconciliation failed; processing
// continues with the next record.
func (l *Ledger) RecordFailed(ctx context.Context, code string, err error) {
	l.run.Totals.ProductsParsed++
	l.addError("reconcile", code, err.Error())
	l.tick(ctx)
}

// RecordResult folds one successful reconciliation into the totals.
func (l *Ledger) RecordResult(ctx context.Context, res *Result) {
	t := &l.run.Totals
	t.ProductsParsed++
	t.VariantsFound += res.VariantsFound
	t.VariantsParsed += res.VariantsParsed

	switch res.Outcome {
	case OutcomeCreated:
		t.Created++
	case OutcomeUpdated:
		t.Updated++
	case OutcomeUnchanged:
		t.Unchanged++
	}
	if res.Hidden {
		t.HiddenNoPrice++
	}
	if res.PriceOnRequest {
		t.PriceOnRequest++
	}
	if res.PriceChange != nil {
		l.run.PriceChanges = append(l.run.PriceChanges, *res.PriceChange)
	}
	l.tick(ctx)
}

// RecordParsedOnly counts a record in parse-only mode, where parsing and
// counting are the only side effects.
func (l *Ledger) RecordParsedOnly(ctx context.Context, variantsFound, variantsParsed int) {
	t := &l.run.Totals
	t.ProductsParsed++
	t.VariantsFound += variantsFound
	t.VariantsParsed += variantsParsed
	l.tick(ctx)
}

// RecordSweepFailed notes a failed sweep; the run still finalizes with the
// totals accumulated so far.
func (l *Ledger) RecordSweepFailed(err error) {
	l.addError("sweep", "", err.Error())
}

// RecordSweep notes how many previously visible products were hidden.
func (l *Ledger) RecordSweep(n int64) {
	l.run.Totals.Deactivated += int(n)
}

// RecordVariantsSeen reconciles the extractor's raw variant count with what
// reached the consumer; discarded records keep their feed-side counts.
func (l *Ledger) RecordVariantsSeen(n int) {
	if n > l.run.Totals.VariantsFound {
		l.run.Totals.VariantsFound = n
	}
}

func (l *Ledger) addError(stage, code, msg string) {
	l.run.Totals.Errors++
	if len(l.run.TopErrors) >= maxTopErrors {
		return
	}
	l.run.TopErrors = append(l.run.TopErrors, models.RunError{
		Stage:       stage,
		ProductCode: code,
		Message:     msg,
		At:          time.Now().UTC(),
	})
}

// tick checkpoints the run every checkpointEvery processed records.
func (l *Ledger) tick(ctx context.Context) {
	l.processed++
	if l.processed%checkpointEvery != 0 {
		return
	}
	if err := l.store.Checkpoint(ctx, l.run); err != nil {
		log.Warn().Err(err).Str("run", l.run.ID.String()).Msg("run checkpoint failed")
	}
}

// Finalize stamps the terminal status and writes the run record one last
// time. It never fails the run: a failed terminal write is only logged.
func (l *Ledger) Finalize(ctx context.Context, status models.RunStatus, summary, hint string) {
	now := time.Now().UTC()
	l.run.Status = status
	l.run.FinishedAt = &now
	l.run.DurationMS = now.Sub(l.run.StartedAt).Milliseconds()
	l.run.Summary = summary
	l.run.Hint = hint

	if err := l.store.Finalize(ctx, l.run); err != nil {
		log.Error().Err(err).Str("run", l.run.ID.String()).Msg("terminal run write failed")
	}
}
