package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rughaus/feedsync/internal/models"
)

// Sink receives run output as it happens. The engine only ever talks to this
// interface; writers for other destinations slot in behind it.
type Sink interface {
	// Logf appends one line to the run log.
	Logf(format string, args ...any)
	// Error appends one entry to the error log.
	Error(entry models.RunError)
	// Finalize writes the terminal artifacts and records their paths on the run.
	Finalize(run *models.Run) error
	Close() error
}

// Factory opens a fresh Sink for each run.
type Factory interface {
	NewSink(runID string) (Sink, error)
}

// FileFactory creates per-run FileReporters under Dir.
type FileFactory struct {
	Dir string
}

func (f FileFactory) NewSink(runID string) (Sink, error) {
	return NewFileReporter(f.Dir, runID)
}

// NopFactory hands out discarding sinks.
type NopFactory struct{}

func (NopFactory) NewSink(string) (Sink, error) { return Nop{}, nil }

// Nop discards everything; used by parse-only runs and tests.
type Nop struct{}

func (Nop) Logf(string, ...any)        {}
func (Nop) Error(models.RunError)      {}
func (Nop) Finalize(*models.Run) error { return nil }
func (Nop) Close() error               { return nil }

// FileReporter writes the run artifacts under <dir>/<runID>/: an append-only
// run.log, a newline-delimited errors.ndjson, report.json and summary.md.
type FileReporter struct {
	dir     string
	runLog  *os.File
	errLog  *os.File
	errEnc  *json.Encoder
	logPath string
	errPath string
}

// NewFileReporter creates the run directory and opens the streaming logs.
func NewFileReporter(baseDir, runID string) (*FileReporter, error) {
	dir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}

	logPath := filepath.Join(dir, "run.log")
	runLog, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}

	errPath := filepath.Join(dir, "errors.ndjson")
	errLog, err := os.OpenFile(errPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = runLog.Close()
		return nil, fmt.Errorf("open error log: %w", err)
	}

	return &FileReporter{
		dir:     dir,
		runLog:  runLog,
		errLog:  errLog,
		errEnc:  json.NewEncoder(errLog),
		logPath: logPath,
		errPath: errPath,
	}, nil
}

// Logf appends a timestamped line to run.log.
func (r *FileReporter) Logf(format string, args ...any) {
	line := fmt.Sprintf("%s %s\n", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	if _, err := r.runLog.WriteString(line); err != nil {
		log.Warn().Err(err).Msg("run log write failed")
	}
}

// Error appends one NDJSON entry to errors.ndjson.
func (r *FileReporter) Error(entry models.RunError) {
	if err := r.errEnc.Encode(entry); err != nil {
		log.Warn().Err(err).Msg("error log write failed")
	}
}

// Finalize writes report.json and summary.md and stamps all artifact paths
// onto the run record.
func (r *FileReporter) Finalize(run *models.Run) error {
	run.LogPath = r.logPath
	run.ErrLogPath = r.errPath

	reportPath := filepath.Join(r.dir, "report.json")
	payload, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(reportPath, payload, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	run.ReportPath = reportPath

	summaryPath := filepath.Join(r.dir, "summary.md")
	if err := os.WriteFile(summaryPath, []byte(renderSummary(run)), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	run.SummaryPath = summaryPath
	return nil
}

// Close flushes and closes the streaming logs.
func (r *FileReporter) Close() error {
	errA := r.runLog.Close()
	errB := r.errLog.Close()
	if errA != nil {
		return errA
	}
	return errB
}

// renderSummary produces the human-readable Markdown summary.
func renderSummary(run *models.Run) string {
	var b strings.Builder
	t := run.Totals

	fmt.Fprintf(&b, "# Feed sync %s\n\n", run.ID)
	fmt.Fprintf(&b, "**Status:** %s  \n", run.Status)
	fmt.Fprintf(&b, "**Started:** %s  \n", run.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "**Duration:** %s  \n", (time.Duration(run.DurationMS) * time.Millisecond).String())
	if run.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", run.Summary)
	}
	if run.Hint != "" {
		fmt.Fprintf(&b, "\n> %s\n", run.Hint)
	}

	b.WriteString("\n## Totals\n\n")
	b.WriteString("| metric | value |\n|---|---|\n")
	fmt.Fprintf(&b, "| products found | %d |\n", t.ProductsFound)
	fmt.Fprintf(&b, "| products parsed | %d |\n", t.ProductsParsed)
	fmt.Fprintf(&b, "| variants found | %d |\n", t.VariantsFound)
	fmt.Fprintf(&b, "| variants parsed | %d |\n", t.VariantsParsed)
	fmt.Fprintf(&b, "| created | %d |\n", t.Created)
	fmt.Fprintf(&b, "| updated | %d |\n", t.Updated)
	fmt.Fprintf(&b, "| unchanged | %d |\n", t.Unchanged)
	fmt.Fprintf(&b, "| deactivated | %d |\n", t.Deactivated)
	fmt.Fprintf(&b, "| hidden (no price) | %d |\n", t.HiddenNoPrice)
	fmt.Fprintf(&b, "| price on request | %d |\n", t.PriceOnRequest)
	fmt.Fprintf(&b, "| skipped | %d |\n", t.Skipped)
	fmt.Fprintf(&b, "| errors | %d |\n", t.Errors)

	if len(run.PriceChanges) > 0 {
		b.WriteString("\n## Price changes\n\n")
		b.WriteString("| product | old | new |\n|---|---|---|\n")
		for _, pc := range run.PriceChanges {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", pc.ProductCode, pc.OldPrice, pc.NewPrice)
		}
	}

	if len(run.TopErrors) > 0 {
		b.WriteString("\n## Top errors\n\n")
		for _, e := range run.TopErrors {
			fmt.Fprintf(&b, "- `%s` %s: %s\n", e.Stage, e.ProductCode, e.Message)
		}
	}

	return b.String()
}
