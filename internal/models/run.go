package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus enumerates terminal and in-flight run states.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "RUNNING"
	RunStatusSuccess  RunStatus = "SUCCESS"
	RunStatusNeedAuth RunStatus = "NEED_AUTH"
	RunStatusFailed   RunStatus = "FAILED"
)

// RunTotals accumulates the per-run counters reported by the ledger.
type RunTotals struct {
	ProductsFound  int `db:"products_found" json:"productsFound"`
	ProductsParsed int `db:"products_parsed" json:"productsParsed"`
	VariantsFound  int `db:"variants_found" json:"variantsFound"`
	VariantsParsed int `db:"variants_parsed" json:"variantsParsed"`
	Created        int `db:"created" json:"created"`
	Updated        int `db:"updated" json:"updated"`
	Unchanged      int `db:"unchanged" json:"unchanged"`
	Deactivated    int `db:"deactivated" json:"deactivated"`
	HiddenNoPrice  int `db:"hidden_no_price" json:"hiddenNoPrice"`
	PriceOnRequest int `db:"price_on_request" json:"priceOnRequest"`
	Skipped        int `db:"skipped" json:"skipped"`
	Errors         int `db:"errors" json:"errors"`
}

// PriceChange records one product whose persisted price differs from the
// newly computed one.
type PriceChange struct {
	ProductCode string `json:"productCode"`
	Name        string `json:"name,omitempty"`
	OldPrice    string `json:"oldPrice"`
	NewPrice    string `json:"newPrice"`
}

// RunError is one representative error entry kept on the run record. The
// ledger caps how many are retained; the full stream goes to the error log.
type RunError struct {
	Stage       string    `json:"stage"`
	ProductCode string    `json:"productCode,omitempty"`
	Message     string    `json:"message"`
	At          time.Time `json:"at"`
}

// Run is one execution of the sync engine.
type Run struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	Status     RunStatus  `db:"status" json:"status"`
	DryRun     bool       `db:"dry_run" json:"dryRun"`
	ParseOnly  bool       `db:"parse_only" json:"parseOnly"`
	Limit      int        `db:"record_limit" json:"limit,omitempty"`
	StartedAt  time.Time  `db:"started_at" json:"startedAt"`
	FinishedAt *time.Time `db:"finished_at" json:"finishedAt,omitempty"`
	DurationMS int64      `db:"duration_ms" json:"durationMs"`

	Totals       RunTotals     `json:"totals"`
	PriceChanges []PriceChange `json:"priceChanges,omitempty"`
	TopErrors    []RunError    `json:"topErrors,omitempty"`

	Summary string `db:"summary" json:"summary"`
	Hint    string `db:"hint" json:"hint,omitempty"`

	ReportPath  string `db:"report_path" json:"reportPath,omitempty"`
	SummaryPath string `db:"summary_path" json:"summaryPath,omitempty"`
	LogPath     string `db:"log_path" json:"logPath,omitempty"`
	ErrLogPath  string `db:"errlog_path" json:"errLogPath,omitempty"`
}
