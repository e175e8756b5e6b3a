package report

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rughaus/feedsync/internal/models"
)

func TestFileReporterWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	run := &models.Run{
		ID:        uuid.New(),
		Status:    models.RunStatusSuccess,
		StartedAt: time.Now().UTC(),
		Summary:   "synced 2 products: 2 created, 0 updated, 0 unchanged, 0 deactivated",
		Totals:    models.RunTotals{ProductsFound: 2, ProductsParsed: 2, Created: 2},
		PriceChanges: []models.PriceChange{
			{ProductCode: "P1", OldPrice: "100.00", NewPrice: "120.00"},
		},
		TopErrors: []models.RunError{
			{Stage: "validate", ProductCode: "P9", Message: "duplicate external id", At: time.Now().UTC()},
		},
	}

	r, err := NewFileReporter(dir, run.ID.String())
	require.NoError(t, err)

	r.Logf("created %s price=%q", "P1", "120.00")
	r.Error(models.RunError{Stage: "validate", ProductCode: "P9", Message: "duplicate external id", At: time.Now().UTC()})

	require.NoError(t, r.Finalize(run))
	require.NoError(t, r.Close())

	runDir := filepath.Join(dir, run.ID.String())
	assert.Equal(t, filepath.Join(runDir, "run.log"), run.LogPath)
	assert.Equal(t, filepath.Join(runDir, "errors.ndjson"), run.ErrLogPath)
	assert.Equal(t, filepath.Join(runDir, "report.json"), run.ReportPath)
	assert.Equal(t, filepath.Join(runDir, "summary.md"), run.SummaryPath)

	logData, err := os.ReadFile(run.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(logData), `created P1 price="120.00"`)

	var report models.Run
	reportData, err := os.ReadFile(run.ReportPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(reportData, &report))
	assert.Equal(t, run.ID, report.ID)
	assert.Equal(t, 2, report.Totals.Created)

	summary, err := os.ReadFile(run.SummaryPath)
	require.NoError(t, err)
	assert.Contains(t, string(summary), "**Status:** SUCCESS")
	assert.Contains(t, string(summary), "| created | 2 |")
	assert.Contains(t, string(summary), "| P1 | 100.00 | 120.00 |")
	assert.Contains(t, string(summary), "`validate` P9: duplicate external id")
}

func TestFileReporterErrorLogIsNDJSON(t *testing.T) {
	dir := t.TempDir()
	r, err := NewFileReporter(dir, "run-1")
	require.NoError(t, err)

	r.Error(models.RunError{Stage: "reconcile", ProductCode: "P1", Message: "boom"})
	r.Error(models.RunError{Stage: "sweep", Message: "db down"})
	require.NoError(t, r.Close())

	f, err := os.Open(filepath.Join(dir, "run-1", "errors.ndjson"))
	require.NoError(t, err)
	defer f.Close()

	var entries []models.RunError
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e models.RunError
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, entries, 2)
	assert.Equal(t, "reconcile", entries[0].Stage)
	assert.Equal(t, "P1", entries[0].ProductCode)
	assert.Equal(t, "sweep", entries[1].Stage)
}

func TestNopFactory(t *testing.T) {
	sink, err := NopFactory{}.NewSink("whatever")
	require.NoError(t, err)
	sink.Logf("discarded %d", 1)
	sink.Error(models.RunError{Stage: "x"})
	assert.NoError(t, sink.Finalize(&models.Run{}))
	assert.NoError(t, sink.Close())
}
