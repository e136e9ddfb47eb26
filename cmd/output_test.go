package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/report-tracker/internal/change"
	"github.com/sells-group/report-tracker/internal/extract"
	"github.com/sells-group/report-tracker/internal/model"
	"github.com/sells-group/report-tracker/internal/monitoring"
	"github.com/sells-group/report-tracker/internal/runner"
	"github.com/sells-group/report-tracker/internal/tracker"
)

var fixedTime = time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

func sampleRecord() *model.Record {
	return &model.Record{
		Key:       "payments",
		FetchedAt: fixedTime,
		Fields: map[string]model.Value{
			model.FieldTitle:        model.String("Payments Market"),
			model.FieldCAGR:         model.Number(5.51),
			model.FieldMajorPlayers: model.List([]string{"Adyen", "Stripe"}),
			model.FieldCloudShare:   model.Null(),
		},
		Warnings: []string{"cloud_share_percent: not found"},
	}
}

func TestPrintRecord_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printRecord(&buf, "table", model.ReportSchema(), sampleRecord()))

	out := buf.String()
	assert.Contains(t, out, "Payments Market")
	assert.Contains(t, out, "5.51")
	assert.Contains(t, out, "Adyen, Stripe")
	assert.Contains(t, out, "null")
	assert.Contains(t, out, "2025-06-15T10:30:00Z")
	// Schema order: title before cagr before major_players.
	assert.Less(t, strings.Index(out, "title"), strings.Index(out, "cagr_percent"))
	assert.Less(t, strings.Index(out, "cagr_percent"), strings.Index(out, "major_players"))
}

func TestPrintRecord_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printRecord(&buf, "json", nil, sampleRecord()))
	assert.Contains(t, buf.String(), `"cagr_percent": 5.51`)
	assert.Contains(t, buf.String(), `"cloud_share_percent": null`)
}

func TestPrintRecord_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printRecord(&buf, "yaml", nil, sampleRecord()))
	out := buf.String()
	assert.Contains(t, out, "cagr_percent: 5.51")
	assert.Contains(t, out, "title: Payments Market")
	assert.Contains(t, out, "- Adyen")
}

func TestPrintStructured_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, printStructured(&buf, "xml", sampleRecord()))
}

func TestPrintHistory(t *testing.T) {
	rec := sampleRecord()
	hist := []model.Version{
		{Key: "payments", Number: 1, Reason: model.ReasonNew, ChangedFields: []string{}, Record: *rec, CommittedAt: fixedTime},
		{Key: "payments", Number: 2, Reason: model.ReasonChanged, ChangedFields: []string{"cagr_percent", "title"}, Record: *rec, CommittedAt: fixedTime.Add(time.Hour)},
	}
	var buf bytes.Buffer
	require.NoError(t, printHistory(&buf, "table", hist))

	out := buf.String()
	assert.Contains(t, out, "VERSION")
	assert.Contains(t, out, "new")
	assert.Contains(t, out, "changed")
	assert.Contains(t, out, "cagr_percent, title")
	assert.Contains(t, out, "2025-06-15 11:30")
}

func TestPrintDiff(t *testing.T) {
	changes := map[string]change.Change{
		model.FieldMajorPlayers: {Old: model.List([]string{"Adyen"}), New: model.List([]string{"Adyen", "Stripe"})},
		model.FieldCAGR:         {Old: model.Number(5.51), New: model.Number(5.63)},
	}
	var buf bytes.Buffer
	require.NoError(t, printDiff(&buf, "table", model.ReportSchema(), changes))

	out := buf.String()
	assert.Contains(t, out, "FIELD")
	assert.Contains(t, out, "5.63")
	assert.Less(t, strings.Index(out, "cagr_percent"), strings.Index(out, "major_players"))

	buf.Reset()
	require.NoError(t, printDiff(&buf, "table", nil, map[string]change.Change{}))
	assert.Equal(t, "No differences.\n", buf.String())
}

func TestPrintLog(t *testing.T) {
	entries := []model.LogEntry{
		{ID: 2, RunID: "abc12345-6789-0000-0000-000000000000", Key: "payments", Status: model.StatusChanged, VersionNumber: 2, StartedAt: fixedTime, DurationMS: 42},
		{ID: 1, Key: "gone", Status: model.StatusFetchError, ErrorType: model.ErrorPermanent, HTTPStatus: 404, Message: "http 404 from https://example.com/reports/gone", StartedAt: fixedTime},
	}
	var buf bytes.Buffer
	require.NoError(t, printLog(&buf, "table", entries))

	out := buf.String()
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "success-changed")
	assert.Contains(t, out, "42ms")
	assert.Contains(t, out, "http 404 from")
	assert.Contains(t, out, "HTTP")
	assert.Regexp(t, `fetch-error\s+404\s`, out)
}

func TestPrintResult_Failure(t *testing.T) {
	res := &tracker.Result{
		Status:  model.StatusParseError,
		Key:     "broken",
		Failure: &extract.Failure{MissingRequired: []string{"title"}},
	}
	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, "table", res))
	assert.Contains(t, buf.String(), "parse-error")
	assert.Contains(t, buf.String(), "missing required fields: title")
}

func TestPrintSummary(t *testing.T) {
	sum := &runner.Summary{
		RunID:      "run-1",
		StartedAt:  fixedTime,
		FinishedAt: fixedTime.Add(1500 * time.Millisecond),
		Total:      3,
		Attempted:  3,
		Counts: map[model.Status]int{
			model.StatusNew:        2,
			model.StatusFetchError: 1,
		},
		Errors: 1,
		Outcomes: []runner.Outcome{
			{Source: runner.Source{URL: "https://example.com/reports/a"}, Result: &tracker.Result{Status: model.StatusNew}},
			{Source: runner.Source{URL: "https://example.com/reports/gone"}, Result: &tracker.Result{Status: model.StatusFetchError}, Error: "http 404 from https://example.com/reports/gone"},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, printSummary(&buf, "table", sum))

	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "success-new:")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "https://example.com/reports/gone")
	assert.NotContains(t, out, "reports/a ")
	assert.NotContains(t, out, "success-unchanged")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "", truncateID(""))
}

func TestPrintStatus(t *testing.T) {
	snap := &monitoring.Snapshot{
		Attempts:      10,
		Unchanged:     8,
		FetchErrors:   2,
		FailureRate:   0.2,
		Reports:       3,
		Stale:         []string{"cards"},
		LookbackHours: 24,
	}
	alerts := []monitoring.Alert{{Type: monitoring.AlertStaleReports, Severity: "medium", Message: "1 of 3 report(s) stale"}}

	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, "table", snap, alerts))
	out := buf.String()
	assert.Contains(t, out, "last 24h")
	assert.Contains(t, out, "20.0%")
	assert.Contains(t, out, "3 (1 stale)")
	assert.Contains(t, out, "[MEDIUM] stale_reports")

	buf.Reset()
	require.NoError(t, printStatus(&buf, "json", snap, nil))
	assert.Contains(t, buf.String(), `"alerts": []`)
	assert.Contains(t, buf.String(), `"stale": [`)
}
