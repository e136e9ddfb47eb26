package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/report-tracker/internal/change"
	"github.com/sells-group/report-tracker/internal/model"
	"github.com/sells-group/report-tracker/internal/runner"
	"github.com/sells-group/report-tracker/internal/tracker"
)

// printStructured writes v as indented JSON or YAML. YAML goes through the
// JSON encoding so custom marshalers (model.Value) are honored.
func printStructured(out io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		raw, err := json.Marshal(v)
		if err != nil {
			return eris.Wrap(err, "output: marshal")
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return eris.Wrap(err, "output: remarshal")
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return eris.Wrap(err, "output: yaml")
		}
		return enc.Close()
	default:
		return eris.Errorf("output: unknown format %q", format)
	}
}

func printResult(out io.Writer, format string, res *tracker.Result) error {
	if format != "table" {
		return printStructured(out, format, res)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", res.Status)
	if res.Key != "" {
		_, _ = fmt.Fprintf(w, "Key:\t%s\n", res.Key)
	}
	if res.VersionNumber > 0 {
		_, _ = fmt.Fprintf(w, "Version:\t%d\n", res.VersionNumber)
	}
	if len(res.ChangedFields) > 0 {
		_, _ = fmt.Fprintf(w, "Changed:\t%s\n", strings.Join(res.ChangedFields, ", "))
	}
	if res.Failure != nil {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", res.Failure.Error())
	}
	for _, warn := range res.Warnings {
		_, _ = fmt.Fprintf(w, "Warning:\t%s\n", warn)
	}
	return w.Flush()
}

func printSummary(out io.Writer, format string, sum *runner.Summary) error {
	if format != "table" {
		return printStructured(out, format, sum)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", sum.RunID)
	_, _ = fmt.Fprintf(w, "Sources:\t%d (attempted %d)\n", sum.Total, sum.Attempted)
	for _, st := range []model.Status{
		model.StatusNew, model.StatusChanged, model.StatusUnchanged,
		model.StatusParseError, model.StatusFetchError, model.StatusStorageError,
	} {
		if n := sum.Counts[st]; n > 0 {
			_, _ = fmt.Fprintf(w, "  %s:\t%d\n", st, n)
		}
	}
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond))
	if err := w.Flush(); err != nil {
		return err
	}

	var failed []runner.Outcome
	for _, o := range sum.Outcomes {
		if o.Error != "" || (o.Result != nil && !o.Result.Status.IsSuccess()) {
			failed = append(failed, o)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "URL\tSTATUS\tERROR")
	for _, o := range failed {
		status, msg := "", o.Error
		if o.Result != nil {
			status = string(o.Result.Status)
			if msg == "" && o.Result.Failure != nil {
				msg = o.Result.Failure.Error()
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", o.Source.URL, status, truncate(msg, 80))
	}
	return w.Flush()
}

// printRecord lists fields in schema declaration order, then any extras.
func printRecord(out io.Writer, format string, schema *model.Schema, rec *model.Record) error {
	if format != "table" {
		return printStructured(out, format, rec)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "key\t%s\n", rec.Key)
	_, _ = fmt.Fprintf(w, "fetched_at\t%s\n", rec.FetchedAt.Format(time.RFC3339))
	for _, k := range orderedFields(schema, rec.Fields) {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", k, rec.Get(k).Display())
	}
	for _, warn := range rec.Warnings {
		_, _ = fmt.Fprintf(w, "warning\t%s\n", warn)
	}
	return w.Flush()
}

func printCurrentList(out io.Writer, format string, list []model.Current) error {
	if format != "table" {
		return printStructured(out, format, list)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tVERSION\tTITLE\tUPDATED")
	_, _ = fmt.Fprintln(w, "---\t-------\t-----\t-------")
	for _, c := range list {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
			c.Key,
			c.Number,
			truncate(c.Record.Get(model.FieldTitle).Display(), 40),
			c.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func printHistory(out io.Writer, format string, hist []model.Version) error {
	if format != "table" {
		return printStructured(out, format, hist)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VERSION\tREASON\tFETCHED\tCOMMITTED\tCHANGED")
	_, _ = fmt.Fprintln(w, "-------\t------\t-------\t---------\t-------")
	for _, v := range hist {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			v.Number,
			v.Reason,
			v.Record.FetchedAt.Format("2006-01-02 15:04"),
			v.CommittedAt.Format("2006-01-02 15:04"),
			strings.Join(v.ChangedFields, ", "),
		)
	}
	return w.Flush()
}

func printDiff(out io.Writer, format string, schema *model.Schema, changes map[string]change.Change) error {
	if format != "table" {
		return printStructured(out, format, changes)
	}
	if len(changes) == 0 {
		_, err := fmt.Fprintln(out, "No differences.")
		return err
	}
	keys := make(map[string]model.Value, len(changes))
	for k := range changes {
		keys[k] = model.Value{}
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FIELD\tOLD\tNEW")
	_, _ = fmt.Fprintln(w, "-----\t---\t---")
	for _, k := range orderedFields(schema, keys) {
		c := changes[k]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", k, c.Old.Display(), c.New.Display())
	}
	return w.Flush()
}

func printLog(out io.Writer, format string, entries []model.LogEntry) error {
	if format != "table" {
		return printStructured(out, format, entries)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tRUN\tKEY\tSTATUS\tVERSION\tHTTP\tSTARTED\tDURATION\tMESSAGE")
	_, _ = fmt.Fprintln(w, "--\t---\t---\t------\t-------\t----\t-------\t--------\t-------")
	for _, e := range entries {
		version, httpStatus := "", ""
		if e.VersionNumber > 0 {
			version = fmt.Sprintf("%d", e.VersionNumber)
		}
		if e.HTTPStatus > 0 {
			httpStatus = fmt.Sprintf("%d", e.HTTPStatus)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%dms\t%s\n",
			e.ID,
			truncateID(e.RunID),
			e.Key,
			e.Status,
			version,
			httpStatus,
			e.StartedAt.Format("2006-01-02 15:04:05"),
			e.DurationMS,
			truncate(e.Message, 60),
		)
	}
	return w.Flush()
}

func orderedFields(schema *model.Schema, fields map[string]model.Value) []string {
	seen := make(map[string]bool, len(fields))
	var out []string
	if schema != nil {
		for _, f := range schema.Fields {
			if _, ok := fields[f.Key]; ok {
				out = append(out, f.Key)
				seen[f.Key] = true
			}
		}
	}
	var extra []string
	for k := range fields {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
