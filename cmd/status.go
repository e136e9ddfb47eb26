package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/report-tracker/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize recent ingestion health",
	Long:  "Counts ingest outcomes over the lookback window, lists reports with no recent successful ingest, and evaluates alert thresholds.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if h, _ := cmd.Flags().GetInt("lookback"); h > 0 {
			cfg.Monitoring.LookbackWindowHours = h
		}
		notify, _ := cmd.Flags().GetBool("notify")

		e, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer e.Close()

		snap, err := monitoring.NewCollector(e.Store).Collect(ctx, cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			return err
		}
		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(snap)
		if notify {
			alerter.SendAlerts(ctx, alerts)
		}
		return printStatus(os.Stdout, outputFormat, snap, alerts)
	},
}

type statusReport struct {
	Snapshot *monitoring.Snapshot `json:"snapshot"`
	Alerts   []monitoring.Alert   `json:"alerts"`
}

func printStatus(out io.Writer, format string, snap *monitoring.Snapshot, alerts []monitoring.Alert) error {
	if format != "table" {
		if alerts == nil {
			alerts = []monitoring.Alert{}
		}
		return printStructured(out, format, statusReport{Snapshot: snap, Alerts: alerts})
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\tlast %dh\n", snap.LookbackHours)
	_, _ = fmt.Fprintf(w, "Attempts:\t%d\n", snap.Attempts)
	_, _ = fmt.Fprintf(w, "  New:\t%d\n", snap.New)
	_, _ = fmt.Fprintf(w, "  Changed:\t%d\n", snap.Changed)
	_, _ = fmt.Fprintf(w, "  Unchanged:\t%d\n", snap.Unchanged)
	_, _ = fmt.Fprintf(w, "  Parse errors:\t%d\n", snap.ParseErrors)
	_, _ = fmt.Fprintf(w, "  Fetch errors:\t%d\n", snap.FetchErrors)
	_, _ = fmt.Fprintf(w, "  Storage errors:\t%d\n", snap.StorageErrors)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", snap.FailureRate*100)
	_, _ = fmt.Fprintf(w, "Reports:\t%d (%d stale)\n", snap.Reports, len(snap.Stale))
	if len(snap.Stale) > 0 {
		_, _ = fmt.Fprintf(w, "Stale:\t%s\n", strings.Join(snap.Stale, ", "))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "[%s] %s: %s\n", strings.ToUpper(a.Severity), a.Type, a.Message)
	}
	return nil
}

func init() {
	statusCmd.Flags().Int("lookback", 0, "lookback window in hours (default from config)")
	statusCmd.Flags().Bool("notify", false, "send triggered alerts to the configured webhook")
	rootCmd.AddCommand(statusCmd)
}
