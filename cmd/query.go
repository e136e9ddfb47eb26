package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/report-tracker/internal/model"
	"github.com/sells-group/report-tracker/internal/store"
)

// -- current --

var currentCmd = &cobra.Command{
	Use:   "current [key]",
	Short: "Show the latest snapshot of a report, or list all reports",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer e.Close()

		if len(args) == 1 {
			rec, err := e.Tracker.Current(ctx, args[0])
			if err != nil {
				return notFoundf(err, "report %q", args[0])
			}
			return printRecord(os.Stdout, outputFormat, e.Tracker.Schema(), rec)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		list, err := e.Store.ListCurrent(ctx, store.ListFilter{Limit: limit})
		if err != nil {
			return eris.Wrap(err, "current")
		}
		if len(list) == 0 && outputFormat == "table" {
			fmt.Fprintln(os.Stderr, "No reports found.")
			return nil
		}
		return printCurrentList(os.Stdout, outputFormat, list)
	},
}

// -- history --

var historyCmd = &cobra.Command{
	Use:   "history <key>",
	Short: "List every version of a report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer e.Close()

		hist, err := e.Tracker.History(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "history")
		}
		if len(hist) == 0 {
			return eris.Errorf("report %q not found", args[0])
		}
		return printHistory(os.Stdout, outputFormat, hist)
	},
}

// -- diff --

var diffCmd = &cobra.Command{
	Use:   "diff <key> <v1> <v2>",
	Short: "Show field-level differences between two versions",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		v1, err1 := strconv.Atoi(args[1])
		v2, err2 := strconv.Atoi(args[2])
		if err1 != nil || err2 != nil || v1 < 1 || v2 < 1 {
			return eris.New("diff: versions must be positive integers")
		}

		e, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer e.Close()

		changes, err := e.Tracker.Diff(ctx, args[0], v1, v2)
		if err != nil {
			return notFoundf(err, "version %d or %d of %q", v1, v2, args[0])
		}
		return printDiff(os.Stdout, outputFormat, e.Tracker.Schema(), changes)
	},
}

// -- log --

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List ingestion log entries, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		e, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer e.Close()

		key, _ := cmd.Flags().GetString("key")
		status, _ := cmd.Flags().GetString("status")
		runID, _ := cmd.Flags().GetString("run-id")
		limit, _ := cmd.Flags().GetInt("limit")
		before, _ := cmd.Flags().GetInt64("before")

		entries, err := e.Store.ListLog(ctx, store.LogFilter{
			Key:      key,
			RunID:    runID,
			Status:   model.Status(status),
			Limit:    limit,
			BeforeID: before,
		})
		if err != nil {
			return eris.Wrap(err, "log")
		}
		if len(entries) == 0 && outputFormat == "table" {
			fmt.Fprintln(os.Stderr, "No log entries found.")
			return nil
		}
		return printLog(os.Stdout, outputFormat, entries)
	},
}

func notFoundf(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return eris.Errorf(format+" not found", args...)
	}
	return err
}

func init() {
	currentCmd.Flags().Int("limit", 100, "max number of reports to list")

	logCmd.Flags().String("key", "", "filter by report key")
	logCmd.Flags().String("status", "", "filter by status (success-new, success-changed, success-unchanged, parse-error, fetch-error, storage-error)")
	logCmd.Flags().String("run-id", "", "filter by run ID")
	logCmd.Flags().Int("limit", 50, "max number of entries to display")
	logCmd.Flags().Int64("before", 0, "only entries with an ID below this one (next page)")

	rootCmd.AddCommand(currentCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(logCmd)
}
