package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/report-tracker/internal/runner"
	"github.com/sells-group/report-tracker/internal/tracker"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest one report document",
	Long: "Ingests a saved report page (use - for stdin). Without a file the page at --url is fetched, " +
		"retrying transient failures.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		url, _ := cmd.Flags().GetString("url")
		key, _ := cmd.Flags().GetString("key")
		fetchedRaw, _ := cmd.Flags().GetString("fetched-at")
		runID, _ := cmd.Flags().GetString("run-id")

		if len(args) == 0 && url == "" {
			return eris.New("ingest: a file or --url is required")
		}

		e, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer e.Close()

		if len(args) == 0 {
			r := runner.New(e.Tracker, newFetcher(cfg.Fetch), runner.Config{Workers: 1, Retry: cfg.Retry.Policy()})
			sum, err := r.Run(ctx, []runner.Source{{Key: key, URL: url}})
			if err != nil {
				return eris.Wrap(err, "ingest")
			}
			if len(sum.Outcomes) == 1 && sum.Outcomes[0].Result != nil {
				return printResult(os.Stdout, outputFormat, sum.Outcomes[0].Result)
			}
			return printSummary(os.Stdout, outputFormat, sum)
		}

		fetchedAt := time.Time{}
		if fetchedRaw != "" {
			fetchedAt, err = time.Parse(time.RFC3339, fetchedRaw)
			if err != nil {
				return eris.Wrap(err, "ingest: --fetched-at must be RFC3339")
			}
		}

		res, err := ingestFile(ctx, e.Tracker, args[0], os.Stdin, tracker.Document{
			Key:       key,
			SourceURL: url,
			FetchedAt: fetchedAt,
			RunID:     runID,
		})
		if err != nil {
			return err
		}
		return printResult(os.Stdout, outputFormat, res)
	},
}

// ingestFile reads path (or stdin for "-") into doc.Body and ingests it.
// A zero FetchedAt defaults to now.
func ingestFile(ctx context.Context, tr *tracker.Tracker, path string, stdin io.Reader, doc tracker.Document) (*tracker.Result, error) {
	var (
		body []byte
		err  error
	)
	if path == "-" {
		body, err = io.ReadAll(stdin)
	} else {
		body, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", path)
	}
	doc.Body = body
	if doc.FetchedAt.IsZero() {
		doc.FetchedAt = time.Now().UTC()
	}
	doc.Attempts = 1
	return tr.Ingest(ctx, doc)
}

func init() {
	ingestCmd.Flags().String("url", "", "source URL (identity fallback; fetched when no file is given)")
	ingestCmd.Flags().String("key", "", "explicit identity key")
	ingestCmd.Flags().String("fetched-at", "", "fetch time as RFC3339 (default now)")
	ingestCmd.Flags().String("run-id", "", "run ID recorded in the ingestion log")
	rootCmd.AddCommand(ingestCmd)
}
