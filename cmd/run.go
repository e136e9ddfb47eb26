package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/report-tracker/internal/runner"
)

var runCmd = &cobra.Command{
	Use:   "run <sources-file>",
	Short: "Fetch and ingest every source in a list",
	Long: "Reads a source list (one \"url\" or \"key url\" per line, or a YAML list of {key, url}) " +
		"and ingests each page with a bounded worker pool. Interrupting stops scheduling; " +
		"documents already fetched still commit.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if w, _ := cmd.Flags().GetInt("workers"); w > 0 {
			cfg.Runner.Workers = w
		}

		sources, err := runner.LoadSources(args[0])
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			zap.L().Warn("no sources to run", zap.String("file", args[0]))
			return nil
		}

		e, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer e.Close()

		r := runner.New(e.Tracker, newFetcher(cfg.Fetch), runner.Config{
			Workers: cfg.Runner.Workers,
			Retry:   cfg.Retry.Policy(),
		})
		sum, runErr := r.Run(ctx, sources)
		if err := printSummary(os.Stdout, outputFormat, sum); err != nil {
			return err
		}
		if runErr != nil {
			return eris.Wrap(runErr, "run interrupted")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().Int("workers", 0, "concurrent workers (default from config)")
	rootCmd.AddCommand(runCmd)
}
