package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/report-tracker/internal/config"
)

var cfg *config.Config

var outputFormat string

var rootCmd = &cobra.Command{
	Use:   "report-tracker",
	Short: "Versioned history of market research reports",
	Long:  "Fetches market report pages, extracts normalized metrics, and keeps an append-only version history with field-level diffs and an ingestion log.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		switch outputFormat {
		case "table", "json", "yaml":
		default:
			return fmt.Errorf("unknown output format %q (want table, json or yaml)", outputFormat)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
