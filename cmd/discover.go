package main

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/report-tracker/internal/discover"
	"github.com/sells-group/report-tracker/internal/fetcher"
	"github.com/sells-group/report-tracker/internal/runner"
)

var discoverCmd = &cobra.Command{
	Use:   "discover <index-url>",
	Short: "Build a source list from a report index page",
	Long: "Collects report URLs from an index page (its embedded __NEXT_DATA__ listing, or its links) " +
		"and optionally a paged listing API, then writes them as a sources file for run. " +
		"With --validate each URL is checked with HEAD and only pages answering 200 are written.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("discover"); err != nil {
			return err
		}

		var opts discover.Options
		opts.APIURL, _ = cmd.Flags().GetString("api")
		opts.FirstPage, _ = cmd.Flags().GetInt("first-page")
		opts.LastPage, _ = cmd.Flags().GetInt("last-page")
		opts.Host, _ = cmd.Flags().GetString("host")
		opts.PathContains, _ = cmd.Flags().GetString("path")
		check, _ := cmd.Flags().GetBool("validate")
		workers, _ := cmd.Flags().GetInt("workers")
		outPath, _ := cmd.Flags().GetString("out")

		out := io.Writer(os.Stdout)
		if outPath != "" && outPath != "-" {
			f, err := os.Create(outPath)
			if err != nil {
				return eris.Wrapf(err, "discover: create %s", outPath)
			}
			defer f.Close() //nolint:errcheck
			out = f
		}
		return discoverSources(cmd.Context(), newFetcher(cfg.Fetch), args[0], opts, check, workers, out)
	},
}

// discoverSources finds report URLs from indexURL and writes them to out in
// the sources-file format.
func discoverSources(ctx context.Context, f *fetcher.HTTPFetcher, indexURL string, opts discover.Options, check bool, workers int, out io.Writer) error {
	urls, err := discover.New(f, opts).Discover(ctx, indexURL)
	if err != nil {
		return err
	}
	if check {
		res, err := discover.Validate(ctx, f, urls, workers)
		if err != nil {
			return eris.Wrap(err, "discover: validate")
		}
		for _, u := range res.Invalid {
			zap.L().Warn("discover: dropping invalid url", zap.String("url", u))
		}
		for _, u := range res.Unreachable {
			zap.L().Warn("discover: dropping unreachable url", zap.String("url", u))
		}
		urls = res.Valid
	}
	if len(urls) == 0 {
		zap.L().Warn("discover: no report urls found", zap.String("index", indexURL))
	}

	srcs := make([]runner.Source, 0, len(urls))
	for _, u := range urls {
		srcs = append(srcs, runner.Source{URL: u})
	}
	return runner.WriteSources(out, srcs)
}

func init() {
	discoverCmd.Flags().String("api", "", "paged listing API URL (queried with page and limit)")
	discoverCmd.Flags().Int("first-page", 2, "first listing API page")
	discoverCmd.Flags().Int("last-page", 6, "last listing API page")
	discoverCmd.Flags().String("host", "", "accepted host and its subdomains (default: index host without www.)")
	discoverCmd.Flags().String("path", discover.DefaultPathContains, "path fragment every report URL contains")
	discoverCmd.Flags().Bool("validate", false, "HEAD-check each URL and keep only 200s")
	discoverCmd.Flags().Int("workers", 5, "concurrent HEAD checks with --validate")
	discoverCmd.Flags().String("out", "", "write the sources file here instead of stdout")
	rootCmd.AddCommand(discoverCmd)
}
