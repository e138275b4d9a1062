package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/sells-group/hcpcs-cli/internal/artifact"
	"github.com/sells-group/hcpcs-cli/internal/config"
	"github.com/sells-group/hcpcs-cli/internal/crawl"
)

var (
	crawlOutDir        string
	crawlFormat        string
	crawlWorkers       int
	crawlCategories    []string
	crawlMaxCategories int
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl the catalog and write a snapshot artifact",
	Long:  "Fetches the category index, every category listing and every code detail page, then writes the records to a timestamped JSON or YAML artifact. Nothing is written if the crawl is interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyCrawlFlags(cmd, cfg)
		if err := cfg.Validate("crawl"); err != nil {
			return err
		}

		res, path, err := crawlToArtifact(ctx, cfg)
		if err != nil {
			return err
		}
		printCrawlSummary(cmd.OutOrStdout(), res, path)
		return nil
	},
}

// applyCrawlFlags copies explicitly set crawl flags over the loaded config.
func applyCrawlFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("out") {
		c.Artifact.Dir = crawlOutDir
	}
	if flags.Changed("format") {
		c.Artifact.Format = crawlFormat
	}
	if flags.Changed("workers") {
		c.Crawl.Workers = crawlWorkers
	}
	if flags.Changed("categories") {
		c.Crawl.Categories = crawlCategories
	}
	if flags.Changed("max-categories") {
		c.Crawl.MaxCategories = crawlMaxCategories
	}
}

// crawlToArtifact runs one crawl and persists its records.
func crawlToArtifact(ctx context.Context, c *config.Config) (*crawl.Result, string, error) {
	format, err := artifact.ParseFormat(c.Artifact.Format)
	if err != nil {
		return nil, "", err
	}
	crawler, err := newCrawler(c, newFetcher(c.Fetch))
	if err != nil {
		return nil, "", err
	}

	res, err := crawler.Run(ctx)
	if err != nil {
		return nil, "", err
	}

	path, err := artifact.Write(c.Artifact.Dir, res.StartedAt, format, res.Records)
	if err != nil {
		return nil, "", err
	}
	return res, path, nil
}

func printCrawlSummary(w io.Writer, res *crawl.Result, path string) {
	t := newTable(w)
	t.SetTitle("Crawl " + res.RunID)
	t.AppendRows([]table.Row{
		{"Categories", res.Categories},
		{"Skipped categories", res.SkippedCategories},
		{"Codes listed", res.Stubs},
		{"Detail failures", res.Errors},
		{"Elapsed", res.Duration().Round(time.Millisecond).String()},
		{"Artifact", path},
	})
	t.Render()
	fmt.Fprintln(w)
}

func addCrawlFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&crawlOutDir, "out", "", "artifact output directory (default from config)")
	cmd.Flags().StringVar(&crawlFormat, "format", "", "artifact format: json or yaml (default from config)")
	cmd.Flags().IntVar(&crawlWorkers, "workers", 0, "detail fetch workers (default from config)")
	cmd.Flags().StringSliceVar(&crawlCategories, "categories", nil, "only crawl these categories, by name or letter")
	cmd.Flags().IntVar(&crawlMaxCategories, "max-categories", 0, "stop after this many categories (0 = all)")
}

func init() {
	addCrawlFlags(crawlCmd)
	rootCmd.AddCommand(crawlCmd)
}
