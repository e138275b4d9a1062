package main

import (
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/hcpcs-cli/internal/model"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Crawl, write the artifact, and load it in one step",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyCrawlFlags(cmd, cfg)
		applyPolicyFlags(cmd, cfg)
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		// Connect first so a bad DSN fails before a long crawl.
		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := newReconciler(cfg.Policy, st)
		if err != nil {
			return err
		}

		res, path, err := crawlToArtifact(ctx, cfg)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printCrawlSummary(out, res, path)

		report, err := rec.ReconcileSource(ctx, filepath.Base(path), res.Records)
		if err != nil {
			return err
		}
		printLoadReports(out, []string{path}, []model.LoadReport{report})
		return nil
	},
}

func init() {
	addCrawlFlags(runCmd)
	addPolicyFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
