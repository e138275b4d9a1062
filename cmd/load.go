package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hcpcs-cli/internal/artifact"
	"github.com/sells-group/hcpcs-cli/internal/config"
	"github.com/sells-group/hcpcs-cli/internal/loader"
	"github.com/sells-group/hcpcs-cli/internal/model"
	"github.com/sells-group/hcpcs-cli/internal/store"
)

var (
	loadDuplicates string
	loadAsOf       string
)

var loadCmd = &cobra.Command{
	Use:   "load [artifact...]",
	Short: "Reconcile snapshot artifacts into the store",
	Long:  "Reconciles each artifact against the store in one transaction per file. Without arguments every hcpcs_* artifact in the artifact directory that the store has not loaded yet is applied in name order. Named artifacts are always applied.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyPolicyFlags(cmd, cfg)
		if err := cfg.Validate("load"); err != nil {
			return err
		}

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		paths := args
		if len(paths) == 0 {
			all, err := artifact.List(cfg.Artifact.Dir)
			if err != nil {
				return err
			}
			if len(all) == 0 {
				return eris.Errorf("load: no artifacts found in %s", cfg.Artifact.Dir)
			}
			paths, err = pendingArtifacts(ctx, st, all)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "All %d artifacts in %s are already loaded.\n", len(all), cfg.Artifact.Dir)
				return nil
			}
		}

		rec, err := newReconciler(cfg.Policy, st)
		if err != nil {
			return err
		}

		reports, err := loadFiles(ctx, rec, paths)
		printLoadReports(cmd.OutOrStdout(), paths[:len(reports)], reports)
		return err
	},
}

func applyPolicyFlags(cmd *cobra.Command, c *config.Config) {
	if cmd.Flags().Changed("duplicates") {
		c.Policy.Duplicates = loadDuplicates
	}
	if cmd.Flags().Changed("as-of") {
		c.Policy.AsOf = loadAsOf
	}
}

// pendingArtifacts drops the paths whose file name the store has already
// recorded as loaded.
func pendingArtifacts(ctx context.Context, st store.Store, paths []string) ([]string, error) {
	loaded, err := st.LoadedSources(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load: read loaded artifacts")
	}
	done := make(map[string]bool, len(loaded))
	for _, src := range loaded {
		done[src.Name] = true
	}
	var out []string
	for _, p := range paths {
		if done[filepath.Base(p)] {
			zap.L().Debug("artifact already loaded", zap.String("path", p))
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// loadFiles reconciles each artifact in order, stopping at the first failure.
// It returns the reports of the files that were applied.
func loadFiles(ctx context.Context, rec *loader.Reconciler, paths []string) ([]model.LoadReport, error) {
	reports := make([]model.LoadReport, 0, len(paths))
	for _, path := range paths {
		records, err := artifact.Read(path)
		if err != nil {
			return reports, err
		}
		report, err := rec.ReconcileSource(ctx, filepath.Base(path), records)
		if err != nil {
			return reports, eris.Wrapf(err, "load: %s", path)
		}
		zap.L().Info("artifact loaded",
			zap.String("path", path),
			zap.Int("inserted", report.Inserted),
			zap.Int("closed", report.Closed),
		)
		reports = append(reports, report)
	}
	return reports, nil
}

func printLoadReports(w io.Writer, paths []string, reports []model.LoadReport) {
	if len(reports) == 0 {
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Artifact", "Inserted", "Closed", "Unchanged", "Skipped"})
	var total model.LoadReport
	for i, r := range reports {
		total.Add(r)
		t.AppendRow(table.Row{filepath.Base(paths[i]), r.Inserted, r.Closed, r.Unchanged, r.Skipped})
	}
	if len(reports) > 1 {
		t.AppendFooter(table.Row{"Total", total.Inserted, total.Closed, total.Unchanged, total.Skipped})
	}
	t.Render()
	fmt.Fprintln(w)
}

func addPolicyFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&loadDuplicates, "duplicates", "", "duplicate code policy: last_wins or dedupe (default from config)")
	cmd.Flags().StringVar(&loadAsOf, "as-of", "", "close date for records without an effective date, YYYY-MM-DD")
}

func init() {
	addPolicyFlags(loadCmd)
	rootCmd.AddCommand(loadCmd)
}
