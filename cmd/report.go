package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/hcpcs-cli/internal/model"
	"github.com/sells-group/hcpcs-cli/internal/store"
)

var (
	reportTop           int
	reportActiveBy      string
	reportExpiredBefore string
	reportJSON          bool
)

// summary is the full validation report.
type summary struct {
	Groups        []model.GroupCount       `json:"groups"`
	TopCategories []model.CategoryCount    `json:"top_categories"`
	MultiVersion  []model.MultiVersionCode `json:"multi_version"`
	Expired       []model.ExpiredCode      `json:"expired"`
	ActiveBy      model.Date               `json:"active_by"`
	ExpiredBefore model.Date               `json:"expired_before"`
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize the stored catalog",
	Long:  "Prints counts per group, the largest categories, codes whose long description changed, and codes active by one date but expired before another.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("report"); err != nil {
			return err
		}
		activeBy, err := model.ParseISODate(reportActiveBy)
		if err != nil {
			return eris.Wrap(err, "--active-by")
		}
		expiredBefore, err := model.ParseISODate(reportExpiredBefore)
		if err != nil {
			return eris.Wrap(err, "--expired-before")
		}

		st, err := openStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		s, err := buildSummary(cmd.Context(), st, reportTop, activeBy, expiredBefore)
		if err != nil {
			return err
		}
		if reportJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}
		renderSummary(cmd.OutOrStdout(), s)
		return nil
	},
}

func buildSummary(ctx context.Context, st store.Store, top int, activeBy, expiredBefore model.Date) (*summary, error) {
	var (
		s   = &summary{ActiveBy: activeBy, ExpiredBefore: expiredBefore}
		err error
	)
	if s.Groups, err = st.GroupCounts(ctx); err != nil {
		return nil, err
	}
	if s.TopCategories, err = st.TopCategories(ctx, top); err != nil {
		return nil, err
	}
	if s.MultiVersion, err = st.MultiVersionCodes(ctx); err != nil {
		return nil, err
	}
	if s.Expired, err = st.ExpiredBetween(ctx, activeBy, expiredBefore); err != nil {
		return nil, err
	}
	return s, nil
}

func renderSummary(w io.Writer, s *summary) {
	t := newTable(w)
	t.SetTitle("Counts per group")
	t.AppendHeader(table.Row{"Group", "Rows"})
	for _, g := range s.Groups {
		t.AppendRow(table.Row{g.GroupCode, g.Count})
	}
	t.Render()
	fmt.Fprintln(w)

	t = newTable(w)
	t.SetTitle(fmt.Sprintf("Top %d categories", len(s.TopCategories)))
	t.AppendHeader(table.Row{"Category", "Rows"})
	for _, c := range s.TopCategories {
		t.AppendRow(table.Row{c.CategoryName, c.Count})
	}
	t.Render()
	fmt.Fprintln(w)

	t = newTable(w)
	t.SetTitle("Codes with multiple descriptions")
	t.AppendHeader(table.Row{"Code", "Versions"})
	for _, m := range s.MultiVersion {
		t.AppendRow(table.Row{m.HCPCSCode, m.Versions})
	}
	t.Render()
	fmt.Fprintln(w)

	t = newTable(w)
	t.SetTitle(fmt.Sprintf("Active by %s, expired before %s", s.ActiveBy, s.ExpiredBefore))
	t.AppendHeader(table.Row{"Code", "Effective", "End"})
	for _, e := range s.Expired {
		t.AppendRow(table.Row{e.HCPCSCode, dateCell(e.EffectiveDate), dateCell(e.EndDate)})
	}
	t.Render()
	fmt.Fprintln(w)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func dateCell(d *model.Date) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func init() {
	reportCmd.Flags().IntVar(&reportTop, "top", 5, "number of categories to list")
	reportCmd.Flags().StringVar(&reportActiveBy, "active-by", "2022-12-31", "expired report: effective on or before this date")
	reportCmd.Flags().StringVar(&reportExpiredBefore, "expired-before", "2024-01-01", "expired report: ended before this date")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "print JSON instead of tables")
	rootCmd.AddCommand(reportCmd)
}
