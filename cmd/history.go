package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/sells-group/hcpcs-cli/internal/model"
)

var historyCmd = &cobra.Command{
	Use:   "history CODE",
	Short: "Show every stored version of a code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("report"); err != nil {
			return err
		}
		st, err := openStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rows, err := st.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "no rows for %s\n", args[0])
			return nil
		}
		renderHistory(cmd.OutOrStdout(), rows)
		return nil
	},
}

func renderHistory(w io.Writer, rows []model.CodeRow) {
	t := newTable(w)
	t.SetTitle(rows[0].HCPCSCode)
	t.AppendHeader(table.Row{"ID", "Effective", "End", "Long description", "Status"})
	for _, r := range rows {
		t.AppendRow(table.Row{r.ID, dateCell(r.EffectiveDate), dateCell(r.EndDate), r.LongDescription, r.StatusCode})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 4, WidthMax: 60}})
	t.Render()
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
