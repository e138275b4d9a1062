package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hcpcs-cli/internal/export"
	"github.com/sells-group/hcpcs-cli/internal/model"
)

var (
	exportFormat string
	exportOut    string
	exportActive bool
	exportGroup  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored rows as CSV or XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("export"); err != nil {
			return err
		}
		format, err := export.ParseFormat(exportFormat)
		if err != nil {
			return err
		}

		st, err := openStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rows, err := st.ListRows(cmd.Context(), model.RowFilter{GroupCode: exportGroup, ActiveOnly: exportActive})
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return eris.Wrapf(err, "export: create %s", exportOut)
			}
			defer f.Close() //nolint:errcheck
			w = f
		}

		if err := export.Write(w, format, rows); err != nil {
			return err
		}
		zap.L().Info("export complete", zap.Int("rows", len(rows)), zap.String("format", string(format)), zap.String("out", exportOut))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "csv or xlsx")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
	exportCmd.Flags().BoolVar(&exportActive, "active", false, "only rows with no end date")
	exportCmd.Flags().StringVar(&exportGroup, "group", "", "only this group code")
	rootCmd.AddCommand(exportCmd)
}
