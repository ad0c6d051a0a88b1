package cli

import (
	"github.com/spf13/cobra"

	"eodbars/internal/app"
)

var (
	exportStart     string
	exportEnd       string
	exportPNGPath   string
	exportCSVPath   string
	exportParquet   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export SYMBOL",
	Short: "Export stored bars as CSV, Parquet and/or a PNG chart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := parseRange(exportStart, exportEnd)
		if err != nil {
			return err
		}
		return getApp().Export(cmd.Context(), app.ExportOptions{
			Symbol:      args[0],
			Range:       r,
			CSVPath:     exportCSVPath,
			PNGPath:     exportPNGPath,
			ParquetPath: exportParquet,
			MaxPoints:   exportMaxPoints,
		})
	},
}

func init() {
	addRangeFlags(exportCmd, &exportStart, &exportEnd)
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().StringVar(&exportParquet, "parquet", "", "Path to write Parquet data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum bars drawn on the chart (defaults to config)")
}
