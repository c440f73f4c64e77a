package cli

import (
	"time"

	"github.com/spf13/cobra"

	"bias-aggregator/internal/app"
)

var (
	exportSymbol    string
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export [symbol]",
	Short: "Write the snapshot history of a symbol as CSV and/or a PNG chart",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbol := exportSymbol
		if len(args) == 1 {
			symbol = args[0]
		}
		now := time.Now()
		from, err := optionalTime("from", exportFrom, now)
		if err != nil {
			return err
		}
		to, err := optionalTime("to", exportTo, now)
		if err != nil {
			return err
		}

		return getApp().Export(cmd.Context(), app.ExportOptions{
			Symbol:    symbol,
			From:      from,
			To:        to,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportSymbol, "symbol", "", "Symbol to export when not given as argument")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Window start, inclusive (defaults to to minus aggregation.lookback)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Window end, exclusive (defaults to now)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
