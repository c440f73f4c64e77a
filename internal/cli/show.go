package cli

import (
	"github.com/spf13/cobra"

	"bias-aggregator/internal/app"
)

var (
	showStats bool
)

var showCmd = &cobra.Command{
	Use:   "show [symbol]",
	Short: "Display the latest snapshot tree of a symbol, or all latest pointers",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ShowOptions{Stats: showStats}
		if len(args) == 1 {
			opts.Symbol = args[0]
		}
		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().BoolVar(&showStats, "stats", false, "Also print event counts per processing status")
}
