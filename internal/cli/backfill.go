package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"bias-aggregator/internal/app"
)

var (
	backfillFrom   string
	backfillTo     string
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill <alerts.csv>",
	Short: "Replay historical alerts from a CSV file and fold them into snapshots",
	Long: "Replays rows of symbol,candle_type,interval,indicator,message,event_time[,strategy].\n" +
		"Matched alerts inside the window are enqueued and drained by aggregation passes.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" {
			return errors.New("--from must be provided")
		}
		now := time.Now()
		from, err := parseTimeFlag("from", backfillFrom, now)
		if err != nil {
			return err
		}
		to := now.UTC()
		if backfillTo != "" {
			if to, err = parseTimeFlag("to", backfillTo, now); err != nil {
				return err
			}
		}
		if !from.Before(to) {
			return errors.New("--from must be before --to")
		}

		return getApp().Backfill(cmd.Context(), app.BackfillOptions{
			Path:   args[0],
			From:   from,
			To:     to,
			DryRun: backfillDryRun,
		})
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "Window start, inclusive")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "Window end, exclusive (defaults to now)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Score alerts without writing to storage")
}
