package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bias-aggregator/internal/app"
	"bias-aggregator/internal/service"
)

// alertFlags collect one raw alert from the command line.
type alertFlags struct {
	symbol     string
	candleType string
	interval   string
	indicator  string
	message    string
	strategy   string
	at         string
}

func (f *alertFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.symbol, "symbol", "", "Instrument symbol")
	cmd.Flags().StringVar(&f.candleType, "candle", "CLASSIC", "Candle representation")
	cmd.Flags().StringVar(&f.interval, "interval", "", "Chart timeframe, e.g. 5m")
	cmd.Flags().StringVar(&f.indicator, "indicator", "", "Indicator name")
	cmd.Flags().StringVar(&f.message, "message", "", "Raw alert message")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "Strategy name when the alert comes from a strategy")
	cmd.Flags().StringVar(&f.at, "at", "", "Event time as RFC3339, unix ms or a duration ago (defaults to now)")
}

func (f *alertFlags) alert() (service.Alert, error) {
	if f.symbol == "" || f.indicator == "" || f.message == "" {
		return service.Alert{}, fmt.Errorf("--symbol, --indicator and --message must be provided")
	}
	alert := service.Alert{
		Symbol:        f.symbol,
		CandleType:    f.candleType,
		Interval:      f.interval,
		IndicatorName: f.indicator,
		Message:       f.message,
		IsStrategy:    f.strategy != "",
		StrategyName:  f.strategy,
	}
	if f.at != "" {
		at, err := parseTimeFlag("at", f.at, time.Now())
		if err != nil {
			return service.Alert{}, err
		}
		alert.EventTime = at
	}
	return alert, nil
}

var (
	ingestAlert  alertFlags
	ingestDryRun bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Score one alert against the rule catalog and enqueue it",
	RunE: func(cmd *cobra.Command, args []string) error {
		alert, err := ingestAlert.alert()
		if err != nil {
			return err
		}
		return getApp().Ingest(cmd.Context(), app.IngestOptions{Alert: alert, DryRun: ingestDryRun})
	},
}

func init() {
	ingestAlert.bind(ingestCmd)
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "Score only, do not enqueue")
}
