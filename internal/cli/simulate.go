package cli

import (
	"github.com/spf13/cobra"
)

var (
	simulateAlert  alertFlags
	simulateNotify bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Fold one alert into a throwaway snapshot and optionally send the notification",
	RunE: func(cmd *cobra.Command, args []string) error {
		alert, err := simulateAlert.alert()
		if err != nil {
			return err
		}
		return getApp().SimulateAlert(cmd.Context(), alert, simulateNotify)
	},
}

func init() {
	simulateAlert.bind(simulateCmd)
	simulateCmd.Flags().BoolVar(&simulateNotify, "notify", false, "Send the resulting direction through the configured notifier")
}
