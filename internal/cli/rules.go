package cli

import (
	"github.com/spf13/cobra"
)

var rulesVerbose bool

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Validate the rule catalog and print the computed score ranges",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Rules(cmd.Context(), rulesVerbose)
	},
}

func init() {
	rulesCmd.Flags().BoolVarP(&rulesVerbose, "verbose", "v", false, "Also list every rule in load order")
}
