package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bias-aggregator/internal/app"
	"bias-aggregator/internal/config"
	"bias-aggregator/internal/logging"
)

var (
	cfgFile     string
	logLevel    string
	catalogPath string
	appHandle   *app.App
)

var rootCmd = &cobra.Command{
	Use:   "biasd",
	Short: "Aggregate scored indicator alerts into per-symbol bias snapshots",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if catalogPath != "" {
			cfg.Catalog.Path = catalogPath
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		appHandle.Out = cmd.OutOrStdout()
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "Override catalog.path defined in config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
