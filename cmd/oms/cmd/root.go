package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ducminhle1904/crypto-oms/internal/config"
)

var (
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "oms",
	Short: "Order management and risk gating for crypto trading",
	Long: `oms turns trading signals into sized, risk-checked orders against an
execution venue, tracks every order to a terminal state and halts trading
automatically when risk limits are breached.

Commands:
  run              - Start the order manager
  status           - Show the status of a running instance
  export           - Export the order blotter to Excel
  validate-config  - Check a configuration file`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "configuration file (.yaml, .yml or .json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "environment file path")
}

// loadConfig loads the .env overlay, then the configuration file. Without a
// file the defaults are used, still overlaid by the environment.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	if cfgFile == "" {
		return config.LoadDefaults()
	}
	return config.LoadConfig(cfgFile)
}
