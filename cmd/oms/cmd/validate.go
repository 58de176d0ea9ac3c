package cmd

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/ducminhle1904/crypto-oms/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Check a configuration file",
	Long:  `Load the configuration with defaults and environment overrides applied, validate it and print the effective settings.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetTitle("CONFIGURATION")
		t.SetStyle(table.StyleRounded)
		for _, kv := range configSummary(cfg) {
			t.AppendRow(table.Row{kv[0], kv[1]})
		}
		t.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, WidthMin: 15, WidthMax: 15, Align: text.AlignLeft},
			{Number: 2, WidthMin: 30, WidthMax: 50, Align: text.AlignLeft},
		})
		t.Render()
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// configSummary lists the effective settings worth eyeballing
func configSummary(cfg *config.Config) [][2]string {
	return [][2]string{
		{"Mode", cfg.Mode},
		{"Venue", cfg.Venue.Name},
		{"Symbols", strings.Join(cfg.Symbols, ", ")},
		{"Store", fmt.Sprintf("%s %s", cfg.Store.Driver, cfg.Store.Path)},
		{"Risk Budget", fmt.Sprintf("$%.2f", cfg.Risk.RiskBudget)},
		{"Max Position", fmt.Sprintf("$%.2f", cfg.Risk.MaxPosUSD)},
		{"Max Exposure", fmt.Sprintf("$%.2f", cfg.Risk.MaxExposureUSD)},
		{"Max Daily DD", fmt.Sprintf("%.2f%%", cfg.Risk.MaxDDDailyPct*100)},
		{"Kelly Cap", fmt.Sprintf("%.2f", cfg.Risk.KellyFractionCap)},
		{"Metrics", cfg.Monitoring.MetricsAddr},
	}
}
