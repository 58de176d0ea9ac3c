package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/crypto-oms/internal/logger"
	"github.com/ducminhle1904/crypto-oms/internal/state"
	"github.com/ducminhle1904/crypto-oms/pkg/reporting"
)

var (
	exportOut   string
	exportPrint bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the order blotter to Excel",
	Long: `Read every order from the configured store and write an .xlsx blotter
with Orders, Fills and Summary sheets.

Examples:
  oms export --config oms.yaml
  oms export --config oms.yaml --out reports/june.xlsx --print`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default reports/blotter_<date>.xlsx)")
	exportCmd.Flags().BoolVar(&exportPrint, "print", false, "also print the orders as a table")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := state.Open(cfg.Store, logger.NewNop())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	orders, err := store.LoadAllOrders(ctx)
	if err != nil {
		return fmt.Errorf("load orders: %w", err)
	}

	out := exportOut
	if out == "" {
		out = reporting.DefaultBlotterPath(time.Now())
	}
	if err := reporting.NewDefaultExcelReporter().WriteBlotterXLSX(orders, out); err != nil {
		return fmt.Errorf("write blotter: %w", err)
	}

	if exportPrint {
		reporting.NewDefaultConsoleReporter().RenderOrders(cmd.OutOrStdout(), orders)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d orders to %s\n", len(orders), out)
	return nil
}
