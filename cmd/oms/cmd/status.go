package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/crypto-oms/internal/monitoring"
	"github.com/ducminhle1904/crypto-oms/pkg/reporting"
)

var (
	statusAddr string
	statusJSON bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running instance",
	Long: `Fetch /status from a running instance and render it as tables.
The address defaults to monitoring.metrics_addr from the configuration.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "monitoring address of the running instance, e.g. localhost:9090")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw JSON snapshot")
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr := statusAddr
	if addr == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		addr = cfg.Monitoring.MetricsAddr
	}

	snap, err := fetchStatus(statusURL(addr))
	if err != nil {
		return err
	}

	if statusJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	reporting.NewDefaultConsoleReporter().RenderStatus(cmd.OutOrStdout(), snap)
	return nil
}

func statusURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/") + "/status"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/status"
}

func fetchStatus(url string) (monitoring.StatusSnapshot, error) {
	var snap monitoring.StatusSnapshot
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return snap, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("fetch status: %s returned %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode status: %w", err)
	}
	return snap, nil
}
