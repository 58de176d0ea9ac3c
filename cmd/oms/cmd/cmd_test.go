package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-oms/internal/config"
	"github.com/ducminhle1904/crypto-oms/internal/logger"
	"github.com/ducminhle1904/crypto-oms/internal/monitoring"
	"github.com/ducminhle1904/crypto-oms/internal/oms"
	"github.com/ducminhle1904/crypto-oms/internal/safety"
	"github.com/ducminhle1904/crypto-oms/internal/state"
	"github.com/ducminhle1904/crypto-oms/internal/state/statetest"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

func writeConfig(t *testing.T, storePath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oms.yaml")
	body := "mode: paper\nsymbols: [BTCUSDT]\nvenue:\n  name: paper\nstore:\n  driver: file\n  path: " + storePath + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func withFlags(t *testing.T, cfg string) {
	t.Helper()
	prevCfg, prevEnv := cfgFile, envFile
	cfgFile, envFile = cfg, ""
	t.Cleanup(func() { cfgFile, envFile = prevCfg, prevEnv })
	t.Setenv("OMS_MODE", "")
}

func testCommand(out *bytes.Buffer) *cobra.Command {
	c := &cobra.Command{}
	c.SetOut(out)
	c.SetContext(context.Background())
	return c
}

func TestReadSignals(t *testing.T) {
	input := strings.Join([]string{
		`{"symbol":"BTCUSDT","signal":0.6,"confidence":0.8}`,
		``,
		`# comment`,
		`not json`,
		`{"symbol":"ETHUSDT","signal":-0.4,"confidence":0.7}`,
	}, "\n")

	out := make(chan types.Signal, 4)
	require.NoError(t, readSignals(context.Background(), strings.NewReader(input), out, logger.NewNop()))

	var got []types.Signal
	for s := range out {
		got = append(got, s)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "BTCUSDT", got[0].Symbol)
	assert.Equal(t, types.SideSell, got[1].Side())
}

func TestStatusURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{":9090", "http://localhost:9090/status"},
		{"10.0.0.5:9090", "http://10.0.0.5:9090/status"},
		{"http://oms.internal:9090/", "http://oms.internal:9090/status"},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, statusURL(tt.addr))
		})
	}
}

func TestStatusRendersRemoteSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		json.NewEncoder(w).Encode(monitoring.StatusSnapshot{Mode: safety.ModePaper, OpenOrders: 3, VenueConnected: true})
	}))
	defer srv.Close()

	prevAddr := statusAddr
	statusAddr = srv.URL
	defer func() { statusAddr = prevAddr }()

	var buf bytes.Buffer
	require.NoError(t, runStatus(testCommand(&buf), nil))
	assert.Contains(t, buf.String(), "OMS STATUS")
	assert.Contains(t, buf.String(), "PAPER")
}

func TestValidateConfigCommand(t *testing.T) {
	withFlags(t, writeConfig(t, filepath.Join(t.TempDir(), "orders.json")))

	var buf bytes.Buffer
	require.NoError(t, validateCmd.RunE(testCommand(&buf), nil))
	assert.Contains(t, buf.String(), "Configuration is valid")
	assert.Contains(t, buf.String(), "BTCUSDT")
}

func TestValidateConfigRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: sideways\n"), 0644))
	withFlags(t, path)

	var buf bytes.Buffer
	assert.Error(t, validateCmd.RunE(testCommand(&buf), nil))
}

func TestExportWritesBlotter(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "orders.json")
	withFlags(t, writeConfig(t, storePath))

	store, err := state.Open(config.StoreConfig{Driver: config.StoreFile, Path: storePath}, nil)
	require.NoError(t, err)
	require.NoError(t, store.PersistOrder(context.Background(), statetest.Order("o-1", oms.StatusFilled, 1)))
	require.NoError(t, store.PersistOrder(context.Background(), statetest.Order("o-2", oms.StatusAck, 2)))
	require.NoError(t, store.Close())

	out := filepath.Join(t.TempDir(), "blotter.xlsx")
	prevOut, prevPrint := exportOut, exportPrint
	exportOut, exportPrint = out, true
	defer func() { exportOut, exportPrint = prevOut, prevPrint }()

	var buf bytes.Buffer
	require.NoError(t, runExport(testCommand(&buf), nil))
	assert.Contains(t, buf.String(), "Exported 2 orders")
	assert.Contains(t, buf.String(), "o-2")
	_, err = os.Stat(out)
	assert.NoError(t, err)
}
