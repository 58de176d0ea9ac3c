package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/grafana/pyroscope-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ducminhle1904/crypto-oms/internal/exchange"
	"github.com/ducminhle1904/crypto-oms/internal/exchange/adapters"
	"github.com/ducminhle1904/crypto-oms/internal/logger"
	"github.com/ducminhle1904/crypto-oms/internal/monitoring"
	"github.com/ducminhle1904/crypto-oms/internal/orchestrator"
	"github.com/ducminhle1904/crypto-oms/internal/state"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

var (
	runMode    string
	runSignals string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the order manager",
	Long: `Start the order manager: connect to the venue, recover open orders,
serve /metrics, /health and /status, and execute signals read as JSON lines
from --signals ("-" for stdin).

Each signal line looks like:
  {"symbol":"BTCUSDT","signal":0.6,"confidence":0.8,"timestamp":"2024-06-03T10:00:00Z"}`,
	Args: cobra.NoArgs,
	RunE: runOMS,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runMode, "mode", "", "override trading mode (live or paper)")
	runCmd.Flags().StringVar(&runSignals, "signals", "", `signal source: a JSONL file or "-" for stdin`)
}

func runOMS(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runMode != "" {
		cfg.Mode = runMode
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	log, err := logger.New(logger.Options{
		Name:   "oms",
		Dir:    cfg.Logging.Dir,
		Level:  cfg.Logging.Level,
		JSON:   cfg.Logging.JSON,
		Stdout: true,
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Close()

	if addr := cfg.Monitoring.PyroscopeAddr; addr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "crypto-oms",
			ServerAddress:   addr,
			Tags:            map[string]string{"env": cfg.Environment, "mode": cfg.Mode},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.LogWarning("Profiling", "pyroscope start failed: %v", err)
		} else {
			defer func() { _ = profiler.Stop() }()
		}
	}

	store, err := state.Open(cfg.Store, log)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer store.Close()

	// the router asks the breaker for the route on every new order; orch is
	// set before any order can be submitted
	var orch *orchestrator.Manager
	route := func() exchange.Route {
		if orch == nil {
			return exchange.RoutePaper
		}
		return orch.Route()
	}
	router, _, err := adapters.NewFactory(log, nil).Router(cfg.Venue, route)
	if err != nil {
		return fmt.Errorf("venue: %w", err)
	}

	orch, err = orchestrator.New(cfg, orchestrator.Deps{
		Venue:  router,
		Store:  store,
		Logger: log,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("OMS starting: mode=%s venue=%s store=%s symbols=%s",
		cfg.Mode, router.GetName(), cfg.Store.Driver, strings.Join(cfg.Symbols, ","))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })

	if cfg.Monitoring.MetricsAddr != "" {
		srv := monitoring.NewServer(cfg.Monitoring.MetricsAddr, orch.Metrics(), orch.Health(), orch.Status, log)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if runSignals != "" {
		src, closeSrc, err := openSignals(runSignals)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		defer closeSrc()
		signals := make(chan types.Signal, 64)
		g.Go(func() error { return readSignals(gctx, src, signals, log) })
		g.Go(func() error { return orch.ConsumeSignals(gctx, signals) })
	}

	err = g.Wait()
	log.Info("OMS stopped")
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func openSignals(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open signals: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// readSignals decodes one JSON signal per line into out and closes out at
// EOF. Malformed lines are logged and skipped.
func readSignals(ctx context.Context, r io.Reader, out chan<- types.Signal, log *logger.Logger) error {
	defer close(out)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var sig types.Signal
		if err := json.Unmarshal([]byte(text), &sig); err != nil {
			log.LogWarning("Signals", "line %d: %v", line, err)
			continue
		}
		select {
		case out <- sig:
		case <-ctx.Done():
			return nil
		}
	}
	return sc.Err()
}
