package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/merchload/internal/dataset"
	"github.com/wesleyorama2/merchload/internal/loadtest/engine"
	"github.com/wesleyorama2/merchload/internal/loadtest/metrics"
	"github.com/wesleyorama2/merchload/internal/output"
)

// runFlags are the flags of the run command.
type runFlags struct {
	profileFlags

	out         string
	metricsAddr string
	noColor     bool
	quiet       bool
	interval    time.Duration
}

func newRunCmd(root *rootOptions) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the load profile against the service",
		Long: `Run the load profile and report the verdict.

Default profile (5m):
  merchload run

Custom ramp against another host:
  merchload run --url http://merch:8080 --stages "30s:10,1m:10,30s:0"

From a profile file, with Prometheus metrics and a JSON result:
  merchload run --config profile.yaml --metrics-addr :9090 --out result.json

Exit status is 0 when every threshold holds, 99 when a threshold fails and
1 on configuration, dataset or internal errors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, root, flags)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&flags.out, "out", "o", "", "Write the result as JSON to this file")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().BoolVar(&flags.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "Only print the verdict")
	cmd.Flags().DurationVar(&flags.interval, "progress-interval", time.Second, "How often to refresh live progress")
	return cmd
}

// runLoad runs a load test using the engine
func runLoad(cmd *cobra.Command, root *rootOptions, flags *runFlags) error {
	logger := root.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cfg, err := flags.build(cmd, os.LookupEnv)
	if err != nil {
		return err
	}

	data, err := dataset.Load(cfg.Dataset.UsersFile, cfg.Dataset.TokensFile)
	if err != nil {
		return err
	}

	runID := uuid.New()
	logger = logger.With("run_id", runID.String())

	var prom *metrics.PromCollectors
	if flags.metricsAddr != "" {
		prom = metrics.NewPromCollectors()
		shutdown, err := serveMetrics(flags.metricsAddr, prom, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	eng, err := engine.NewEngine(cfg, data, engine.Options{Logger: logger, Prom: prom, RunID: runID})
	if err != nil {
		return err
	}

	console := output.NewConsole(output.ConsoleConfig{
		Writer:  cmd.OutOrStdout(),
		NoColor: flags.noColor,
		Quiet:   flags.quiet,
	})
	execCfg, err := cfg.ExecutorConfig()
	if err != nil {
		return err
	}
	console.PrintHeader(output.Header{
		Name:     cfg.Name,
		RunID:    runID.String(),
		BaseURL:  cfg.Settings.BaseURL,
		Users:    data.Len(),
		Duration: execCfg.TotalDuration(),
		Stages:   execCfg.Stages,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := runWithProgress(ctx, eng, console, flags.interval)
	if result == nil {
		return runErr
	}

	console.PrintSummary(result)

	if flags.out != "" {
		if err := output.WriteResultFile(flags.out, result); err != nil {
			return err
		}
		logger.Info("result written", "path", flags.out)
	}

	if runErr != nil {
		return runErr
	}
	return result.Err()
}

// runWithProgress runs the engine while refreshing live progress.
func runWithProgress(ctx context.Context, eng *engine.Engine, console *output.Console, interval time.Duration) (*engine.TestResult, error) {
	type outcome struct {
		result *engine.TestResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := eng.Run(ctx)
		done <- outcome{result, err}
	}()

	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case o := <-done:
			return o.result, o.err
		case <-ticker.C:
			if !eng.IsRunning() {
				continue
			}
			stats := output.StatsFromRun(eng.GetMetrics(), eng.GetStats(), eng.GetProgress())
			if console.IsTTY() {
				console.Update(stats)
			} else {
				console.PrintNonInteractiveUpdate(stats)
			}
		}
	}
}

// serveMetrics exposes prom on addr and returns a shutdown func.
func serveMetrics(addr string, prom *metrics.PromCollectors, logger *slog.Logger) (func(), error) {
	reg := prometheus.NewRegistry()
	if err := prom.Register(reg); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
