// Package engine runs a configured load profile against the merch API and
// evaluates its thresholds.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wesleyorama2/merchload/internal/config"
	"github.com/wesleyorama2/merchload/internal/dataset"
	"github.com/wesleyorama2/merchload/internal/loadtest"
	"github.com/wesleyorama2/merchload/internal/loadtest/executor"
	"github.com/wesleyorama2/merchload/internal/loadtest/metrics"
)

// Engine is the main orchestrator for a load run.
//
// It coordinates:
//   - Profile validation and workload construction
//   - The ramping executor and its VU scheduler
//   - Outcome aggregation
//   - Threshold evaluation
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("profile.yaml")
//	data, _ := dataset.Load(usersPath, tokensPath)
//	eng, _ := engine.NewEngine(cfg, data, engine.Options{})
//	result, _ := eng.Run(context.Background())
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	config     *config.TestConfig
	workload   *loadtest.Workload
	thresholds []Threshold
	execConfig *executor.Config
	vuConfig   loadtest.VUConfig
	seed       uint64
	transport  loadtest.Transport
	logger     *slog.Logger
	prom       *metrics.PromCollectors
	fixedID    uuid.UUID

	// Per-run state
	runID      uuid.UUID
	aggregator *metrics.Aggregator
	executor   *executor.RampingVUs
	startTime  time.Time
	running    bool
	stopped    atomic.Bool
	mu         sync.RWMutex
}

// Options carries optional collaborators.
type Options struct {
	// Transport issues requests. Defaults to an HTTPTransport built from
	// the profile's settings.
	Transport loadtest.Transport

	// Logger receives run events. Defaults to discarding.
	Logger *slog.Logger

	// Prom, when set, mirrors samples into Prometheus collectors.
	Prom *metrics.PromCollectors

	// RunID fixes the run identifier. Defaults to a fresh UUID per run.
	RunID uuid.UUID
}

// TestResult contains the complete run results.
type TestResult struct {
	RunID       uuid.UUID         `json:"runId"`
	Name        string            `json:"name"`
	BaseURL     string            `json:"baseUrl"`
	StartTime   time.Time         `json:"startTime"`
	EndTime     time.Time         `json:"endTime"`
	Duration    time.Duration     `json:"duration"`
	Stages      []executor.Stage  `json:"stages"`
	Users       int               `json:"users"`
	PeakVUs     int               `json:"peakVUs"`
	Interrupted bool              `json:"interrupted,omitempty"`
	Summary     *metrics.Summary  `json:"summary"`
	Passed      bool              `json:"passed"`
	Thresholds  []ThresholdResult `json:"thresholds,omitempty"`
}

// Err returns a *ThresholdsFailedError when any threshold failed.
func (r *TestResult) Err() error {
	if r.Passed {
		return nil
	}
	failed := make([]ThresholdResult, 0, len(r.Thresholds))
	for _, t := range r.Thresholds {
		if !t.Passed {
			failed = append(failed, t)
		}
	}
	return &ThresholdsFailedError{Failed: failed, Total: len(r.Thresholds)}
}

// ThresholdsFailedError reports a completed run that breached thresholds.
type ThresholdsFailedError struct {
	Failed []ThresholdResult
	Total  int
}

func (e *ThresholdsFailedError) Error() string {
	if len(e.Failed) == 1 {
		return fmt.Sprintf("threshold %s %q failed", e.Failed[0].Metric, e.Failed[0].Expression)
	}
	return fmt.Sprintf("%d of %d thresholds failed", len(e.Failed), e.Total)
}

// NewEngine validates cfg and prepares a run over data.
//
// Profile problems are returned as *config.ValidationErrors. A mix that
// cannot be served by data, such as SendCoin with a single user, is a
// *loadtest.InvariantError.
func NewEngine(cfg *config.TestConfig, data *dataset.Dataset, opts Options) (*Engine, error) {
	if data == nil {
		return nil, fmt.Errorf("dataset is required")
	}

	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	workload := loadtest.NewWorkload(data)
	if err := cfg.ConfigureWorkload(workload); err != nil {
		return nil, fmt.Errorf("invalid workload: %w", err)
	}
	if err := workload.Validate(); err != nil {
		return nil, err
	}

	thinkTime, err := cfg.ThinkTime()
	if err != nil {
		return nil, fmt.Errorf("invalid think time: %w", err)
	}

	thresholds, err := ParseThresholds(cfg.Thresholds)
	if err != nil {
		return nil, err
	}

	execConfig, err := cfg.ExecutorConfig()
	if err != nil {
		return nil, err
	}
	if err := execConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stages: %w", err)
	}

	transport := opts.Transport
	if transport == nil {
		transport = loadtest.NewHTTPTransport(cfg.HTTPClientConfig())
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Engine{
		config:     cfg,
		workload:   workload,
		thresholds: thresholds,
		execConfig: execConfig,
		vuConfig:   loadtest.VUConfig{BaseURL: cfg.Settings.BaseURL, ThinkTime: thinkTime},
		seed:       cfg.Seed(),
		transport:  transport,
		logger:     logger,
		prom:       opts.Prom,
		fixedID:    opts.RunID,
	}, nil
}

// Run drives the profile to completion and evaluates thresholds.
//
// Cancelling ctx ends the run early; the result is still returned with
// Interrupted set and thresholds evaluated over what was recorded. The
// returned error is non-nil only for fatal failures such as an invariant
// violation. A breached threshold is reported through TestResult.Passed
// and TestResult.Err.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	e.running = true
	e.stopped.Store(false)
	e.runID = e.fixedID
	if e.runID == uuid.Nil {
		e.runID = uuid.New()
	}
	e.startTime = time.Now()
	logger := e.logger.With("run_id", e.runID.String())

	agg := metrics.NewAggregatorWithConfig(metrics.Config{Prom: e.prom})
	agg.SetPhase(metrics.PhaseInit)

	exec, err := executor.NewRampingVUs(e.execConfig, logger)
	if err != nil {
		e.running = false
		e.mu.Unlock()
		return nil, err
	}
	e.aggregator = agg
	e.executor = exec
	runID, startTime := e.runID, e.startTime
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	scheduler := loadtest.NewVUScheduler(e.workload, e.transport, agg, e.vuConfig,
		loadtest.WithSeed(e.seed), loadtest.WithLogger(logger))

	logger.Info("run started",
		"name", e.config.Name,
		"base_url", e.vuConfig.BaseURL,
		"users", e.workload.Data.Len(),
		"stages", len(e.execConfig.Stages),
		"duration", e.execConfig.TotalDuration())

	runErr := exec.Run(ctx, scheduler, agg)

	graceful := e.execConfig.GracefulStop
	if graceful <= 0 {
		graceful = executor.DefaultGracefulStop
	}
	if !scheduler.Shutdown(graceful) {
		logger.Warn("virtual users still running after shutdown")
	}

	summary := agg.Summary()
	verdict := Evaluate(summary, e.thresholds)
	endTime := time.Now()

	result := &TestResult{
		RunID:       runID,
		Name:        e.config.Name,
		BaseURL:     e.vuConfig.BaseURL,
		StartTime:   startTime,
		EndTime:     endTime,
		Duration:    endTime.Sub(startTime),
		Stages:      e.execConfig.Stages,
		Users:       e.workload.Data.Len(),
		PeakVUs:     exec.GetPeakVUs(),
		Interrupted: ctx.Err() != nil || e.stopped.Load(),
		Summary:     summary,
		Passed:      verdict.Passed && runErr == nil,
		Thresholds:  verdict.Results,
	}

	if runErr != nil {
		logger.Error("run aborted", "error", runErr)
		return result, runErr
	}

	logger.Info("run finished",
		"requests", summary.TotalRequests,
		"failed", summary.FailedRequests,
		"p90", summary.Latency.P90,
		"interrupted", result.Interrupted,
		"passed", result.Passed)
	for _, r := range verdict.Results {
		if !r.Passed {
			logger.Warn("threshold failed", "metric", r.Metric, "expression", r.Expression, "actual", r.Actual)
		}
	}

	return result, nil
}

// Config returns the effective profile.
func (e *Engine) Config() *config.TestConfig {
	return e.config
}

// Thresholds returns the parsed thresholds.
func (e *Engine) Thresholds() []Threshold {
	return e.thresholds
}

// RunID returns the identifier of the current or last run.
func (e *Engine) RunID() uuid.UUID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.runID
}

// GetMetrics returns the current live snapshot, or nil before Run.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	e.mu.RLock()
	agg := e.aggregator
	e.mu.RUnlock()
	if agg == nil {
		return nil
	}
	return agg.Snapshot()
}

// GetStats returns the executor statistics, or nil before Run.
func (e *Engine) GetStats() *executor.Stats {
	e.mu.RLock()
	exec := e.executor
	e.mu.RUnlock()
	if exec == nil {
		return nil
	}
	return exec.GetStats()
}

// GetProgress returns the run progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	e.mu.RLock()
	exec := e.executor
	e.mu.RUnlock()
	if exec == nil {
		return 0.0
	}
	return exec.GetProgress()
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stop ends the current run early.
func (e *Engine) Stop() {
	e.mu.RLock()
	exec := e.executor
	running := e.running
	e.mu.RUnlock()
	if running && exec != nil {
		e.stopped.Store(true)
		exec.Stop()
	}
}
