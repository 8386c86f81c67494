package executor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/merchload/internal/loadtest"
	"github.com/wesleyorama2/merchload/internal/loadtest/metrics"
)

// RampingVUs ramps VU count up and down according to stages.
//
// Every tick the controller computes the interpolated target and spawns or
// stops VUs to match it. Surplus VUs are stopped newest first; a stopped VU
// finishes its in-flight iteration before it leaves, so for up to one
// iteration the running count can exceed the target.
//
// Example stages:
//
//	stages:
//	  - duration: 2m
//	    target: 15     # Ramp from 0 to 15 VUs over 2 minutes
//	  - duration: 1m
//	    target: 30     # Ramp up to 30
//	  - duration: 1m
//	    target: 0      # Ramp down to 0
type RampingVUs struct {
	config    *Config
	scheduler *loadtest.VUScheduler
	metrics   *metrics.Aggregator
	logger    *slog.Logger

	// State
	startTime    time.Time
	activeVUs    atomic.Int32
	targetVUs    atomic.Int32
	peakVUs      atomic.Int32
	spawnedVUs   atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool

	// Cancellation
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	// First fatal VU error
	errOnce sync.Once
	err     error

	// VU tracking, oldest first
	vus   []*loadtest.VirtualUser
	vusMu sync.Mutex

	mu sync.RWMutex
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs(config *Config, logger *slog.Logger) (*RampingVUs, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &RampingVUs{
		config: config,
		logger: logger,
		vus:    make([]*loadtest.VirtualUser, 0),
	}
	e.currentStage.Store(-1)
	return e, nil
}

// Run starts the executor and blocks until the profile completes, ctx is
// cancelled or a VU hits an invariant violation.
//
// An early cancellation is not an error. The returned error is the first
// fatal VU error, if any.
func (e *RampingVUs) Run(ctx context.Context, scheduler *loadtest.VUScheduler, agg *metrics.Aggregator) error {
	e.mu.Lock()
	e.scheduler = scheduler
	e.metrics = agg
	e.startTime = time.Now()
	e.mu.Unlock()
	e.running.Store(true)

	runCtx, cancel := context.WithTimeout(ctx, e.config.TotalDuration())
	e.mu.Lock()
	e.cancelFunc = cancel
	e.mu.Unlock()
	defer cancel()

	controllerDone := make(chan struct{})
	go func() {
		e.vuController(runCtx)
		close(controllerDone)
	}()

	<-runCtx.Done()
	<-controllerDone

	// Graceful shutdown - wait for VUs to finish current iteration
	e.gracefulShutdown()

	e.targetVUs.Store(0)
	agg.SetTargetVUs(0)
	scheduler.UpdateMetrics()
	agg.SetPhase(metrics.PhaseDone)
	e.running.Store(false)

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.err
}

func (e *RampingVUs) tick() time.Duration {
	if e.config.Tick > 0 {
		return e.config.Tick
	}
	return DefaultTick
}

// vuController adjusts VU count according to stages.
func (e *RampingVUs) vuController(ctx context.Context) {
	ticker := time.NewTicker(e.tick())
	defer ticker.Stop()

	e.step(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.step(ctx)
		}
	}
}

func (e *RampingVUs) step(ctx context.Context) {
	target, stage := TargetAt(e.config.Stages, time.Since(e.startTime))

	if prev := e.currentStage.Swap(int32(stage)); int(prev) != stage {
		e.logger.Debug("stage started", "stage", stage, "name", e.config.Stages[stage].Name, "target", e.config.Stages[stage].Target)
	}
	e.targetVUs.Store(int32(target))
	e.metrics.SetTargetVUs(target)

	e.adjustVUs(ctx, target)
	e.updatePhase()
}

// adjustVUs adjusts the VU count to match the target.
func (e *RampingVUs) adjustVUs(ctx context.Context, targetVUs int) {
	e.vusMu.Lock()
	defer e.vusMu.Unlock()

	if ctx.Err() != nil {
		return
	}

	currentVUs := len(e.vus)

	if targetVUs > currentVUs {
		for i := currentVUs; i < targetVUs; i++ {
			vu := e.scheduler.SpawnVU()
			e.vus = append(e.vus, vu)
			e.spawnedVUs.Add(1)
			e.markStarted()
			e.wg.Add(1)
			go e.runVU(ctx, vu)
		}
	} else if targetVUs < currentVUs {
		// Stop excess VUs, newest first
		for i := currentVUs - 1; i >= targetVUs; i-- {
			e.vus[i].RequestStop()
		}
		e.vus = e.vus[:targetVUs]
	}

	e.scheduler.UpdateMetrics()
}

// markStarted counts a VU as running and records the peak.
func (e *RampingVUs) markStarted() {
	active := e.activeVUs.Add(1)
	for {
		peak := e.peakVUs.Load()
		if active <= peak || e.peakVUs.CompareAndSwap(peak, active) {
			return
		}
	}
}

// updatePhase updates the metrics phase based on current stage.
func (e *RampingVUs) updatePhase() {
	stageIdx := int(e.currentStage.Load())
	if stageIdx < 0 || stageIdx >= len(e.config.Stages) {
		return
	}

	stage := e.config.Stages[stageIdx]
	prevTarget := 0
	if stageIdx > 0 {
		prevTarget = e.config.Stages[stageIdx-1].Target
	}

	switch {
	case stage.Target > prevTarget:
		e.metrics.SetPhase(metrics.PhaseRampUp)
	case stage.Target < prevTarget:
		e.metrics.SetPhase(metrics.PhaseRampDown)
	default:
		e.metrics.SetPhase(metrics.PhaseSteady)
	}
}

// runVU runs a single VU until stopped. The VU was already counted as
// running by adjustVUs.
func (e *RampingVUs) runVU(ctx context.Context, vu *loadtest.VirtualUser) {
	defer e.wg.Done()
	defer e.activeVUs.Add(-1)

	if err := e.scheduler.RunVU(ctx, vu); err != nil {
		e.fail(err)
	}
}

// fail records the first fatal error and ends the run.
func (e *RampingVUs) fail(err error) {
	e.errOnce.Do(func() {
		e.logger.Error("run aborted", "error", err)
		e.mu.Lock()
		e.err = err
		cancel := e.cancelFunc
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// gracefulShutdown waits for all VUs to finish their current iteration.
func (e *RampingVUs) gracefulShutdown() {
	e.vusMu.Lock()
	for _, vu := range e.vus {
		vu.RequestStop()
	}
	e.vus = e.vus[:0]
	e.vusMu.Unlock()

	graceful := e.config.GracefulStop
	if graceful == 0 {
		graceful = DefaultGracefulStop
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(graceful)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		e.logger.Warn("graceful stop timed out", "still_running", e.GetActiveVUs())
	}
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	e.mu.RLock()
	startTime := e.startTime
	e.mu.RUnlock()

	if !e.running.Load() {
		if startTime.IsZero() {
			return 0.0
		}
		return 1.0
	}

	totalDuration := e.config.TotalDuration()
	if totalDuration == 0 {
		return 1.0
	}

	progress := float64(time.Since(startTime)) / float64(totalDuration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns how many VU loops are currently running.
func (e *RampingVUs) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetPeakVUs returns the highest running count observed.
func (e *RampingVUs) GetPeakVUs() int {
	return int(e.peakVUs.Load())
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	e.mu.RLock()
	startTime := e.startTime
	agg := e.metrics
	e.mu.RUnlock()

	var elapsed time.Duration
	if !startTime.IsZero() {
		elapsed = time.Since(startTime)
	}

	stageIdx := int(e.currentStage.Load())
	if stageIdx < 0 {
		stageIdx = 0
	}
	stageName := ""
	if stageIdx < len(e.config.Stages) {
		stageName = e.config.Stages[stageIdx].Name
	}

	var iterations int64
	if agg != nil {
		iterations = agg.Count()
	}

	return &Stats{
		StartTime:        startTime,
		CurrentTime:      time.Now(),
		Elapsed:          elapsed,
		TotalDuration:    e.config.TotalDuration(),
		ActiveVUs:        e.GetActiveVUs(),
		TargetVUs:        int(e.targetVUs.Load()),
		PeakVUs:          e.GetPeakVUs(),
		SpawnedVUs:       int(e.spawnedVUs.Load()),
		Iterations:       iterations,
		CurrentStage:     stageIdx,
		CurrentStageName: stageName,
		TotalStages:      len(e.config.Stages),
	}
}

// Stop ends the run early. Run still shuts VUs down gracefully.
func (e *RampingVUs) Stop() {
	e.mu.RLock()
	cancel := e.cancelFunc
	e.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}
