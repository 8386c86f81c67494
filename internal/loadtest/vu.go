// Package loadtest drives synthetic merch traffic: it draws weighted actions,
// issues them through a Transport and records one outcome sample per request.
package loadtest

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/merchload/internal/loadtest/metrics"
)

// DefaultThinkTime is the pause after every iteration.
const DefaultThinkTime = 10 * time.Millisecond

// ErrVUStopped is returned by RunIteration once a stop has been requested.
var ErrVUStopped = errors.New("virtual user is stopping")

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU has been created but its loop has not started.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is looping over iterations.
	VUStateRunning
	// VUStateStopping indicates the VU has been asked to stop and is finishing
	// its current iteration.
	VUStateStopping
	// VUStateStopped indicates the VU loop has exited. It never restarts.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SampleRecorder accepts outcome samples. metrics.Aggregator and
// metrics.Recorder both satisfy it.
type SampleRecorder interface {
	Record(sample metrics.OutcomeSample)
}

// VUConfig holds the per-user settings shared by every VU of a run.
type VUConfig struct {
	// BaseURL of the service under test
	BaseURL string

	// ThinkTime is the pause after each iteration
	ThinkTime time.Duration
}

// VirtualUser is one simulated client issuing requests strictly one after
// another. Each VU owns its random source, so draws never contend.
type VirtualUser struct {
	// Unique identifier for this VU
	ID int

	Workload  *Workload
	Transport Transport
	Recorder  SampleRecorder
	Config    VUConfig

	rng *rand.Rand

	// Lifecycle state (atomic for lock-free reads)
	state atomic.Int32

	// Stop signal
	stopCh chan struct{}

	iteration atomic.Int64
	failed    atomic.Int64
}

// NewVirtualUser creates a new Virtual User in the idle state.
func NewVirtualUser(id int, workload *Workload, transport Transport, recorder SampleRecorder, rng *rand.Rand, cfg VUConfig) *VirtualUser {
	return &VirtualUser{
		ID:        id,
		Workload:  workload,
		Transport: transport,
		Recorder:  recorder,
		Config:    cfg,
		rng:       rng,
		stopCh:    make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// GetFailed returns the number of iterations whose request failed.
func (vu *VirtualUser) GetFailed() int64 {
	return vu.failed.Load()
}

// start moves an idle VU to running. It reports false if the VU was already
// started or stopped.
func (vu *VirtualUser) start() bool {
	return vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning))
}

// RunIteration draws one action, issues it and records the outcome.
//
// The request runs on a context detached from ctx's cancellation so a stop
// or run deadline never cuts an in-flight request; the transport timeout
// still applies. Transport failures and failed checks are recorded, not
// returned. The only errors are ErrVUStopped and InvariantErrors from
// drawing the action, which are fatal to the run.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	state := vu.GetState()
	if state == VUStateStopping || state == VUStateStopped {
		return ErrVUStopped
	}

	vu.iteration.Add(1)

	action, err := vu.Workload.Next(vu.rng)
	if err != nil {
		return err
	}
	req, err := action.Request(vu.Config.BaseURL)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := issue(context.WithoutCancel(ctx), vu.Transport, req)
	latency := time.Since(start)

	outcome, reason := Classify(action.Kind, resp, err)
	sample := metrics.OutcomeSample{
		Timestamp: start,
		Latency:   latency,
		Failed:    outcome != metrics.OutcomePass,
		Action:    action.Kind.String(),
		Outcome:   outcome,
		Reason:    reason,
	}
	if resp != nil {
		sample.StatusCode = resp.StatusCode
	}
	if sample.Failed {
		vu.failed.Add(1)
	}
	vu.Recorder.Record(sample)

	return nil
}

// think waits for the think time, returning early on stop or cancellation.
func (vu *VirtualUser) think(ctx context.Context) {
	if vu.Config.ThinkTime <= 0 {
		return
	}
	timer := time.NewTimer(vu.Config.ThinkTime)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-vu.stopCh:
	case <-timer.C:
	}
}

// RequestStop signals the VU to stop after completing the current iteration.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// Stopping returns a channel closed once a stop has been requested.
func (vu *VirtualUser) Stopping() <-chan struct{} {
	return vu.stopCh
}

// MarkStopped marks the VU as fully stopped.
// Called by the scheduler when the VU goroutine exits.
func (vu *VirtualUser) MarkStopped() {
	vu.state.Store(int32(VUStateStopped))
}
