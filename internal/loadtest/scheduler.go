package loadtest

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/merchload/internal/loadtest/metrics"
)

// VUScheduler manages the lifecycle of Virtual Users.
//
// It provides:
// - VU pool management (spawning/stopping VUs)
// - A shared Transport for connection pooling
// - Per-VU random sources, reproducible when a seed is set
// - Graceful shutdown coordination
//
// The scheduler is used by executors to control VU counts.
type VUScheduler struct {
	workload   *Workload
	transport  Transport
	aggregator *metrics.Aggregator
	vuConfig   VUConfig
	seed       uint64
	logger     *slog.Logger

	// Active VUs
	vus   map[int]*VirtualUser
	vusMu sync.RWMutex

	// VU ID counter
	nextVUID atomic.Int32

	// Shutdown coordination
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	shutdownWg   sync.WaitGroup
}

// SchedulerOption configures a VUScheduler.
type SchedulerOption func(*VUScheduler)

// WithSeed makes every VU's random source derive from seed and its ID.
// Zero keeps random seeding.
func WithSeed(seed uint64) SchedulerOption {
	return func(s *VUScheduler) {
		s.seed = seed
	}
}

// WithLogger sets the logger used for VU lifecycle events.
func WithLogger(logger *slog.Logger) SchedulerOption {
	return func(s *VUScheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewVUScheduler creates a new VU scheduler.
func NewVUScheduler(workload *Workload, transport Transport, aggregator *metrics.Aggregator, vuConfig VUConfig, opts ...SchedulerOption) *VUScheduler {
	s := &VUScheduler{
		workload:   workload,
		transport:  transport,
		aggregator: aggregator,
		vuConfig:   vuConfig,
		logger:     slog.New(slog.DiscardHandler),
		vus:        make(map[int]*VirtualUser),
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *VUScheduler) newRand(id int) *rand.Rand {
	if s.seed != 0 {
		return rand.New(rand.NewPCG(s.seed, uint64(id)))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// Workload returns the workload every spawned VU draws from.
func (s *VUScheduler) Workload() *Workload {
	return s.workload
}

// SpawnVU creates and returns a new Virtual User.
//
// The VU is registered with the scheduler but not started.
// The caller is responsible for running it with RunVU, which forgets the VU
// once its loop exits. SpawnVU must not be called concurrently with Shutdown.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	id := int(s.nextVUID.Add(1))

	vu := NewVirtualUser(id, s.workload, s.transport, s.aggregator.Recorder(id), s.newRand(id), s.vuConfig)

	s.vusMu.Lock()
	s.vus[id] = vu
	s.shutdownWg.Add(1)
	s.vusMu.Unlock()

	return vu
}

// GetActiveVUCount returns the count of registered VUs that have not stopped.
func (s *VUScheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			count++
		}
	}
	return count
}

// StopAllVUs requests all VUs to stop.
func (s *VUScheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// RemoveVU marks a VU stopped and forgets it. Removing an unknown ID is a
// no-op.
func (s *VUScheduler) RemoveVU(id int) {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	if vu, exists := s.vus[id]; exists {
		vu.MarkStopped()
		delete(s.vus, id)
		s.shutdownWg.Done()
	}
}

// RunVU runs a VU until it is stopped, the context is cancelled or the
// scheduler shuts down. Stopping is checked only between iterations.
//
// It returns nil on a normal stop and the InvariantError that aborted the
// loop otherwise.
func (s *VUScheduler) RunVU(ctx context.Context, vu *VirtualUser) error {
	defer s.RemoveVU(vu.ID)

	if !vu.start() {
		return nil
	}
	s.logger.Debug("vu started", "vu", vu.ID)
	defer func() {
		s.logger.Debug("vu stopped", "vu", vu.ID, "iterations", vu.GetIteration(), "failed", vu.GetFailed())
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.shutdownCh:
			return nil
		case <-vu.Stopping():
			return nil
		default:
		}

		if err := vu.RunIteration(ctx); err != nil {
			if errors.Is(err, ErrVUStopped) {
				return nil
			}
			s.logger.Error("vu aborted", "vu", vu.ID, "error", err)
			return err
		}

		vu.think(ctx)
	}
}

// Shutdown stops all VUs and waits up to timeout for every spawned VU to be
// removed. It reports whether every loop exited in time.
func (s *VUScheduler) Shutdown(timeout time.Duration) bool {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
	s.StopAllVUs()

	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	clean := true
	select {
	case <-done:
	case <-timer.C:
		clean = false
	}

	if closer, ok := s.transport.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
	return clean
}

// UpdateMetrics publishes the current VU count to the aggregator.
func (s *VUScheduler) UpdateMetrics() {
	s.aggregator.SetActiveVUs(s.GetActiveVUCount())
}
