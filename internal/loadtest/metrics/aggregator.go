// Package metrics collects per-request outcome samples and aggregates them
// into run summaries.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Aggregator collects outcome samples from many virtual users.
//
// Samples are appended into independent shards, each with its own lock and
// HDR histogram, so concurrent writers on different shards never contend.
// The exact sample set backs Summary (used for verdicts); the histograms back
// the cheap live Snapshot.
//
// # Thread Safety
//
// Aggregator is safe for concurrent use. Counters use atomic operations and
// each shard is protected by its own mutex.
type Aggregator struct {
	shards []*shard
	next   atomic.Uint64

	totalRequests  atomic.Int64
	failedRequests atomic.Int64

	activeVUs atomic.Int32
	targetVUs atomic.Int32

	currentPhase Phase
	phaseMu      sync.RWMutex

	startTime time.Time
	config    Config
}

// Config contains configuration for the aggregator.
type Config struct {
	// Shards is the number of independent sample stores (default: 32)
	Shards int

	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int

	// Prom optionally mirrors every sample into Prometheus collectors
	Prom *PromCollectors
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Shards:           32,
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

type shard struct {
	mu      sync.Mutex
	samples []OutcomeSample
	hist    *hdrhistogram.Histogram
}

// NewAggregator creates an aggregator with the default configuration.
func NewAggregator() *Aggregator {
	return NewAggregatorWithConfig(DefaultConfig())
}

// NewAggregatorWithConfig creates an aggregator with a custom configuration.
// Zero fields fall back to defaults.
func NewAggregatorWithConfig(config Config) *Aggregator {
	defaults := DefaultConfig()
	if config.Shards <= 0 {
		config.Shards = defaults.Shards
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = defaults.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = defaults.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = defaults.HistogramSigFigs
	}

	a := &Aggregator{
		shards:       make([]*shard, config.Shards),
		currentPhase: PhaseInit,
		startTime:    time.Now(),
		config:       config,
	}
	for i := range a.shards {
		a.shards[i] = &shard{hist: a.newHistogram()}
	}
	return a
}

func (a *Aggregator) newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(a.config.HistogramMin, a.config.HistogramMax, a.config.HistogramSigFigs)
}

// Recorder returns a handle that always appends into the same shard.
// Giving each virtual user its own Recorder keeps writers apart.
func (a *Aggregator) Recorder(id int) *Recorder {
	if id < 0 {
		id = -id
	}
	return &Recorder{agg: a, shard: a.shards[id%len(a.shards)]}
}

// Record appends a sample, spreading callers across shards round-robin.
func (a *Aggregator) Record(sample OutcomeSample) {
	idx := a.next.Add(1) % uint64(len(a.shards))
	a.record(a.shards[idx], sample)
}

func (a *Aggregator) record(s *shard, sample OutcomeSample) {
	latencyMicros := sample.Latency.Microseconds()
	if latencyMicros < a.config.HistogramMin {
		latencyMicros = a.config.HistogramMin
	}
	if latencyMicros > a.config.HistogramMax {
		latencyMicros = a.config.HistogramMax
	}

	s.mu.Lock()
	s.samples = append(s.samples, sample)
	_ = s.hist.RecordValue(latencyMicros)
	s.mu.Unlock()

	a.totalRequests.Add(1)
	if sample.Failed {
		a.failedRequests.Add(1)
	}

	if a.config.Prom != nil {
		a.config.Prom.observe(sample)
	}
}

// Recorder appends samples into a single shard of an Aggregator.
type Recorder struct {
	agg   *Aggregator
	shard *shard
}

// Record appends a sample.
func (r *Recorder) Record(sample OutcomeSample) {
	r.agg.record(r.shard, sample)
}

// SetPhase updates the current test phase.
func (a *Aggregator) SetPhase(phase Phase) {
	a.phaseMu.Lock()
	defer a.phaseMu.Unlock()
	a.currentPhase = phase
}

// GetPhase returns the current test phase.
func (a *Aggregator) GetPhase() Phase {
	a.phaseMu.RLock()
	defer a.phaseMu.RUnlock()
	return a.currentPhase
}

// SetActiveVUs updates the running VU count.
func (a *Aggregator) SetActiveVUs(count int) {
	a.activeVUs.Store(int32(count))
	if a.config.Prom != nil {
		a.config.Prom.ActiveVUs.Set(float64(count))
	}
}

// GetActiveVUs returns the running VU count.
func (a *Aggregator) GetActiveVUs() int {
	return int(a.activeVUs.Load())
}

// SetTargetVUs updates the target VU count.
func (a *Aggregator) SetTargetVUs(count int) {
	a.targetVUs.Store(int32(count))
	if a.config.Prom != nil {
		a.config.Prom.TargetVUs.Set(float64(count))
	}
}

// GetTargetVUs returns the target VU count.
func (a *Aggregator) GetTargetVUs() int {
	return int(a.targetVUs.Load())
}

// Count returns the number of recorded samples.
func (a *Aggregator) Count() int64 {
	return a.totalRequests.Load()
}

// Samples returns a copy of every recorded sample, shard by shard.
func (a *Aggregator) Samples() []OutcomeSample {
	out := make([]OutcomeSample, 0, a.totalRequests.Load())
	for _, s := range a.shards {
		s.mu.Lock()
		out = append(out, s.samples...)
		s.mu.Unlock()
	}
	return out
}

// Summary computes the exact aggregate over every sample recorded so far.
func (a *Aggregator) Summary() *Summary {
	return NewSummary(a.Samples(), time.Since(a.startTime))
}

// Snapshot returns approximate live metrics merged from shard histograms.
func (a *Aggregator) Snapshot() *Snapshot {
	merged := a.newHistogram()
	for _, s := range a.shards {
		s.mu.Lock()
		merged.Merge(s.hist)
		s.mu.Unlock()
	}

	elapsed := time.Since(a.startTime)
	totalReqs := a.totalRequests.Load()
	failedReqs := a.failedRequests.Load()

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(totalReqs) / elapsed.Seconds()
	}

	failedRate := 0.0
	if totalReqs > 0 {
		failedRate = float64(failedReqs) / float64(totalReqs)
	}

	return &Snapshot{
		TotalRequests:  totalReqs,
		FailedRequests: failedReqs,
		FailedRate:     failedRate,
		RPS:            rps,
		Latency: LatencyStats{
			Min:   time.Duration(merged.Min()) * time.Microsecond,
			Max:   time.Duration(merged.Max()) * time.Microsecond,
			Mean:  time.Duration(merged.Mean()) * time.Microsecond,
			P50:   time.Duration(merged.ValueAtQuantile(50)) * time.Microsecond,
			P90:   time.Duration(merged.ValueAtQuantile(90)) * time.Microsecond,
			P95:   time.Duration(merged.ValueAtQuantile(95)) * time.Microsecond,
			P99:   time.Duration(merged.ValueAtQuantile(99)) * time.Microsecond,
			Count: merged.TotalCount(),
		},
		ActiveVUs:    a.GetActiveVUs(),
		TargetVUs:    a.GetTargetVUs(),
		CurrentPhase: a.GetPhase(),
		Elapsed:      elapsed,
		StartTime:    a.startTime,
		Timestamp:    time.Now(),
	}
}
