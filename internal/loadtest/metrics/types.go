package metrics

import "time"

// Phase represents a phase of the load test.
type Phase string

const (
	// PhaseInit is the initialization phase before the test starts
	PhaseInit Phase = "init"

	// PhaseRampUp is the ramp-up phase when load is increasing
	PhaseRampUp Phase = "ramp-up"

	// PhaseSteady is the steady-state phase at target load
	PhaseSteady Phase = "steady"

	// PhaseRampDown is the ramp-down phase when load is decreasing
	PhaseRampDown Phase = "ramp-down"

	// PhaseDone indicates the test has completed
	PhaseDone Phase = "done"
)

// Outcome classifies a single request.
type Outcome string

const (
	// OutcomePass means the response satisfied the action's check.
	OutcomePass Outcome = "pass"

	// OutcomeCheckFailed means a response arrived but did not satisfy the check.
	OutcomeCheckFailed Outcome = "check_failed"

	// OutcomeTransportError means no response was obtained.
	OutcomeTransportError Outcome = "transport_error"
)

// OutcomeSample is one request's recorded latency and classification.
// Samples are never mutated after Record.
type OutcomeSample struct {
	Timestamp  time.Time     `json:"timestamp"`
	Latency    time.Duration `json:"latency"`
	Failed     bool          `json:"failed"`
	Action     string        `json:"action"`
	Outcome    Outcome       `json:"outcome"`
	StatusCode int           `json:"statusCode,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P90   time.Duration `json:"p90"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Count int64         `json:"count"`
}

// ActionSummary breaks totals down by action.
type ActionSummary struct {
	Count   int64        `json:"count"`
	Failed  int64        `json:"failed"`
	Latency LatencyStats `json:"latency"`
}

// Snapshot is a cheap, approximate, point-in-time view used for live progress.
// Percentiles come from HDR histograms and are not used for verdicts.
type Snapshot struct {
	TotalRequests  int64         `json:"totalRequests"`
	FailedRequests int64         `json:"failedRequests"`
	FailedRate     float64       `json:"failedRate"`
	RPS            float64       `json:"rps"`
	Latency        LatencyStats  `json:"latency"`
	ActiveVUs      int           `json:"activeVUs"`
	TargetVUs      int           `json:"targetVUs"`
	CurrentPhase   Phase         `json:"currentPhase"`
	Elapsed        time.Duration `json:"elapsed"`
	StartTime      time.Time     `json:"startTime"`
	Timestamp      time.Time     `json:"timestamp"`
}
