// Package executor turns a staged concurrency profile into running virtual
// users.
package executor

import (
	"fmt"
	"time"
)

// DefaultTick is how often the controller recomputes the target VU count.
const DefaultTick = 100 * time.Millisecond

// DefaultGracefulStop bounds how long the run waits for VUs to finish their
// last iteration.
const DefaultGracefulStop = 30 * time.Second

// Config contains configuration for a ramping run.
type Config struct {
	// Name is the name of this executor instance
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Stages define the concurrency profile, in order
	Stages []Stage `json:"stages" yaml:"stages"`

	// Tick is the controller period (default: 100ms)
	Tick time.Duration `json:"tick,omitempty" yaml:"tick,omitempty"`

	// Graceful stop timeout (default: 30s)
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// Stage defines one segment of the ramp. Over Duration, the target moves
// linearly from the previous stage's Target (0 for the first stage) to this
// Target.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	// Timing
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// VU stats
	ActiveVUs  int `json:"activeVUs"`
	TargetVUs  int `json:"targetVUs"`
	PeakVUs    int `json:"peakVUs"`
	SpawnedVUs int `json:"spawnedVUs"`

	// Iteration stats
	Iterations int64 `json:"iterations"`

	// Stage info
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if len(c.Stages) == 0 {
		return &ValidationError{Field: "stages", Message: "at least one stage is required"}
	}
	for i, stage := range c.Stages {
		if stage.Duration < 0 {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].duration", i), Message: "duration must be >= 0"}
		}
		if stage.Target < 0 {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].target", i), Message: "target must be >= 0"}
		}
	}
	if c.TotalDuration() <= 0 {
		return &ValidationError{Field: "stages", Message: "total duration must be > 0"}
	}
	if c.Tick < 0 {
		return &ValidationError{Field: "tick", Message: "tick must be >= 0"}
	}
	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}
	return nil
}

// TotalDuration returns the sum of all stage durations.
func (c *Config) TotalDuration() time.Duration {
	var total time.Duration
	for _, stage := range c.Stages {
		total += stage.Duration
	}
	return total
}

// TargetAt returns the target VU count at elapsed time t and the index of the
// stage containing t.
//
// Within a stage the target is the linear interpolation between the previous
// target and the stage target, rounded half up. A zero-length stage jumps
// straight to its target. Past the last stage the last target holds.
func TargetAt(stages []Stage, t time.Duration) (target int, stage int) {
	if len(stages) == 0 {
		return 0, 0
	}

	var stageStart time.Duration
	prevTarget := 0

	for i, s := range stages {
		stageEnd := stageStart + s.Duration

		if t < stageEnd {
			progress := float64(t-stageStart) / float64(s.Duration)
			if progress < 0 {
				progress = 0
			}
			if progress > 1 {
				progress = 1
			}

			value := float64(prevTarget) + float64(s.Target-prevTarget)*progress
			return int(value + 0.5), i
		}

		prevTarget = s.Target
		stageStart = stageEnd
	}

	last := len(stages) - 1
	return stages[last].Target, last
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
