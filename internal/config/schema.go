// Package config provides profile parsing and validation for merchload runs.
package config

import (
	"time"
)

// TestConfig is the root configuration for a load run.
//
// Example YAML:
//
//	name: "merch load"
//	settings:
//	  baseUrl: "http://127.0.0.1:8080"
//	  timeout: 30s
//	stages:
//	  - duration: 2m
//	    target: 15
//	  - duration: 1m
//	    target: 30
//	workload:
//	  thinkTime: 10ms
//	  actions:
//	    - name: fetch_info
//	      weight: 0.75
//	    - name: buy_item
//	      weight: 0.15
//	    - name: send_coin
//	      weight: 0.10
//	thresholds:
//	  http_req_failed: ["rate<0.0001"]
//	  http_req_duration: ["p(90)<50"]
type TestConfig struct {
	// Name of the run (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the run (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings contains HTTP settings
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Dataset locates the users and auth token files
	Dataset DatasetConfig `json:"dataset,omitempty" yaml:"dataset,omitempty"`

	// Stages defines the concurrency profile
	Stages []StageConfig `json:"stages" yaml:"stages"`

	// Workload controls what each virtual user does
	Workload *WorkloadConfig `json:"workload,omitempty" yaml:"workload,omitempty"`

	// Scheduler controls the ramp controller
	Scheduler *SchedulerConfig `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`

	// Thresholds define pass/fail criteria for metrics
	Thresholds *ThresholdsConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// GlobalSettings contains HTTP settings.
type GlobalSettings struct {
	// BaseURL of the service under test
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnectionsPerHost limits connections per host (0 = unlimited)
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
}

// DatasetConfig locates the dataset files. Both paths must be absolute.
type DatasetConfig struct {
	// UsersFile is a JSON array of {"username": ...} objects
	UsersFile string `json:"usersFile,omitempty" yaml:"usersFile,omitempty"`

	// TokensFile is a JSON array of bearer tokens, index-aligned with users
	TokensFile string `json:"tokensFile,omitempty" yaml:"tokensFile,omitempty"`
}

// StageConfig defines a single stage of the ramp.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// WorkloadConfig defines the action mix.
type WorkloadConfig struct {
	// ThinkTime is the pause after every iteration
	ThinkTime string `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// Seed makes per-VU random sources reproducible (0 = random)
	Seed uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// Actions are the weighted operations; weights must sum to 1
	Actions []ActionConfig `json:"actions,omitempty" yaml:"actions,omitempty"`

	// Items is the catalog buy_item picks from
	Items []string `json:"items,omitempty" yaml:"items,omitempty"`

	// Amount is the inclusive send_coin amount range
	Amount *AmountRange `json:"amount,omitempty" yaml:"amount,omitempty"`
}

// ActionConfig is one weighted action.
type ActionConfig struct {
	// Name is fetch_info, buy_item or send_coin
	Name string `json:"name" yaml:"name"`

	// Weight is the probability of choosing this action
	Weight float64 `json:"weight" yaml:"weight"`
}

// AmountRange is an inclusive integer range.
type AmountRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// SchedulerConfig controls the ramp controller.
type SchedulerConfig struct {
	// Tick is how often the VU target is recomputed
	Tick string `json:"tick,omitempty" yaml:"tick,omitempty"`

	// GracefulStop is how long to wait for iterations to finish
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// ThresholdsConfig defines pass/fail criteria for the run.
type ThresholdsConfig struct {
	// HTTPReqDuration thresholds for request duration
	// e.g., ["p(90)<50", "p95 < 200ms"]. Bare numbers are milliseconds.
	HTTPReqDuration []string `json:"http_req_duration,omitempty" yaml:"http_req_duration,omitempty"`

	// HTTPReqFailed thresholds for failure rate
	// e.g., ["rate<0.0001"]
	HTTPReqFailed []string `json:"http_req_failed,omitempty" yaml:"http_req_failed,omitempty"`

	// HTTPReqs thresholds for request count/rate
	// e.g., ["count > 1000", "rate > 100"]
	HTTPReqs []string `json:"http_reqs,omitempty" yaml:"http_reqs,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
// Bare integers are seconds.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes if present
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	if s == "" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
