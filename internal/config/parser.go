package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/merchload/internal/loadtest"
)

// DefaultBaseURL is where the service under test listens unless told otherwise.
const DefaultBaseURL = "http://127.0.0.1:8080"

// LoadConfig loads a profile from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// Returns the parsed TestConfig or an error if parsing fails.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		// Try YAML by default
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// MarshalYAML renders a profile as YAML.
func MarshalYAML(config *TestConfig) ([]byte, error) {
	data, err := yaml.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
//
// Returns the parsed duration or an error.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	// Try standard Go duration parsing first
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	// Try parsing as integer seconds
	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ParseStages parses a compact stage list such as "2m:15,1m:30,1m:0".
func ParseStages(s string) ([]StageConfig, error) {
	var stages []StageConfig
	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dur, target, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("stage %d %q: expected duration:target", i, part)
		}
		if _, err := ParseDurationString(dur); err != nil {
			return nil, fmt.Errorf("stage %d %q: %w", i, part, err)
		}
		n, err := strconv.Atoi(strings.TrimSpace(target))
		if err != nil {
			return nil, fmt.Errorf("stage %d %q: invalid target: %w", i, part, err)
		}
		stages = append(stages, StageConfig{Duration: strings.TrimSpace(dur), Target: n})
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("no stages in %q", s)
	}
	return stages, nil
}

// Default returns the built-in profile.
func Default() *TestConfig {
	return &TestConfig{
		Name: "merch load",
		Settings: GlobalSettings{
			BaseURL:             DefaultBaseURL,
			Timeout:             Duration(30 * time.Second),
			MaxIdleConnsPerHost: 100,
			UserAgent:           "merchload/1.0",
		},
		Stages: []StageConfig{
			{Duration: "2m", Target: 15},
			{Duration: "1m", Target: 30},
			{Duration: "1m", Target: 0},
			{Duration: "1m", Target: 20},
		},
		Workload:   defaultWorkload(),
		Scheduler:  defaultScheduler(),
		Thresholds: defaultThresholds(),
	}
}

func defaultWorkload() *WorkloadConfig {
	return &WorkloadConfig{
		ThinkTime: loadtest.DefaultThinkTime.String(),
		Actions: []ActionConfig{
			{Name: loadtest.FetchInfo.String(), Weight: 0.75},
			{Name: loadtest.BuyItem.String(), Weight: 0.15},
			{Name: loadtest.SendCoin.String(), Weight: 0.10},
		},
		Items:  append([]string(nil), loadtest.DefaultCatalog...),
		Amount: &AmountRange{Min: loadtest.DefaultMinAmount, Max: loadtest.DefaultMaxAmount},
	}
}

func defaultScheduler() *SchedulerConfig {
	return &SchedulerConfig{Tick: "100ms", GracefulStop: "30s"}
}

func defaultThresholds() *ThresholdsConfig {
	return &ThresholdsConfig{
		HTTPReqFailed:   []string{"rate<0.0001"},
		HTTPReqDuration: []string{"p(90)<50"},
	}
}

// ApplyDefaults fills every unset field from the built-in profile.
//
// A profile that lists thresholds replaces the defaults entirely; an empty
// thresholds block disables them.
func ApplyDefaults(config *TestConfig) {
	defaults := Default()

	if config.Name == "" {
		config.Name = defaults.Name
	}

	// Default settings
	if config.Settings.BaseURL == "" {
		config.Settings.BaseURL = defaults.Settings.BaseURL
	}
	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = defaults.Settings.Timeout
	}
	if config.Settings.MaxIdleConnsPerHost == 0 {
		config.Settings.MaxIdleConnsPerHost = defaults.Settings.MaxIdleConnsPerHost
	}
	if config.Settings.UserAgent == "" {
		config.Settings.UserAgent = defaults.Settings.UserAgent
	}

	if len(config.Stages) == 0 {
		config.Stages = defaults.Stages
	}

	if config.Workload == nil {
		config.Workload = defaults.Workload
	} else {
		w := config.Workload
		if w.ThinkTime == "" {
			w.ThinkTime = defaults.Workload.ThinkTime
		}
		if len(w.Actions) == 0 {
			w.Actions = defaults.Workload.Actions
		}
		if w.Items == nil {
			w.Items = defaults.Workload.Items
		}
		if w.Amount == nil {
			w.Amount = defaults.Workload.Amount
		}
	}

	if config.Scheduler == nil {
		config.Scheduler = defaults.Scheduler
	} else {
		if config.Scheduler.Tick == "" {
			config.Scheduler.Tick = defaults.Scheduler.Tick
		}
		if config.Scheduler.GracefulStop == "" {
			config.Scheduler.GracefulStop = defaults.Scheduler.GracefulStop
		}
	}

	if config.Thresholds == nil {
		config.Thresholds = defaults.Thresholds
	}
}
