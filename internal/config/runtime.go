package config

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/merchload/internal/loadtest"
	"github.com/wesleyorama2/merchload/internal/loadtest/executor"
)

// ExecutorConfig converts the stages and scheduler settings. The profile
// must have passed Validate.
func (c *TestConfig) ExecutorConfig() (*executor.Config, error) {
	cfg := &executor.Config{Name: c.Name}
	for i, s := range c.Stages {
		d, err := ParseDurationString(s.Duration)
		if err != nil {
			return nil, fmt.Errorf("stages[%d]: %w", i, err)
		}
		cfg.Stages = append(cfg.Stages, executor.Stage{Duration: d, Target: s.Target, Name: s.Name})
	}

	if c.Scheduler != nil {
		tick, err := ParseDurationString(c.Scheduler.Tick)
		if err != nil {
			return nil, fmt.Errorf("scheduler.tick: %w", err)
		}
		graceful, err := ParseDurationString(c.Scheduler.GracefulStop)
		if err != nil {
			return nil, fmt.Errorf("scheduler.gracefulStop: %w", err)
		}
		cfg.Tick = tick
		cfg.GracefulStop = graceful
	}
	return cfg, nil
}

// HTTPClientConfig converts the HTTP settings.
func (c *TestConfig) HTTPClientConfig() loadtest.HTTPClientConfig {
	cfg := loadtest.DefaultHTTPClientConfig()
	cfg.Timeout = c.Settings.Timeout.GetDuration(cfg.Timeout)
	if c.Settings.MaxIdleConnsPerHost > 0 {
		cfg.MaxIdleConnsPerHost = c.Settings.MaxIdleConnsPerHost
	}
	cfg.MaxConnsPerHost = c.Settings.MaxConnectionsPerHost
	cfg.InsecureSkipVerify = c.Settings.InsecureSkipVerify
	if c.Settings.UserAgent != "" {
		cfg.UserAgent = c.Settings.UserAgent
	}
	return cfg
}

// ThinkTime returns the pause after each iteration.
func (c *TestConfig) ThinkTime() (time.Duration, error) {
	if c.Workload == nil || c.Workload.ThinkTime == "" {
		return loadtest.DefaultThinkTime, nil
	}
	return ParseDurationString(c.Workload.ThinkTime)
}

// Seed returns the configured random seed, 0 meaning random.
func (c *TestConfig) Seed() uint64 {
	if c.Workload == nil {
		return 0
	}
	return c.Workload.Seed
}

// WeightTable converts the action mix.
func (c *TestConfig) WeightTable() (*loadtest.WeightTable, error) {
	if c.Workload == nil || len(c.Workload.Actions) == 0 {
		return loadtest.DefaultWeightTable(), nil
	}

	kinds := make([]loadtest.ActionKind, 0, len(c.Workload.Actions))
	probs := make([]float64, 0, len(c.Workload.Actions))
	for _, a := range c.Workload.Actions {
		kind, err := loadtest.ParseActionKind(a.Name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
		probs = append(probs, a.Weight)
	}
	return loadtest.WeightTableFromProbabilities(kinds, probs)
}

// ConfigureWorkload applies the action mix, catalog and amount range to w.
func (c *TestConfig) ConfigureWorkload(w *loadtest.Workload) error {
	table, err := c.WeightTable()
	if err != nil {
		return err
	}
	w.Weights = table

	if c.Workload != nil {
		if c.Workload.Items != nil {
			w.Catalog = c.Workload.Items
		}
		if c.Workload.Amount != nil {
			w.MinAmount = c.Workload.Amount.Min
			w.MaxAmount = c.Workload.Amount.Max
		}
	}
	return nil
}
