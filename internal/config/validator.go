package config

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/wesleyorama2/merchload/internal/loadtest"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the entire profile. Call ApplyDefaults first.
//
// Returns nil if valid, or a *ValidationErrors containing all validation errors.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateSettings(&c.Settings, errs)
	validateStages(c.Stages, errs)

	if c.Workload != nil {
		validateWorkload(c.Workload, errs)
	}
	if c.Scheduler != nil {
		validateScheduler(c.Scheduler, errs)
	}
	if c.Thresholds != nil {
		validateThresholds(c.Thresholds, errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateSettings validates HTTP settings.
func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.BaseURL == "" {
		errs.Add("settings.baseUrl", "base URL is required")
	} else {
		u, err := url.Parse(s.BaseURL)
		if err != nil {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %v", err))
		} else if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs.Add("settings.baseUrl", fmt.Sprintf("URL %q must be absolute http(s)", s.BaseURL))
		}
	}

	if s.Timeout < 0 {
		errs.Add("settings.timeout", "cannot be negative")
	}
	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
}

// validateStages validates the ramp profile.
func validateStages(stages []StageConfig, errs *ValidationErrors) {
	if len(stages) == 0 {
		errs.Add("stages", "at least one stage is required")
		return
	}

	var total int64
	for i, stage := range stages {
		prefix := fmt.Sprintf("stages[%d]", i)
		if stage.Duration == "" {
			errs.Add(prefix+".duration", "duration is required")
		} else if d, err := ParseDurationString(stage.Duration); err != nil {
			errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
		} else if d < 0 {
			errs.Add(prefix+".duration", "duration cannot be negative")
		} else {
			total += int64(d)
		}

		if stage.Target < 0 {
			errs.Add(prefix+".target", "target cannot be negative")
		}
	}

	if total == 0 {
		errs.Add("stages", "total duration must be greater than 0")
	}
}

// validateWorkload validates the action mix.
func validateWorkload(w *WorkloadConfig, errs *ValidationErrors) {
	if w.ThinkTime != "" {
		if d, err := ParseDurationString(w.ThinkTime); err != nil {
			errs.Add("workload.thinkTime", fmt.Sprintf("invalid thinkTime: %v", err))
		} else if d < 0 {
			errs.Add("workload.thinkTime", "cannot be negative")
		}
	}

	weights := map[loadtest.ActionKind]float64{}
	sum := 0.0
	for i, a := range w.Actions {
		prefix := fmt.Sprintf("workload.actions[%d]", i)
		kind, err := loadtest.ParseActionKind(a.Name)
		if err != nil {
			errs.Add(prefix+".name", err.Error())
			continue
		}
		if _, dup := weights[kind]; dup {
			errs.Add(prefix+".name", fmt.Sprintf("duplicate action %s", a.Name))
		}
		if a.Weight < 0 || math.IsNaN(a.Weight) {
			errs.Add(prefix+".weight", "weight cannot be negative")
			continue
		}
		weights[kind] += a.Weight
		sum += a.Weight
	}
	if len(w.Actions) > 0 && math.Abs(sum-1.0) > 1e-6 {
		errs.Add("workload.actions", fmt.Sprintf("weights must sum to 1, got %v", sum))
	}

	if weights[loadtest.BuyItem] > 0 {
		if len(w.Items) == 0 {
			errs.Add("workload.items", "at least one item is required when buy_item has weight")
		}
		for i, item := range w.Items {
			if strings.TrimSpace(item) == "" {
				errs.Add(fmt.Sprintf("workload.items[%d]", i), "item cannot be empty")
			}
		}
	}

	if weights[loadtest.SendCoin] > 0 && w.Amount != nil {
		if w.Amount.Min < 1 {
			errs.Add("workload.amount.min", "must be at least 1")
		}
		if w.Amount.Max < w.Amount.Min {
			errs.Add("workload.amount", "max must be greater than or equal to min")
		}
	}
}

// validateScheduler validates controller timing.
func validateScheduler(s *SchedulerConfig, errs *ValidationErrors) {
	if s.Tick != "" {
		if d, err := ParseDurationString(s.Tick); err != nil {
			errs.Add("scheduler.tick", fmt.Sprintf("invalid tick: %v", err))
		} else if d <= 0 {
			errs.Add("scheduler.tick", "must be greater than 0")
		}
	}
	if s.GracefulStop != "" {
		if d, err := ParseDurationString(s.GracefulStop); err != nil {
			errs.Add("scheduler.gracefulStop", fmt.Sprintf("invalid gracefulStop: %v", err))
		} else if d < 0 {
			errs.Add("scheduler.gracefulStop", "cannot be negative")
		}
	}
}

// validateThresholds validates threshold configuration.
func validateThresholds(t *ThresholdsConfig, errs *ValidationErrors) {
	counters := map[string]int{}
	t.Each(func(metric, expr string) {
		field := fmt.Sprintf("thresholds.%s[%d]", metric, counters[metric])
		counters[metric]++
		if _, err := CheckThreshold(metric, expr); err != nil {
			errs.Add(field, err.Error())
		}
	})
}
