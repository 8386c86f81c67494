package engine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/wesleyorama2/merchload/internal/config"
	"github.com/wesleyorama2/merchload/internal/loadtest/metrics"
)

// Threshold is a parsed pass/fail criterion over the full sample set.
type Threshold struct {
	Metric     string  `json:"metric"`
	Expression string  `json:"expression"`
	Stat       string  `json:"stat"`
	Percentile float64 `json:"percentile,omitempty"`
	Op         string  `json:"op"`

	// Value is the bound. Latency bounds are in milliseconds.
	Value float64 `json:"value"`
}

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	NoData     bool   `json:"noData,omitempty"`
	Actual     string `json:"actual,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Verdict is the outcome of evaluating every threshold.
type Verdict struct {
	Passed  bool              `json:"passed"`
	Results []ThresholdResult `json:"results"`
}

// ParseThresholds converts the configured expressions into thresholds,
// in the order failed rate, latency, request count.
func ParseThresholds(cfg *config.ThresholdsConfig) ([]Threshold, error) {
	var (
		out      []Threshold
		firstErr error
	)
	cfg.Each(func(metric, expr string) {
		if firstErr != nil {
			return
		}
		t, err := ParseThreshold(metric, expr)
		if err != nil {
			firstErr = err
			return
		}
		out = append(out, t)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// ParseThreshold parses a single expression for metric.
func ParseThreshold(metric, expr string) (Threshold, error) {
	parsed, err := config.CheckThreshold(metric, expr)
	if err != nil {
		return Threshold{}, fmt.Errorf("threshold %s %q: %w", metric, expr, err)
	}

	t := Threshold{
		Metric:     metric,
		Expression: expr,
		Stat:       parsed.Stat,
		Percentile: parsed.Percentile,
		Op:         parsed.Op,
	}

	if metric == config.MetricHTTPReqDuration {
		d, err := config.ParseThresholdDuration(parsed.Value)
		if err != nil {
			return Threshold{}, fmt.Errorf("threshold %s %q: %w", metric, expr, err)
		}
		t.Value = toMillis(d)
	} else {
		v, err := strconv.ParseFloat(parsed.Value, 64)
		if err != nil {
			return Threshold{}, fmt.Errorf("threshold %s %q: %w", metric, expr, err)
		}
		t.Value = v
	}
	return t, nil
}

// Evaluate checks every threshold against summary. With no samples every
// threshold except a request count is reported as no data and passes; a
// count is checked against zero. Evaluate does not modify
// summary, so repeated calls give the same verdict.
func Evaluate(summary *metrics.Summary, thresholds []Threshold) Verdict {
	verdict := Verdict{Passed: true, Results: make([]ThresholdResult, 0, len(thresholds))}
	for _, t := range thresholds {
		r := evaluate(summary, t)
		if !r.Passed {
			verdict.Passed = false
		}
		verdict.Results = append(verdict.Results, r)
	}
	return verdict
}

func evaluate(summary *metrics.Summary, t Threshold) ThresholdResult {
	result := ThresholdResult{Metric: t.Metric, Expression: t.Expression}

	if summary == nil || summary.TotalRequests == 0 {
		if t.Metric != config.MetricHTTPReqs || t.Stat != "count" {
			result.Passed = true
			result.NoData = true
			result.Message = "no data"
			return result
		}
		if summary == nil {
			summary = &metrics.Summary{}
		}
	}

	actual, display, err := actualValue(summary, t)
	if err != nil {
		result.Message = err.Error()
		return result
	}

	result.Actual = display
	result.Passed = compareValues(actual, t.Op, t.Value)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s, threshold: %s %s", statLabel(t), display, t.Op, formatBound(t))
	}
	return result
}

func actualValue(summary *metrics.Summary, t Threshold) (float64, string, error) {
	switch t.Metric {
	case config.MetricHTTPReqDuration:
		var d time.Duration
		switch t.Stat {
		case "min":
			d = summary.Latency.Min
		case "max":
			d = summary.Latency.Max
		case "avg":
			d = summary.Latency.Mean
		case "med":
			d = summary.Latency.P50
		case "p":
			d, _ = summary.Percentile(t.Percentile)
		default:
			return 0, "", fmt.Errorf("http_req_duration does not support %q", t.Stat)
		}
		return toMillis(d), d.String(), nil

	case config.MetricHTTPReqFailed:
		if t.Stat != "rate" {
			return 0, "", fmt.Errorf("http_req_failed only supports 'rate', got: %s", t.Stat)
		}
		return summary.FailedRate, fmt.Sprintf("%.4f", summary.FailedRate), nil

	case config.MetricHTTPReqs:
		switch t.Stat {
		case "count":
			return float64(summary.TotalRequests), strconv.FormatInt(summary.TotalRequests, 10), nil
		case "rate":
			return summary.RPS, fmt.Sprintf("%.2f/s", summary.RPS), nil
		}
		return 0, "", fmt.Errorf("http_reqs only supports 'count' or 'rate', got: %s", t.Stat)
	}
	return 0, "", fmt.Errorf("unknown metric %q", t.Metric)
}

// compareValues compares two values using the given operator.
func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==":
		return actual == threshold
	case "!=":
		return actual != threshold
	default:
		return false
	}
}

func statLabel(t Threshold) string {
	if t.Stat == "p" {
		return "p(" + strconv.FormatFloat(t.Percentile, 'f', -1, 64) + ")"
	}
	return t.Stat
}

func formatBound(t Threshold) string {
	if t.Metric == config.MetricHTTPReqDuration {
		return time.Duration(t.Value * float64(time.Millisecond)).String()
	}
	return strconv.FormatFloat(t.Value, 'f', -1, 64)
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
