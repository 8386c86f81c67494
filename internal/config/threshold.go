package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Threshold metric names.
const (
	MetricHTTPReqDuration = "http_req_duration"
	MetricHTTPReqFailed   = "http_req_failed"
	MetricHTTPReqs        = "http_reqs"
)

// ThresholdExpr is a parsed threshold expression such as "p(90)<50" or
// "rate < 0.01".
type ThresholdExpr struct {
	// Stat is avg, min, max, med, rate, count or p
	Stat string

	// Percentile is set when Stat is p
	Percentile float64

	// Op is one of < <= > >= == !=
	Op string

	// Value is the raw right-hand side
	Value string
}

var thresholdPattern = regexp.MustCompile(
	`^(avg|min|max|med|rate|count|p\(\s*(\d+(?:\.\d+)?)\s*\)|p(\d+(?:\.\d+)?))\s*(<=|>=|==|!=|<|>)\s*(\S+)$`,
)

// statsByMetric lists the statistics each metric supports.
var statsByMetric = map[string][]string{
	MetricHTTPReqDuration: {"avg", "min", "max", "med", "p"},
	MetricHTTPReqFailed:   {"rate"},
	MetricHTTPReqs:        {"count", "rate"},
}

// ParseThresholdExpression parses a threshold expression.
//
// Valid formats:
//   - "p(90)<50" or "p90 < 50ms"
//   - "avg < 200ms"
//   - "rate < 0.01"
//   - "count > 1000"
func ParseThresholdExpression(expr string) (*ThresholdExpr, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("threshold expression cannot be empty")
	}

	m := thresholdPattern.FindStringSubmatch(expr)
	if m == nil {
		return nil, fmt.Errorf("invalid threshold expression %q (expected e.g. \"p(90)<50\" or \"rate<0.01\")", expr)
	}

	out := &ThresholdExpr{Stat: m[1], Op: m[4], Value: m[5]}
	if p := m[2] + m[3]; p != "" {
		pct, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid percentile in %q: %w", expr, err)
		}
		if pct < 0 || pct > 100 {
			return nil, fmt.Errorf("percentile %v out of range [0, 100]", pct)
		}
		out.Stat = "p"
		out.Percentile = pct
	}
	return out, nil
}

// ParseThresholdDuration parses a latency threshold value. Bare numbers are
// milliseconds; Go duration strings are accepted too.
func ParseThresholdDuration(s string) (time.Duration, error) {
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", s)
	}
	return d, nil
}

// CheckThreshold parses expr and checks that metric supports its statistic
// and that the value has the right type.
func CheckThreshold(metric, expr string) (*ThresholdExpr, error) {
	parsed, err := ParseThresholdExpression(expr)
	if err != nil {
		return nil, err
	}

	stats, ok := statsByMetric[metric]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", metric)
	}
	supported := false
	for _, s := range stats {
		if s == parsed.Stat {
			supported = true
			break
		}
	}
	if !supported {
		return nil, fmt.Errorf("metric %s does not support %q (supported: %s)", metric, parsed.Stat, strings.Join(stats, ", "))
	}

	if metric == MetricHTTPReqDuration {
		if _, err := ParseThresholdDuration(parsed.Value); err != nil {
			return nil, err
		}
	} else if _, err := strconv.ParseFloat(parsed.Value, 64); err != nil {
		return nil, fmt.Errorf("invalid numeric value %q", parsed.Value)
	}

	return parsed, nil
}

// Each calls fn for every configured threshold, in metric order.
func (t *ThresholdsConfig) Each(fn func(metric, expr string)) {
	if t == nil {
		return
	}
	for _, e := range t.HTTPReqFailed {
		fn(MetricHTTPReqFailed, e)
	}
	for _, e := range t.HTTPReqDuration {
		fn(MetricHTTPReqDuration, e)
	}
	for _, e := range t.HTTPReqs {
		fn(MetricHTTPReqs, e)
	}
}
