package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/merchload/internal/config"
	"github.com/wesleyorama2/merchload/internal/loadtest/metrics"
)

func latencies(failedEvery int, ms ...int) *metrics.Summary {
	samples := make([]metrics.OutcomeSample, 0, len(ms))
	for i, m := range ms {
		samples = append(samples, metrics.OutcomeSample{
			Latency: time.Duration(m) * time.Millisecond,
			Failed:  failedEvery > 0 && (i+1)%failedEvery == 0,
			Action:  "fetch_info",
		})
	}
	return metrics.NewSummary(samples, time.Second)
}

func TestParseThresholds_Default(t *testing.T) {
	thresholds, err := ParseThresholds(config.Default().Thresholds)
	require.NoError(t, err)
	require.Len(t, thresholds, 2)

	assert.Equal(t, config.MetricHTTPReqFailed, thresholds[0].Metric)
	assert.Equal(t, "rate", thresholds[0].Stat)
	assert.Equal(t, "<", thresholds[0].Op)
	assert.Equal(t, 0.0001, thresholds[0].Value)

	assert.Equal(t, config.MetricHTTPReqDuration, thresholds[1].Metric)
	assert.Equal(t, "p", thresholds[1].Stat)
	assert.Equal(t, 90.0, thresholds[1].Percentile)
	assert.Equal(t, 50.0, thresholds[1].Value)
}

func TestParseThreshold_DurationUnits(t *testing.T) {
	th, err := ParseThreshold(config.MetricHTTPReqDuration, "p95 < 1.5s")
	require.NoError(t, err)
	assert.Equal(t, 1500.0, th.Value)

	_, err = ParseThreshold(config.MetricHTTPReqFailed, "p(90)<1")
	assert.Error(t, err)

	_, err = ParseThresholds(&config.ThresholdsConfig{HTTPReqDuration: []string{"nope"}})
	assert.Error(t, err)
}

func TestEvaluate(t *testing.T) {
	// 10 samples, 10..100ms; nearest-rank p90 is 90ms.
	summary := latencies(0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100)

	tests := []struct {
		metric string
		expr   string
		passed bool
	}{
		{config.MetricHTTPReqDuration, "p(90)<91", true},
		{config.MetricHTTPReqDuration, "p(90)<90", false},
		{config.MetricHTTPReqDuration, "p(90)<=90", true},
		{config.MetricHTTPReqDuration, "max<100ms", false},
		{config.MetricHTTPReqDuration, "min>=10", true},
		{config.MetricHTTPReqDuration, "avg==55", true},
		{config.MetricHTTPReqDuration, "med<=50", true},
		{config.MetricHTTPReqFailed, "rate<0.0001", true},
		{config.MetricHTTPReqs, "count==10", true},
		{config.MetricHTTPReqs, "rate>20", false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			th, err := ParseThreshold(tt.metric, tt.expr)
			require.NoError(t, err)

			verdict := Evaluate(summary, []Threshold{th})
			require.Len(t, verdict.Results, 1)
			assert.Equal(t, tt.passed, verdict.Passed)
			assert.Equal(t, tt.passed, verdict.Results[0].Passed)
			assert.False(t, verdict.Results[0].NoData)
			if !tt.passed {
				assert.NotEmpty(t, verdict.Results[0].Message)
			}
		})
	}
}

func TestEvaluate_FailedRate(t *testing.T) {
	th, err := ParseThreshold(config.MetricHTTPReqFailed, "rate<0.0001")
	require.NoError(t, err)

	// One failure in 10000 gives a rate of exactly 0.0001, which is not < 0.0001.
	ms := make([]int, 10000)
	for i := range ms {
		ms[i] = 1
	}
	verdict := Evaluate(latencies(10000, ms...), []Threshold{th})
	assert.False(t, verdict.Passed)
	assert.Equal(t, "0.0001", verdict.Results[0].Actual)

	verdict = Evaluate(latencies(0, ms...), []Threshold{th})
	assert.True(t, verdict.Passed)
}

func TestEvaluate_NoData(t *testing.T) {
	thresholds, err := ParseThresholds(config.Default().Thresholds)
	require.NoError(t, err)

	verdict := Evaluate(metrics.NewSummary(nil, time.Second), thresholds)
	assert.True(t, verdict.Passed)
	for _, r := range verdict.Results {
		assert.True(t, r.NoData)
		assert.True(t, r.Passed)
	}

	verdict = Evaluate(nil, thresholds)
	assert.True(t, verdict.Passed)
}

func TestEvaluate_NoDataCountsAsZero(t *testing.T) {
	atLeastOne, err := ParseThreshold(config.MetricHTTPReqs, "count>0")
	require.NoError(t, err)
	rate, err := ParseThreshold(config.MetricHTTPReqs, "rate>10")
	require.NoError(t, err)

	for _, summary := range []*metrics.Summary{nil, metrics.NewSummary(nil, time.Second)} {
		verdict := Evaluate(summary, []Threshold{atLeastOne, rate})
		require.Len(t, verdict.Results, 2)
		assert.False(t, verdict.Passed)

		count := verdict.Results[0]
		assert.False(t, count.Passed)
		assert.False(t, count.NoData)
		assert.Equal(t, "0", count.Actual)
		assert.Contains(t, count.Message, "count is 0")

		assert.True(t, verdict.Results[1].NoData)
		assert.True(t, verdict.Results[1].Passed)
	}

	zero, err := ParseThreshold(config.MetricHTTPReqs, "count==0")
	require.NoError(t, err)
	assert.True(t, Evaluate(nil, []Threshold{zero}).Passed)
}

func TestEvaluate_Idempotent(t *testing.T) {
	thresholds, err := ParseThresholds(config.Default().Thresholds)
	require.NoError(t, err)

	summary := latencies(3, 5, 60, 70, 10, 20)
	first := Evaluate(summary, thresholds)
	second := Evaluate(summary, thresholds)

	assert.Equal(t, first, second)
	assert.False(t, first.Passed)
}

func TestEvaluate_NoThresholds(t *testing.T) {
	verdict := Evaluate(latencies(1, 10), nil)
	assert.True(t, verdict.Passed)
	assert.Empty(t, verdict.Results)
}
