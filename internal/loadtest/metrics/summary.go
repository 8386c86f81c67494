package metrics

import (
	"math"
	"sort"
	"time"
)

// Summary is the exact aggregate over every recorded sample.
//
// Percentiles use the nearest-rank method over the sorted latencies:
// rank = ceil(p/100 * N), value = sorted[rank-1], with p = 0 mapping to the
// minimum. A Summary is immutable once built, so repeated queries return the
// same answers.
type Summary struct {
	TotalRequests  int64                    `json:"totalRequests"`
	FailedRequests int64                    `json:"failedRequests"`
	FailedRate     float64                  `json:"failedRate"`
	Latency        LatencyStats             `json:"latency"`
	Actions        map[string]ActionSummary `json:"actions,omitempty"`
	Duration       time.Duration            `json:"duration"`
	RPS            float64                  `json:"rps"`

	sorted []time.Duration
}

// NewSummary builds a summary from samples. The slice is not retained.
func NewSummary(samples []OutcomeSample, duration time.Duration) *Summary {
	s := &Summary{
		Actions:  make(map[string]ActionSummary),
		Duration: duration,
		sorted:   make([]time.Duration, 0, len(samples)),
	}

	perAction := make(map[string][]time.Duration)
	failedPerAction := make(map[string]int64)

	for _, sample := range samples {
		s.TotalRequests++
		if sample.Failed {
			s.FailedRequests++
			failedPerAction[sample.Action]++
		}
		s.sorted = append(s.sorted, sample.Latency)
		if sample.Action != "" {
			perAction[sample.Action] = append(perAction[sample.Action], sample.Latency)
		}
	}

	if s.TotalRequests > 0 {
		s.FailedRate = float64(s.FailedRequests) / float64(s.TotalRequests)
	}
	if duration > 0 {
		s.RPS = float64(s.TotalRequests) / duration.Seconds()
	}

	sortDurations(s.sorted)
	s.Latency = statsFromSorted(s.sorted)

	for action, latencies := range perAction {
		sortDurations(latencies)
		s.Actions[action] = ActionSummary{
			Count:   int64(len(latencies)),
			Failed:  failedPerAction[action],
			Latency: statsFromSorted(latencies),
		}
	}

	return s
}

// Percentile returns the nearest-rank percentile p (0..100) of all latencies.
// ok is false when there are no samples.
func (s *Summary) Percentile(p float64) (value time.Duration, ok bool) {
	if len(s.sorted) == 0 {
		return 0, false
	}
	return NearestRank(s.sorted, p), true
}

// NearestRank returns the nearest-rank percentile of an ascending slice.
// The slice must be non-empty.
func NearestRank(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}

	rank := int(math.Ceil(p * float64(n) / 100))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}

func sortDurations(d []time.Duration) {
	sort.Slice(d, func(i, j int) bool { return d[i] < d[j] })
}

func statsFromSorted(sorted []time.Duration) LatencyStats {
	if len(sorted) == 0 {
		return LatencyStats{}
	}

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return LatencyStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   NearestRank(sorted, 50),
		P90:   NearestRank(sorted, 90),
		P95:   NearestRank(sorted, 95),
		P99:   NearestRank(sorted, 99),
		Count: int64(len(sorted)),
	}
}
