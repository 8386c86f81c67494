package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PromCollectors exposes run metrics in Prometheus format.
type PromCollectors struct {
	Requests  *prometheus.CounterVec
	Latency   *prometheus.HistogramVec
	ActiveVUs prometheus.Gauge
	TargetVUs prometheus.Gauge
}

// NewPromCollectors creates unregistered collectors.
func NewPromCollectors() *PromCollectors {
	return &PromCollectors{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "merchload_requests_total", Help: "Requests issued, by action and outcome"},
			[]string{"action", "outcome"},
		),
		Latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "merchload_request_duration_seconds",
				Help:    "Request latency, by action",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"action"},
		),
		ActiveVUs: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "merchload_vus_running", Help: "Virtual users currently running"},
		),
		TargetVUs: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "merchload_vus_target", Help: "Target virtual users from the ramp profile"},
		),
	}
}

// Collectors returns every collector for registration.
func (p *PromCollectors) Collectors() []prometheus.Collector {
	return []prometheus.Collector{p.Requests, p.Latency, p.ActiveVUs, p.TargetVUs}
}

// Register registers all collectors with reg.
func (p *PromCollectors) Register(reg prometheus.Registerer) error {
	for _, c := range p.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (p *PromCollectors) observe(s OutcomeSample) {
	action := s.Action
	if action == "" {
		action = "unknown"
	}
	p.Requests.WithLabelValues(action, string(s.Outcome)).Inc()
	p.Latency.WithLabelValues(action).Observe(s.Latency.Seconds())
}
