package executor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/merchload/internal/dataset"
	"github.com/wesleyorama2/merchload/internal/loadtest"
	"github.com/wesleyorama2/merchload/internal/loadtest/metrics"
)

type okTransport struct {
	calls atomic.Int64
}

func (o *okTransport) Get(context.Context, string, map[string]string) (*loadtest.Response, error) {
	o.calls.Add(1)
	return &loadtest.Response{StatusCode: 200}, nil
}

func (o *okTransport) Post(context.Context, string, []byte, map[string]string) (*loadtest.Response, error) {
	o.calls.Add(1)
	return &loadtest.Response{StatusCode: 200}, nil
}

func newTestScheduler(t *testing.T, users int, agg *metrics.Aggregator) *loadtest.VUScheduler {
	t.Helper()
	us := make([]dataset.User, users)
	tokens := make([]string, users)
	for i := range us {
		us[i] = dataset.User{Username: "user" + string(rune('a'+i))}
		tokens[i] = "token" + string(rune('a'+i))
	}
	ds, err := dataset.New(us, tokens)
	require.NoError(t, err)

	return loadtest.NewVUScheduler(loadtest.NewWorkload(ds), &okTransport{}, agg,
		loadtest.VUConfig{BaseURL: "http://merch.test", ThinkTime: loadtest.DefaultThinkTime},
		loadtest.WithSeed(1))
}

func TestRampingVUs_RampUpAndDown(t *testing.T) {
	cfg := &Config{
		Stages: []Stage{
			{Duration: time.Second, Target: 0},
			{Duration: time.Second, Target: 10},
			{Duration: time.Second, Target: 0},
		},
		Tick: 20 * time.Millisecond,
	}
	exec, err := NewRampingVUs(cfg, nil)
	require.NoError(t, err)

	agg := metrics.NewAggregator()
	sched := newTestScheduler(t, 5, agg)

	var maxSeen atomic.Int32
	stopWatch := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopWatch:
				return
			case <-ticker.C:
				if n := int32(exec.GetActiveVUs()); n > maxSeen.Load() {
					maxSeen.Store(n)
				}
			}
		}
	}()

	start := time.Now()
	require.NoError(t, exec.Run(context.Background(), sched, agg))
	close(stopWatch)

	assert.Equal(t, 10, exec.GetPeakVUs())
	assert.LessOrEqual(t, maxSeen.Load(), int32(10))
	assert.Zero(t, exec.GetActiveVUs())
	assert.Zero(t, agg.GetActiveVUs())
	assert.Equal(t, metrics.PhaseDone, agg.GetPhase())
	assert.Positive(t, agg.Count())

	// Nothing runs during the flat zero stage.
	for _, s := range agg.Samples() {
		assert.GreaterOrEqual(t, s.Timestamp.Sub(start), 900*time.Millisecond)
	}

	stats := exec.GetStats()
	assert.Equal(t, 3, stats.TotalStages)
	assert.Equal(t, 2, stats.CurrentStage)
	assert.Equal(t, 10, stats.PeakVUs)
	assert.GreaterOrEqual(t, stats.SpawnedVUs, 10)
	assert.Equal(t, 1.0, exec.GetProgress())
}

func TestRampingVUs_ConstantTarget(t *testing.T) {
	cfg := &Config{
		Stages: []Stage{{Duration: 0, Target: 3}, {Duration: 300 * time.Millisecond, Target: 3}},
		Tick:   10 * time.Millisecond,
	}
	exec, err := NewRampingVUs(cfg, nil)
	require.NoError(t, err)

	agg := metrics.NewAggregator()
	sched := newTestScheduler(t, 3, agg)

	go func() {
		time.Sleep(150 * time.Millisecond)
		assert.Equal(t, 3, exec.GetActiveVUs())
		assert.Equal(t, 3, agg.GetTargetVUs())
		assert.Equal(t, metrics.PhaseSteady, agg.GetPhase())
	}()

	require.NoError(t, exec.Run(context.Background(), sched, agg))
	assert.Equal(t, 3, exec.GetStats().SpawnedVUs)
}

func TestRampingVUs_CancelEndsEarly(t *testing.T) {
	cfg := &Config{Stages: []Stage{{Duration: time.Minute, Target: 50}}}
	exec, err := NewRampingVUs(cfg, nil)
	require.NoError(t, err)

	agg := metrics.NewAggregator()
	sched := newTestScheduler(t, 5, agg)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, exec.Run(ctx, sched, agg))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Zero(t, exec.GetActiveVUs())
}

func TestRampingVUs_Stop(t *testing.T) {
	cfg := &Config{Stages: []Stage{{Duration: time.Minute, Target: 5}}}
	exec, err := NewRampingVUs(cfg, nil)
	require.NoError(t, err)
	exec.Stop()

	agg := metrics.NewAggregator()
	sched := newTestScheduler(t, 5, agg)

	time.AfterFunc(200*time.Millisecond, exec.Stop)

	start := time.Now()
	require.NoError(t, exec.Run(context.Background(), sched, agg))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRampingVUs_InvariantErrorAbortsRun(t *testing.T) {
	cfg := &Config{Stages: []Stage{{Duration: 0, Target: 2}, {Duration: time.Minute, Target: 2}}}
	exec, err := NewRampingVUs(cfg, nil)
	require.NoError(t, err)

	// One user with a send-only mix leaves no counterparty.
	agg := metrics.NewAggregator()
	sched := newTestScheduler(t, 1, agg)
	useSendOnly(t, sched)

	start := time.Now()
	err = exec.Run(context.Background(), sched, agg)

	var invErr *loadtest.InvariantError
	assert.ErrorAs(t, err, &invErr)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func useSendOnly(t *testing.T, sched *loadtest.VUScheduler) {
	t.Helper()
	sendOnly, err := loadtest.NewWeightTable([]loadtest.ActionWeight{{UpperBound: 1.0, Kind: loadtest.SendCoin}})
	require.NoError(t, err)
	sched.Workload().Weights = sendOnly
}

func TestNewRampingVUs_InvalidConfig(t *testing.T) {
	_, err := NewRampingVUs(&Config{}, nil)
	assert.Error(t, err)

	exec, err := NewRampingVUs(&Config{Stages: []Stage{{Duration: time.Second, Target: 1}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, exec.GetProgress())
	assert.Zero(t, exec.GetStats().CurrentStage)
}
