package loadtest

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/merchload/internal/loadtest/metrics"
	"github.com/wesleyorama2/merchload/internal/merchtest"
)

// fakeTransport answers every request with a fixed response and remembers
// the URLs it saw.
type fakeTransport struct {
	mu     sync.Mutex
	urls   []string
	status int
	body   string
	err    error
}

func (f *fakeTransport) Get(_ context.Context, url string, _ map[string]string) (*Response, error) {
	return f.respond(url)
}

func (f *fakeTransport) Post(_ context.Context, url string, _ []byte, _ map[string]string) (*Response, error) {
	return f.respond(url)
}

func (f *fakeTransport) respond(url string) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return &Response{StatusCode: f.status, Body: []byte(f.body)}, nil
}

func (f *fakeTransport) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.urls))
	copy(out, f.urls)
	return out
}

func newTestVU(t *testing.T, srv *merchtest.Server, think time.Duration) (*VirtualUser, *metrics.Aggregator) {
	t.Helper()
	agg := metrics.NewAggregator()
	transport := NewHTTPTransport(DefaultHTTPClientConfig())
	vu := NewVirtualUser(1, NewWorkload(srv.Dataset(t)), transport, agg, rand.New(rand.NewPCG(1, 1)), VUConfig{
		BaseURL:   srv.URL,
		ThinkTime: think,
	})
	return vu, agg
}

func TestNewVirtualUser(t *testing.T) {
	srv := merchtest.NewServer([]string{"alice", "bob"}, []string{"ta", "tb"}, merchtest.Options{})
	defer srv.Close()

	vu, _ := newTestVU(t, srv, DefaultThinkTime)
	assert.Equal(t, 1, vu.ID)
	assert.Equal(t, VUStateIdle, vu.GetState())
	assert.Zero(t, vu.GetIteration())
}

func TestVUState_String(t *testing.T) {
	tests := []struct {
		state VUState
		want  string
	}{
		{VUStateIdle, "idle"},
		{VUStateRunning, "running"},
		{VUStateStopping, "stopping"},
		{VUStateStopped, "stopped"},
		{VUState(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestVirtualUser_RunIteration(t *testing.T) {
	users, tokens := merchtest.Users(5)
	srv := merchtest.NewServer(users, tokens, merchtest.Options{})
	defer srv.Close()

	vu, agg := newTestVU(t, srv, 0)
	for i := 0; i < 50; i++ {
		require.NoError(t, vu.RunIteration(context.Background()))
	}

	assert.Equal(t, int64(50), vu.GetIteration())
	assert.Equal(t, int64(50), agg.Count())
	assert.Zero(t, vu.GetFailed())

	summary := agg.Summary()
	assert.Zero(t, summary.FailedRequests)
	assert.Equal(t, int64(50), srv.InfoRequests.Load()+srv.BuyRequests.Load()+srv.SendRequests.Load())
	assert.LessOrEqual(t, srv.TotalCoins(), len(users)*merchtest.DefaultBalance)
}

func TestVirtualUser_InsufficientFundsPasses(t *testing.T) {
	srv := merchtest.NewServer([]string{"alice", "bob"}, []string{"ta", "tb"}, merchtest.Options{Balance: 1})
	defer srv.Close()

	vu, agg := newTestVU(t, srv, 0)
	table, err := NewWeightTable([]ActionWeight{{0.5, BuyItem}, {1.0, SendCoin}})
	require.NoError(t, err)
	vu.Workload.Weights = table
	vu.Workload.MinAmount = 100
	vu.Workload.MaxAmount = 100

	for i := 0; i < 20; i++ {
		require.NoError(t, vu.RunIteration(context.Background()))
	}

	summary := agg.Summary()
	assert.Equal(t, int64(20), summary.TotalRequests)
	assert.Zero(t, summary.FailedRequests)
	for _, s := range agg.Samples() {
		assert.Equal(t, 400, s.StatusCode)
		assert.Equal(t, metrics.OutcomePass, s.Outcome)
	}
}

func TestVirtualUser_ServerErrorFails(t *testing.T) {
	srv := merchtest.NewServer([]string{"alice", "bob"}, []string{"ta", "tb"}, merchtest.Options{})
	defer srv.Close()
	srv.FailInfo.Store(true)

	vu, agg := newTestVU(t, srv, 0)
	fetchOnly, err := NewWeightTable([]ActionWeight{{1.0, FetchInfo}})
	require.NoError(t, err)
	vu.Workload.Weights = fetchOnly

	require.NoError(t, vu.RunIteration(context.Background()))

	samples := agg.Samples()
	require.Len(t, samples, 1)
	assert.True(t, samples[0].Failed)
	assert.Equal(t, metrics.OutcomeCheckFailed, samples[0].Outcome)
	assert.Equal(t, 500, samples[0].StatusCode)
	assert.Equal(t, "fetch_info", samples[0].Action)
	assert.Equal(t, int64(1), vu.GetFailed())
}

func TestVirtualUser_TransportErrorRecorded(t *testing.T) {
	srv := merchtest.NewServer([]string{"alice", "bob"}, []string{"ta", "tb"}, merchtest.Options{})
	vu, agg := newTestVU(t, srv, 0)
	srv.Close()

	require.NoError(t, vu.RunIteration(context.Background()))

	samples := agg.Samples()
	require.Len(t, samples, 1)
	assert.True(t, samples[0].Failed)
	assert.Equal(t, metrics.OutcomeTransportError, samples[0].Outcome)
	assert.NotEmpty(t, samples[0].Reason)
}

func TestVirtualUser_InFlightRequestSurvivesCancel(t *testing.T) {
	srv := merchtest.NewServer([]string{"alice", "bob"}, []string{"ta", "tb"}, merchtest.Options{Latency: 150 * time.Millisecond})
	defer srv.Close()

	vu, agg := newTestVU(t, srv, 0)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	require.NoError(t, vu.RunIteration(ctx))

	samples := agg.Samples()
	require.Len(t, samples, 1)
	assert.False(t, samples[0].Failed)
	assert.GreaterOrEqual(t, samples[0].Latency, 150*time.Millisecond)
}

func TestVirtualUser_StopLifecycle(t *testing.T) {
	transport := &fakeTransport{status: 200}
	agg := metrics.NewAggregator()
	vu := NewVirtualUser(7, NewWorkload(testDataset(t, 3)), transport, agg, rand.New(rand.NewPCG(2, 2)), VUConfig{BaseURL: "http://x"})

	require.True(t, vu.start())
	assert.Equal(t, VUStateRunning, vu.GetState())
	assert.False(t, vu.start())

	vu.RequestStop()
	assert.Equal(t, VUStateStopping, vu.GetState())
	vu.RequestStop()

	assert.ErrorIs(t, vu.RunIteration(context.Background()), ErrVUStopped)
	assert.Empty(t, transport.seen())

	vu.MarkStopped()
	vu.MarkStopped()
	assert.Equal(t, VUStateStopped, vu.GetState())

	vu.RequestStop()
	assert.Equal(t, VUStateStopped, vu.GetState())
	assert.False(t, vu.start())
}

func TestVirtualUser_ThinkInterruptedByStop(t *testing.T) {
	vu := NewVirtualUser(1, NewWorkload(testDataset(t, 2)), &fakeTransport{status: 200}, metrics.NewAggregator(),
		rand.New(rand.NewPCG(3, 3)), VUConfig{ThinkTime: 10 * time.Second})
	require.True(t, vu.start())

	time.AfterFunc(20*time.Millisecond, vu.RequestStop)

	start := time.Now()
	vu.think(context.Background())
	assert.Less(t, time.Since(start), 2*time.Second)
}
