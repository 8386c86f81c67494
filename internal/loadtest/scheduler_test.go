package loadtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/merchload/internal/loadtest/metrics"
	"github.com/wesleyorama2/merchload/internal/merchtest"
)

// tracked returns how many VUs the scheduler still holds.
func tracked(s *VUScheduler) int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()
	return len(s.vus)
}

func TestVUScheduler_SpawnVU(t *testing.T) {
	s := NewVUScheduler(NewWorkload(testDataset(t, 2)), &fakeTransport{status: 200}, metrics.NewAggregator(), VUConfig{})

	vu1 := s.SpawnVU()
	vu2 := s.SpawnVU()
	assert.Equal(t, 1, vu1.ID)
	assert.Equal(t, 2, vu2.ID)
	assert.Equal(t, 2, tracked(s))
	assert.Equal(t, 2, s.GetActiveVUCount())

	s.RemoveVU(1)
	s.RemoveVU(1)
	s.RemoveVU(99)
	assert.Equal(t, VUStateStopped, vu1.GetState())
	assert.Equal(t, VUStateIdle, vu2.GetState())
	assert.Equal(t, 1, tracked(s))
	assert.Equal(t, 1, s.GetActiveVUCount())

	s.RemoveVU(2)
	assert.True(t, s.Shutdown(time.Second))
}

func TestVUScheduler_RunVUForgetsVU(t *testing.T) {
	s := NewVUScheduler(NewWorkload(testDataset(t, 2)), &fakeTransport{status: 200}, metrics.NewAggregator(), VUConfig{BaseURL: "http://x", ThinkTime: time.Millisecond})

	for i := 0; i < 20; i++ {
		vu := s.SpawnVU()
		done := make(chan error, 1)
		go func() { done <- s.RunVU(context.Background(), vu) }()

		time.Sleep(2 * time.Millisecond)
		vu.RequestStop()
		require.NoError(t, <-done)
		assert.Equal(t, VUStateStopped, vu.GetState())
	}

	assert.Zero(t, tracked(s))
	assert.Zero(t, s.GetActiveVUCount())
}

func TestVUScheduler_ShutdownWaitsForSpawnedVUs(t *testing.T) {
	s := NewVUScheduler(NewWorkload(testDataset(t, 2)), &fakeTransport{status: 200}, metrics.NewAggregator(), VUConfig{BaseURL: "http://x"})

	// Spawned but never run, so nothing removes it.
	s.SpawnVU()
	assert.False(t, s.Shutdown(20*time.Millisecond))
	assert.Equal(t, 1, tracked(s))
}

func TestVUScheduler_RunAndStop(t *testing.T) {
	users, tokens := merchtest.Users(10)
	srv := merchtest.NewServer(users, tokens, merchtest.Options{})
	defer srv.Close()

	agg := metrics.NewAggregator()
	s := NewVUScheduler(NewWorkload(srv.Dataset(t)), NewHTTPTransport(DefaultHTTPClientConfig()), agg,
		VUConfig{BaseURL: srv.URL, ThinkTime: DefaultThinkTime})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		vu := s.SpawnVU()
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.RunVU(context.Background(), vu))
		}()
	}

	time.Sleep(150 * time.Millisecond)
	s.UpdateMetrics()
	assert.Equal(t, 3, agg.GetActiveVUs())

	s.StopAllVUs()
	wg.Wait()

	assert.Zero(t, tracked(s))
	assert.Zero(t, s.GetActiveVUCount())
	s.UpdateMetrics()
	assert.Zero(t, agg.GetActiveVUs())
	assert.Positive(t, agg.Count())
	assert.Zero(t, agg.Summary().FailedRequests)
}

func TestVUScheduler_SingleVUIsSequential(t *testing.T) {
	srv := merchtest.NewServer([]string{"alice"}, []string{"ta"}, merchtest.Options{Latency: 2 * time.Millisecond})
	defer srv.Close()

	workload := NewWorkload(srv.Dataset(t))
	fetchOnly, err := NewWeightTable([]ActionWeight{{1.0, FetchInfo}})
	require.NoError(t, err)
	workload.Weights = fetchOnly

	agg := metrics.NewAggregator()
	s := NewVUScheduler(workload, NewHTTPTransport(DefaultHTTPClientConfig()), agg, VUConfig{BaseURL: srv.URL, ThinkTime: time.Millisecond})

	vu := s.SpawnVU()
	done := make(chan error, 1)
	go func() { done <- s.RunVU(context.Background(), vu) }()

	time.Sleep(100 * time.Millisecond)
	vu.RequestStop()
	require.NoError(t, <-done)

	assert.Positive(t, agg.Count())
	assert.Zero(t, srv.Overlapping())
	assert.Equal(t, VUStateStopped, vu.GetState())
}

func TestVUScheduler_SeedIsReproducible(t *testing.T) {
	run := func() []string {
		transport := &fakeTransport{status: 200}
		s := NewVUScheduler(NewWorkload(testDataset(t, 4)), transport, metrics.NewAggregator(), VUConfig{BaseURL: "http://x"}, WithSeed(42))
		vu := s.SpawnVU()
		for i := 0; i < 30; i++ {
			require.NoError(t, vu.RunIteration(context.Background()))
		}
		return transport.seen()
	}

	first := run()
	second := run()
	assert.Len(t, first, 30)
	assert.Equal(t, first, second)
}

func TestVUScheduler_RunVUReturnsInvariantError(t *testing.T) {
	workload := NewWorkload(testDataset(t, 1))
	sendOnly, err := NewWeightTable([]ActionWeight{{1.0, SendCoin}})
	require.NoError(t, err)
	workload.Weights = sendOnly

	s := NewVUScheduler(workload, &fakeTransport{status: 200}, metrics.NewAggregator(), VUConfig{BaseURL: "http://x"})
	vu := s.SpawnVU()

	err = s.RunVU(context.Background(), vu)
	var invErr *InvariantError
	assert.ErrorAs(t, err, &invErr)
	assert.Equal(t, VUStateStopped, vu.GetState())
}

func TestVUScheduler_RunVUStopsOnCancel(t *testing.T) {
	s := NewVUScheduler(NewWorkload(testDataset(t, 2)), &fakeTransport{status: 200}, metrics.NewAggregator(), VUConfig{BaseURL: "http://x", ThinkTime: time.Millisecond})
	vu := s.SpawnVU()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunVU(ctx, vu) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("VU did not stop after cancel")
	}
}

func TestVUScheduler_Shutdown(t *testing.T) {
	s := NewVUScheduler(NewWorkload(testDataset(t, 2)), &fakeTransport{status: 200}, metrics.NewAggregator(), VUConfig{BaseURL: "http://x", ThinkTime: time.Millisecond})
	for i := 0; i < 5; i++ {
		vu := s.SpawnVU()
		go func() { _ = s.RunVU(context.Background(), vu) }()
	}

	time.Sleep(20 * time.Millisecond)
	assert.True(t, s.Shutdown(2*time.Second))
	assert.Zero(t, tracked(s))
	assert.Zero(t, s.GetActiveVUCount())

	// Shutdown is idempotent.
	assert.True(t, s.Shutdown(time.Second))
}
