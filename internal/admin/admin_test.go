package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/floodgate/internal/classifier"
	"firestige.xyz/floodgate/internal/clock"
	"firestige.xyz/floodgate/internal/core"
	"firestige.xyz/floodgate/internal/dispatch"
	"firestige.xyz/floodgate/internal/ledger"
	"firestige.xyz/floodgate/internal/mitigation"
	"firestige.xyz/floodgate/internal/monitor"
	"firestige.xyz/floodgate/internal/sink"
)

var t0 = time.Unix(1_700_000_000, 0)

func newServer(t *testing.T) (*httptest.Server, *monitor.Loop, *clock.Manual) {
	t.Helper()
	gate, err := mitigation.NewGate(mitigation.Config{Window: 10 * time.Second, MaxRequests: 100, BlockDuration: 120 * time.Second})
	require.NoError(t, err)

	flood := classifier.Func(func(_ context.Context, f core.FeatureVector) (core.Label, error) {
		if f[core.PacketRate] > 500 {
			return core.Attack, nil
		}
		return core.Normal, nil
	})
	mc := clock.NewManual(t0)
	loop, err := monitor.New(monitor.Config{
		DetectionBlock:    60 * time.Second,
		ClassifierTimeout: time.Second,
		FailurePolicy:     monitor.FailOpen,
	}, gate, flood, monitor.WithClock(mc), monitor.WithSink(sink.Discard{}), monitor.WithLedger(ledger.New(time.Minute)))
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewHandler(loop, func() dispatch.Stats { return dispatch.Stats{PartitionCount: 4} }).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, loop, mc
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestStatus(t *testing.T) {
	srv, loop, _ := newServer(t)

	var attack core.FeatureVector
	attack[core.PacketRate] = 900
	ctx := context.Background()
	loop.Process(ctx, core.Event{Source: "10.0.0.1"})
	loop.Process(ctx, core.Event{Source: "172.16.0.5", Features: attack})
	loop.Process(ctx, core.Event{Source: "172.16.0.5", Features: attack})

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	st := decode[Status](t, resp)
	assert.Equal(t, uint64(3), st.Total)
	assert.Equal(t, uint64(1), st.Counters.Allowed)
	assert.Equal(t, uint64(1), st.Counters.DetectedAndBlocked)
	assert.Equal(t, uint64(1), st.Counters.Blocked)
	assert.Equal(t, 1, st.Gate.Blocked)
	require.Len(t, st.Gate.Blocks, 1)
	assert.Equal(t, core.Source("172.16.0.5"), st.Gate.Blocks[0].Source)
	require.Len(t, st.Detections, 1)
	assert.Equal(t, core.ReasonDetection, st.Detections[0].Reason)
	require.NotNil(t, st.Dispatch)
	assert.Equal(t, 4, st.Dispatch.PartitionCount)
}

func TestBlockAndUnblock(t *testing.T) {
	srv, loop, mc := newServer(t)

	resp, err := http.Post(srv.URL+"/block?source=10.0.0.9&duration=90s", "", nil)
	require.NoError(t, err)
	br := decode[BlockResponse](t, resp)
	assert.True(t, br.Blocked)
	assert.True(t, t0.Add(90*time.Second).Equal(br.Until))
	assert.Equal(t, monitor.OutcomeBlocked, loop.Process(context.Background(), core.Event{Source: "10.0.0.9"}))

	// no duration selects the gate default
	resp, err = http.Post(srv.URL+"/block?source=10.0.0.10", "", nil)
	require.NoError(t, err)
	br = decode[BlockResponse](t, resp)
	assert.True(t, t0.Add(120*time.Second).Equal(br.Until))

	resp, err = http.Post(srv.URL+"/unblock?source=10.0.0.9", "", nil)
	require.NoError(t, err)
	br = decode[BlockResponse](t, resp)
	assert.False(t, br.Blocked)

	mc.Advance(time.Second)
	assert.Equal(t, monitor.OutcomeAllowed, loop.Process(context.Background(), core.Event{Source: "10.0.0.9"}))
}

func TestBadRequests(t *testing.T) {
	srv, _, _ := newServer(t)

	for _, path := range []string{
		"/block",
		"/block?source=a&duration=soon",
		"/block?source=a&duration=-5s",
		"/unblock",
	} {
		resp, err := http.Post(srv.URL+path, "", nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		body := decode[map[string]string](t, resp)
		assert.NotEmpty(t, body["error"])
	}

	resp, err := http.Get(srv.URL + "/block?source=a")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
