package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/floodgate/internal/admin"
	"firestige.xyz/floodgate/internal/classifier"
	"firestige.xyz/floodgate/internal/clock"
	"firestige.xyz/floodgate/internal/config"
	"firestige.xyz/floodgate/internal/core"
	"firestige.xyz/floodgate/internal/monitor"
	"firestige.xyz/floodgate/internal/source"
)

var t0 = time.Unix(1_700_000_000, 0)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.NewLoader("").Load()
	require.NoError(t, err)
	cfg.Log.Level = "error"
	cfg.Sink.Kind = "none"
	cfg.Report.Interval = 0
	cfg.Metrics.Enabled = false
	cfg.Source.Simulate.Paced = false
	cfg.Source.Simulate.Duration = 5 * time.Second
	cfg.Source.Simulate.AttackChance = 0.2
	return cfg
}

func runDaemon(t *testing.T, cfg *config.Config, opts ...Option) (*Daemon, string) {
	t.Helper()
	var out bytes.Buffer
	d, err := New(cfg, append(opts, WithOutput(&out))...)
	require.NoError(t, err)
	require.NoError(t, d.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, d.Run(ctx))
	return d, out.String()
}

func TestDaemon_VirtualSimulationIsDeterministic(t *testing.T) {
	first, summary := runDaemon(t, testConfig(t))
	second, _ := runDaemon(t, testConfig(t))

	c1 := first.Loop().Counters()
	c2 := second.Loop().Counters()
	assert.Equal(t, c1, c2)
	assert.GreaterOrEqual(t, c1.Total(), uint64(5*50))
	assert.Positive(t, c1.DetectedAndBlocked)
	assert.Contains(t, summary, "floodgate run summary")
}

func TestDaemon_ScenarioThroughDispatcher(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mitigation.Window = 10 * time.Second
	cfg.Mitigation.MaxRequests = 3

	at := func(sec float64) time.Time { return t0.Add(time.Duration(sec * float64(time.Second))) }
	src := source.NewSlice(
		core.Event{Source: "A", At: at(0)},
		core.Event{Source: "A", At: at(1)},
		core.Event{Source: "A", At: at(2)},
		core.Event{Source: "A", At: at(3)},
		core.Event{Source: "A", At: at(3.5)},
	)
	normal := classifier.Func(func(context.Context, core.FeatureVector) (core.Label, error) { return core.Normal, nil })

	d, _ := runDaemon(t, cfg, WithSource(src, true), WithClassifier(normal))
	assert.Equal(t, monitor.Counters{Allowed: 3, BlockedByRateLimit: 1, Blocked: 1}, d.Loop().Counters())
}

// idleSource blocks until ctx is done.
type idleSource struct{}

func (idleSource) Next(ctx context.Context) (core.Event, error) {
	<-ctx.Done()
	return core.Event{}, ctx.Err()
}

// chanSource hands out events pushed by the test, io.EOF once closed.
type chanSource chan core.Event

func (c chanSource) Next(ctx context.Context) (core.Event, error) {
	select {
	case <-ctx.Done():
		return core.Event{}, ctx.Err()
	case ev, ok := <-c:
		if !ok {
			return core.Event{}, io.EOF
		}
		return ev, nil
	}
}

func TestDaemon_LiveEventsStampedWhenProcessed(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dispatch.Partitions = 4
	cfg.Mitigation.Window = 10 * time.Second
	cfg.Mitigation.MaxRequests = 3
	cfg.Mitigation.BlockWindow = 120 * time.Second
	cfg.Mitigation.SweepInterval = time.Hour

	mc := clock.NewManual(t0)
	src := make(chanSource)
	normal := classifier.Func(func(context.Context, core.FeatureVector) (core.Label, error) { return core.Normal, nil })

	d, err := New(cfg, WithSource(src, false), WithClock(mc), WithClassifier(normal), WithOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	require.NoError(t, d.Start())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	push := func(ev core.Event, total uint64) {
		t.Helper()
		src <- ev
		require.Eventually(t, func() bool { return d.Loop().Counters().Total() == total },
			5*time.Second, 5*time.Millisecond)
	}

	// a live source's own timestamps are ignored; all four land at t0
	for i := range 4 {
		push(core.Event{Source: "X", At: t0.Add(-time.Duration(i) * time.Hour)}, uint64(i+1))
	}

	// a later event on another source and a sweep must not lift X's block
	mc.Set(t0.Add(119 * time.Second))
	push(core.Event{Source: "Y", At: t0.Add(200 * time.Second)}, 5)
	d.Loop().Sweep()
	push(core.Event{Source: "X", At: t0.Add(100 * time.Second)}, 6)

	assert.Equal(t, monitor.Counters{Allowed: 4, BlockedByRateLimit: 1, Blocked: 1}, d.Loop().Counters())

	close(src)
	require.NoError(t, <-done)
}

func TestDaemon_AdminAPIAndPIDFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = "127.0.0.1:0"
	pidFile := filepath.Join(t.TempDir(), "floodgate.pid")

	d, err := New(cfg, WithSource(idleSource{}, false), WithPIDFile(pidFile), WithOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	require.NoError(t, d.Start())
	assert.FileExists(t, pidFile)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	base := "http://" + d.MetricsAddr()
	resp, err := http.Post(base+"/block?source=10.0.0.66", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/status")
	require.NoError(t, err)
	var st admin.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.Equal(t, 1, st.Gate.Blocked)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.NoError(t, <-done)
	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err))
}

func TestDaemon_StartFailsOnBadReplayFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source.Kind = config.SourceReplay
	cfg.Source.ReplayFile = filepath.Join(t.TempDir(), "missing.jsonl")

	d, err := New(cfg, WithOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	assert.Error(t, d.Start())
	d.Stop()
}

func TestDaemon_ReloadWithoutFile(t *testing.T) {
	d, err := New(testConfig(t))
	require.NoError(t, err)
	assert.Error(t, d.Reload())
}
