package report

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"firestige.xyz/floodgate/internal/mitigation"
	"firestige.xyz/floodgate/internal/monitor"
)

type fixedCounters struct {
	mu sync.Mutex
	c  monitor.Counters
}

func (f *fixedCounters) Counters() monitor.Counters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.c
}

func (f *fixedCounters) set(c monitor.Counters) {
	f.mu.Lock()
	f.c = c
	f.mu.Unlock()
}

// syncBuffer guards a bytes.Buffer shared with the Run goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReporter_LineAndRate(t *testing.T) {
	src := &fixedCounters{}
	r := New(src, &bytes.Buffer{}, time.Second)
	t0 := r.lastAt

	src.set(monitor.Counters{Allowed: 180, DetectedAndBlocked: 2, BlockedByRateLimit: 1, Blocked: 17})
	line := r.Line(t0.Add(time.Second))
	assert.Equal(t, "stats: total=200 rate=200/s allowed=180 detected_blocked=2 rate_limited=1 blocked=17 fail_open=0 fail_closed=0", line)

	src.set(monitor.Counters{Allowed: 230, DetectedAndBlocked: 2, BlockedByRateLimit: 1, Blocked: 17, ClassifierFailOpen: 50})
	line = r.Line(t0.Add(3 * time.Second))
	assert.Contains(t, line, "total=300 rate=50/s")
	assert.Contains(t, line, "fail_open=50")
}

func TestReporter_Run(t *testing.T) {
	src := &fixedCounters{}
	src.set(monitor.Counters{Allowed: 1})
	out := &syncBuffer{}
	r := New(src, out, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return strings.Count(out.String(), "stats:") >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestReporter_RunDisabled(t *testing.T) {
	out := &syncBuffer{}
	New(&fixedCounters{}, out, 0).Run(context.Background())
	assert.Empty(t, out.String())
}

func TestReporter_Summary(t *testing.T) {
	src := &fixedCounters{}
	src.set(monitor.Counters{Allowed: 75, DetectedAndBlocked: 5, Blocked: 20})
	r := New(src, &bytes.Buffer{}, time.Second)

	var buf bytes.Buffer
	r.Summary(&buf, mitigation.Stats{Blocked: 3, Tracked: 40})

	out := buf.String()
	assert.Contains(t, out, "Total:             100")
	assert.Contains(t, out, "Allowed:           75 (75.00%)")
	assert.Contains(t, out, "Detected+Blocked:  5 (5.00%)")
	assert.Contains(t, out, "Blocked Sources:   3")
	assert.Contains(t, out, "Tracked Sources:   40")
}
