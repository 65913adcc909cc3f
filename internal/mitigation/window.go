// Package mitigation implements the admission gate: a per-source sliding
// window counter and a temporary block registry behind a single lock.
package mitigation

import (
	"time"

	"firestige.xyz/floodgate/internal/core"
)

// timeline is the arrival history of one source, oldest first.
// Entries before head are dead and reclaimed by compaction.
type timeline struct {
	q    []time.Time
	head int
}

func (t *timeline) size() int { return len(t.q) - t.head }

func (t *timeline) newest() time.Time { return t.q[len(t.q)-1] }

// evict drops every timestamp strictly older than cutoff.
func (t *timeline) evict(cutoff time.Time) {
	for t.head < len(t.q) && t.q[t.head].Before(cutoff) {
		t.head++
	}
	if t.head > 0 && t.head*2 >= len(t.q) {
		t.q = append([]time.Time(nil), t.q[t.head:]...)
		t.head = 0
	}
}

// Window counts arrivals per source over a trailing interval.
// Window is not safe for concurrent use; Gate serializes access.
type Window struct {
	length  time.Duration
	sources map[core.Source]*timeline
}

// NewWindow creates a counter over the trailing length.
func NewWindow(length time.Duration) *Window {
	return &Window{
		length:  length,
		sources: make(map[core.Source]*timeline),
	}
}

// Observe records an arrival at now and returns how many arrivals of source
// fall inside [now-length, now]. Timestamps exactly length old still count.
func (w *Window) Observe(src core.Source, now time.Time) int {
	tl, ok := w.sources[src]
	if !ok {
		tl = &timeline{}
		w.sources[src] = tl
	}
	tl.q = append(tl.q, now)
	tl.evict(now.Add(-w.length))
	return tl.size()
}

// Forget drops all history for src.
func (w *Window) Forget(src core.Source) {
	delete(w.sources, src)
}

// Sweep drops sources whose newest arrival has already left the window and
// returns how many were removed. The next Observe of such a source would
// count 1 either way.
func (w *Window) Sweep(now time.Time) int {
	cutoff := now.Add(-w.length)
	removed := 0
	for src, tl := range w.sources {
		if tl.size() == 0 || tl.newest().Before(cutoff) {
			delete(w.sources, src)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked sources.
func (w *Window) Len() int {
	return len(w.sources)
}
