// Package report prints outcome counters while the engine runs and a
// summary when it stops.
package report

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"firestige.xyz/floodgate/internal/mitigation"
	"firestige.xyz/floodgate/internal/monitor"
)

// CounterSource yields the current outcome counters.
type CounterSource interface {
	Counters() monitor.Counters
}

// Reporter writes one counters line per interval.
type Reporter struct {
	src      CounterSource
	out      io.Writer
	interval time.Duration
	start    time.Time

	// rate tracking
	mu        sync.Mutex
	lastTotal uint64
	lastAt    time.Time
}

// New creates a reporter writing to out.
func New(src CounterSource, out io.Writer, interval time.Duration) *Reporter {
	now := time.Now()
	return &Reporter{
		src:      src,
		out:      out,
		interval: interval,
		start:    now,
		lastAt:   now,
	}
}

// Run writes a line every interval until ctx is done. A non-positive
// interval disables periodic output.
func (r *Reporter) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fmt.Fprintln(r.out, r.Line(now))
		}
	}
}

// Line formats the counters with the event rate since the previous line.
func (r *Reporter) Line(now time.Time) string {
	c := r.src.Counters()
	total := c.Total()

	r.mu.Lock()
	var rate float64
	if elapsed := now.Sub(r.lastAt).Seconds(); elapsed > 0 {
		rate = float64(total-r.lastTotal) / elapsed
	}
	r.lastTotal = total
	r.lastAt = now
	r.mu.Unlock()

	return fmt.Sprintf("stats: total=%d rate=%.0f/s allowed=%d detected_blocked=%d rate_limited=%d blocked=%d fail_open=%d fail_closed=%d",
		total, rate, c.Allowed, c.DetectedAndBlocked, c.BlockedByRateLimit, c.Blocked,
		c.ClassifierFailOpen, c.ClassifierFailClosed)
}

// Summary writes the final report.
func (r *Reporter) Summary(w io.Writer, gate mitigation.Stats) {
	c := r.src.Counters()
	total := c.Total()
	runtime := time.Since(r.start).Truncate(time.Millisecond)

	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, "               floodgate run summary              ")
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintln(w, "[EVENTS]")
	fmt.Fprintf(w, "  Total:             %d\n", total)
	row(w, "Allowed:", c.Allowed, total)
	row(w, "Detected+Blocked:", c.DetectedAndBlocked, total)
	row(w, "Rate Limited:", c.BlockedByRateLimit, total)
	row(w, "Already Blocked:", c.Blocked, total)
	row(w, "Fail Open:", c.ClassifierFailOpen, total)
	row(w, "Fail Closed:", c.ClassifierFailClosed, total)

	fmt.Fprintln(w, "\n[GATE]")
	fmt.Fprintf(w, "  Blocked Sources:   %d\n", gate.Blocked)
	fmt.Fprintf(w, "  Tracked Sources:   %d\n", gate.Tracked)
	fmt.Fprintf(w, "  Runtime:           %v\n", runtime)
	fmt.Fprintln(w, "==================================================")
}

func row(w io.Writer, label string, n, total uint64) {
	pct := 0.0
	if total > 0 {
		pct = float64(n) / float64(total) * 100
	}
	fmt.Fprintf(w, "  %-18s %d (%.2f%%)\n", label, n, pct)
}
