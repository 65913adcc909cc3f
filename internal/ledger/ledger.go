// Package ledger keeps a short-lived record of classifier detections for
// operators. It is observability only; the gate never reads it.
package ledger

import (
	"sort"
	"time"

	"github.com/patrickmn/go-cache"

	"firestige.xyz/floodgate/internal/core"
)

const (
	defaultTTL     = 5 * time.Minute
	defaultCleanup = time.Minute
)

// Detection is one remembered verdict.
type Detection struct {
	Source   core.Source        `json:"source"`
	Reason   core.Reason        `json:"reason"`
	Features map[string]float64 `json:"features"`
	At       time.Time          `json:"at"`
	Until    time.Time          `json:"until"`
	Count    int                `json:"count"` // detections of this source while remembered
}

// Summary aggregates the ledger.
type Summary struct {
	ActiveSources int                 `json:"active_sources"`
	ByReason      map[core.Reason]int `json:"by_reason"`
	LastUpdated   time.Time           `json:"last_updated"`
}

// Ledger maps source to its latest detection; entries expire after the TTL.
type Ledger struct {
	entries *cache.Cache
}

// New creates a ledger. ttl <= 0 selects five minutes.
func New(ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	cleanup := defaultCleanup
	if ttl < cleanup {
		cleanup = ttl
	}
	return &Ledger{entries: cache.New(ttl, cleanup)}
}

// Record stores d, replacing any earlier detection of the same source.
func (l *Ledger) Record(d Detection) {
	if d.Source == "" {
		return
	}
	key := string(d.Source)
	d.Count = 1
	if prev, ok := l.entries.Get(key); ok {
		d.Count = prev.(Detection).Count + 1
	}
	l.entries.SetDefault(key, d)
}

// Get returns the detection remembered for src.
func (l *Ledger) Get(src core.Source) (Detection, bool) {
	v, ok := l.entries.Get(string(src))
	if !ok {
		return Detection{}, false
	}
	return v.(Detection), true
}

// Snapshot returns unexpired detections, newest first.
func (l *Ledger) Snapshot() []Detection {
	items := l.entries.Items()
	out := make([]Detection, 0, len(items))
	for _, it := range items {
		out = append(out, it.Object.(Detection))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	return out
}

// Summary counts unexpired detections per reason.
func (l *Ledger) Summary() Summary {
	s := Summary{ByReason: make(map[core.Reason]int)}
	for _, d := range l.Snapshot() {
		s.ActiveSources++
		s.ByReason[d.Reason]++
		if d.At.After(s.LastUpdated) {
			s.LastUpdated = d.At
		}
	}
	return s
}

// Len returns the number of entries, possibly including expired ones not
// yet collected.
func (l *Ledger) Len() int {
	return l.entries.ItemCount()
}

// Flush drops everything.
func (l *Ledger) Flush() {
	l.entries.Flush()
}
