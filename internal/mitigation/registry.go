package mitigation

import (
	"container/heap"
	"sort"
	"time"

	"firestige.xyz/floodgate/internal/core"
)

// expiry is one scheduled unblock. Entries go stale when the source is
// re-blocked or unblocked; stale entries are skipped on pop.
type expiry struct {
	until time.Time
	src   core.Source
}

type expiryHeap []expiry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].until.Before(h[j].until) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)        { *h = append(*h, x.(expiry)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Registry tracks temporary blocks. A source is blocked at now iff its
// unblock-at is strictly after now.
// Registry is not safe for concurrent use; Gate serializes access.
type Registry struct {
	until map[core.Source]time.Time
	queue expiryHeap
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{until: make(map[core.Source]time.Time)}
}

// IsBlocked reports whether src is blocked at now. Every entry that has
// expired by now, for any source, is purged first.
func (r *Registry) IsBlocked(src core.Source, now time.Time) bool {
	r.purge(now)
	_, ok := r.until[src]
	return ok
}

// Block installs or replaces the block on src until now+d. d <= 0 yields an
// entry that is already expired.
func (r *Registry) Block(src core.Source, now time.Time, d time.Duration) time.Time {
	until := now.Add(d)
	r.until[src] = until
	heap.Push(&r.queue, expiry{until: until, src: src})
	return until
}

// Unblock removes the block on src if any.
func (r *Registry) Unblock(src core.Source) {
	delete(r.until, src)
}

// Until returns the raw unblock-at for src, which may already be stale.
func (r *Registry) Until(src core.Source) (time.Time, bool) {
	t, ok := r.until[src]
	return t, ok
}

// Len returns the number of entries, stale ones included.
func (r *Registry) Len() int {
	return len(r.until)
}

// BlockEntry is a read-only view of one active block.
type BlockEntry struct {
	Source core.Source `json:"source"`
	Until  time.Time   `json:"until"`
}

// Snapshot returns the blocks active at now, soonest expiry first.
// It does not purge.
func (r *Registry) Snapshot(now time.Time) []BlockEntry {
	out := make([]BlockEntry, 0, len(r.until))
	for src, until := range r.until {
		if until.After(now) {
			out = append(out, BlockEntry{Source: src, Until: until})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Until.Equal(out[j].Until) {
			return out[i].Source < out[j].Source
		}
		return out[i].Until.Before(out[j].Until)
	})
	return out
}

// purge removes all entries with unblock-at <= now and returns how many
// live entries were dropped.
func (r *Registry) purge(now time.Time) int {
	removed := 0
	for len(r.queue) > 0 && !r.queue[0].until.After(now) {
		e := heap.Pop(&r.queue).(expiry)
		if cur, ok := r.until[e.src]; ok && cur.Equal(e.until) {
			delete(r.until, e.src)
			removed++
		}
	}
	// Unblock leaves heap entries behind; rebuild once they dominate.
	if len(r.queue) > 64 && len(r.queue) > 4*len(r.until) {
		r.rebuild()
	}
	return removed
}

func (r *Registry) rebuild() {
	q := make(expiryHeap, 0, len(r.until))
	for src, until := range r.until {
		q = append(q, expiry{until: until, src: src})
	}
	heap.Init(&q)
	r.queue = q
}
