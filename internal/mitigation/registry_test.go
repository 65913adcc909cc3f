package mitigation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BlockExpiresAtExactInstant(t *testing.T) {
	r := NewRegistry()
	r.Block("a", t0, 5*time.Second)

	assert.True(t, r.IsBlocked("a", t0))
	assert.True(t, r.IsBlocked("a", t0.Add(5*time.Second-time.Nanosecond)))
	assert.False(t, r.IsBlocked("a", t0.Add(5*time.Second)))
	assert.Equal(t, 0, r.Len(), "expired entry must be purged")
}

func TestRegistry_NonPositiveDurationExpiresImmediately(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
	}{
		{"zero", 0},
		{"negative", -time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			r.Block("a", t0, tt.d)
			assert.False(t, r.IsBlocked("a", t0))
		})
	}
}

func TestRegistry_LastWriteWins(t *testing.T) {
	r := NewRegistry()
	r.Block("a", t0, time.Hour)
	r.Block("a", t0, time.Second)

	assert.True(t, r.IsBlocked("a", t0.Add(500*time.Millisecond)))
	assert.False(t, r.IsBlocked("a", t0.Add(2*time.Second)), "shorter block overwrites longer one")

	r.Block("b", t0, time.Second)
	r.Block("b", t0, time.Hour)
	assert.True(t, r.IsBlocked("b", t0.Add(time.Minute)), "stale heap entry must not evict the newer block")
}

func TestRegistry_IsBlockedPurgesAllExpired(t *testing.T) {
	r := NewRegistry()
	r.Block("a", t0, time.Second)
	r.Block("b", t0, 2*time.Second)
	r.Block("c", t0, time.Hour)
	require.Equal(t, 3, r.Len())

	assert.False(t, r.IsBlocked("unrelated", t0.Add(3*time.Second)))
	assert.Equal(t, 1, r.Len())
	_, ok := r.Until("c")
	assert.True(t, ok)
}

func TestRegistry_UnblockIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Unblock("nobody")
	assert.Equal(t, 0, r.Len())

	r.Block("a", t0, time.Minute)
	r.Unblock("a")
	r.Unblock("a")
	assert.False(t, r.IsBlocked("a", t0))
}

func TestRegistry_UnblockThenReblock(t *testing.T) {
	r := NewRegistry()
	r.Block("a", t0, time.Second)
	r.Unblock("a")
	r.Block("a", t0, time.Minute)

	assert.True(t, r.IsBlocked("a", t0.Add(2*time.Second)))
}

func TestRegistry_HeapRebuildKeepsLiveEntries(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 200; i++ {
		r.Block("churn", t0, time.Hour)
		r.Unblock("churn")
	}
	r.Block("keep", t0, time.Hour)

	assert.True(t, r.IsBlocked("keep", t0.Add(time.Minute)))
	assert.LessOrEqual(t, len(r.queue), 64)
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry()
	r.Block("late", t0, time.Hour)
	r.Block("soon", t0, time.Minute)
	r.Block("gone", t0, time.Second)

	snap := r.Snapshot(t0.Add(2 * time.Second))
	require.Len(t, snap, 2)
	assert.Equal(t, "soon", string(snap[0].Source))
	assert.Equal(t, "late", string(snap[1].Source))
}
