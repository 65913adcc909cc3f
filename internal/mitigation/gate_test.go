package mitigation

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/floodgate/internal/core"
)

func newTestGate(t *testing.T, window time.Duration, max int, block time.Duration) *Gate {
	t.Helper()
	g, err := NewGate(Config{Window: window, MaxRequests: max, BlockDuration: block})
	require.NoError(t, err)
	return g
}

func at(sec float64) time.Time {
	return t0.Add(time.Duration(math.Round(sec*1000)) * time.Millisecond)
}

func TestNewGate_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"zero window", Config{Window: 0, MaxRequests: 1, BlockDuration: time.Second}, "mitigation.window"},
		{"negative window", Config{Window: -time.Second, MaxRequests: 1, BlockDuration: time.Second}, "mitigation.window"},
		{"zero threshold", Config{Window: time.Second, MaxRequests: 0, BlockDuration: time.Second}, "mitigation.max_requests"},
		{"negative threshold", Config{Window: time.Second, MaxRequests: -5, BlockDuration: time.Second}, "mitigation.max_requests"},
		{"zero block", Config{Window: time.Second, MaxRequests: 1, BlockDuration: 0}, "mitigation.block_window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGate(tt.cfg)
			assert.Nil(t, g)
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrConfigInvalid))

			var ce *core.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

// window=10s, max=3: three allowed, the fourth trips the block, and the
// source stays blocked afterwards.
func TestGate_RateLimitScenario(t *testing.T) {
	g := newTestGate(t, 10*time.Second, 3, 120*time.Second)

	assert.Equal(t, core.Allowed, g.Admit("A", at(0)))
	assert.Equal(t, core.Allowed, g.Admit("A", at(1)))
	assert.Equal(t, core.Allowed, g.Admit("A", at(2)))
	assert.Equal(t, core.RateLimited, g.Admit("A", at(3)))
	assert.Equal(t, core.Blocked, g.Admit("A", at(3.5)))

	assert.Equal(t, core.Allowed, g.Admit("B", at(3.5)), "other sources are unaffected")
}

func TestGate_BlockedUntilExpiryThenFreshWindow(t *testing.T) {
	// block shorter than window so stale history would still be in range
	// if the window were not dropped on block.
	g := newTestGate(t, 10*time.Second, 2, time.Second)

	assert.Equal(t, core.Allowed, g.Admit("A", at(0)))
	assert.Equal(t, core.Allowed, g.Admit("A", at(0.1)))
	assert.Equal(t, core.RateLimited, g.Admit("A", at(0.2)))
	assert.Equal(t, core.Blocked, g.Admit("A", at(1.1)))

	// at 1.2 the block (0.2 + 1s) has just expired
	assert.Equal(t, core.Allowed, g.Admit("A", at(1.2)), "first admit after expiry counts 1")
	assert.Equal(t, core.Allowed, g.Admit("A", at(1.3)))
	assert.Equal(t, core.RateLimited, g.Admit("A", at(1.4)))
}

func TestGate_NeverRateLimitedTwiceWithoutAllowed(t *testing.T) {
	g := newTestGate(t, 5*time.Second, 3, 2*time.Second)

	prev := core.Allowed
	for i := 0; i < 600; i++ {
		d := g.Admit("hammer", at(float64(i)*0.05))
		if d == core.RateLimited {
			assert.Equal(t, core.Allowed, prev, "RateLimited at step %d must follow Allowed", i)
		}
		if d != core.Blocked {
			prev = d
		}
	}
}

func TestGate_ForceBlock(t *testing.T) {
	g := newTestGate(t, 10*time.Second, 100, 120*time.Second)

	until := g.ForceBlock("B", at(0), 60*time.Second)
	assert.Equal(t, at(60), until)
	assert.Equal(t, core.Blocked, g.Admit("B", at(59.9)))
	assert.Equal(t, core.Allowed, g.Admit("B", at(60)))
}

func TestGate_ForceBlockDefaultsToBlockDuration(t *testing.T) {
	g := newTestGate(t, 10*time.Second, 100, 120*time.Second)

	assert.Equal(t, at(120), g.ForceBlock("B", at(0), 0))
	assert.Equal(t, core.Blocked, g.Admit("B", at(119)))
}

func TestGate_ForceBlockNegativeExpiresImmediately(t *testing.T) {
	g := newTestGate(t, 10*time.Second, 100, 120*time.Second)

	g.ForceBlock("B", at(0), -time.Second)
	assert.Equal(t, core.Allowed, g.Admit("B", at(0)))
}

func TestGate_UnblockKeepsWindow(t *testing.T) {
	g := newTestGate(t, 10*time.Second, 3, 120*time.Second)

	g.Unblock("nobody")

	assert.Equal(t, core.Allowed, g.Admit("A", at(0)))
	assert.Equal(t, core.Allowed, g.Admit("A", at(1)))
	g.ForceBlock("A", at(1), time.Minute)
	assert.Equal(t, core.Blocked, g.Admit("A", at(2)))

	g.Unblock("A")
	assert.Equal(t, core.Allowed, g.Admit("A", at(3)), "count 3")
	assert.Equal(t, core.RateLimited, g.Admit("A", at(4)), "count 4 with the earlier history intact")
}

func TestGate_SweepAndStats(t *testing.T) {
	g := newTestGate(t, 10*time.Second, 100, 120*time.Second)

	g.Admit("idle", at(0))
	g.Admit("busy", at(25))
	g.ForceBlock("short", at(25), time.Second)
	g.ForceBlock("long", at(25), time.Hour)

	blocks, windows := g.Sweep(at(30))
	assert.Equal(t, 1, blocks)
	assert.Equal(t, 1, windows)

	s := g.Stats(at(30), true)
	assert.Equal(t, 1, s.Blocked)
	assert.Equal(t, 1, s.Tracked)
	require.Len(t, s.Blocks, 1)
	assert.Equal(t, core.Source("long"), s.Blocks[0].Source)
}

func TestGate_ConcurrentAdmitSameInstant(t *testing.T) {
	g := newTestGate(t, 10*time.Second, 10, time.Minute)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts = map[core.Decision]int{}
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := g.Admit("flood", at(0))
			mu.Lock()
			counts[d]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, counts[core.Allowed])
	assert.Equal(t, 1, counts[core.RateLimited])
	assert.Equal(t, 89, counts[core.Blocked])
}

func TestGate_AdmitNowReadsClockUnderLock(t *testing.T) {
	g := newTestGate(t, 10*time.Second, 3, 120*time.Second)

	held := false
	d, now := g.AdmitNow("X", func() time.Time {
		held = !g.mu.TryLock()
		return at(5)
	})
	assert.True(t, held, "clock read outside the gate lock")
	assert.Equal(t, core.Allowed, d)
	assert.Equal(t, at(5), now)

	held = false
	swept, blocks, windows := g.SweepNow(func() time.Time {
		held = !g.mu.TryLock()
		return at(30)
	})
	assert.True(t, held, "clock read outside the gate lock")
	assert.Equal(t, at(30), swept)
	assert.Equal(t, 0, blocks)
	assert.Equal(t, 1, windows)
}
