package mitigation

import (
	"sync"
	"time"

	"firestige.xyz/floodgate/internal/core"
)

// Config holds the gate parameters. All fields must be positive.
type Config struct {
	Window        time.Duration // length of the sliding window
	MaxRequests   int           // arrivals tolerated per window; one more triggers a block
	BlockDuration time.Duration // rate-triggered block, also the ForceBlock default
}

// Validate checks that every parameter is positive.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return core.NewConfigError("mitigation.window", "must be positive, got %s", c.Window)
	}
	if c.MaxRequests <= 0 {
		return core.NewConfigError("mitigation.max_requests", "must be positive, got %d", c.MaxRequests)
	}
	if c.BlockDuration <= 0 {
		return core.NewConfigError("mitigation.block_window", "must be positive, got %s", c.BlockDuration)
	}
	return nil
}

// Gate is the stateful admission check. One exclusive lock covers both the
// window and the registry because IsBlocked mutates the registry.
type Gate struct {
	cfg Config

	mu       sync.Mutex
	window   *Window
	registry *Registry
}

// NewGate validates cfg and creates a gate with empty state.
func NewGate(cfg Config) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Gate{
		cfg:      cfg,
		window:   NewWindow(cfg.Window),
		registry: NewRegistry(),
	}, nil
}

// Config returns the parameters the gate was built with.
func (g *Gate) Config() Config {
	return g.cfg
}

// Admit decides whether an event from src arriving at now may proceed.
// Callers sharing a gate must pass non-decreasing instants: a check purges
// every block expired at now, so a later call with an earlier now no longer
// sees them.
func (g *Gate) Admit(src core.Source, now time.Time) core.Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.admit(src, now)
}

// AdmitNow is Admit with the instant read from now while the gate lock is
// held, so concurrent callers observe time in lock order. It returns the
// instant used.
func (g *Gate) AdmitNow(src core.Source, now func() time.Time) (core.Decision, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := now()
	return g.admit(src, t), t
}

func (g *Gate) admit(src core.Source, now time.Time) core.Decision {
	if g.registry.IsBlocked(src, now) {
		return core.Blocked
	}

	if g.window.Observe(src, now) > g.cfg.MaxRequests {
		g.registry.Block(src, now, g.cfg.BlockDuration)
		// A blocked source comes back with an empty window.
		g.window.Forget(src)
		return core.RateLimited
	}
	return core.Allowed
}

// ForceBlock blocks src unconditionally and returns the unblock-at instant.
// d == 0 selects the configured BlockDuration; any other value, negative
// included, is applied as given.
func (g *Gate) ForceBlock(src core.Source, now time.Time, d time.Duration) time.Time {
	if d == 0 {
		d = g.cfg.BlockDuration
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.registry.Block(src, now, d)
}

// Unblock lifts the block on src. The window history is left as is.
func (g *Gate) Unblock(src core.Source) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.registry.Unblock(src)
}

// Sweep purges expired blocks and idle windows. It returns the number of
// blocks and windows removed.
func (g *Gate) Sweep(now time.Time) (blocks, windows int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.registry.purge(now), g.window.Sweep(now)
}

// SweepNow is Sweep with the instant read under the gate lock. It returns
// the instant used.
func (g *Gate) SweepNow(now func() time.Time) (at time.Time, blocks, windows int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	at = now()
	return at, g.registry.purge(at), g.window.Sweep(at)
}

// Stats is a point-in-time view of gate state.
type Stats struct {
	Blocked int          `json:"blocked"`
	Tracked int          `json:"tracked"`
	Blocks  []BlockEntry `json:"blocks,omitempty"`
}

// Stats reports gate occupancy at now. withBlocks includes the active block
// list.
func (g *Gate) Stats(now time.Time, withBlocks bool) Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	blocks := g.registry.Snapshot(now)
	s := Stats{
		Blocked: len(blocks),
		Tracked: g.window.Len(),
	}
	if withBlocks {
		s.Blocks = blocks
	}
	return s
}
