package simulate

import (
	"context"
	"encoding/binary"
	"io"
	"math/rand/v2"
	"net/netip"
	"time"

	"firestige.xyz/floodgate/internal/clock"
	"firestige.xyz/floodgate/internal/core"
)

// Config describes the simulated traffic mix.
type Config struct {
	Seed     uint64
	Duration time.Duration // total simulated time, rounded up to whole seconds
	// Paced emits one burst per wall clock second. Otherwise time is
	// virtual: events are spread evenly over each simulated second and the
	// stream runs as fast as it is consumed.
	Paced bool
	// Start is the first virtual instant; zero means the clock's now.
	Start time.Time

	MinRate          int     // events per second, lower bound
	MaxRate          int     // events per second, upper bound
	AttackChance     float64 // probability an event comes from a bot
	CompromiseChance float64 // probability a legit host emits flood features
	LegitHosts       int     // legit pool 10.0.0.1 ...
	BotHosts         int     // bot pool 172.16.0.1 ...
}

// DefaultConfig mirrors the reference monitor's traffic mix.
func DefaultConfig() Config {
	return Config{
		Seed:             42,
		Duration:         60 * time.Second,
		Paced:            true,
		MinRate:          50,
		MaxRate:          300,
		AttackChance:     0.02,
		CompromiseChance: 0.001,
		LegitHosts:       200,
		BotHosts:         100,
	}
}

// Validate checks the traffic mix.
func (c Config) Validate() error {
	switch {
	case c.Duration <= 0:
		return core.NewConfigError("source.simulate.duration", "must be positive, got %s", c.Duration)
	case c.MinRate <= 0 || c.MaxRate < c.MinRate:
		return core.NewConfigError("source.simulate.min_rate", "need 0 < min_rate <= max_rate, got %d..%d", c.MinRate, c.MaxRate)
	case c.AttackChance < 0 || c.AttackChance > 1:
		return core.NewConfigError("source.simulate.attack_chance", "must be within [0,1], got %g", c.AttackChance)
	case c.CompromiseChance < 0 || c.CompromiseChance > 1:
		return core.NewConfigError("source.simulate.compromise_chance", "must be within [0,1], got %g", c.CompromiseChance)
	case c.LegitHosts <= 0 || c.LegitHosts > 1<<16:
		return core.NewConfigError("source.simulate.legit_hosts", "must be within [1,65536], got %d", c.LegitHosts)
	case c.BotHosts <= 0 || c.BotHosts > 1<<16:
		return core.NewConfigError("source.simulate.bot_hosts", "must be within [1,65536], got %d", c.BotHosts)
	}
	return nil
}

var (
	legitBase = netip.MustParseAddr("10.0.0.0")
	botBase   = netip.MustParseAddr("172.16.0.0")
)

// Source emits simulated events second by second.
// Source is not safe for concurrent use.
type Source struct {
	cfg     Config
	rng     *rand.Rand
	sampler *Sampler
	clock   clock.Clock   // stamps paced events
	virtual *clock.Manual // nil when paced

	start   time.Time
	seconds int // total bursts
	second  int // bursts started so far

	burstStart time.Time
	burstSize  int
	remaining  int

	generated int
	attacks   int
}

// New creates a simulated source. In virtual mode the source drives its own
// manual clock, see Clock.
func New(cfg Config, clk clock.Clock) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real()
	}
	s := &Source{
		cfg:     cfg,
		rng:     newRand(cfg.Seed),
		sampler: NewSampler(cfg.Seed + 1),
		clock:   clk,
		seconds: int((cfg.Duration + time.Second - 1) / time.Second),
	}
	s.start = cfg.Start
	if s.start.IsZero() {
		s.start = clk.Now()
	}
	if !cfg.Paced {
		s.virtual = clock.NewManual(s.start)
	}
	return s, nil
}

// Clock returns the clock event timestamps are taken from. Consumers that
// need "now" consistent with event times should use it.
func (s *Source) Clock() clock.Clock {
	if s.virtual != nil {
		return s.virtual
	}
	return s.clock
}

// Next returns the next event, io.EOF after the configured duration.
// Only virtual events carry a timestamp.
func (s *Source) Next(ctx context.Context) (core.Event, error) {
	if err := ctx.Err(); err != nil {
		return core.Event{}, err
	}
	for s.remaining == 0 {
		if s.second >= s.seconds {
			return core.Event{}, io.EOF
		}
		if err := s.beginBurst(ctx); err != nil {
			return core.Event{}, err
		}
	}

	idx := s.burstSize - s.remaining
	s.remaining--

	// paced events stay unstamped; the consumer stamps them on arrival
	var at time.Time
	if s.virtual != nil {
		at = s.burstStart.Add(time.Duration(idx) * time.Second / time.Duration(s.burstSize))
		s.virtual.Set(at)
	}

	src, label := s.pick()
	s.generated++
	if label == core.Attack {
		s.attacks++
	}
	return core.Event{Source: src, Features: s.sampler.Sample(label), At: at}, nil
}

// beginBurst starts the next simulated second, sleeping until it is due
// when paced.
func (s *Source) beginBurst(ctx context.Context) error {
	due := s.start.Add(time.Duration(s.second) * time.Second)
	if s.virtual == nil {
		if wait := due.Sub(s.clock.Now()); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	s.burstStart = due
	s.burstSize = s.cfg.MinRate + s.rng.IntN(s.cfg.MaxRate-s.cfg.MinRate+1)
	s.remaining = s.burstSize
	s.second++
	return nil
}

// pick chooses the sender and which profile its features follow.
func (s *Source) pick() (core.Source, core.Label) {
	if s.rng.Float64() < s.cfg.AttackChance {
		return host(botBase, 1+s.rng.IntN(s.cfg.BotHosts)), core.Attack
	}
	src := host(legitBase, 1+s.rng.IntN(s.cfg.LegitHosts))
	if s.rng.Float64() < s.cfg.CompromiseChance {
		return src, core.Attack
	}
	return src, core.Normal
}

// host returns base + n as a source address.
func host(base netip.Addr, n int) core.Source {
	b := base.As4()
	v := binary.BigEndian.Uint32(b[:]) + uint32(n)
	binary.BigEndian.PutUint32(b[:], v)
	return core.Source(netip.AddrFrom4(b).String())
}

// Stats reports how many events and flood-profile events were generated.
func (s *Source) Stats() (generated, attacks int) {
	return s.generated, s.attacks
}
