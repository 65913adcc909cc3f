// Package monitor runs events through the admission gate and the
// classifier and acts on the verdicts.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"firestige.xyz/floodgate/internal/classifier"
	"firestige.xyz/floodgate/internal/clock"
	"firestige.xyz/floodgate/internal/core"
	"firestige.xyz/floodgate/internal/ledger"
	"firestige.xyz/floodgate/internal/metrics"
	"firestige.xyz/floodgate/internal/mitigation"
	"firestige.xyz/floodgate/internal/sink"
	"firestige.xyz/floodgate/internal/source"
)

// FailurePolicy decides what happens to an admitted event when the
// classifier cannot answer.
type FailurePolicy string

const (
	FailOpen   FailurePolicy = "fail_open"   // admit the event
	FailClosed FailurePolicy = "fail_closed" // block the source for DetectionBlock
)

// Config holds the loop parameters.
type Config struct {
	DetectionBlock    time.Duration // block applied on an attack verdict
	ClassifierTimeout time.Duration // upper bound on one classifier call
	FailurePolicy     FailurePolicy
}

// Validate checks the loop parameters.
func (c Config) Validate() error {
	if c.DetectionBlock <= 0 {
		return core.NewConfigError("mitigation.detection_block", "must be positive, got %s", c.DetectionBlock)
	}
	if c.ClassifierTimeout <= 0 {
		return core.NewConfigError("classifier.timeout", "must be positive, got %s", c.ClassifierTimeout)
	}
	switch c.FailurePolicy {
	case FailOpen, FailClosed:
	default:
		return core.NewConfigError("classifier.failure_policy", "must be fail_open or fail_closed, got %q", c.FailurePolicy)
	}
	return nil
}

// Option customizes a Loop.
type Option func(*Loop)

// WithClock sets the clock used for events without an arrival time.
func WithClock(c clock.Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithSink sets where mitigation actions are published.
func WithSink(s sink.Sink) Option {
	return func(l *Loop) { l.sink = s }
}

// WithLedger records detections in led.
func WithLedger(led *ledger.Ledger) Option {
	return func(l *Loop) { l.ledger = led }
}

// Loop is the event loop. It may be driven by one goroutine through Run or
// by several through Process; the gate serializes state changes.
type Loop struct {
	cfg        Config
	gate       *mitigation.Gate
	classifier classifier.Classifier
	clock      clock.Clock
	sink       sink.Sink
	ledger     *ledger.Ledger

	counters counters
}

// New validates cfg and builds a loop.
func New(cfg Config, gate *mitigation.Gate, c classifier.Classifier, opts ...Option) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if gate == nil {
		return nil, errors.New("monitor: nil gate")
	}
	if c == nil {
		return nil, errors.New("monitor: nil classifier")
	}
	l := &Loop{
		cfg:        cfg,
		gate:       gate,
		classifier: c,
		clock:      clock.Real(),
		sink:       sink.Discard{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Gate returns the gate the loop drives.
func (l *Loop) Gate() *mitigation.Gate { return l.gate }

// Counters returns a snapshot of the outcome counters.
func (l *Loop) Counters() Counters { return l.counters.snapshot() }

// Run consumes src until it is exhausted or ctx is done.
func (l *Loop) Run(ctx context.Context, src source.Source) error {
	for {
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		l.Process(ctx, ev)
	}
}

// Process runs one event through the gate and, if admitted, the
// classifier. Exactly one outcome is counted per call.
func (l *Loop) Process(ctx context.Context, ev core.Event) Outcome {
	var (
		decision core.Decision
		now      = ev.At
	)
	if now.IsZero() {
		decision, now = l.gate.AdmitNow(ev.Source, l.clock.Now)
	} else {
		decision = l.gate.Admit(ev.Source, now)
	}
	metrics.GateDecisionsTotal.WithLabelValues(decision.String()).Inc()

	switch decision {
	case core.Blocked:
		return l.record(OutcomeBlocked)
	case core.RateLimited:
		until := now.Add(l.gate.Config().BlockDuration)
		slog.Debug("source rate limited", "source", ev.Source, "until", until)
		l.emit(ctx, sink.NewAction(core.ActionBlock, core.ReasonRateLimit, ev.Source, now, until))
		return l.record(OutcomeRateLimited)
	}

	label, err := l.predict(ctx, ev.Features)
	if err != nil {
		return l.onClassifierFailure(ctx, ev, now, err)
	}

	if label == core.Attack {
		until := l.gate.ForceBlock(ev.Source, now, l.cfg.DetectionBlock)
		slog.Info("attack detected, source blocked", "source", ev.Source, "until", until)
		l.remember(ev, core.ReasonDetection, now, until)
		l.emit(ctx, sink.NewAction(core.ActionBlock, core.ReasonDetection, ev.Source, now, until))
		return l.record(OutcomeDetected)
	}
	return l.record(OutcomeAllowed)
}

func (l *Loop) onClassifierFailure(ctx context.Context, ev core.Event, now time.Time, err error) Outcome {
	name := l.classifier.Name()
	reason := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	metrics.ClassifierErrorsTotal.WithLabelValues(name, reason).Inc()

	if l.cfg.FailurePolicy == FailClosed {
		until := l.gate.ForceBlock(ev.Source, now, l.cfg.DetectionBlock)
		slog.Warn("classifier unavailable, failing closed", "classifier", name, "source", ev.Source, "until", until, "error", err)
		l.remember(ev, core.ReasonFailClosed, now, until)
		l.emit(ctx, sink.NewAction(core.ActionBlock, core.ReasonFailClosed, ev.Source, now, until))
		return l.record(OutcomeClassifierFailClosed)
	}

	slog.Warn("classifier unavailable, failing open", "classifier", name, "source", ev.Source, "error", err)
	return l.record(OutcomeClassifierFailOpen)
}

type prediction struct {
	label core.Label
	err   error
}

// predict calls the classifier with a deadline. A classifier that ignores
// its context is abandoned at the deadline; its result is discarded.
func (l *Loop) predict(ctx context.Context, f core.FeatureVector) (core.Label, error) {
	cctx, cancel := context.WithTimeout(ctx, l.cfg.ClassifierTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan prediction, 1)
	go func() {
		label, err := l.classifier.Predict(cctx, f)
		done <- prediction{label: label, err: err}
	}()

	var p prediction
	select {
	case p = <-done:
	case <-cctx.Done():
		p = prediction{err: cctx.Err()}
	}
	metrics.ClassifierDurationSeconds.WithLabelValues(l.classifier.Name()).Observe(time.Since(start).Seconds())

	if p.err != nil {
		if !errors.Is(p.err, core.ErrClassifierUnavailable) {
			p.err = fmt.Errorf("%w: %w", core.ErrClassifierUnavailable, p.err)
		}
		return core.Normal, p.err
	}
	return p.label, nil
}

func (l *Loop) record(o Outcome) Outcome {
	l.counters.inc(o)
	metrics.EventsTotal.WithLabelValues(o.String()).Inc()
	return o
}

func (l *Loop) emit(ctx context.Context, a core.Action) {
	if err := l.sink.Publish(ctx, a); err != nil {
		slog.Debug("mitigation action not delivered", "sink", l.sink.Name(), "source", a.Source, "error", err)
	}
}

func (l *Loop) remember(ev core.Event, reason core.Reason, now, until time.Time) {
	if l.ledger == nil {
		return
	}
	l.ledger.Record(ledger.Detection{
		Source:   ev.Source,
		Reason:   reason,
		Features: ev.Features.Map(),
		At:       now,
		Until:    until,
	})
}

// ForceBlock blocks src on behalf of an operator. d == 0 selects the gate's
// default block duration.
func (l *Loop) ForceBlock(ctx context.Context, src core.Source, d time.Duration) time.Time {
	now := l.clock.Now()
	until := l.gate.ForceBlock(src, now, d)
	slog.Info("source blocked by operator", "source", src, "until", until)
	l.emit(ctx, sink.NewAction(core.ActionBlock, core.ReasonAdministrator, src, now, until))
	return until
}

// Unblock lifts the block on src on behalf of an operator.
func (l *Loop) Unblock(ctx context.Context, src core.Source) {
	l.gate.Unblock(src)
	slog.Info("source unblocked by operator", "source", src)
	l.emit(ctx, sink.NewAction(core.ActionUnblock, core.ReasonAdministrator, src, l.clock.Now(), time.Time{}))
}

// Sweep purges expired blocks and idle windows as of the loop clock and
// refreshes the occupancy gauges. The clock is read under the gate lock,
// so a sweep never runs ahead of an event stamped after it.
func (l *Loop) Sweep() mitigation.Stats {
	now, blocks, windows := l.gate.SweepNow(l.clock.Now)
	return l.afterSweep(now, blocks, windows)
}

// SweepAt is Sweep at an explicit instant, for callers that drive time
// from event timestamps.
func (l *Loop) SweepAt(now time.Time) mitigation.Stats {
	blocks, windows := l.gate.Sweep(now)
	return l.afterSweep(now, blocks, windows)
}

func (l *Loop) afterSweep(now time.Time, blocks, windows int) mitigation.Stats {
	stats := l.gate.Stats(now, false)
	metrics.BlockedSources.Set(float64(stats.Blocked))
	metrics.TrackedSources.Set(float64(stats.Tracked))
	if l.ledger != nil {
		metrics.LedgerEntries.Set(float64(l.ledger.Len()))
	}
	if blocks > 0 || windows > 0 {
		slog.Debug("gate sweep", "expired_blocks", blocks, "idle_windows", windows,
			"blocked", stats.Blocked, "tracked", stats.Tracked)
	}
	return stats
}

// Now returns the loop clock's current time.
func (l *Loop) Now() time.Time { return l.clock.Now() }

// Ledger returns the detection ledger, nil when none is configured.
func (l *Loop) Ledger() *ledger.Ledger { return l.ledger }
