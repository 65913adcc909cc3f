// Package daemon implements the engine lifecycle manager.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/floodgate/internal/admin"
	"firestige.xyz/floodgate/internal/classifier"
	"firestige.xyz/floodgate/internal/clock"
	"firestige.xyz/floodgate/internal/command"
	"firestige.xyz/floodgate/internal/config"
	"firestige.xyz/floodgate/internal/core"
	"firestige.xyz/floodgate/internal/dispatch"
	"firestige.xyz/floodgate/internal/ledger"
	logpkg "firestige.xyz/floodgate/internal/log"
	"firestige.xyz/floodgate/internal/metrics"
	"firestige.xyz/floodgate/internal/mitigation"
	"firestige.xyz/floodgate/internal/monitor"
	"firestige.xyz/floodgate/internal/report"
	"firestige.xyz/floodgate/internal/sink"
	"firestige.xyz/floodgate/internal/source"
	"firestige.xyz/floodgate/internal/source/replay"
	"firestige.xyz/floodgate/internal/source/simulate"
)

// Option customises a Daemon.
type Option func(*Daemon)

// WithLoader lets the daemon watch the configuration file the config came
// from and hot-reload logging.
func WithLoader(l *config.Loader) Option {
	return func(d *Daemon) { d.loader = l }
}

// WithOutput sets where the counters report goes. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(d *Daemon) { d.out = w }
}

// WithPIDFile writes the process ID to path while running.
func WithPIDFile(path string) Option {
	return func(d *Daemon) { d.pidFile = path }
}

// WithClock replaces the wall clock live events are stamped from.
func WithClock(c clock.Clock) Option {
	return func(d *Daemon) { d.clock = c }
}

// WithSource replaces the configured event source. offline reports whether
// the source carries its own timeline. Timestamps from a live source are
// ignored: its events are stamped when the gate sees them.
func WithSource(src source.Source, offline bool) Option {
	return func(d *Daemon) {
		d.source = src
		d.offline = offline
	}
}

// WithClassifier replaces the configured classifier.
func WithClassifier(c classifier.Classifier) Option {
	return func(d *Daemon) { d.classifier = c }
}

// Daemon wires the engine together and runs it until the source ends or a
// shutdown signal arrives.
type Daemon struct {
	// Configuration
	config  *config.Config
	loader  *config.Loader
	out     io.Writer
	pidFile string

	// Core components
	clock         clock.Clock
	source        source.Source
	classifier    classifier.Classifier
	sink          sink.Sink
	ledger        *ledger.Ledger
	gate          *mitigation.Gate
	loop          *monitor.Loop
	dispatcher    *dispatch.Dispatcher
	reporter      *report.Reporter
	metricsServer *metrics.Server        // nil if metrics disabled
	commands      *command.KafkaConsumer // nil if the control channel is disabled

	// offline sources (virtual simulation, replay) carry their own
	// timeline: one partition keeps time monotonic and the idle sweep
	// follows event time instead of a wall clock ticker. Live events are
	// stamped under the gate lock instead, so partitions and the janitor
	// never hand the gate an instant older than one it has already seen.
	offline   bool
	lastSweep time.Time

	// Lifecycle management
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	sigChan  chan os.Signal
	stopOnce sync.Once
}

// New creates a daemon for a validated configuration.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon: nil config")
	}
	d := &Daemon{
		config: cfg,
		out:    os.Stdout,
		clock:  clock.Real(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start initializes all components. Nothing is processed until Run.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting floodgate",
		"source", d.config.Source.Kind,
		"classifier", d.config.Classifier.Kind,
		"sink", d.config.Sink.Kind,
		"window", d.config.Mitigation.Window,
		"max_requests", d.config.Mitigation.MaxRequests,
	)

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return err
	}

	// 3. Event source
	if err := d.openSource(); err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}

	// 4. Classifier, sink, ledger
	if d.classifier == nil {
		c, err := classifier.New(d.config.Classifier.Kind, d.config.Classifier.Params)
		if err != nil {
			return fmt.Errorf("failed to create classifier: %w", err)
		}
		d.classifier = c
	}
	s, err := sink.New(d.config.SinkOptions())
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}
	d.sink = s
	d.ledger = ledger.New(d.config.Ledger.TTL)

	// 5. Gate and event loop
	d.gate, err = mitigation.NewGate(d.config.Mitigation.Gate())
	if err != nil {
		return err
	}
	d.loop, err = monitor.New(d.config.Loop(), d.gate, d.classifier,
		monitor.WithClock(d.clock),
		monitor.WithSink(d.sink),
		monitor.WithLedger(d.ledger),
	)
	if err != nil {
		return err
	}

	// 6. Dispatcher
	partitions := d.config.Dispatch.Partitions
	if d.offline && partitions > 1 {
		slog.Info("source has its own timeline, using a single partition", "configured", partitions)
		partitions = 1
	}
	d.dispatcher, err = dispatch.New(partitions, d.config.Dispatch.QueueSize, d.handle)
	if err != nil {
		return err
	}

	// 7. Metrics and admin API
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 8. Remote command channel
	if err := d.startCommands(); err != nil {
		return fmt.Errorf("failed to start command consumer: %w", err)
	}

	// 9. Reporter and janitor
	d.reporter = report.New(d.loop, d.out, d.config.Report.Interval)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.reporter.Run(d.ctx)
	}()
	if !d.offline && d.config.Mitigation.SweepInterval > 0 {
		d.wg.Add(1)
		go d.janitor(d.config.Mitigation.SweepInterval)
	}

	// 10. Watch the config file for log changes
	if d.loader != nil {
		d.loader.Watch(d.applyReload)
	}

	slog.Info("floodgate started", "partitions", partitions, "offline", d.offline)
	return nil
}

// Run pumps the source into the engine, blocking until the source is
// exhausted, ctx is done or a shutdown signal arrives. It always stops the
// daemon before returning.
//
//  1. SIGTERM / SIGINT stop processing
//  2. SIGHUP reloads logging from the config file
func (d *Daemon) Run(ctx context.Context) error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()
	pumpDone := make(chan error, 1)
	go func() { pumpDone <- d.pump(pumpCtx) }()

	slog.Info("floodgate running, waiting for source end or signals")

	var runErr error
loop:
	for {
		select {
		case err := <-pumpDone:
			if err != nil {
				slog.Error("event source failed", "error", err)
				runErr = err
			} else {
				slog.Info("event source exhausted")
			}
			break loop

		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				stopPump()
				<-pumpDone
				break loop
			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-ctx.Done():
			slog.Info("context cancelled", "error", ctx.Err())
			<-pumpDone
			break loop
		}
	}

	d.Stop()
	return runErr
}

// pump moves events from the source into the dispatcher. A finished source
// or a cancelled ctx is a clean stop.
func (d *Daemon) pump(ctx context.Context) error {
	for {
		ev, err := d.source.Next(ctx)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case err != nil:
			return err
		}
		if err := d.dispatcher.Publish(ctx, ev); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// handle runs on a dispatcher partition.
func (d *Daemon) handle(ctx context.Context, ev core.Event) {
	if !d.offline {
		ev.At = time.Time{}
	}
	d.loop.Process(ctx, ev)

	if !d.offline || d.config.Mitigation.SweepInterval <= 0 {
		return
	}
	// single partition: lastSweep is only touched here
	at := ev.At
	if at.IsZero() {
		at = d.loop.Now()
	}
	switch {
	case d.lastSweep.IsZero():
		d.lastSweep = at
	case at.Sub(d.lastSweep) >= d.config.Mitigation.SweepInterval:
		d.loop.SweepAt(at)
		d.lastSweep = at
	}
}

// janitor sweeps expired blocks and idle windows on a wall clock ticker.
func (d *Daemon) janitor(interval time.Duration) {
	defer d.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.loop.Sweep()
		case <-d.ctx.Done():
			return
		}
	}
}

// Stop performs graceful shutdown of all components. It is safe to call
// more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Drain queued events
	if d.dispatcher != nil {
		if err := d.dispatcher.Close(); err != nil {
			slog.Error("error closing dispatcher", "error", err)
		}
	}

	// 2. Stop reporter and janitor
	d.cancel()
	d.wg.Wait()

	// 3. Close the command channel and flush pending actions
	if d.commands != nil {
		if err := d.commands.Stop(); err != nil {
			slog.Error("error closing command consumer", "error", err)
		}
	}
	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			slog.Error("error closing sink", "error", err)
		}
	}
	if c, ok := d.classifier.(io.Closer); ok {
		_ = c.Close()
	}
	if c, ok := d.source.(io.Closer); ok {
		_ = c.Close()
	}

	// 4. Stop metrics server
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	// 5. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 6. Final report
	if d.loop != nil && d.reporter != nil {
		stats := d.loop.Sweep()
		d.reporter.Summary(d.out, stats)
	}

	// 7. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("floodgate stopped")
	_ = logpkg.Close()
}

// startCommands subscribes to the Kafka control topic when enabled.
// Commands target this node by hostname.
func (d *Daemon) startCommands() error {
	kc := d.config.Control.Kafka
	if !kc.Enabled {
		return nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %w", err)
	}
	d.commands, err = command.NewKafkaConsumer(kc, hostname, command.NewHandler(d.loop, d))
	if err != nil {
		return err
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.commands.Start(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("command consumer stopped", "error", err)
		}
	}()
	return nil
}

// Loop returns the event loop, nil before Start.
func (d *Daemon) Loop() *monitor.Loop { return d.loop }

// MetricsAddr returns the bound metrics address, empty when disabled.
func (d *Daemon) MetricsAddr() string {
	if d.metricsServer == nil {
		return ""
	}
	return d.metricsServer.Addr()
}

// Reload re-reads the configuration file and applies the hot-reloadable
// part (logging). Everything else requires a restart.
func (d *Daemon) Reload() error {
	if d.loader == nil {
		return errors.New("no configuration file to reload")
	}
	cfg, err := d.loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}
	d.applyReload(cfg)
	return nil
}

func (d *Daemon) applyReload(newConfig *config.Config) {
	if err := logpkg.Init(newConfig.Log); err != nil {
		slog.Error("failed to reinitialize logging", "error", err)
		return
	}

	requiresRestart := []string{}
	if newConfig.Mitigation != d.config.Mitigation {
		requiresRestart = append(requiresRestart, "mitigation")
	}
	if newConfig.Metrics != d.config.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}
	if newConfig.Sink.Kind != d.config.Sink.Kind {
		requiresRestart = append(requiresRestart, "sink.kind")
	}
	slog.Info("configuration reloaded",
		"hot_reloaded", []string{"log"},
		"requires_restart", requiresRestart,
	)
}

// openSource builds the configured event source unless one was injected.
func (d *Daemon) openSource() error {
	if d.source != nil {
		return nil
	}
	switch d.config.Source.Kind {
	case config.SourceReplay:
		src, err := replay.Open(d.config.Source.ReplayFile)
		if err != nil {
			return err
		}
		d.source = src
		d.offline = true
	default:
		src, err := simulate.New(d.config.Source.Simulate.Simulation(), d.clock)
		if err != nil {
			return err
		}
		d.source = src
		if !d.config.Source.Simulate.Paced {
			// the loop reads "now" from the simulated timeline
			d.clock = src.Clock()
			d.offline = true
		}
	}
	return nil
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

// startMetrics starts the metrics HTTP server with the admin API if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	srv := metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path, d.config.Metrics.MaxConnections)
	admin.NewHandler(d.loop, d.dispatcher.Stats).
		WithRateLimit(d.config.Metrics.AdminRPS, d.config.Metrics.AdminBurst).
		RegisterRoutes(srv)
	if err := srv.Start(d.ctx); err != nil {
		return err
	}
	d.metricsServer = srv
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	return nil
}
