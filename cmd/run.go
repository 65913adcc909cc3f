package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/floodgate/internal/config"
	"firestige.xyz/floodgate/internal/daemon"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine in foreground",
	Long: `Run the mitigation engine in foreground.

The engine will:
  1. Load configuration from the config file and FLOODGATE_* variables
  2. Initialize logging, metrics and the operator API
  3. Feed simulated or replayed events through the gate and classifier
  4. Print a counters line every report interval
  5. Stop at the end of the source, on --duration or on SIGTERM/SIGINT
     (SIGHUP reloads logging) and print a summary

Examples:
  floodgate run -c floodgate.yml
  floodgate run --duration 30s --seed 7 --attack-chance 0.05
  floodgate run --source replay --replay-file events.jsonl`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEngine(cmd)
	},
}

var (
	runDuration     time.Duration
	runSeed         uint64
	runAttackChance float64
	runSource       string
	runReplayFile   string
	runPaced        bool
	runPIDFile      string
)

func init() {
	runCmd.Flags().DurationVar(&runDuration, "duration", 0,
		"simulated duration, also a cap on the whole run")
	runCmd.Flags().Uint64Var(&runSeed, "seed", 0, "simulation seed")
	runCmd.Flags().Float64Var(&runAttackChance, "attack-chance", 0, "probability an event comes from a bot")
	runCmd.Flags().StringVar(&runSource, "source", "", "event source: simulate | replay")
	runCmd.Flags().StringVar(&runReplayFile, "replay-file", "", "JSONL file for the replay source")
	runCmd.Flags().BoolVar(&runPaced, "paced", true, "emit simulated events in real time")
	runCmd.Flags().StringVarP(&runPIDFile, "pidfile", "p", "", "PID file path")
}

func runEngine(cmd *cobra.Command) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	// Create daemon instance
	d, err := daemon.New(cfg,
		daemon.WithLoader(loader),
		daemon.WithOutput(cmd.OutOrStdout()),
		daemon.WithPIDFile(runPIDFile),
	)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	// Start all components
	if err := d.Start(); err != nil {
		d.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	ctx := context.Background()
	if runDuration > 0 {
		var cancel context.CancelFunc
		// a little slack so a paced simulation can finish its last second
		ctx, cancel = context.WithTimeout(ctx, runDuration+2*time.Second)
		defer cancel()
	}

	// Run main loop (blocks until shutdown)
	return d.Run(ctx)
}

// applyRunFlags overlays explicitly set flags on cfg and re-validates it.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("duration") {
		cfg.Source.Simulate.Duration = runDuration
	}
	if flags.Changed("seed") {
		cfg.Source.Simulate.Seed = runSeed
	}
	if flags.Changed("attack-chance") {
		cfg.Source.Simulate.AttackChance = runAttackChance
	}
	if flags.Changed("paced") {
		cfg.Source.Simulate.Paced = runPaced
	}
	if flags.Changed("source") {
		cfg.Source.Kind = runSource
	}
	if flags.Changed("replay-file") {
		cfg.Source.ReplayFile = runReplayFile
		if !flags.Changed("source") {
			cfg.Source.Kind = config.SourceReplay
		}
	}
	return cfg.ValidateAndApplyDefaults()
}
