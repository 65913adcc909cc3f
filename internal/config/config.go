// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/floodgate/internal/classifier"
	"firestige.xyz/floodgate/internal/command"
	"firestige.xyz/floodgate/internal/core"
	"firestige.xyz/floodgate/internal/mitigation"
	"firestige.xyz/floodgate/internal/monitor"
	"firestige.xyz/floodgate/internal/sink"
	"firestige.xyz/floodgate/internal/source/simulate"
)

// Config represents the top-level configuration.
// Maps to the `floodgate:` root key in YAML.
type Config struct {
	Mitigation MitigationConfig `mapstructure:"mitigation" yaml:"mitigation"`
	Classifier ClassifierConfig `mapstructure:"classifier" yaml:"classifier"`
	Source     SourceConfig     `mapstructure:"source" yaml:"source"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch" yaml:"dispatch"`
	Sink       SinkConfig       `mapstructure:"sink" yaml:"sink"`
	Control    ControlConfig    `mapstructure:"control" yaml:"control"`
	Ledger     LedgerConfig     `mapstructure:"ledger" yaml:"ledger"`
	Report     ReportConfig     `mapstructure:"report" yaml:"report"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// ─── Mitigation ───

// MitigationConfig holds the rate limit and block durations.
type MitigationConfig struct {
	Window         time.Duration `mapstructure:"window" yaml:"window"`
	MaxRequests    int           `mapstructure:"max_requests" yaml:"max_requests"`
	BlockWindow    time.Duration `mapstructure:"block_window" yaml:"block_window"`       // rate-triggered and default operator block
	DetectionBlock time.Duration `mapstructure:"detection_block" yaml:"detection_block"` // block after an attack verdict
	SweepInterval  time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`   // idle window janitor; 0 disables
}

// Gate returns the gate parameters.
func (m MitigationConfig) Gate() mitigation.Config {
	return mitigation.Config{
		Window:        m.Window,
		MaxRequests:   m.MaxRequests,
		BlockDuration: m.BlockWindow,
	}
}

// ─── Classifier ───

// ClassifierConfig selects the classifier and its failure handling.
type ClassifierConfig struct {
	Kind          string         `mapstructure:"kind" yaml:"kind"` // threshold | remote
	Timeout       time.Duration  `mapstructure:"timeout" yaml:"timeout"`
	FailurePolicy string         `mapstructure:"failure_policy" yaml:"failure_policy"` // fail_open | fail_closed
	Params        map[string]any `mapstructure:"params" yaml:"params"`
}

// Loop returns the event loop parameters.
func (c *Config) Loop() monitor.Config {
	return monitor.Config{
		DetectionBlock:    c.Mitigation.DetectionBlock,
		ClassifierTimeout: c.Classifier.Timeout,
		FailurePolicy:     monitor.FailurePolicy(c.Classifier.FailurePolicy),
	}
}

// ─── Source ───

// SourceConfig selects where events come from.
type SourceConfig struct {
	Kind       string         `mapstructure:"kind" yaml:"kind"` // simulate | replay
	ReplayFile string         `mapstructure:"replay_file" yaml:"replay_file"`
	Simulate   SimulateConfig `mapstructure:"simulate" yaml:"simulate"`
}

// Source kinds.
const (
	SourceSimulate = "simulate"
	SourceReplay   = "replay"
)

// SimulateConfig configures the synthetic traffic generator.
type SimulateConfig struct {
	Seed             uint64        `mapstructure:"seed" yaml:"seed"`
	Duration         time.Duration `mapstructure:"duration" yaml:"duration"`
	Paced            bool          `mapstructure:"paced" yaml:"paced"`
	MinRate          int           `mapstructure:"min_rate" yaml:"min_rate"`
	MaxRate          int           `mapstructure:"max_rate" yaml:"max_rate"`
	AttackChance     float64       `mapstructure:"attack_chance" yaml:"attack_chance"`
	CompromiseChance float64       `mapstructure:"compromise_chance" yaml:"compromise_chance"`
	LegitHosts       int           `mapstructure:"legit_hosts" yaml:"legit_hosts"`
	BotHosts         int           `mapstructure:"bot_hosts" yaml:"bot_hosts"`
}

// Simulation returns the generator parameters.
func (s SimulateConfig) Simulation() simulate.Config {
	return simulate.Config{
		Seed:             s.Seed,
		Duration:         s.Duration,
		Paced:            s.Paced,
		MinRate:          s.MinRate,
		MaxRate:          s.MaxRate,
		AttackChance:     s.AttackChance,
		CompromiseChance: s.CompromiseChance,
		LegitHosts:       s.LegitHosts,
		BotHosts:         s.BotHosts,
	}
}

// ─── Dispatch ───

// DispatchConfig sizes the partition workers.
type DispatchConfig struct {
	Partitions int `mapstructure:"partitions" yaml:"partitions"`
	QueueSize  int `mapstructure:"queue_size" yaml:"queue_size"`
}

// ─── Sink ───

// SinkConfig selects where mitigation actions are delivered.
type SinkConfig struct {
	Kind   string           `mapstructure:"kind" yaml:"kind"` // log | kafka | none
	Buffer int              `mapstructure:"buffer" yaml:"buffer"`
	Kafka  sink.KafkaConfig `mapstructure:"kafka" yaml:"kafka"`
}

// SinkOptions returns the sink factory parameters. Log sink lines follow
// the log format.
func (c *Config) SinkOptions() sink.Config {
	return sink.Config{
		Kind:   c.Sink.Kind,
		Buffer: c.Sink.Buffer,
		Format: c.Log.Format,
		Kafka:  c.Sink.Kafka,
	}
}

// ─── Control ───

// ControlConfig configures the remote command channel.
type ControlConfig struct {
	Kafka command.KafkaConfig `mapstructure:"kafka" yaml:"kafka"`
}

// ─── Ledger & Report ───

// LedgerConfig configures the detection ledger.
type LedgerConfig struct {
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// ReportConfig configures the periodic counters line.
type ReportConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"` // 0 disables
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics and admin API settings.
type MetricsConfig struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
	Listen         string  `mapstructure:"listen" yaml:"listen"`
	Path           string  `mapstructure:"path" yaml:"path"`
	MaxConnections int     `mapstructure:"max_connections" yaml:"max_connections"` // 0 = unlimited
	AdminRPS       float64 `mapstructure:"admin_rps" yaml:"admin_rps"`             // per client, 0 = unthrottled
	AdminBurst     int     `mapstructure:"admin_burst" yaml:"admin_burst"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`   // MB
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"` // Days
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `floodgate: ...`.
type configRoot struct {
	Floodgate Config `mapstructure:"floodgate" yaml:"floodgate"`
}

// YAML renders the effective configuration under the `floodgate:` root key.
func (cfg *Config) YAML() ([]byte, error) {
	return yaml.Marshal(configRoot{Floodgate: *cfg})
}

// Loader reads one configuration file and can watch it for changes.
type Loader struct {
	path string
	v    *viper.Viper

	watchOnce sync.Once
}

// NewLoader creates a loader for path. An empty path loads defaults and
// environment overrides only.
func NewLoader(path string) *Loader {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	}

	// Environment variable overrides.
	// No explicit env prefix: the `floodgate.` key prefix maps to `FLOODGATE_`
	// via the key replacer (e.g., key "floodgate.log.level" → env "FLOODGATE_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return &Loader{path: path, v: v}
}

// Load loads configuration from file.
// The YAML file uses `floodgate:` as root key; env vars use the FLOODGATE_ prefix.
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Load reads the file and returns the validated configuration.
func (l *Loader) Load() (*Config, error) {
	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return decode(l.v)
}

// Watch calls fn with the reloaded configuration whenever the file changes.
// Edits that fail validation are logged and skipped; the previous
// configuration stays in effect. Watch is a no-op without a file.
func (l *Loader) Watch(fn func(*Config)) {
	if l.path == "" {
		return
	}
	l.watchOnce.Do(func() {
		l.v.OnConfigChange(func(e fsnotify.Event) {
			if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
				return
			}
			cfg, err := decode(l.v)
			if err != nil {
				slog.Warn("ignoring invalid config change", "file", e.Name, "error", err)
				return
			}
			slog.Info("config file changed", "file", e.Name)
			fn(cfg)
		})
		l.v.WatchConfig()
	})
}

func decode(v *viper.Viper) (*Config, error) {
	// Unmarshal into wrapper → extract inner Config
	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Floodgate

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "floodgate." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Mitigation defaults
	v.SetDefault("floodgate.mitigation.window", "10s")
	v.SetDefault("floodgate.mitigation.max_requests", 150)
	v.SetDefault("floodgate.mitigation.block_window", "120s")
	v.SetDefault("floodgate.mitigation.detection_block", "60s")
	v.SetDefault("floodgate.mitigation.sweep_interval", "30s")

	// Classifier defaults
	v.SetDefault("floodgate.classifier.kind", classifier.KindThreshold)
	v.SetDefault("floodgate.classifier.timeout", "200ms")
	v.SetDefault("floodgate.classifier.failure_policy", string(monitor.FailOpen))

	// Source defaults
	v.SetDefault("floodgate.source.kind", SourceSimulate)
	v.SetDefault("floodgate.source.replay_file", "")
	v.SetDefault("floodgate.source.simulate.seed", 42)
	v.SetDefault("floodgate.source.simulate.duration", "60s")
	v.SetDefault("floodgate.source.simulate.paced", true)
	v.SetDefault("floodgate.source.simulate.min_rate", 50)
	v.SetDefault("floodgate.source.simulate.max_rate", 300)
	v.SetDefault("floodgate.source.simulate.attack_chance", 0.02)
	v.SetDefault("floodgate.source.simulate.compromise_chance", 0.001)
	v.SetDefault("floodgate.source.simulate.legit_hosts", 200)
	v.SetDefault("floodgate.source.simulate.bot_hosts", 100)

	// Dispatch defaults
	v.SetDefault("floodgate.dispatch.partitions", 4)
	v.SetDefault("floodgate.dispatch.queue_size", 1024)

	// Sink defaults
	v.SetDefault("floodgate.sink.kind", sink.KindLog)
	v.SetDefault("floodgate.sink.buffer", 1024)
	v.SetDefault("floodgate.sink.kafka.brokers", []string{})
	v.SetDefault("floodgate.sink.kafka.topic", "floodgate.actions")
	v.SetDefault("floodgate.sink.kafka.compression", "snappy")
	v.SetDefault("floodgate.sink.kafka.batch_size", 100)
	v.SetDefault("floodgate.sink.kafka.batch_timeout", "100ms")
	v.SetDefault("floodgate.sink.kafka.max_attempts", 3)

	// Ledger & report defaults
	v.SetDefault("floodgate.control.kafka.enabled", false)
	v.SetDefault("floodgate.control.kafka.brokers", []string{})
	v.SetDefault("floodgate.control.kafka.topic", "floodgate.commands")
	v.SetDefault("floodgate.control.kafka.group_id", "floodgate")
	v.SetDefault("floodgate.control.kafka.start_offset", "latest")
	v.SetDefault("floodgate.control.kafka.command_ttl", "5m")

	v.SetDefault("floodgate.ledger.ttl", "5m")
	v.SetDefault("floodgate.report.interval", "1s")

	// Metrics defaults
	v.SetDefault("floodgate.metrics.enabled", true)
	v.SetDefault("floodgate.metrics.listen", ":9091")
	v.SetDefault("floodgate.metrics.path", "/metrics")
	v.SetDefault("floodgate.metrics.max_connections", 64)
	v.SetDefault("floodgate.metrics.admin_rps", 10)
	v.SetDefault("floodgate.metrics.admin_burst", 20)

	// Log defaults
	v.SetDefault("floodgate.log.level", "info")
	v.SetDefault("floodgate.log.format", "text")
	v.SetDefault("floodgate.log.outputs.file.enabled", false)
	v.SetDefault("floodgate.log.outputs.file.path", "/var/log/floodgate/floodgate.log")
	v.SetDefault("floodgate.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("floodgate.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("floodgate.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("floodgate.log.outputs.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates configuration and normalises enum
// values. Every failure is a *core.ConfigError.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return core.NewConfigError("log.level", "invalid log level %q (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return core.NewConfigError("log.format", "invalid log format %q (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return core.NewConfigError("log.outputs.file.path", "is required when file output is enabled")
	}

	// ── Mitigation & loop ──
	if err := cfg.Mitigation.Gate().Validate(); err != nil {
		return err
	}
	if cfg.Mitigation.SweepInterval < 0 {
		return core.NewConfigError("mitigation.sweep_interval", "must not be negative, got %s", cfg.Mitigation.SweepInterval)
	}
	cfg.Classifier.Kind = strings.ToLower(cfg.Classifier.Kind)
	cfg.Classifier.FailurePolicy = strings.ToLower(cfg.Classifier.FailurePolicy)
	if err := cfg.Loop().Validate(); err != nil {
		return err
	}
	switch cfg.Classifier.Kind {
	case classifier.KindThreshold, classifier.KindRemote:
	default:
		return core.NewConfigError("classifier.kind", "unsupported classifier %q (must be threshold/remote)", cfg.Classifier.Kind)
	}

	// ── Source ──
	switch cfg.Source.Kind {
	case SourceSimulate:
		if err := cfg.Source.Simulate.Simulation().Validate(); err != nil {
			return err
		}
	case SourceReplay:
		if cfg.Source.ReplayFile == "" {
			return core.NewConfigError("source.replay_file", "is required when source.kind=replay")
		}
	default:
		return core.NewConfigError("source.kind", "unsupported source %q (must be simulate/replay)", cfg.Source.Kind)
	}

	// ── Dispatch ──
	if cfg.Dispatch.Partitions <= 0 {
		return core.NewConfigError("dispatch.partitions", "must be positive, got %d", cfg.Dispatch.Partitions)
	}
	if cfg.Dispatch.QueueSize <= 0 {
		return core.NewConfigError("dispatch.queue_size", "must be positive, got %d", cfg.Dispatch.QueueSize)
	}

	// ── Sink ──
	switch cfg.Sink.Kind {
	case sink.KindLog, sink.KindNone:
	case sink.KindKafka:
		if len(cfg.Sink.Kafka.Brokers) == 0 {
			return core.NewConfigError("sink.kafka.brokers", "is required when sink.kind=kafka")
		}
		if cfg.Sink.Kafka.Topic == "" {
			return core.NewConfigError("sink.kafka.topic", "is required when sink.kind=kafka")
		}
	default:
		return core.NewConfigError("sink.kind", "unsupported sink %q (must be log/kafka/none)", cfg.Sink.Kind)
	}
	if cfg.Sink.Buffer < 0 {
		return core.NewConfigError("sink.buffer", "must not be negative, got %d", cfg.Sink.Buffer)
	}

	// ── Control ──
	if cfg.Control.Kafka.Enabled {
		if err := cfg.Control.Kafka.Validate(); err != nil {
			return err
		}
	}

	// ── Ledger, report, metrics ──
	if cfg.Ledger.TTL <= 0 {
		return core.NewConfigError("ledger.ttl", "must be positive, got %s", cfg.Ledger.TTL)
	}
	if cfg.Report.Interval < 0 {
		return core.NewConfigError("report.interval", "must not be negative, got %s", cfg.Report.Interval)
	}
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			return core.NewConfigError("metrics.listen", "is required when metrics are enabled")
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			return core.NewConfigError("metrics.path", "must start with '/', got %q", cfg.Metrics.Path)
		}
		if cfg.Metrics.MaxConnections < 0 {
			return core.NewConfigError("metrics.max_connections", "must not be negative, got %d", cfg.Metrics.MaxConnections)
		}
		if cfg.Metrics.AdminRPS < 0 {
			return core.NewConfigError("metrics.admin_rps", "must not be negative, got %g", cfg.Metrics.AdminRPS)
		}
		if cfg.Metrics.AdminBurst < 0 {
			return core.NewConfigError("metrics.admin_burst", "must not be negative, got %d", cfg.Metrics.AdminBurst)
		}
	}

	return nil
}
