package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"firestige.xyz/floodgate/internal/core"
)

const defaultCommandTTL = 5 * time.Minute

// KafkaConfig configures the Kafka command consumer.
type KafkaConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	Brokers     []string      `mapstructure:"brokers" yaml:"brokers"`
	Topic       string        `mapstructure:"topic" yaml:"topic"`
	GroupID     string        `mapstructure:"group_id" yaml:"group_id"`
	StartOffset string        `mapstructure:"start_offset" yaml:"start_offset"` // earliest | latest
	CommandTTL  time.Duration `mapstructure:"command_ttl" yaml:"command_ttl"`   // older commands are skipped
}

// Validate checks the consumer settings.
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return core.NewConfigError("control.kafka.brokers", "is required")
	}
	if c.Topic == "" {
		return core.NewConfigError("control.kafka.topic", "is required")
	}
	if c.GroupID == "" {
		return core.NewConfigError("control.kafka.group_id", "is required")
	}
	switch c.StartOffset {
	case "", "earliest", "latest":
	default:
		return core.NewConfigError("control.kafka.start_offset", "must be earliest or latest, got %q", c.StartOffset)
	}
	if c.CommandTTL < 0 {
		return core.NewConfigError("control.kafka.command_ttl", "must not be negative, got %s", c.CommandTTL)
	}
	return nil
}

// KafkaCommand is the wire format for commands received via Kafka.
//
// Example JSON:
//
//	{
//	  "version":    "v1",
//	  "target":     "edge-01",
//	  "command":    "block",
//	  "timestamp":  "2026-01-15T10:30:00Z",
//	  "request_id": "req-abc-123",
//	  "payload":    {"source": "203.0.113.9", "duration": "10m"}
//	}
type KafkaCommand struct {
	Version   string          `json:"version"`
	Target    string          `json:"target"` // node hostname or "*" for broadcast
	Command   string          `json:"command"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

// messageReader is the subset of *kafka.Reader the consumer needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer consumes commands from Kafka and dispatches them to a handler.
type KafkaConsumer struct {
	config   KafkaConfig
	hostname string
	reader   messageReader
	handler  *Handler
	ttl      time.Duration
	now      func() time.Time
}

// NewKafkaConsumer validates cfg and creates the reader.
func NewKafkaConsumer(cfg KafkaConfig, hostname string, handler *Handler) (*KafkaConsumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ttl := cfg.CommandTTL
	if ttl == 0 {
		ttl = defaultCommandTTL
	}
	startOffset := kafka.LastOffset
	if cfg.StartOffset == "earliest" {
		startOffset = kafka.FirstOffset
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    startOffset,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: time.Second,
		MaxWait:        time.Second,
	})
	return newKafkaConsumer(cfg, hostname, reader, handler, ttl), nil
}

func newKafkaConsumer(cfg KafkaConfig, hostname string, r messageReader, h *Handler, ttl time.Duration) *KafkaConsumer {
	return &KafkaConsumer{
		config:   cfg,
		hostname: hostname,
		reader:   r,
		handler:  h,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Start consumes commands until ctx is cancelled.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	slog.Info("kafka command consumer started",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
		"hostname", c.hostname,
		"ttl", c.ttl,
	)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				slog.Info("kafka command consumer stopped", "reason", ctx.Err())
				return ctx.Err()
			}
			slog.Error("failed to fetch kafka message", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				continue
			}
		}

		if err := c.processMessage(ctx, msg); err != nil {
			slog.Error("failed to process command",
				"error", err,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			slog.Error("failed to commit message", "error", err)
		}
	}
}

func (c *KafkaConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var kCmd KafkaCommand
	if err := json.Unmarshal(msg.Value, &kCmd); err != nil {
		return fmt.Errorf("failed to parse kafka command: %w", err)
	}

	if kCmd.Target != "*" && kCmd.Target != "" && kCmd.Target != c.hostname {
		slog.Debug("skipping command not targeting this node",
			"target", kCmd.Target,
			"request_id", kCmd.RequestID,
		)
		return nil
	}

	if !kCmd.Timestamp.IsZero() {
		if age := c.now().Sub(kCmd.Timestamp); age > c.ttl {
			slog.Warn("skipping stale command",
				"command", kCmd.Command,
				"request_id", kCmd.RequestID,
				"age", age,
				"ttl", c.ttl,
			)
			return nil
		}
	}

	resp := c.handler.Handle(ctx, Command{Method: kCmd.Command, Params: kCmd.Payload, ID: kCmd.RequestID})
	if resp.Error != nil {
		return fmt.Errorf("command %s failed: %s", kCmd.Command, resp.Error.Message)
	}
	slog.Info("command executed", "command", kCmd.Command, "request_id", kCmd.RequestID)
	return nil
}

// Stop closes the reader. Safe to call twice.
func (c *KafkaConsumer) Stop() error {
	if c.reader == nil {
		return nil
	}
	reader := c.reader
	c.reader = nil
	if err := reader.Close(); err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}
	return nil
}
