package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/floodgate/internal/core"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers"`             // required
	Topic        string        `mapstructure:"topic" yaml:"topic"`                 // required
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`       // optional, default 100
	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"` // optional, default 100ms
	Compression  string        `mapstructure:"compression" yaml:"compression"`     // optional: none|gzip|snappy|lz4|zstd, default snappy
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`   // optional, default 3
}

// messageWriter is the subset of *kafka.Writer the sink needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes actions as JSON messages keyed by source, so all actions
// for one source land on one partition in order.
type Kafka struct {
	writer messageWriter
	config KafkaConfig

	// Statistics
	publishedCount atomic.Uint64
	errorCount     atomic.Uint64
}

// NewKafka validates cfg and creates the writer. No connection is made
// until the first publish.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, core.NewConfigError("sink.kafka.brokers", "is required")
	}
	if cfg.Topic == "" {
		return nil, core.NewConfigError("sink.kafka.topic", "is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	if cfg.Compression == "" {
		cfg.Compression = defaultCompression
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Compression:  codec,
		RequiredAcks: kafka.RequireOne,
	}

	slog.Info("kafka sink created",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"batch_size", cfg.BatchSize,
		"batch_timeout", cfg.BatchTimeout,
		"compression", cfg.Compression,
	)
	return &Kafka{writer: w, config: cfg}, nil
}

func compressionCodec(name string) (kafka.Compression, error) {
	switch name {
	case "none":
		return 0, nil
	case "gzip":
		return compress.Gzip, nil
	case "snappy":
		return compress.Snappy, nil
	case "lz4":
		return compress.Lz4, nil
	case "zstd":
		return compress.Zstd, nil
	default:
		return 0, core.NewConfigError("sink.kafka.compression", "invalid compression type: %s", name)
	}
}

// Name returns "kafka".
func (k *Kafka) Name() string { return KindKafka }

// Publish writes a to the topic.
func (k *Kafka) Publish(ctx context.Context, a core.Action) error {
	value, err := json.Marshal(a)
	if err != nil {
		k.errorCount.Add(1)
		return fmt.Errorf("serialize action failed: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(a.Source),
		Value: value,
		Time:  a.At,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(a.Kind)},
			{Key: "reason", Value: []byte(a.Reason)},
		},
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	k.publishedCount.Add(1)
	return nil
}

// Close flushes pending messages.
func (k *Kafka) Close() error {
	if err := k.writer.Close(); err != nil {
		slog.Error("error closing kafka writer", "error", err)
		return err
	}
	slog.Info("kafka sink stopped",
		"total_published", k.publishedCount.Load(),
		"total_errors", k.errorCount.Load(),
	)
	return nil
}
