// Package sink delivers mitigation actions to downstream systems.
package sink

import (
	"context"
	"time"

	"github.com/google/uuid"

	"firestige.xyz/floodgate/internal/core"
)

// Sink receives mitigation actions.
type Sink interface {
	Name() string
	Publish(ctx context.Context, a core.Action) error
	Close() error
}

// Kinds understood by New.
const (
	KindLog   = "log"
	KindKafka = "kafka"
	KindNone  = "none"
)

// Config selects and configures a sink.
type Config struct {
	Kind   string
	Buffer int // async queue size; <= 0 disables the async wrapper
	Format string
	Kafka  KafkaConfig
}

// New builds the configured sink, wrapped in an Async buffer when
// cfg.Buffer > 0.
func New(cfg Config) (Sink, error) {
	var (
		s   Sink
		err error
	)
	switch cfg.Kind {
	case KindLog, "":
		s, err = NewLog(cfg.Format)
	case KindKafka:
		s, err = NewKafka(cfg.Kafka)
	case KindNone:
		return Discard{}, nil
	default:
		return nil, core.NewConfigError("sink.kind", "unsupported sink %q (must be log/kafka/none)", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Buffer > 0 {
		return NewAsync(s, cfg.Buffer), nil
	}
	return s, nil
}

// NewAction stamps a fresh action with a unique ID.
func NewAction(kind core.ActionKind, reason core.Reason, src core.Source, at, until time.Time) core.Action {
	return core.Action{
		ID:     uuid.NewString(),
		Kind:   kind,
		Reason: reason,
		Source: src,
		At:     at,
		Until:  until,
	}
}

// Discard drops every action.
type Discard struct{}

func (Discard) Name() string { return KindNone }

func (Discard) Publish(context.Context, core.Action) error { return nil }

func (Discard) Close() error { return nil }
