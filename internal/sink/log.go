package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"firestige.xyz/floodgate/internal/core"
)

// Log writes each action as a structured log record.
type Log struct {
	format    string // "json" or "text"
	published atomic.Uint64
}

// NewLog creates a log sink. format is "json" or "text" (default).
func NewLog(format string) (*Log, error) {
	if format == "" {
		format = "text"
	}
	if format != "json" && format != "text" {
		return nil, core.NewConfigError("sink.format", "invalid format %q, must be json or text", format)
	}
	return &Log{format: format}, nil
}

// Name returns "log".
func (l *Log) Name() string { return KindLog }

// Publish logs a.
func (l *Log) Publish(ctx context.Context, a core.Action) error {
	switch l.format {
	case "json":
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal action: %w", err)
		}
		slog.InfoContext(ctx, "mitigation action", "action", json.RawMessage(data))
	default:
		attrs := []any{
			"id", a.ID,
			"kind", a.Kind,
			"reason", a.Reason,
			"source", a.Source,
			"at", a.At,
		}
		if !a.Until.IsZero() {
			attrs = append(attrs, "until", a.Until)
		}
		slog.InfoContext(ctx, "mitigation action", attrs...)
	}
	l.published.Add(1)
	return nil
}

// Published returns the number of logged actions.
func (l *Log) Published() uint64 { return l.published.Load() }

// Close logs the total.
func (l *Log) Close() error {
	slog.Info("log sink stopped", "total_published", l.published.Load())
	return nil
}
