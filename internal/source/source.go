// Package source defines where events come from.
package source

import (
	"context"
	"io"
	"sync"

	"firestige.xyz/floodgate/internal/core"
)

// Source yields events in arrival order. Next returns io.EOF once a finite
// stream is exhausted and ctx.Err() when ctx is done.
type Source interface {
	Next(ctx context.Context) (core.Event, error)
}

// Slice replays a fixed list of events.
type Slice struct {
	mu     sync.Mutex
	events []core.Event
	pos    int
}

// NewSlice creates a source over events.
func NewSlice(events ...core.Event) *Slice {
	return &Slice{events: events}
}

// Next returns the next event or io.EOF.
func (s *Slice) Next(ctx context.Context) (core.Event, error) {
	if err := ctx.Err(); err != nil {
		return core.Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.events) {
		return core.Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}
