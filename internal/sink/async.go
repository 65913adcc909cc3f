package sink

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/floodgate/internal/core"
	"firestige.xyz/floodgate/internal/metrics"
)

const closeTimeout = 5 * time.Second

// Async decouples publishers from a slow sink. Publish never blocks: when
// the buffer is full the action is dropped and counted.
type Async struct {
	inner  Sink
	buffer chan core.Action
	doneCh chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewAsync wraps inner with a queue of size entries and starts the sender.
func NewAsync(inner Sink, size int) *Async {
	if size <= 0 {
		size = 1
	}
	a := &Async{
		inner:  inner,
		buffer: make(chan core.Action, size),
		doneCh: make(chan struct{}),
	}
	go a.senderLoop()
	return a
}

// Name returns the wrapped sink's name.
func (a *Async) Name() string { return a.inner.Name() }

// Publish enqueues act. It returns core.ErrSinkFull when the queue is full
// and core.ErrSinkClosed after Close.
func (a *Async) Publish(_ context.Context, act core.Action) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return core.ErrSinkClosed
	}

	select {
	case a.buffer <- act:
		return nil
	default:
		a.dropped.Add(1)
		metrics.ActionsTotal.WithLabelValues(a.inner.Name(), "dropped").Inc()
		return core.ErrSinkFull
	}
}

// senderLoop drains the buffer into the inner sink until the buffer is
// closed.
func (a *Async) senderLoop() {
	defer close(a.doneCh)

	for act := range a.buffer {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		err := a.inner.Publish(ctx, act)
		cancel()
		if err != nil {
			a.failed.Add(1)
			metrics.ActionsTotal.WithLabelValues(a.inner.Name(), "error").Inc()
			slog.Warn("sink publish error", "sink", a.inner.Name(), "source", act.Source, "error", err)
			continue
		}
		a.sent.Add(1)
		metrics.ActionsTotal.WithLabelValues(a.inner.Name(), "sent").Inc()
	}

	slog.Debug("sink sender loop exited", "sink", a.inner.Name())
}

// Close stops accepting actions, drains the queue and closes the inner sink.
func (a *Async) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.buffer)
		a.mu.Unlock()

		<-a.doneCh
		err = a.inner.Close()
	})
	return err
}

// AsyncStats counts delivery results.
type AsyncStats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
	Queued  int    `json:"queued"`
}

// Stats returns delivery counters.
func (a *Async) Stats() AsyncStats {
	return AsyncStats{
		Sent:    a.sent.Load(),
		Failed:  a.failed.Load(),
		Dropped: a.dropped.Load(),
		Queued:  len(a.buffer),
	}
}
