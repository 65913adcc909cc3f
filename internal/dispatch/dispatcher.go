// Package dispatch fans events out to a fixed set of partition workers.
// Every source is pinned to one partition, so events of a source are
// handled one at a time and in arrival order.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/serialx/hashring"

	"firestige.xyz/floodgate/internal/core"
	"firestige.xyz/floodgate/internal/metrics"
)

// Handler processes one event. It runs on the partition's goroutine.
type Handler func(ctx context.Context, ev core.Event)

// Stats holds dispatcher counters.
type Stats struct {
	PublishedCount int64 `json:"published"`
	ProcessedCount int64 `json:"processed"`
	PartitionCount int   `json:"partitions"`
	QueuedCount    []int `json:"queued"`
}

type partition struct {
	id    int
	label string
	queue chan core.Event
}

// Dispatcher routes events to partitions by consistent hashing of the
// source.
type Dispatcher struct {
	partitions     []*partition
	partitionNodes []string           // partition node names
	hashRing       *hashring.HashRing // consistent hash ring
	handler        Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// closeMu guards queue sends against close.
	closeMu sync.RWMutex
	closed  bool

	// counters
	publishedCount atomic.Int64
	processedCount atomic.Int64
}

// New starts partitionCount workers with queues of queueSize events.
func New(partitionCount, queueSize int, handler Handler) (*Dispatcher, error) {
	if partitionCount <= 0 {
		return nil, core.NewConfigError("dispatch.partitions", "must be positive, got %d", partitionCount)
	}
	if queueSize <= 0 {
		return nil, core.NewConfigError("dispatch.queue_size", "must be positive, got %d", queueSize)
	}
	if handler == nil {
		return nil, errors.New("dispatch: nil handler")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		partitions:     make([]*partition, partitionCount),
		partitionNodes: make([]string, partitionCount),
		handler:        handler,
		ctx:            ctx,
		cancel:         cancel,
	}

	// name the partition nodes
	for i := 0; i < partitionCount; i++ {
		d.partitionNodes[i] = "partition-" + strconv.Itoa(i)
	}
	d.hashRing = hashring.New(d.partitionNodes)

	for i := 0; i < partitionCount; i++ {
		p := &partition{
			id:    i,
			label: strconv.Itoa(i),
			queue: make(chan core.Event, queueSize),
		}
		d.partitions[i] = p
		d.wg.Add(1)
		go d.runPartition(p)
	}

	slog.Info("dispatcher started", "partitions", partitionCount, "queue_size", queueSize)
	return d, nil
}

// Publish queues ev on its source's partition. It blocks while that queue is
// full; it returns ctx.Err() if ctx ends first and core.ErrDispatcherClosed
// after Close.
func (d *Dispatcher) Publish(ctx context.Context, ev core.Event) error {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return core.ErrDispatcherClosed
	}

	p := d.partitions[d.PartitionOf(ev.Source)]
	select {
	case p.queue <- ev:
		d.publishedCount.Add(1)
		metrics.DispatchQueueDepth.WithLabelValues(p.label).Set(float64(len(p.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PartitionOf returns the partition index that owns src.
func (d *Dispatcher) PartitionOf(src core.Source) int {
	// look up the node on the hash ring
	node, ok := d.hashRing.GetNode(string(src))
	if !ok {
		return 0
	}
	// node names have the form "partition-N"
	for i, n := range d.partitionNodes {
		if n == node {
			return i
		}
	}
	return 0
}

// Close stops accepting events, lets the workers drain their queues and
// waits for them to exit.
func (d *Dispatcher) Close() error {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return nil
	}
	d.closed = true
	for _, p := range d.partitions {
		close(p.queue)
	}
	d.closeMu.Unlock()

	d.wg.Wait()
	d.cancel()
	slog.Info("dispatcher closed",
		"published", d.publishedCount.Load(),
		"processed", d.processedCount.Load(),
	)
	return nil
}

// Stats returns counters and current queue depths.
func (d *Dispatcher) Stats() Stats {
	s := Stats{
		PublishedCount: d.publishedCount.Load(),
		ProcessedCount: d.processedCount.Load(),
		PartitionCount: len(d.partitions),
		QueuedCount:    make([]int, len(d.partitions)),
	}
	for i, p := range d.partitions {
		s.QueuedCount[i] = len(p.queue)
	}
	return s
}

// runPartition consumes one partition queue.
func (d *Dispatcher) runPartition(p *partition) {
	defer d.wg.Done()
	slog.Debug("partition started", "partition", p.id)

	for ev := range p.queue {
		d.handler(d.ctx, ev)
		d.processedCount.Add(1)
		metrics.DispatchQueueDepth.WithLabelValues(p.label).Set(float64(len(p.queue)))
	}

	slog.Debug("partition stopped", "partition", p.id)
}
