package metrics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// queueFactor sizes the publisher queue relative to its worker count.
const queueFactor = 16

// Publisher delivers point batches to a Sink from a bounded queue.
// Enqueue never blocks: when the queue is full the oldest batch is
// dropped, because a gap in the metrics is cheaper than latency on the
// polling path.
type Publisher struct {
	sink    Sink
	logger  *slog.Logger
	workers int

	queue chan []Point

	dropped atomic.Int64

	startOnce  sync.Once
	wg         sync.WaitGroup
	cancelLoop context.CancelFunc
}

// NewPublisher creates a publisher with the given worker count.
func NewPublisher(sink Sink, workers int, logger *slog.Logger) *Publisher {
	return &Publisher{
		sink:    sink,
		logger:  logger,
		workers: workers,
		queue:   make(chan []Point, workers*queueFactor),
	}
}

// Start launches the worker goroutines. Call Drain to stop.
func (p *Publisher) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)
		p.cancelLoop = cancel
		for range p.workers {
			p.wg.Add(1)
			go p.worker(loopCtx)
		}
	})
}

// Enqueue hands a batch to the publisher without blocking. Empty batches
// are ignored.
func (p *Publisher) Enqueue(points []Point) {
	if len(points) == 0 {
		return
	}
	for {
		select {
		case p.queue <- points:
			return
		default:
		}
		// Queue full: evict the oldest batch and retry.
		select {
		case old := <-p.queue:
			n := p.dropped.Add(int64(len(old)))
			p.logger.Warn("metrics queue full, dropped oldest batch",
				"dropped_points", len(old), "dropped_total", n)
		default:
		}
	}
}

// Dropped reports the total number of points evicted so far.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Drain stops the workers after flushing whatever the queue still holds,
// bounded by ctx.
func (p *Publisher) Drain(ctx context.Context) {
	if p.cancelLoop == nil {
		return
	}

	// Flush the backlog directly; workers may be flushing concurrently,
	// which is fine — each batch is consumed exactly once.
	for {
		select {
		case points := <-p.queue:
			p.publish(ctx, points)
			continue
		default:
		}
		break
	}

	p.cancelLoop()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("metrics drain timed out", "remaining", len(p.queue))
	}
}

func (p *Publisher) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case points := <-p.queue:
			p.publish(ctx, points)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, points []Point) {
	// The worker context dies on shutdown; give the final publishes their
	// own short deadline so a drain still flushes.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if err := p.sink.Publish(ctx, points); err != nil {
		p.logger.Warn("metrics publish failed", "points", len(points), "error", err)
	}
}
