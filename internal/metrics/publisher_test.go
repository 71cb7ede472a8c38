package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tldwatch/mosapi/internal/testutil"
)

// captureSink records every published point.
type captureSink struct {
	mu     sync.Mutex
	points []Point
	block  chan struct{} // non-nil: Publish waits until closed
}

func (s *captureSink) Publish(_ context.Context, points []Point) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, points...)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points)
}

func TestPublisherDeliversBatches(t *testing.T) {
	sink := &captureSink{}
	pub := NewPublisher(sink, 2, testutil.TestLogger())
	pub.Start(context.Background())

	for range 10 {
		pub.Enqueue([]Point{{Name: MetricTLDStatus, Value: 1}})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pub.Drain(ctx)

	assert.Equal(t, 10, sink.count())
	assert.Zero(t, pub.Dropped())
}

func TestPublisherEnqueueNeverBlocks(t *testing.T) {
	sink := &captureSink{block: make(chan struct{})}
	pub := NewPublisher(sink, 1, testutil.TestLogger())
	pub.Start(context.Background())

	// Flood far past capacity while the sink is stuck; Enqueue must
	// return promptly every time.
	done := make(chan struct{})
	go func() {
		for i := range 1000 {
			pub.Enqueue([]Point{{Name: MetricTLDStatus, Value: float64(i)}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked")
	}

	require.Positive(t, pub.Dropped(), "overflow must drop the oldest batches")

	close(sink.block)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pub.Drain(ctx)
}

func TestPublisherIgnoresEmptyBatch(t *testing.T) {
	sink := &captureSink{}
	pub := NewPublisher(sink, 1, testutil.TestLogger())
	pub.Start(context.Background())

	pub.Enqueue(nil)
	pub.Enqueue([]Point{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pub.Drain(ctx)

	assert.Zero(t, sink.count())
}
