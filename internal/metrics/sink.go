package metrics

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// maxBatchSize caps one Publish call to the exporter. The upstream
// time-series API rejects larger writes, so oversized batches are chunked.
const maxBatchSize = 195

// OTelSink records points through an OpenTelemetry meter, one Float64
// gauge per metric name with the point labels as attributes.
type OTelSink struct {
	meter metric.Meter

	mu     sync.Mutex
	gauges map[string]metric.Float64Gauge
}

// NewOTelSink builds a sink over the given meter.
func NewOTelSink(meter metric.Meter) *OTelSink {
	return &OTelSink{
		meter:  meter,
		gauges: make(map[string]metric.Float64Gauge),
	}
}

// Publish records every point, chunked at the batch cap.
func (s *OTelSink) Publish(ctx context.Context, points []Point) error {
	for len(points) > 0 {
		batch := points
		if len(batch) > maxBatchSize {
			batch = points[:maxBatchSize]
		}
		points = points[len(batch):]

		for _, p := range batch {
			gauge, err := s.gauge(p.Name)
			if err != nil {
				return err
			}
			attrs := make([]attribute.KeyValue, 0, len(p.Labels))
			for k, v := range p.Labels {
				attrs = append(attrs, attribute.String(k, v))
			}
			gauge.Record(ctx, p.Value, metric.WithAttributes(attrs...))
		}
	}
	return nil
}

func (s *OTelSink) gauge(name string) (metric.Float64Gauge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.gauges[name]; ok {
		return g, nil
	}
	g, err := s.meter.Float64Gauge(name)
	if err != nil {
		return nil, fmt.Errorf("metrics: create gauge %s: %w", name, err)
	}
	s.gauges[name] = g
	return g, nil
}
