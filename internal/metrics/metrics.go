// Package metrics converts MoSAPI monitoring state into time-series
// points and publishes them without ever blocking the request path.
package metrics

import (
	"context"
	"strings"
	"time"

	"github.com/tldwatch/mosapi"
)

// Metric names.
const (
	MetricTLDStatus      = "tld_status"
	MetricServiceStatus  = "service_status"
	MetricEmergencyUsage = "emergency_usage"
)

// Point is one time-series sample.
type Point struct {
	Name   string
	Labels map[string]string
	Value  float64
	Time   time.Time
}

// Sink delivers points to a metrics backend.
type Sink interface {
	Publish(ctx context.Context, points []Point) error
}

// ParseTLDStatus maps an aggregate TLD status string to its metric value:
// DOWN is 0, the UP-INCONCLUSIVE family is 2, everything else (including
// plain UP) is 1.
func ParseTLDStatus(status string) float64 {
	s := strings.ToUpper(status)
	switch {
	case s == "DOWN":
		return 0
	case strings.HasPrefix(s, "UP-INCONCLUSIVE"):
		return 2
	default:
		return 1
	}
}

// ParseServiceStatus maps a per-service status string. DISABLED joins the
// inconclusive bucket: the service is not being measured, which the
// dashboards render the same way.
func ParseServiceStatus(status string) float64 {
	s := strings.ToUpper(status)
	switch {
	case strings.HasPrefix(s, "UP-INCONCLUSIVE"):
		return 2
	case s == "DOWN":
		return 0
	case s == "DISABLED":
		return 2
	default:
		return 1
	}
}

// StatePoints converts one TLD's monitoring state into its point vector:
// a tld_status sample plus service_status and emergency_usage samples for
// every tested service.
func StatePoints(state *mosapi.TLDServiceState, now time.Time) []Point {
	points := make([]Point, 0, 1+2*len(state.TestedServices))
	points = append(points, Point{
		Name:   MetricTLDStatus,
		Labels: map[string]string{"tld": state.TLD},
		Value:  ParseTLDStatus(state.Status),
		Time:   now,
	})
	for service, status := range state.TestedServices {
		labels := map[string]string{"tld": state.TLD, "service_type": service}
		points = append(points,
			Point{
				Name:   MetricServiceStatus,
				Labels: labels,
				Value:  ParseServiceStatus(status.Status),
				Time:   now,
			},
			Point{
				Name:   MetricEmergencyUsage,
				Labels: labels,
				Value:  status.EmergencyThreshold,
				Time:   now,
			},
		)
	}
	return points
}
