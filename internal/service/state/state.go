// Package state aggregates per-TLD monitoring state across the configured
// TLD set and feeds the metrics pipeline as a side effect.
package state

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/tldwatch/mosapi"
	"github.com/tldwatch/mosapi/internal/metrics"
	"github.com/tldwatch/mosapi/internal/pool"
)

// StatusError marks a TLD whose state could not be fetched.
const StatusError = "ERROR"

// Fetcher is the slice of the MoSAPI client this service needs.
// *mosapi.Monitoring satisfies it.
type Fetcher interface {
	State(ctx context.Context, tld string) (*mosapi.TLDServiceState, error)
}

// Summary is the per-TLD view handed to callers. ActiveIncidents is nil
// unless the TLD's aggregate status is Down — absent and empty are
// different answers, so the JSON omits the field when nil.
type Summary struct {
	Tld             string            `json:"tld"`
	Status          string            `json:"status"`
	ActiveIncidents []ActiveIncidents `json:"activeIncidents,omitempty"`
}

// ActiveIncidents lists the open incidents of one service within a Down TLD.
type ActiveIncidents struct {
	Service            string                   `json:"service"`
	EmergencyThreshold float64                  `json:"emergencyThreshold"`
	Incidents          []mosapi.IncidentSummary `json:"incidents"`
}

// Service fans a state fetch across all configured TLDs.
type Service struct {
	fetcher   Fetcher
	tlds      []string
	workers   int64
	publisher *metrics.Publisher // nil = metrics disabled
	logger    *slog.Logger
}

// New creates the state service. workers is the MoSAPI session budget and
// must not exceed the per-certificate cap.
func New(fetcher Fetcher, tlds []string, workers int, publisher *metrics.Publisher, logger *slog.Logger) *Service {
	return &Service{
		fetcher:   fetcher,
		tlds:      tlds,
		workers:   int64(workers),
		publisher: publisher,
		logger:    logger,
	}
}

// Summaries fetches every TLD's state in parallel. The result always has
// one entry per configured TLD in input order; a failed TLD carries the
// ERROR status instead of failing the batch.
func (s *Service) Summaries(ctx context.Context) []Summary {
	results := pool.Map(ctx, s.workers, len(s.tlds), func(ctx context.Context, i int) (*mosapi.TLDServiceState, error) {
		return s.fetcher.State(ctx, s.tlds[i])
	})

	summaries := make([]Summary, len(s.tlds))
	for i, r := range results {
		tld := s.tlds[i]
		if r.Err != nil {
			s.logger.WarnContext(ctx, "failed to fetch service state",
				"tld", tld, "error", r.Err)
			summaries[i] = Summary{Tld: tld, Status: StatusError}
			continue
		}
		summaries[i] = summarize(tld, r.Value)
		if s.publisher != nil {
			s.publisher.Enqueue(metrics.StatePoints(r.Value, time.Now().UTC()))
		}
	}
	return summaries
}

// summarize applies the Down transformation: only a Down TLD exposes its
// services' incident lists, and only services that actually have incidents.
func summarize(tld string, state *mosapi.TLDServiceState) Summary {
	summary := Summary{Tld: tld, Status: state.Status}
	if !strings.EqualFold(state.Status, "Down") {
		return summary
	}
	for service, status := range state.TestedServices {
		if len(status.Incidents) == 0 {
			continue
		}
		summary.ActiveIncidents = append(summary.ActiveIncidents, ActiveIncidents{
			Service:            service,
			EmergencyThreshold: status.EmergencyThreshold,
			Incidents:          status.Incidents,
		})
	}
	// Map iteration order is random; keep the output stable.
	sort.Slice(summary.ActiveIncidents, func(i, j int) bool {
		return summary.ActiveIncidents[i].Service < summary.ActiveIncidents[j].Service
	})
	return summary
}
