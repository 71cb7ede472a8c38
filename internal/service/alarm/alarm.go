// Package alarm aggregates per-service alarm state across all configured
// TLDs and services.
package alarm

import (
	"context"
	"log/slog"

	"github.com/tldwatch/mosapi"
	"github.com/tldwatch/mosapi/internal/pool"
)

// StatusError marks a (tld, service) pair whose alarm state could not be
// fetched.
const StatusError = "ERROR"

// Fetcher is the slice of the MoSAPI client this service needs.
// *mosapi.Monitoring satisfies it.
type Fetcher interface {
	Alarmed(ctx context.Context, tld, service string) (*mosapi.ServiceAlarm, error)
}

// Status is the alarm state of one service of one TLD.
type Status struct {
	Tld          string `json:"tld"`
	Service      string `json:"service"`
	Status       string `json:"status"` // Yes, No, Disabled or ERROR.
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Service fans alarm checks across TLDs. Only the TLD axis is parallel;
// services are probed sequentially inside one worker slot, so the session
// budget holds regardless of how many services are configured.
type Service struct {
	fetcher  Fetcher
	tlds     []string
	services []string
	workers  int64
	logger   *slog.Logger
}

// New creates the alarm service.
func New(fetcher Fetcher, tlds, services []string, workers int, logger *slog.Logger) *Service {
	return &Service{
		fetcher:  fetcher,
		tlds:     tlds,
		services: services,
		workers:  int64(workers),
		logger:   logger,
	}
}

// CheckAll probes every (tld, service) pair. The result always has
// len(tlds)×len(services) entries ordered by TLD input order then service
// input order; failures are recorded in place, never propagated.
func (s *Service) CheckAll(ctx context.Context) []Status {
	perTLD := pool.Map(ctx, s.workers, len(s.tlds), func(ctx context.Context, i int) ([]Status, error) {
		return s.checkTLD(ctx, s.tlds[i]), nil
	})

	out := make([]Status, 0, len(s.tlds)*len(s.services))
	for i, r := range perTLD {
		if r.Err != nil {
			// Cancelled before the slot started: fill its services.
			for _, service := range s.services {
				out = append(out, Status{
					Tld: s.tlds[i], Service: service,
					Status: StatusError, ErrorMessage: r.Err.Error(),
				})
			}
			continue
		}
		out = append(out, r.Value...)
	}
	return out
}

func (s *Service) checkTLD(ctx context.Context, tld string) []Status {
	statuses := make([]Status, 0, len(s.services))
	for _, service := range s.services {
		alarm, err := s.fetcher.Alarmed(ctx, tld, service)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to fetch alarm state",
				"tld", tld, "service", service, "error", err)
			statuses = append(statuses, Status{
				Tld: tld, Service: service,
				Status: StatusError, ErrorMessage: err.Error(),
			})
			continue
		}
		statuses = append(statuses, Status{Tld: tld, Service: service, Status: alarm.Alarmed})
	}
	return statuses
}
