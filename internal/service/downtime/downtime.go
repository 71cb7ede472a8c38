// Package downtime aggregates rolling-week downtime figures per TLD and
// service.
package downtime

import (
	"context"
	"log/slog"

	"github.com/tldwatch/mosapi"
	"github.com/tldwatch/mosapi/internal/pool"
)

// Fetcher is the slice of the MoSAPI client this service needs.
// *mosapi.Monitoring satisfies it.
type Fetcher interface {
	Downtime(ctx context.Context, tld, service string) (*mosapi.ServiceDowntime, error)
}

// TldServices maps service name to its downtime figure for one TLD. A
// service whose fetch failed is absent from the map.
type TldServices map[string]mosapi.ServiceDowntime

// AllTlds maps TLD to its per-service downtime. A TLD whose every service
// failed still appears, with an empty map.
type AllTlds map[string]TldServices

// Service fans downtime fetches across TLDs; services are probed
// sequentially inside each worker slot.
type Service struct {
	fetcher  Fetcher
	tlds     []string
	services []string
	workers  int64
	logger   *slog.Logger
}

// New creates the downtime service.
func New(fetcher Fetcher, tlds, services []string, workers int, logger *slog.Logger) *Service {
	return &Service{
		fetcher:  fetcher,
		tlds:     tlds,
		services: services,
		workers:  int64(workers),
		logger:   logger,
	}
}

// ForTld fetches every configured service's downtime for one TLD. Failed
// services are logged and omitted; a 404 is not a failure — the client
// already turned it into the disabled-monitoring sentinel.
func (s *Service) ForTld(ctx context.Context, tld string) TldServices {
	out := make(TldServices, len(s.services))
	for _, service := range s.services {
		downtime, err := s.fetcher.Downtime(ctx, tld, service)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to fetch downtime",
				"tld", tld, "service", service, "error", err)
			continue
		}
		out[service] = *downtime
	}
	return out
}

// ForAllTlds fetches downtime for every configured TLD in parallel.
func (s *Service) ForAllTlds(ctx context.Context) AllTlds {
	results := pool.Map(ctx, s.workers, len(s.tlds), func(ctx context.Context, i int) (TldServices, error) {
		return s.ForTld(ctx, s.tlds[i]), nil
	})

	out := make(AllTlds, len(s.tlds))
	for i, r := range results {
		if r.Err != nil {
			s.logger.WarnContext(ctx, "downtime fan-out slot cancelled",
				"tld", s.tlds[i], "error", r.Err)
			out[s.tlds[i]] = TldServices{}
			continue
		}
		out[s.tlds[i]] = r.Value
	}
	return out
}
