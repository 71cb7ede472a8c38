// Package ingest keeps the local threat-match store caught up with the
// daily METRICA reports MoSAPI publishes per TLD.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tldwatch/mosapi"
	"github.com/tldwatch/mosapi/internal/storage"
)

// Source is the slice of the MoSAPI client the ingester needs.
// *mosapi.Metrica satisfies it.
type Source interface {
	Latest(ctx context.Context, tld string) (*mosapi.MetricaReport, error)
	ForDate(ctx context.Context, tld string, date time.Time) (*mosapi.MetricaReport, error)
	ListAvailable(ctx context.Context, tld string, start, end *time.Time) ([]mosapi.DomainListEntry, error)
}

// Store is the persistence slice the ingester needs. *storage.DB
// satisfies it.
type Store interface {
	LatestCheckDate(ctx context.Context, tld string) (time.Time, error)
	ReplaceThreatMatches(ctx context.Context, tld string, checkDate time.Time, rows []storage.ThreatMatch) error
}

// Service is the METRICA catch-up ingester.
type Service struct {
	source Source
	store  Store
	tlds   []string
	logger *slog.Logger

	// now is injectable for tests; defaults to time.Now.
	now func() time.Time
}

// New creates the ingester for the configured TLD set.
func New(source Source, store Store, tlds []string, logger *slog.Logger) *Service {
	return &Service{
		source: source,
		store:  store,
		tlds:   tlds,
		logger: logger,
		now:    time.Now,
	}
}

// Run catches every configured TLD up to today. TLDs are processed
// sequentially and independently: one TLD's failure aborts its remaining
// dates but never touches the others. The returned error joins the
// per-TLD failures, if any.
func (s *Service) Run(ctx context.Context) error {
	var errs []error
	for _, tld := range s.tlds {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.RunTLD(ctx, tld); err != nil {
			s.logger.ErrorContext(ctx, "metrica ingestion failed", "tld", tld, "error", err)
			errs = append(errs, fmt.Errorf("ingest %s: %w", tld, err))
		}
	}
	return errors.Join(errs...)
}

// RunTLD catches a single TLD up: find the newest stored check date,
// fetch every report published since, and persist each one. A TLD that
// has never been ingested starts from the latest report.
func (s *Service) RunTLD(ctx context.Context, tld string) error {
	maxDate, err := s.store.LatestCheckDate(ctx, tld)
	if errors.Is(err, storage.ErrNotFound) {
		return s.ingestLatest(ctx, tld)
	}
	if err != nil {
		return err
	}

	start := maxDate.AddDate(0, 0, 1)
	end := s.today()
	if start.After(end) {
		s.logger.InfoContext(ctx, "metrica reports already up to date", "tld", tld)
		return nil
	}

	entries, err := s.source.ListAvailable(ctx, tld, &start, &end)
	if err != nil {
		return fmt.Errorf("list available reports: %w", err)
	}
	s.logger.InfoContext(ctx, "catching up metrica reports",
		"tld", tld, "from", start.Format(mosapi.DateFormat),
		"to", end.Format(mosapi.DateFormat), "available", len(entries))

	for _, entry := range entries {
		date, err := time.Parse(mosapi.DateFormat, entry.DomainListDate)
		if err != nil {
			return fmt.Errorf("parse listed date %q: %w", entry.DomainListDate, err)
		}
		report, err := s.source.ForDate(ctx, tld, date)
		if err != nil {
			return fmt.Errorf("fetch report for %s: %w", entry.DomainListDate, err)
		}
		if err := s.process(ctx, tld, report); err != nil {
			return err
		}
	}
	return nil
}

// ingestLatest seeds a never-ingested TLD from its most recent report.
// No report at all is a clean no-op: a new TLD may simply predate its
// first METRICA cycle.
func (s *Service) ingestLatest(ctx context.Context, tld string) error {
	report, err := s.source.Latest(ctx, tld)
	if mosapi.IsNotFound(err) {
		s.logger.InfoContext(ctx, "no metrica report published yet", "tld", tld)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch latest report: %w", err)
	}
	return s.process(ctx, tld, report)
}

// process persists one report. The store replaces all rows of the
// (tld, checkDate) in a single transaction, which makes replaying a day
// idempotent.
func (s *Service) process(ctx context.Context, tld string, report *mosapi.MetricaReport) error {
	checkDate, err := time.Parse(mosapi.DateFormat, report.DomainListDate)
	if err != nil {
		return fmt.Errorf("parse domainListDate %q: %w", report.DomainListDate, err)
	}

	var rows []storage.ThreatMatch
	for _, threat := range report.DomainListData {
		if len(threat.Domains) == 0 {
			// Headline-only entries, including count == -1 (not monitored).
			s.logger.InfoContext(ctx, "threat type has no named domains, skipping",
				"tld", tld, "threat_type", threat.ThreatType, "count", threat.Count)
			continue
		}
		for _, domain := range threat.Domains {
			rows = append(rows, storage.ThreatMatch{
				ID:         uuid.New(),
				DomainName: domain,
				Tld:        tld,
				ThreatType: threat.ThreatType,
				CheckDate:  checkDate,
			})
		}
	}

	if err := s.store.ReplaceThreatMatches(ctx, tld, checkDate, rows); err != nil {
		return fmt.Errorf("persist report for %s: %w", report.DomainListDate, err)
	}
	s.logger.InfoContext(ctx, "ingested metrica report",
		"tld", tld, "check_date", report.DomainListDate, "rows", len(rows))
	return nil
}

// today is the current UTC day at midnight.
func (s *Service) today() time.Time {
	return s.now().UTC().Truncate(24 * time.Hour)
}
