// Package report builds and mails the daily abuse report from stored
// METRICA threat matches.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/tldwatch/mosapi/internal/mailer"
	"github.com/tldwatch/mosapi/internal/storage"
)

// Subject is the fixed subject line of every abuse report email.
const Subject = "Daily MoSAPI Abuse Report"

// Store reads persisted threat matches.
type Store interface {
	LatestCheckDate(ctx context.Context, tld string) (time.Time, error)
	ThreatMatchesByDate(ctx context.Context, tld string, checkDate time.Time) ([]storage.ThreatMatch, error)
}

// Publisher assembles the latest stored matches per TLD into one HTML
// report and mails it to the configured abuse address.
type Publisher struct {
	store     Store
	mail      mailer.Mailer
	recipient string
	logger    *slog.Logger
}

func New(store Store, mail mailer.Mailer, recipient string, logger *slog.Logger) *Publisher {
	return &Publisher{store: store, mail: mail, recipient: recipient, logger: logger}
}

// Publish mails the report for the given TLDs. TLDs with no stored matches
// are skipped; if no TLD has anything to report, no email is sent.
func (p *Publisher) Publish(ctx context.Context, tlds []string) error {
	var sections []string
	for _, tld := range tlds {
		section, err := p.sectionFor(ctx, tld)
		if err != nil {
			return err
		}
		if section != "" {
			sections = append(sections, section)
		}
	}
	if len(sections) == 0 {
		p.logger.InfoContext(ctx, "no threat matches stored, skipping abuse report")
		return nil
	}

	var b strings.Builder
	b.WriteString("<h1>MoSAPI Abuse Report</h1>\n")
	b.WriteString(strings.Join(sections, "<hr>\n"))

	if err := p.mail.Send(ctx, Subject, b.String(), p.recipient); err != nil {
		return fmt.Errorf("report: publish: %w", err)
	}
	p.logger.InfoContext(ctx, "abuse report sent",
		"recipient", p.recipient,
		"tlds", len(sections))
	return nil
}

// sectionFor renders the report fragment for one TLD, or "" when the TLD
// has no stored matches at all.
func (p *Publisher) sectionFor(ctx context.Context, tld string) (string, error) {
	date, err := p.store.LatestCheckDate(ctx, tld)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("report: latest check date for %s: %w", tld, err)
	}
	matches, err := p.store.ThreatMatchesByDate(ctx, tld, date)
	if err != nil {
		return "", fmt.Errorf("report: matches for %s on %s: %w", tld, date.Format("2006-01-02"), err)
	}
	if len(matches) == 0 {
		return "", nil
	}

	byType := make(map[string][]string)
	for _, m := range matches {
		byType[m.ThreatType] = append(byType[m.ThreatType], m.DomainName)
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	var b strings.Builder
	fmt.Fprintf(&b, "<h2>Report for TLD: .%s (Date: %s)</h2>\n", tld, date.Format("2006-01-02"))
	for _, t := range types {
		domains := byType[t]
		sort.Strings(domains)
		fmt.Fprintf(&b, "<h3>Threat Type: %s (%d domains)</h3>\n<ul>\n", t, len(domains))
		for _, d := range domains {
			fmt.Fprintf(&b, "<li>%s</li>\n", obfuscate(d))
		}
		b.WriteString("</ul>\n")
	}
	return b.String(), nil
}

// obfuscate defangs a domain name so mail scanners do not treat the report
// as containing live links.
func obfuscate(domain string) string {
	return strings.ReplaceAll(domain, ".", "[.]")
}
