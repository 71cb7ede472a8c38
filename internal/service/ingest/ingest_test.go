package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tldwatch/mosapi"
	"github.com/tldwatch/mosapi/internal/storage"
	"github.com/tldwatch/mosapi/internal/testutil"
)

type fakeSource struct {
	reports map[string]*mosapi.MetricaReport // keyed by "tld/YYYY-MM-DD"
	latest  map[string]string                // tld -> date of the latest report

	listErr  error
	fetched  []string // request log, "tld/date" or "tld/latest"
	listCall struct {
		start, end *time.Time
	}
}

func (f *fakeSource) Latest(_ context.Context, tld string) (*mosapi.MetricaReport, error) {
	f.fetched = append(f.fetched, tld+"/latest")
	date, ok := f.latest[tld]
	if !ok {
		return nil, &mosapi.Error{Kind: mosapi.KindNotFound, Message: "No METRICA report found for TLD: " + tld}
	}
	return f.reports[tld+"/"+date], nil
}

func (f *fakeSource) ForDate(_ context.Context, tld string, date time.Time) (*mosapi.MetricaReport, error) {
	key := tld + "/" + date.Format(mosapi.DateFormat)
	f.fetched = append(f.fetched, key)
	report, ok := f.reports[key]
	if !ok {
		return nil, &mosapi.Error{Kind: mosapi.KindNotFound, Message: "no report"}
	}
	return report, nil
}

func (f *fakeSource) ListAvailable(_ context.Context, tld string, start, end *time.Time) ([]mosapi.DomainListEntry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.listCall.start, f.listCall.end = start, end
	var entries []mosapi.DomainListEntry
	for d := *start; !d.After(*end); d = d.AddDate(0, 0, 1) {
		if _, ok := f.reports[tld+"/"+d.Format(mosapi.DateFormat)]; ok {
			entries = append(entries, mosapi.DomainListEntry{DomainListDate: d.Format(mosapi.DateFormat)})
		}
	}
	return entries, nil
}

// fakeStore keeps threat matches in memory with the same
// delete-then-insert semantics as the real store.
type fakeStore struct {
	rows       map[string][]storage.ThreatMatch // keyed by "tld/YYYY-MM-DD"
	replaceErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string][]storage.ThreatMatch)}
}

func (f *fakeStore) LatestCheckDate(_ context.Context, tld string) (time.Time, error) {
	var maxDate time.Time
	found := false
	for _, rows := range f.rows {
		if len(rows) == 0 || rows[0].Tld != tld {
			continue
		}
		if rows[0].CheckDate.After(maxDate) {
			maxDate = rows[0].CheckDate
			found = true
		}
	}
	if !found {
		return time.Time{}, storage.ErrNotFound
	}
	return maxDate, nil
}

func (f *fakeStore) ReplaceThreatMatches(_ context.Context, tld string, checkDate time.Time, rows []storage.ThreatMatch) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.rows[tld+"/"+checkDate.Format(mosapi.DateFormat)] = rows
	return nil
}

func report(tld, date string, threats ...mosapi.ThreatData) *mosapi.MetricaReport {
	return &mosapi.MetricaReport{
		Version:        1,
		TLD:            tld,
		DomainListDate: date,
		DomainListData: threats,
	}
}

func fixedNow(s *Service, date string) {
	d, err := time.Parse(mosapi.DateFormat, date)
	if err != nil {
		panic(err)
	}
	s.now = func() time.Time { return d }
}

func TestRunColdStartIngestsLatest(t *testing.T) {
	source := &fakeSource{
		reports: map[string]*mosapi.MetricaReport{
			"test/2025-01-02": report("test", "2025-01-02",
				mosapi.ThreatData{ThreatType: "malware", Count: 2, Domains: []string{"a.test", "b.test"}}),
		},
		latest: map[string]string{"test": "2025-01-02"},
	}
	store := newFakeStore()
	svc := New(source, store, []string{"test"}, testutil.TestLogger())

	require.NoError(t, svc.Run(context.Background()))

	rows := store.rows["test/2025-01-02"]
	require.Len(t, rows, 2)
	assert.Equal(t, "a.test", rows[0].DomainName)
	assert.Equal(t, "malware", rows[0].ThreatType)
	assert.Equal(t, "test", rows[0].Tld)
}

// Re-running for the same day yields the same row set: the second run
// finds the day already stored, computes an empty catch-up range, and
// leaves the rows untouched.
func TestRunIdempotentPerDay(t *testing.T) {
	source := &fakeSource{
		reports: map[string]*mosapi.MetricaReport{
			"test/2025-01-02": report("test", "2025-01-02",
				mosapi.ThreatData{ThreatType: "malware", Count: 2, Domains: []string{"a.test", "b.test"}}),
		},
		latest: map[string]string{"test": "2025-01-02"},
	}
	store := newFakeStore()
	svc := New(source, store, []string{"test"}, testutil.TestLogger())
	fixedNow(svc, "2025-01-02")

	require.NoError(t, svc.Run(context.Background()))
	require.NoError(t, svc.Run(context.Background()))

	rows := store.rows["test/2025-01-02"]
	require.Len(t, rows, 2)
	assert.Equal(t, "a.test", rows[0].DomainName)
	assert.Equal(t, "b.test", rows[1].DomainName)
}

func TestRunCatchesUpMissingDates(t *testing.T) {
	source := &fakeSource{
		reports: map[string]*mosapi.MetricaReport{
			"test/2025-01-03": report("test", "2025-01-03",
				mosapi.ThreatData{ThreatType: "phishing", Count: 1, Domains: []string{"p.test"}}),
			// 2025-01-04 was never published.
			"test/2025-01-05": report("test", "2025-01-05",
				mosapi.ThreatData{ThreatType: "spam", Count: 1, Domains: []string{"s.test"}}),
		},
	}
	store := newFakeStore()
	// Already ingested through 2025-01-02.
	store.rows["test/2025-01-02"] = []storage.ThreatMatch{{
		Tld: "test", DomainName: "old.test", ThreatType: "malware",
		CheckDate: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	}}

	svc := New(source, store, []string{"test"}, testutil.TestLogger())
	fixedNow(svc, "2025-01-05")

	require.NoError(t, svc.Run(context.Background()))

	assert.Equal(t, "2025-01-03", source.listCall.start.Format(mosapi.DateFormat), "start = max+1d")
	assert.Equal(t, "2025-01-05", source.listCall.end.Format(mosapi.DateFormat), "end = today UTC")
	assert.Len(t, store.rows["test/2025-01-03"], 1)
	assert.Len(t, store.rows["test/2025-01-05"], 1)
	_, ok := store.rows["test/2025-01-04"]
	assert.False(t, ok, "unpublished day is not fabricated")
}

func TestRunUpToDateSkipsListing(t *testing.T) {
	source := &fakeSource{listErr: errors.New("listAvailable must not be called")}
	store := newFakeStore()
	store.rows["test/2025-01-05"] = []storage.ThreatMatch{{
		Tld: "test", DomainName: "d.test", ThreatType: "spam",
		CheckDate: time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC),
	}}

	svc := New(source, store, []string{"test"}, testutil.TestLogger())
	fixedNow(svc, "2025-01-05")

	require.NoError(t, svc.Run(context.Background()))
}

func TestRunSkipsHeadlineOnlyThreats(t *testing.T) {
	source := &fakeSource{
		reports: map[string]*mosapi.MetricaReport{
			"test/2025-01-02": report("test", "2025-01-02",
				mosapi.ThreatData{ThreatType: "spam", Count: -1, Domains: nil},
				mosapi.ThreatData{ThreatType: "botnetCc", Count: 900, Domains: []string{}},
				mosapi.ThreatData{ThreatType: "malware", Count: 1, Domains: []string{"m.test"}}),
		},
		latest: map[string]string{"test": "2025-01-02"},
	}
	store := newFakeStore()
	svc := New(source, store, []string{"test"}, testutil.TestLogger())

	require.NoError(t, svc.Run(context.Background()))

	rows := store.rows["test/2025-01-02"]
	require.Len(t, rows, 1, "only threats with named domains produce rows")
	assert.Equal(t, "malware", rows[0].ThreatType)
}

func TestRunNoReportEverIsCleanNoop(t *testing.T) {
	source := &fakeSource{latest: map[string]string{}}
	store := newFakeStore()
	svc := New(source, store, []string{"brand-new"}, testutil.TestLogger())

	require.NoError(t, svc.Run(context.Background()))
	assert.Empty(t, store.rows)
}

func TestRunIsolatesTLDFailures(t *testing.T) {
	source := &fakeSource{
		reports: map[string]*mosapi.MetricaReport{
			"good/2025-01-02": report("good", "2025-01-02",
				mosapi.ThreatData{ThreatType: "malware", Count: 1, Domains: []string{"g.good"}}),
			"bad/2025-01-02": report("bad", "not-a-date"),
		},
		latest: map[string]string{"good": "2025-01-02", "bad": "2025-01-02"},
	}
	store := newFakeStore()
	svc := New(source, store, []string{"bad", "good"}, testutil.TestLogger())

	err := svc.Run(context.Background())
	require.Error(t, err, "the bad TLD's failure is reported")
	assert.Contains(t, err.Error(), "ingest bad")

	// The good TLD was still processed.
	assert.Len(t, store.rows["good/2025-01-02"], 1)
}

func TestRunAbortOnPersistFailure(t *testing.T) {
	source := &fakeSource{
		reports: map[string]*mosapi.MetricaReport{
			"test/2025-01-02": report("test", "2025-01-02",
				mosapi.ThreatData{ThreatType: "malware", Count: 1, Domains: []string{"a.test"}}),
		},
		latest: map[string]string{"test": "2025-01-02"},
	}
	store := newFakeStore()
	store.replaceErr = fmt.Errorf("connection reset")
	svc := New(source, store, []string{"test"}, testutil.TestLogger())

	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
