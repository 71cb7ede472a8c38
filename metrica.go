package mosapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DateFormat is the wire format for METRICA dates.
const DateFormat = "2006-01-02"

// Metrica exposes the v2/metrica resource family: daily domain-abuse
// reports and the index of available report dates.
//
// Report bodies can run to megabytes for large TLDs, so every request
// advertises gzip and relies on the Transport to decompress.
type Metrica struct {
	client *Client
}

// NewMetrica wraps an authenticated client.
func NewMetrica(client *Client) *Metrica {
	return &Metrica{client: client}
}

var gzipHeaders = map[string]string{"Accept-Encoding": "gzip, deflate"}

// Latest fetches the most recent METRICA report for a TLD. A 404 is a
// KindNotFound error: no report has ever been generated.
func (m *Metrica) Latest(ctx context.Context, tld string) (*MetricaReport, error) {
	resp, err := m.client.GetJSON(ctx, tld, "v2/metrica/domainList/latest", nil, gzipHeaders)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return parseMetricaReport(resp.Body, tld)
	case http.StatusNotFound:
		return nil, &Error{
			Kind:       KindNotFound,
			StatusCode: resp.StatusCode,
			Message:    "No METRICA report found for TLD: " + tld,
		}
	default:
		return nil, &Error{
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Unexpected response code: %d", resp.StatusCode),
		}
	}
}

// ForDate fetches the METRICA report generated on a specific day.
func (m *Metrica) ForDate(ctx context.Context, tld string, date time.Time) (*MetricaReport, error) {
	day := date.Format(DateFormat)
	resp, err := m.client.GetJSON(ctx, tld, "v2/metrica/domainList/"+day, nil, gzipHeaders)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return parseMetricaReport(resp.Body, tld)
	case http.StatusNotFound:
		return nil, &Error{
			Kind:       KindNotFound,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("No METRICA report found for TLD %s on %s", tld, day),
		}
	default:
		return nil, &Error{
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Unexpected response code: %d", resp.StatusCode),
		}
	}
}

// ListAvailable returns the index of report dates available for a TLD,
// optionally bounded by start and end (inclusive, nil = unbounded). A 400
// carries a MoSAPI error envelope; resultCode 2012 is a date-order
// violation and 2013/2014 are date-syntax violations.
func (m *Metrica) ListAvailable(ctx context.Context, tld string, start, end *time.Time) ([]DomainListEntry, error) {
	query := url.Values{}
	if start != nil {
		query.Set("startDate", start.Format(DateFormat))
	}
	if end != nil {
		query.Set("endDate", end.Format(DateFormat))
	}

	resp, err := m.client.GetJSON(ctx, tld, "v2/metrica/domainLists", query, gzipHeaders)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		var listing domainListsResponse
		if err := json.Unmarshal([]byte(resp.Body), &listing); err != nil {
			return nil, parseErr("domain list index for "+tld, err)
		}
		return listing.DomainLists, nil
	case http.StatusBadRequest:
		return nil, apiError(resp.StatusCode, resp.Body)
	default:
		return nil, &Error{
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Listing METRICA reports failed with status code %d", resp.StatusCode),
		}
	}
}

func parseMetricaReport(body, tld string) (*MetricaReport, error) {
	var report MetricaReport
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return nil, parseErr("METRICA report for "+tld, err)
	}
	return &report, nil
}
