package mosapi

import (
	"context"
	"encoding/json"
	"net/http"
)

// Monitoring exposes the v2/monitoring resource family: per-TLD aggregate
// state plus per-service alarm and downtime figures.
type Monitoring struct {
	client *Client
}

// NewMonitoring wraps an authenticated client.
func NewMonitoring(client *Client) *Monitoring {
	return &Monitoring{client: client}
}

// State fetches the aggregate monitoring state of one TLD.
func (m *Monitoring) State(ctx context.Context, tld string) (*TLDServiceState, error) {
	resp, err := m.client.GetJSON(ctx, tld, "v2/monitoring/state", nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, resp.Body)
	}
	var state TLDServiceState
	if err := json.Unmarshal([]byte(resp.Body), &state); err != nil {
		return nil, parseErr("monitoring state for "+tld, err)
	}
	return &state, nil
}

// Downtime fetches the rolling-week downtime of one service. A 404 means
// ICANN is not monitoring the service for this TLD and yields the
// disabled-monitoring sentinel rather than an error.
func (m *Monitoring) Downtime(ctx context.Context, tld, service string) (*ServiceDowntime, error) {
	resp, err := m.client.GetJSON(ctx, tld, "v2/monitoring/"+service+"/downtime", nil, nil)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		var downtime ServiceDowntime
		if err := json.Unmarshal([]byte(resp.Body), &downtime); err != nil {
			return nil, parseErr("downtime for "+tld+"/"+service, err)
		}
		return &downtime, nil
	case http.StatusNotFound:
		return &ServiceDowntime{Version: 2, Downtime: 0, DisabledMonitoring: true}, nil
	default:
		return nil, apiError(resp.StatusCode, resp.Body)
	}
}

// Alarmed fetches the alarm state of one service. A 404 materialises as
// Alarmed: "Disabled", mirroring the downtime sentinel.
func (m *Monitoring) Alarmed(ctx context.Context, tld, service string) (*ServiceAlarm, error) {
	resp, err := m.client.GetJSON(ctx, tld, "v2/monitoring/"+service+"/alarmed", nil, nil)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		var alarm ServiceAlarm
		if err := json.Unmarshal([]byte(resp.Body), &alarm); err != nil {
			return nil, parseErr("alarm state for "+tld+"/"+service, err)
		}
		return &alarm, nil
	case http.StatusNotFound:
		return &ServiceAlarm{Version: 2, Alarmed: AlarmedDisabled}, nil
	default:
		return nil, apiError(resp.StatusCode, resp.Body)
	}
}
