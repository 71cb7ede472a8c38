package mosapi

// Entity types accepted in MoSAPI URL paths.
const (
	EntityTypeRegistry  = "ry"
	EntityTypeRegistrar = "rr"
)

// Threat types reported by Domain METRICA.
const (
	ThreatTypeSpam     = "spam"
	ThreatTypePhishing = "phishing"
	ThreatTypeBotnetCC = "botnetCc"
	ThreatTypeMalware  = "malware"
)

// TLDServiceState is the aggregate monitoring state of one TLD, as
// returned by GET v2/monitoring/state.
type TLDServiceState struct {
	Version               int                      `json:"version"`
	LastUpdateAPIDatabase int64                    `json:"lastUpdateApiDatabase"`
	TLD                   string                   `json:"tld"`
	Status                string                   `json:"status"`
	TestedServices        map[string]ServiceStatus `json:"testedServices"`
}

// ServiceStatus is the monitoring state of a single service within a TLD.
// EmergencyThreshold is the percentage of the contractual downtime budget
// consumed in the rolling window, in [0,100].
type ServiceStatus struct {
	Status             string            `json:"status"`
	EmergencyThreshold float64           `json:"emergencyThreshold"`
	Incidents          []IncidentSummary `json:"incidents"`
}

// IncidentSummary describes one monitoring incident. EndTime is nil while
// the incident is still active.
type IncidentSummary struct {
	IncidentID    string `json:"incidentID"`
	StartTime     int64  `json:"startTime"`
	FalsePositive bool   `json:"falsePositive"`
	State         string `json:"state"`
	EndTime       *int64 `json:"endTime,omitempty"`
}

// Incident states reported by MoSAPI.
const (
	IncidentStateActive   = "Active"
	IncidentStateResolved = "Resolved"
)

// ServiceAlarm is the alarm state of one service, as returned by
// GET v2/monitoring/<service>/alarmed. Alarmed is "Yes", "No" or
// "Disabled".
type ServiceAlarm struct {
	Version               int    `json:"version"`
	LastUpdateAPIDatabase int64  `json:"lastUpdateApiDatabase"`
	Alarmed               string `json:"alarmed"`
}

// Alarm states.
const (
	AlarmedYes      = "Yes"
	AlarmedNo       = "No"
	AlarmedDisabled = "Disabled"
)

// ServiceDowntime is the rolling-week downtime of one service in minutes,
// as returned by GET v2/monitoring/<service>/downtime. A 404 from that
// endpoint materialises as the sentinel
// {Version: 2, Downtime: 0, DisabledMonitoring: true}.
type ServiceDowntime struct {
	Version               int   `json:"version"`
	LastUpdateAPIDatabase int64 `json:"lastUpdateApiDatabase"`
	Downtime              int   `json:"downtime"`
	DisabledMonitoring    bool  `json:"disabledMonitoring,omitempty"`
}

// MetricaReport is one daily Domain METRICA abuse report.
type MetricaReport struct {
	Version            int          `json:"version"`
	TLD                string       `json:"tld"`
	DomainListDate     string       `json:"domainListDate"`
	UniqueAbuseDomains int          `json:"uniqueAbuseDomains"`
	DomainListData     []ThreatData `json:"domainListData"`
}

// ThreatData is the per-threat-type section of a METRICA report. A Count
// of -1 means the threat type is not monitored. Domains may name only a
// subset of Count.
type ThreatData struct {
	ThreatType string   `json:"threatType"`
	Count      int      `json:"count"`
	Domains    []string `json:"domains"`
}

// DomainListEntry is one available report in the response of
// GET v2/metrica/domainLists.
type DomainListEntry struct {
	DomainListDate           string `json:"domainListDate"`
	DomainListGenerationDate string `json:"domainListGenerationDate,omitempty"`
}

// domainListsResponse is the envelope of GET v2/metrica/domainLists.
type domainListsResponse struct {
	Version     int               `json:"version"`
	DomainLists []DomainListEntry `json:"domainLists"`
}
