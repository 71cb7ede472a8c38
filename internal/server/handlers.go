package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tldwatch/mosapi"
	"github.com/tldwatch/mosapi/internal/service/alarm"
	"github.com/tldwatch/mosapi/internal/service/downtime"
	"github.com/tldwatch/mosapi/internal/service/state"
)

// StateService produces per-TLD service state summaries.
type StateService interface {
	Summaries(ctx context.Context) []state.Summary
}

// AlarmService probes alarm state for every configured (tld, service) pair.
type AlarmService interface {
	CheckAll(ctx context.Context) []alarm.Status
}

// DowntimeService aggregates rolling-week downtime figures.
type DowntimeService interface {
	ForTld(ctx context.Context, tld string) downtime.TldServices
	ForAllTlds(ctx context.Context) downtime.AllTlds
}

// MetricaSource fetches METRICA domain-list reports. *mosapi.Metrica
// satisfies it.
type MetricaSource interface {
	Latest(ctx context.Context, tld string) (*mosapi.MetricaReport, error)
	ForDate(ctx context.Context, tld string, date time.Time) (*mosapi.MetricaReport, error)
	ListAvailable(ctx context.Context, tld string, start, end *time.Time) ([]mosapi.DomainListEntry, error)
}

// Ingester pulls unseen METRICA reports into storage.
type Ingester interface {
	Run(ctx context.Context) error
}

// Reporter mails the abuse report built from stored threat matches.
type Reporter interface {
	Publish(ctx context.Context, tlds []string) error
}

// Pinger reports backing-store liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	state    StateService
	alarm    AlarmService
	downtime DowntimeService
	metrica  MetricaSource
	ingester Ingester
	reporter Reporter
	pinger   Pinger
	tlds     []string
	logger   *slog.Logger
	version  string
}

// HandleCheckServiceState handles GET /_dr/mosapi/checkServiceState.
func (h *Handlers) HandleCheckServiceState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state.Summaries(r.Context()))
}

// HandleCheckAlarm handles GET /_dr/mosapi/checkalarm.
func (h *Handlers) HandleCheckAlarm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.alarm.CheckAll(r.Context()))
}

// HandleGetServiceDowntime handles GET /_dr/mosapi/getServiceDowntime.
// With ?tld= it returns one TLD's per-service map, otherwise all TLDs.
func (h *Handlers) HandleGetServiceDowntime(w http.ResponseWriter, r *http.Request) {
	if tld := r.URL.Query().Get("tld"); tld != "" {
		writeJSON(w, http.StatusOK, h.downtime.ForTld(r.Context(), tld))
		return
	}
	writeJSON(w, http.StatusOK, h.downtime.ForAllTlds(r.Context()))
}

// HandleGetMetricaReport handles GET /_dr/mosapi/getMetricaReport.
// ?tld= is required; ?date=YYYY-MM-DD selects a specific report, any
// other value falls back to the latest.
func (h *Handlers) HandleGetMetricaReport(w http.ResponseWriter, r *http.Request) {
	tld := r.URL.Query().Get("tld")
	if tld == "" {
		writeText(w, http.StatusBadRequest, "Missing mandatory parameter: tld")
		return
	}

	var (
		report *mosapi.MetricaReport
		err    error
	)
	if date, ok := parseDateParam(r, "date"); ok {
		report, err = h.metrica.ForDate(r.Context(), tld, date)
	} else {
		report, err = h.metrica.Latest(r.Context(), tld)
	}
	if err != nil {
		h.writeMosAPIError(w, r, err, "Error fetching METRICA report.")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleListMetricaReports handles GET /_dr/mosapi/listMetricaReports.
func (h *Handlers) HandleListMetricaReports(w http.ResponseWriter, r *http.Request) {
	tld := r.URL.Query().Get("tld")
	if tld == "" {
		writeText(w, http.StatusBadRequest, "Missing mandatory parameter: tld")
		return
	}

	var start, end *time.Time
	if d, ok := parseDateParam(r, "startDate"); ok {
		start = &d
	}
	if d, ok := parseDateParam(r, "endDate"); ok {
		end = &d
	}

	entries, err := h.metrica.ListAvailable(r.Context(), tld, start, end)
	if err != nil {
		h.writeMosAPIError(w, r, err, "Error listing METRICA reports.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"domainLists": entries})
}

// HandleIngestTask handles GET /_dr/task/ingestMosApiMetricaReport.
func (h *Handlers) HandleIngestTask(w http.ResponseWriter, r *http.Request) {
	if h.ingester == nil {
		writeText(w, http.StatusServiceUnavailable, "Ingestion is not configured.")
		return
	}
	if err := h.ingester.Run(r.Context()); err != nil {
		h.writeMosAPIError(w, r, err, "METRICA ingestion failed.")
		return
	}
	writeText(w, http.StatusOK, "OK")
}

// HandlePublishReportTask handles GET /_dr/task/publishMosApiReport.
func (h *Handlers) HandlePublishReportTask(w http.ResponseWriter, r *http.Request) {
	if h.reporter == nil {
		writeText(w, http.StatusServiceUnavailable, "Report publishing is not configured.")
		return
	}
	if err := h.reporter.Publish(r.Context(), h.tlds); err != nil {
		h.writeMosAPIError(w, r, err, "Abuse report publishing failed.")
		return
	}
	writeText(w, http.StatusOK, "OK")
}

// HandleCheck handles GET /mosapi/check, a plain liveness probe.
func (h *Handlers) HandleCheck(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "Hello from Registry Mosapi test check")
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, httpStatus, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// writeMosAPIError maps an upstream failure to a response. MoSAPI errors
// become 503 with a short fixed message; the detail stays in the log.
func (h *Handlers) writeMosAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	var mosErr *mosapi.Error
	if errors.As(err, &mosErr) {
		h.logger.ErrorContext(r.Context(), "mosapi request failed",
			"path", r.URL.Path,
			"kind", string(mosErr.Kind),
			"error", err)
		writeText(w, http.StatusServiceUnavailable, message)
		return
	}
	h.logger.ErrorContext(r.Context(), "action failed", "path", r.URL.Path, "error", err)
	writeText(w, http.StatusInternalServerError, message)
}

// parseDateParam reads an optional YYYY-MM-DD query parameter. A missing
// or malformed value is reported as absent.
func parseDateParam(r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, false
	}
	d, err := time.Parse(mosapi.DateFormat, raw)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}
