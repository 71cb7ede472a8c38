// Package server exposes the MoSAPI action endpoints over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server is the mosapid HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Config holds all dependencies and settings for creating a Server.
// Optional fields (nil-safe): Ingester, Reporter, Pinger.
type Config struct {
	State    StateService
	Alarm    AlarmService
	Downtime DowntimeService
	Metrica  MetricaSource
	Ingester Ingester
	Reporter Reporter
	Pinger   Pinger
	Logger   *slog.Logger

	// TLDs handled by this deployment, forwarded to the report publisher.
	TLDs []string

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := &Handlers{
		state:    cfg.State,
		alarm:    cfg.Alarm,
		downtime: cfg.Downtime,
		metrica:  cfg.Metrica,
		ingester: cfg.Ingester,
		reporter: cfg.Reporter,
		pinger:   cfg.Pinger,
		tlds:     cfg.TLDs,
		logger:   cfg.Logger,
		version:  cfg.Version,
	}

	mux := http.NewServeMux()

	// Monitoring actions.
	mux.HandleFunc("GET /_dr/mosapi/checkServiceState", h.HandleCheckServiceState)
	mux.HandleFunc("GET /_dr/mosapi/checkalarm", h.HandleCheckAlarm)
	mux.HandleFunc("GET /_dr/mosapi/getServiceDowntime", h.HandleGetServiceDowntime)

	// METRICA actions.
	mux.HandleFunc("GET /_dr/mosapi/getMetricaReport", h.HandleGetMetricaReport)
	mux.HandleFunc("GET /_dr/mosapi/listMetricaReports", h.HandleListMetricaReports)

	// Task actions (cron-triggered).
	mux.HandleFunc("GET /_dr/task/ingestMosApiMetricaReport", h.HandleIngestTask)
	mux.HandleFunc("GET /_dr/task/publishMosApiReport", h.HandlePublishReportTask)

	// Probes.
	mux.HandleFunc("GET /mosapi/check", h.HandleCheck)
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first): logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
