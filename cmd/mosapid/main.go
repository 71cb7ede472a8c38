// Command mosapid runs the MoSAPI integration service: the action
// endpoints, the state poll loop and the METRICA ingest loop.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tldwatch/mosapi"
	"github.com/tldwatch/mosapi/internal/config"
	"github.com/tldwatch/mosapi/internal/mailer"
	"github.com/tldwatch/mosapi/internal/metrics"
	"github.com/tldwatch/mosapi/internal/secrets"
	"github.com/tldwatch/mosapi/internal/server"
	"github.com/tldwatch/mosapi/internal/service/alarm"
	"github.com/tldwatch/mosapi/internal/service/downtime"
	"github.com/tldwatch/mosapi/internal/service/ingest"
	"github.com/tldwatch/mosapi/internal/service/report"
	"github.com/tldwatch/mosapi/internal/service/state"
	"github.com/tldwatch/mosapi/internal/session"
	"github.com/tldwatch/mosapi/internal/storage"
	"github.com/tldwatch/mosapi/internal/telemetry"
	"github.com/tldwatch/mosapi/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("MOSAPI_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	logger.Info("mosapid starting", "version", version, "port", cfg.Port, "tlds", cfg.TLDs)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	db.RegisterPoolMetrics(telemetry.Meter("mosapi/db"))

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Session cookies are shared across replicas through Redis; without it
	// each process keeps its own sessions in memory.
	var cache mosapi.SessionCache
	if cfg.RedisURL != "" {
		redisCache, err := session.New(ctx, cfg.RedisURL, logger)
		if err != nil {
			return fmt.Errorf("session cache: %w", err)
		}
		defer func() { _ = redisCache.Close() }()
		cache = redisCache
	} else {
		logger.Info("session cache: in-memory (no REDIS_URL)")
		cache = mosapi.NewMemoryCache()
	}

	store, err := secretStore(cfg)
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	client, err := buildClient(ctx, cfg, store, cache, logger)
	if err != nil {
		return err
	}
	monitoring := mosapi.NewMonitoring(client)
	metrica := mosapi.NewMetrica(client)

	publisher := metrics.NewPublisher(
		metrics.NewOTelSink(telemetry.Meter("mosapi/monitoring")),
		cfg.MetricsWorkers, logger)
	publisher.Start(ctx)

	stateSvc := state.New(monitoring, cfg.TLDs, cfg.TLDWorkers, publisher, logger)
	alarmSvc := alarm.New(monitoring, cfg.TLDs, cfg.Services, cfg.TLDWorkers, logger)
	downtimeSvc := downtime.New(monitoring, cfg.TLDs, cfg.Services, cfg.TLDWorkers, logger)
	ingester := ingest.New(metrica, db, cfg.TLDs, logger)

	var reporter server.Reporter
	if cfg.AbuseEmailAddress != "" {
		reporter = report.New(db, buildMailer(cfg, logger), cfg.AbuseEmailAddress, logger)
	} else {
		logger.Info("abuse report: disabled (no MOSAPI_ABUSE_EMAIL_ADDRESS)")
	}

	srv := server.New(server.Config{
		State:        stateSvc,
		Alarm:        alarmSvc,
		Downtime:     downtimeSvc,
		Metrica:      metrica,
		Ingester:     ingester,
		Reporter:     reporter,
		Pinger:       db,
		Logger:       logger,
		TLDs:         cfg.TLDs,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Version:      version,
	})

	go statePollLoop(ctx, stateSvc, cfg.StatePollInterval, logger)
	go ingestLoop(ctx, ingester, reporter, cfg.TLDs, cfg.IngestInterval, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: flush queued metric points first, then stop
	// accepting HTTP requests and drain in-flight handlers.
	logger.Info("mosapid shutting down")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	publisher.Drain(drainCtx)
	drainCancel()

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	return nil
}

// secretStore picks Vault when VAULT_ADDR is configured, the process
// environment otherwise.
func secretStore(cfg config.Config) (secrets.Store, error) {
	if cfg.VaultAddr != "" {
		return secrets.NewVaultStore(cfg.VaultAddr, cfg.VaultToken, cfg.VaultMount)
	}
	return secrets.NewEnvStore(os.LookupEnv), nil
}

// buildClient assembles the mTLS transport and the authenticated client
// from the secret store.
func buildClient(ctx context.Context, cfg config.Config, store secrets.Store, cache mosapi.SessionCache, logger *slog.Logger) (*mosapi.Client, error) {
	certPEM, err := store.Secret(ctx, secrets.TLSCertSecret(cfg.Environment))
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	keyPEM, err := store.Secret(ctx, secrets.TLSKeySecret(cfg.Environment))
	if err != nil {
		return nil, fmt.Errorf("load client key: %w", err)
	}
	transport, err := mosapi.NewTransport([]byte(certPEM), []byte(keyPEM))
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	client, err := mosapi.NewClient(mosapi.Config{
		BaseURL:     cfg.MosAPIURL,
		EntityType:  cfg.EntityType,
		Credentials: secrets.Credentials{Store: store},
		Cache:       cache,
		Transport:   transport,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	return client, nil
}

func buildMailer(cfg config.Config, logger *slog.Logger) mailer.Mailer {
	if cfg.PostmarkToken != "" && cfg.ReportFrom != "" {
		m, err := mailer.NewPostmark(cfg.PostmarkToken, cfg.ReportFrom)
		if err == nil {
			return m
		}
		logger.Warn("postmark mailer unavailable, falling back to noop", "error", err)
	}
	return &mailer.Noop{Logger: logger}
}

// statePollLoop refreshes service state summaries on a fixed interval;
// each pass publishes the mapped gauge points.
func statePollLoop(ctx context.Context, svc *state.Service, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summaries := svc.Summaries(ctx)
			logger.Debug("state poll complete", "tlds", len(summaries))
		}
	}
}

// ingestLoop pulls unseen METRICA reports and then publishes the abuse
// report, on a fixed interval.
func ingestLoop(ctx context.Context, ingester *ingest.Service, reporter server.Reporter, tlds []string, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ingester.Run(ctx); err != nil {
				logger.Error("metrica ingestion failed", "error", err)
			}
			if reporter != nil {
				if err := reporter.Publish(ctx, tlds); err != nil {
					logger.Error("abuse report publish failed", "error", err)
				}
			}
		}
	}
}
