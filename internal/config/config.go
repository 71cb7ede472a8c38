// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// maxSessionWorkers is MoSAPI's concurrent-session cap per client
// certificate. The TLD worker pool must never exceed it.
const maxSessionWorkers = 4

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MoSAPI settings.
	MosAPIURL  string // Root URL, e.g. "https://mosapi.icann.org/mosapi/v1".
	EntityType string // "ry" for registries, "rr" for registrars.
	TLDs       []string
	Services   []string // Monitored service names, e.g. dns, rdds.

	// Worker pools.
	TLDWorkers     int // Parallel MoSAPI sessions; capped at 4 per certificate.
	MetricsWorkers int

	// Polling intervals.
	StatePollInterval time.Duration
	IngestInterval    time.Duration

	// Persistence and session cache.
	DatabaseURL string
	RedisURL    string

	// Secret store. Vault when VAULT_ADDR is set, environment otherwise.
	VaultAddr   string
	VaultToken  string
	VaultMount  string
	Environment string // Infix for TLS certificate secret names.

	// Abuse report mail.
	AbuseEmailAddress string
	PostmarkToken     string
	ReportFrom        string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// The legacy key pairs mosapiUrl/mosapiServiceUrl and
// entityType/mosapiEntityType are synonyms; the first non-empty spelling wins.
func Load() (Config, error) {
	cfg := Config{
		Port:              envInt("MOSAPI_PORT", 8080),
		ReadTimeout:       envDuration("MOSAPI_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:      envDuration("MOSAPI_WRITE_TIMEOUT", 30*time.Second),
		MosAPIURL:         envFirst("MOSAPI_URL", "MOSAPI_SERVICE_URL"),
		EntityType:        firstNonEmpty(envFirst("ENTITY_TYPE", "MOSAPI_ENTITY_TYPE"), "ry"),
		TLDs:              envStrSlice("MOSAPI_TLDS"),
		Services:          envStrSliceDefault("MOSAPI_SERVICES", []string{"dns", "rdds"}),
		TLDWorkers:        envInt("MOSAPI_TLD_THREAD_COUNT", maxSessionWorkers),
		MetricsWorkers:    envInt("MOSAPI_METRICS_THREAD_COUNT", 4),
		StatePollInterval: envDuration("MOSAPI_STATE_POLL_INTERVAL", 5*time.Minute),
		IngestInterval:    envDuration("MOSAPI_INGEST_INTERVAL", 24*time.Hour),
		DatabaseURL:       envStr("DATABASE_URL", ""),
		RedisURL:          envStr("REDIS_URL", ""),
		VaultAddr:         envStr("VAULT_ADDR", ""),
		VaultToken:        envStr("VAULT_TOKEN", ""),
		VaultMount:        envStr("VAULT_MOUNT", "secret"),
		Environment:       envStr("MOSAPI_ENVIRONMENT", ""),
		AbuseEmailAddress: envStr("MOSAPI_ABUSE_EMAIL_ADDRESS", ""),
		PostmarkToken:     envStr("POSTMARK_SERVER_TOKEN", ""),
		ReportFrom:        envStr("MOSAPI_REPORT_FROM", ""),
		OTELEndpoint:      envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:      envBool("OTEL_INSECURE", false),
		ServiceName:       envStr("OTEL_SERVICE_NAME", "mosapi"),
		LogLevel:          envStr("MOSAPI_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and bounds are honoured.
func (c Config) Validate() error {
	if c.MosAPIURL == "" {
		return fmt.Errorf("config: MOSAPI_URL is required")
	}
	if c.EntityType != "ry" && c.EntityType != "rr" {
		return fmt.Errorf("config: ENTITY_TYPE must be \"ry\" or \"rr\", got %q", c.EntityType)
	}
	if len(c.TLDs) == 0 {
		return fmt.Errorf("config: MOSAPI_TLDS is required")
	}
	if c.TLDWorkers < 1 || c.TLDWorkers > maxSessionWorkers {
		return fmt.Errorf("config: MOSAPI_TLD_THREAD_COUNT must be in [1,%d], got %d", maxSessionWorkers, c.TLDWorkers)
	}
	if c.MetricsWorkers < 1 {
		return fmt.Errorf("config: MOSAPI_METRICS_THREAD_COUNT must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envFirst returns the value of the first key that is set and non-empty.
func envFirst(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envStrSlice(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envStrSliceDefault(key string, defaultVal []string) []string {
	if out := envStrSlice(key); out != nil {
		return out
	}
	return defaultVal
}
