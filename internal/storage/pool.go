// Package storage provides the PostgreSQL persistence layer for METRICA
// threat matches: connection pooling via pgxpool, embedded migrations, and
// the transactional delete-then-insert that keeps daily ingestion
// idempotent.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"
)

// DB wraps a pgxpool.Pool and the ThreatMatch query methods.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a DB with a connection pool and verifies connectivity.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// RegisterPoolMetrics exposes connection-pool gauges through the given
// meter. Call after telemetry.Init; with OTEL disabled the no-op meter
// makes this harmless.
func (db *DB) RegisterPoolMetrics(meter metric.Meter) {
	total, err1 := meter.Int64ObservableGauge("db.pool.total_conns")
	idle, err2 := meter.Int64ObservableGauge("db.pool.idle_conns")
	if err1 != nil || err2 != nil {
		db.logger.Warn("storage: register pool metrics", "error", fmt.Errorf("%v, %v", err1, err2))
		return
	}
	_, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stat := db.pool.Stat()
		o.ObserveInt64(total, int64(stat.TotalConns()))
		o.ObserveInt64(idle, int64(stat.IdleConns()))
		return nil
	}, total, idle)
	if err != nil {
		db.logger.Warn("storage: register pool metrics callback", "error", err)
	}
}
