package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ThreatMatch is one abusive domain reported by METRICA for a TLD on a
// given day. All fields are non-null; (tld, check_date) groups the rows of
// one daily report.
type ThreatMatch struct {
	ID         uuid.UUID
	DomainName string
	Tld        string
	ThreatType string
	CheckDate  time.Time
}

// LatestCheckDate returns the most recent check date with stored matches
// for a TLD, or ErrNotFound if the TLD has never been ingested.
func (db *DB) LatestCheckDate(ctx context.Context, tld string) (time.Time, error) {
	var maxDate *time.Time
	err := db.pool.QueryRow(ctx,
		`SELECT MAX(check_date) FROM threat_matches WHERE tld = $1`, tld,
	).Scan(&maxDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: latest check date for %s: %w", tld, err)
	}
	// MAX over zero rows is SQL NULL, not a no-rows error.
	if maxDate == nil {
		return time.Time{}, ErrNotFound
	}
	return *maxDate, nil
}

// ReplaceThreatMatches atomically replaces the stored rows for one
// (tld, checkDate): delete everything for the day, then insert the new
// rows in one transaction. Re-running ingestion for a day therefore
// converges on the same row set. Transient serialization conflicts are
// retried.
func (db *DB) ReplaceThreatMatches(ctx context.Context, tld string, checkDate time.Time, rows []ThreatMatch) error {
	return WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		return db.replaceThreatMatchesTx(ctx, tld, checkDate, rows)
	})
}

func (db *DB) replaceThreatMatchesTx(ctx context.Context, tld string, checkDate time.Time, rows []ThreatMatch) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin replace tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`DELETE FROM threat_matches WHERE tld = $1 AND check_date = $2`, tld, checkDate)
	if err != nil {
		return fmt.Errorf("storage: delete matches for %s/%s: %w", tld, checkDate.Format("2006-01-02"), err)
	}
	if tag.RowsAffected() > 0 {
		db.logger.Info("replacing existing threat matches",
			"tld", tld, "check_date", checkDate.Format("2006-01-02"), "deleted", tag.RowsAffected())
	}

	if len(rows) > 0 {
		batch := &pgx.Batch{}
		for _, row := range rows {
			id := row.ID
			if id == uuid.Nil {
				id = uuid.New()
			}
			batch.Queue(
				`INSERT INTO threat_matches (id, domain_name, tld, threat_type, check_date)
				 VALUES ($1, $2, $3, $4, $5)`,
				id, row.DomainName, tld, row.ThreatType, checkDate)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("storage: insert matches for %s/%s: %w", tld, checkDate.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit replace tx: %w", err)
	}
	return nil
}

// ThreatMatchesByDate returns the stored rows for one (tld, checkDate),
// ordered by domain name.
func (db *DB) ThreatMatchesByDate(ctx context.Context, tld string, checkDate time.Time) ([]ThreatMatch, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, domain_name, tld, threat_type, check_date
		 FROM threat_matches
		 WHERE tld = $1 AND check_date = $2
		 ORDER BY domain_name, threat_type`, tld, checkDate)
	if err != nil {
		return nil, fmt.Errorf("storage: query matches for %s: %w", tld, err)
	}
	defer rows.Close()

	var matches []ThreatMatch
	for rows.Next() {
		var m ThreatMatch
		if err := rows.Scan(&m.ID, &m.DomainName, &m.Tld, &m.ThreatType, &m.CheckDate); err != nil {
			return nil, fmt.Errorf("storage: scan threat match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// CountThreatMatches counts the stored rows for one (tld, checkDate).
func (db *DB) CountThreatMatches(ctx context.Context, tld string, checkDate time.Time) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM threat_matches WHERE tld = $1 AND check_date = $2`,
		tld, checkDate,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count matches for %s: %w", tld, err)
	}
	return n, nil
}
