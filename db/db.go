// Package db persists user feedback (reports and URL flags) in PostgreSQL.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/docutag/phishguard/metrics"
	"github.com/docutag/phishguard/models"
)

// DB wraps the database connection and provides data access methods
type DB struct {
	conn *sql.DB
}

// Config contains database configuration
type Config struct {
	DSN string // PostgreSQL connection string
}

// New opens the database, checks connectivity and runs pending migrations
func New(ctx context.Context, config Config) (*DB, error) {
	conn, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// DB returns the underlying database connection for metrics collection
func (db *DB) DB() *sql.DB {
	return db.conn
}

// prepareReport fills defaults on r before it is written
func prepareReport(r *models.Report) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.UserID == "" {
		r.UserID = models.AnonymousUser
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}

// payloadArg converts a raw JSON payload to a driver value, NULL when empty
func payloadArg(p json.RawMessage) (interface{}, error) {
	if len(p) == 0 {
		return nil, nil
	}
	if !json.Valid(p) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return string(p), nil
}

const insertReport = `
	INSERT INTO phishguard_reports (id, app_id, type, payload, user_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
`

// SaveReport stores a single report. ID, user and timestamp are filled in
// when empty.
func (db *DB) SaveReport(ctx context.Context, r *models.Report) error {
	prepareReport(r)
	payload, err := payloadArg(r.Payload)
	if err != nil {
		return err
	}

	if _, err := db.conn.ExecContext(ctx, insertReport, r.ID, r.AppID, r.Type, payload, r.UserID, r.CreatedAt); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	metrics.FeedbackWrites.WithLabelValues("report").Inc()
	return nil
}

// SaveReports stores reports in one transaction and returns how many were
// written. Reports without app_id or type are skipped.
func (db *DB) SaveReports(ctx context.Context, reports []models.Report) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertReport)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for i := range reports {
		r := &reports[i]
		if r.AppID == "" || r.Type == "" {
			continue
		}
		prepareReport(r)
		payload, err := payloadArg(r.Payload)
		if err != nil {
			return 0, fmt.Errorf("report %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.AppID, r.Type, payload, r.UserID, r.CreatedAt); err != nil {
			return 0, fmt.Errorf("failed to save report %d: %w", i, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reports: %w", err)
	}
	metrics.FeedbackWrites.WithLabelValues("report").Add(float64(written))
	return written, nil
}

// SaveFlag stores a flag. ID, user and timestamp are filled in when empty.
func (db *DB) SaveFlag(ctx context.Context, f *models.Flag) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.UserID == "" {
		f.UserID = models.AnonymousUser
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO phishguard_flags (id, app_id, url, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, f.ID, f.AppID, f.URL, f.UserID, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save flag: %w", err)
	}
	metrics.FeedbackWrites.WithLabelValues("flag").Inc()
	return nil
}

// CountReports returns the number of reports stored for appID
func (db *DB) CountReports(ctx context.Context, appID string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM phishguard_reports WHERE app_id = $1", appID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count reports: %w", err)
	}
	return n, nil
}

// ListFlags returns the most recent flags for appID, newest first
func (db *DB) ListFlags(ctx context.Context, appID string, limit int) ([]models.Flag, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, app_id, url, user_id, created_at
		FROM phishguard_flags
		WHERE app_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, appID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query flags: %w", err)
	}
	defer rows.Close()

	var flags []models.Flag
	for rows.Next() {
		var f models.Flag
		if err := rows.Scan(&f.ID, &f.AppID, &f.URL, &f.UserID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flag: %w", err)
		}
		flags = append(flags, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flags: %w", err)
	}
	return flags, nil
}
