// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go driver

	"github.com/ManuGH/camvisor/internal/camera"
)

const sqliteSchemaVersion = 1

// SQLiteConfig holds the connection pool parameters.
type SQLiteConfig struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 4,
	}
}

// SQLiteStore keeps states in a single table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens the database at path with WAL journaling and
// migrates the schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	return openSQLite(path, DefaultSQLiteConfig())
}

func openSQLite(path string, cfg SQLiteConfig) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	// _pragma in the DSN applies to every pooled connection.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("state store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= sqliteSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS connection_states (
		device_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		failures INTEGER NOT NULL DEFAULT 0,
		since TEXT NOT NULL
	);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Save(ctx context.Context, deviceID string, st camera.ConnectionState) error {
	query := `
	INSERT INTO connection_states (device_id, status, reason, failures, since)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(device_id) DO UPDATE SET
		status = excluded.status,
		reason = excluded.reason,
		failures = excluded.failures,
		since = excluded.since
	`
	_, err := s.db.ExecContext(ctx, query,
		deviceID, string(st.Status), st.Reason, st.Failures, st.Since.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) Load(ctx context.Context, deviceID string) (camera.ConnectionState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT status, reason, failures, since FROM connection_states WHERE device_id = ?`, deviceID)
	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return camera.ConnectionState{}, ErrNotFound
	}
	return st, err
}

func (s *SQLiteStore) List(ctx context.Context) (map[string]camera.ConnectionState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, status, reason, failures, since FROM connection_states`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]camera.ConnectionState)
	for rows.Next() {
		var (
			id                    string
			status, reason, since string
			failures              int
		)
		if err := rows.Scan(&id, &status, &reason, &failures, &since); err != nil {
			return nil, err
		}
		out[id] = buildState(status, reason, failures, since)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, deviceID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM connection_states WHERE device_id = ?", deviceID)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func scanState(row *sql.Row) (camera.ConnectionState, error) {
	var (
		status, reason, since string
		failures              int
	)
	if err := row.Scan(&status, &reason, &failures, &since); err != nil {
		return camera.ConnectionState{}, err
	}
	return buildState(status, reason, failures, since), nil
}

func buildState(status, reason string, failures int, since string) camera.ConnectionState {
	st, _ := camera.ParseStatus(status)
	t, _ := time.Parse(time.RFC3339Nano, since)
	return camera.ConnectionState{Status: st, Reason: reason, Failures: failures, Since: t}
}
