// Package storage persists attendance records and security alerts in a
// local SQLite database. Both tables are append-only; the recognition
// core never reads them back.
package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/classtrack/classtrack/pkg/alert"
	"github.com/classtrack/classtrack/pkg/logging"
	"github.com/classtrack/classtrack/pkg/session"
)

// SQLiteStore implements the session and alert sinks on SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if necessary) the attendance database.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open attendance database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping attendance database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logging.Component("storage").Debugf("Attendance database ready: %s", path)
	return store, nil
}

func (s *SQLiteStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS attendance (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL,
		identity_id TEXT NOT NULL,
		timestamp   DATETIME NOT NULL,
		status      TEXT NOT NULL,
		UNIQUE(session_id, identity_id)
	);
	CREATE TABLE IF NOT EXISTS alerts (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		timestamp  DATETIME NOT NULL,
		x          INTEGER NOT NULL,
		y          INTEGER NOT NULL,
		width      INTEGER NOT NULL,
		height     INTEGER NOT NULL,
		distance   REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_attendance_session ON attendance(session_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_session ON alerts(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// AppendAttendance appends one attendance record. The unique constraint
// backs up the tracker's in-memory deduplication.
func (s *SQLiteStore) AppendAttendance(rec session.Record) error {
	_, err := s.db.Exec(
		`INSERT INTO attendance (session_id, identity_id, timestamp, status) VALUES (?, ?, ?, ?)`,
		rec.SessionID, rec.IdentityID, rec.Timestamp, rec.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to append attendance record: %w", err)
	}
	return nil
}

// AppendAlert appends one security alert.
func (s *SQLiteStore) AppendAlert(ev alert.Event) error {
	_, err := s.db.Exec(
		`INSERT INTO alerts (session_id, timestamp, x, y, width, height, distance) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.Timestamp, ev.Region.X, ev.Region.Y, ev.Region.Width, ev.Region.Height, ev.Distance,
	)
	if err != nil {
		return fmt.Errorf("failed to append alert: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
