// Package db archives finalized experiment sessions in sqlite.
package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/potentiostat/internal/experiment"
	"github.com/banshee-data/potentiostat/internal/voltammetry"
)

type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the session archive at path and brings
// its schema up to date from the embedded migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// OpenDB opens the archive without touching the schema. The migrate
// subcommand uses this so down/force can run against whatever state the
// database is in.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &DB{sqlDB}, nil
}

// ArchiveSession stores a finalized session and its samples. Only terminal
// sessions are accepted; the engine owns the session until then.
func (db *DB) ArchiveSession(s *experiment.Session) error {
	if !s.Status.Terminal() {
		return fmt.Errorf("refusing to archive session %s in non-terminal state %q", s.ID, s.Status)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO sessions (
			session_id, technique, status, start_volts, end_volts, scan_rate,
			cycles, mode, warnings, skipped, error_cause,
			peak_anodic_ua, peak_cathodic_ua, mean_current_ua, charge_uc,
			started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID.String(), s.Technique, string(s.Status),
		s.Params.StartVolts, s.Params.EndVolts, s.Params.ScanRate,
		s.Params.Cycles, int(s.Params.Mode), s.Warnings, s.Skipped, s.ErrorCause,
		s.Summary.PeakAnodicUA, s.Summary.PeakCathodicUA, s.Summary.MeanCurrentUA, s.Summary.ChargeUC,
		s.StartedAt, s.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO samples (session_id, seq, elapsed_seconds, raw_code, applied_volts, current_ua, cycle)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range s.Readings() {
		if _, err := stmt.Exec(s.ID.String(), i, r.ElapsedSeconds, r.Raw, r.AppliedVolts, r.CurrentUA, r.Cycle); err != nil {
			return fmt.Errorf("failed to insert sample %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// SessionRecord is one archived session row.
type SessionRecord struct {
	SessionID  string
	Technique  string
	Status     string
	StartVolts float64
	EndVolts   float64
	ScanRate   float64
	Cycles     int
	Mode       int
	Warnings   int
	Skipped    int
	ErrorCause string
	StartedAt  time.Time
	EndedAt    time.Time
}

// ListSessions returns archived sessions, newest first.
func (db *DB) ListSessions(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(
		`SELECT session_id, technique, status, start_volts, end_volts, scan_rate,
		        cycles, mode, warnings, skipped, error_cause, started_at, ended_at
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var r SessionRecord
		if err := rows.Scan(
			&r.SessionID, &r.Technique, &r.Status, &r.StartVolts, &r.EndVolts, &r.ScanRate,
			&r.Cycles, &r.Mode, &r.Warnings, &r.Skipped, &r.ErrorCause, &r.StartedAt, &r.EndedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SessionSamples returns the archived readings for one session in sequence
// order.
func (db *DB) SessionSamples(sessionID string) ([]voltammetry.Reading, error) {
	rows, err := db.Query(
		`SELECT elapsed_seconds, raw_code, applied_volts, current_ua, cycle
		 FROM samples WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []voltammetry.Reading
	for rows.Next() {
		var r voltammetry.Reading
		if err := rows.Scan(&r.ElapsedSeconds, &r.Raw, &r.AppliedVolts, &r.CurrentUA, &r.Cycle); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
