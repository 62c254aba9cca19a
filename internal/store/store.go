// Package store keeps the history of completed runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/arc"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/session"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/velocity"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Run is a stored run record.
type Run struct {
	ID int64 `json:"id"`
	session.RunRecord
}

// Store wraps SQLite access for run records.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps an in-memory database alive and serializes writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY,
			session_id TEXT NOT NULL,
			run INTEGER NOT NULL,
			hemisphere TEXT NOT NULL,
			latitude_deg REAL NOT NULL,
			source TEXT NOT NULL,
			fit_kind TEXT NOT NULL,
			path_length_px REAL NOT NULL,
			duration_s REAL NOT NULL,
			alerts INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL,
			resolution TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_completed_at ON runs(completed_at);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// InsertRun stores a completed run and returns its row ID.
func (s *Store) InsertRun(ctx context.Context, rec session.RunRecord) (int64, error) {
	res, err := json.Marshal(rec.Resolution)
	if err != nil {
		return 0, fmt.Errorf("encode resolution: %w", err)
	}
	r, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (session_id, run, hemisphere, latitude_deg, source, fit_kind, path_length_px, duration_s, alerts, started_at, completed_at, resolution)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID,
		rec.Run,
		rec.Hemisphere,
		rec.LatitudeDeg,
		string(rec.Source),
		string(rec.FitKind),
		rec.PathLengthPx,
		rec.DurationSeconds,
		rec.Alerts,
		unixNanos(rec.StartedAt),
		unixNanos(rec.CompletedAt),
		string(res),
	)
	if err != nil {
		return 0, err
	}
	return r.LastInsertId()
}

// ListRuns returns up to limit runs, newest first. An empty sessionID
// matches every session.
func (s *Store) ListRuns(ctx context.Context, sessionID string, limit int) ([]Run, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, run, hemisphere, latitude_deg, source, fit_kind, path_length_px, duration_s, alerts, started_at, completed_at, resolution
		 FROM runs
		 WHERE (? = '' OR session_id = ?)
		 ORDER BY completed_at DESC, id DESC
		 LIMIT ?`,
		sessionID, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var runs []Run
	for rows.Next() {
		var (
			r                      Run
			source, kind           string
			startedAt, completedAt int64
			resolution             string
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Run, &r.Hemisphere, &r.LatitudeDeg, &source, &kind,
			&r.PathLengthPx, &r.DurationSeconds, &r.Alerts, &startedAt, &completedAt, &resolution); err != nil {
			return nil, err
		}
		r.Source = velocity.Source(source)
		r.FitKind = arc.Kind(kind)
		r.StartedAt = fromUnixNanos(startedAt)
		r.CompletedAt = fromUnixNanos(completedAt)
		if err := json.Unmarshal([]byte(resolution), &r.Resolution); err != nil {
			return nil, fmt.Errorf("decode resolution of run %d: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// Timestamps are stored as Unix nanoseconds so they sort numerically. The
// zero time is stored as 0.
func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
