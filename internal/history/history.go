// Package history persists completed link sessions to Postgres when a DSN
// is configured, and is a no-op otherwise so that session history remains
// an optional deployment feature rather than a hard dependency.
package history

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
)

// Record describes one completed link session, written once on
// disconnect.
type Record struct {
	SessionID      string
	Mode           string // "netplay", "gba-link", "gb-link"
	PeerIP         string
	StartedAt      time.Time
	EndedAt        time.Time
	FrameCount     uint64
	DisconnectCause string
}

// Recorder persists Records. Recorder implementations must tolerate being
// called from the session's own goroutine; Record blocks on the write.
type Recorder interface {
	Record(r Record) error
	Close() error
}

// nopRecorder is used whenever no DSN is configured; every call succeeds
// without doing anything.
type nopRecorder struct{}

func (nopRecorder) Record(Record) error { return nil }
func (nopRecorder) Close() error        { return nil }

// New returns a Postgres-backed Recorder when dsn is non-empty, or a
// no-op Recorder otherwise. The schema is created if missing.
func New(dsn string) (Recorder, error) {
	if dsn == "" {
		return nopRecorder{}, nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	log.Printf("history: recording link sessions to configured database")
	return &pgRecorder{db: db}, nil
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS link_sessions (
	session_id       TEXT PRIMARY KEY,
	mode             TEXT NOT NULL,
	peer_ip          TEXT,
	started_at       TIMESTAMPTZ NOT NULL,
	ended_at         TIMESTAMPTZ NOT NULL,
	frame_count      BIGINT NOT NULL,
	disconnect_cause TEXT
)`

type pgRecorder struct {
	db *sql.DB
}

func (r *pgRecorder) Record(rec Record) error {
	_, err := r.db.Exec(
		`INSERT INTO link_sessions (session_id, mode, peer_ip, started_at, ended_at, frame_count, disconnect_cause)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (session_id) DO UPDATE SET
		   ended_at = EXCLUDED.ended_at,
		   frame_count = EXCLUDED.frame_count,
		   disconnect_cause = EXCLUDED.disconnect_cause`,
		rec.SessionID, rec.Mode, rec.PeerIP, rec.StartedAt, rec.EndedAt, rec.FrameCount, rec.DisconnectCause,
	)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

func (r *pgRecorder) Close() error { return r.db.Close() }
