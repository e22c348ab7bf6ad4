package storage

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dougsko/audiohook/pkg/hook"
	_ "github.com/mattn/go-sqlite3"
)

// Session states stored in the sessions table
const (
	StateActivated   = "activated"
	StateInitialized = "initialized"
	StateFailed      = "failed"
	StateStarted     = "started"
	StateStopped     = "stopped"
	StateClosed      = "closed"
)

// SessionStore keeps the history of hooked clients in SQLite
type SessionStore struct {
	db          *sql.DB
	dbPath      string
	maxSessions int
}

var _ hook.Recorder = (*SessionStore)(nil)

// NewSessionStore creates a new session store with SQLite backend
func NewSessionStore(dbPath string, maxSessions int) (*SessionStore, error) {
	store := &SessionStore{
		dbPath:      dbPath,
		maxSessions: maxSessions,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	return store, nil
}

// initialize sets up the database connection and creates tables
func (ss *SessionStore) initialize() error {
	if ss.dbPath == "" {
		ss.dbPath = "./audiohook.db"
	}

	if err := os.MkdirAll(filepath.Dir(ss.dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	connectionString := ss.dbPath + "?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on"

	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	ss.db = db

	if err := ss.createTables(); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	if err := ss.createIndexes(); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	log.Printf("Session store initialized: %s (max %d sessions)", ss.dbPath, ss.maxSessions)
	return nil
}

// createTables creates the database schema
func (ss *SessionStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL UNIQUE,
		device TEXT NOT NULL DEFAULT '',
		backend TEXT NOT NULL DEFAULT 'none',
		synthetic BOOLEAN NOT NULL DEFAULT FALSE,
		state TEXT NOT NULL DEFAULT 'activated',
		format TEXT NOT NULL DEFAULT '',
		sample_rate INTEGER NOT NULL DEFAULT 0,
		channels INTEGER NOT NULL DEFAULT 0,
		bits_per_sample INTEGER NOT NULL DEFAULT 0,
		share_mode TEXT NOT NULL DEFAULT '',
		buffer_duration INTEGER NOT NULL DEFAULT 0,
		periodicity INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT '',
		activated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		closed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS session_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS session_stats (
		id INTEGER PRIMARY KEY,
		total_sessions INTEGER NOT NULL DEFAULT 0,
		total_synthetic INTEGER NOT NULL DEFAULT 0,
		total_failures INTEGER NOT NULL DEFAULT 0,
		last_cleanup DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	INSERT OR IGNORE INTO session_stats (id, total_sessions, total_synthetic, total_failures)
	VALUES (1, 0, 0, 0);
	`

	_, err := ss.db.Exec(schema)
	return err
}

// createIndexes creates database indexes for performance
func (ss *SessionStore) createIndexes() error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_sessions_activated_at ON sessions(activated_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_sessions_backend ON sessions(backend)",
		"CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state)",
		"CREATE INDEX IF NOT EXISTS idx_session_events_session_id ON session_events(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_session_events_timestamp ON session_events(timestamp DESC)",
	}

	for _, indexSQL := range indexes {
		if _, err := ss.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// Record implements hook.Recorder. Failures are logged; the audio path
// never waits on storage errors.
func (ss *SessionStore) Record(ev hook.SessionEvent) {
	if err := ss.StoreEvent(ev); err != nil {
		log.Printf("Warning: failed to record %s event for session %s: %v", ev.Kind, ev.Session, err)
	}
}

// StoreEvent applies one session event to the sessions table and appends
// it to the event log
func (ss *SessionStore) StoreEvent(ev hook.SessionEvent) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	sessionID := ev.Session.String()

	tx, err := ss.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	switch ev.Kind {
	case hook.EventActivate:
		if err := ss.insertSession(tx, ev); err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		if err := ss.updateStats(tx, ev.Synthetic, false); err != nil {
			return fmt.Errorf("failed to update stats: %w", err)
		}
		if err := ss.cleanupOldSessions(tx); err != nil {
			log.Printf("Warning: failed to cleanup old sessions: %v", err)
		}

	case hook.EventInitialize:
		failed := ev.Status != "" && ev.Status != "S_OK"
		if err := ss.updateNegotiation(tx, sessionID, ev, failed); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		if failed {
			if err := ss.updateStats(tx, false, true); err != nil {
				return fmt.Errorf("failed to update stats: %w", err)
			}
		}

	case hook.EventStart:
		if err := ss.updateState(tx, sessionID, StateStarted, ev.Time); err != nil {
			return err
		}

	case hook.EventStop:
		if err := ss.updateState(tx, sessionID, StateStopped, ev.Time); err != nil {
			return err
		}

	case hook.EventClose:
		_, err := tx.Exec(`
			UPDATE sessions SET state = ?, closed_at = ?, updated_at = ?
			WHERE session_id = ?
		`, StateClosed, ev.Time, ev.Time, sessionID)
		if err != nil {
			return fmt.Errorf("failed to close session: %w", err)
		}

	default:
		return fmt.Errorf("unknown session event kind: %q", ev.Kind)
	}

	_, err = tx.Exec(`
		INSERT INTO session_events (session_id, kind, status, timestamp)
		SELECT ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM sessions WHERE session_id = ?)
	`, sessionID, ev.Kind, ev.Status, ev.Time, sessionID)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	return tx.Commit()
}

func (ss *SessionStore) insertSession(tx *sql.Tx, ev hook.SessionEvent) error {
	_, err := tx.Exec(`
		INSERT INTO sessions (session_id, device, backend, synthetic, state, activated_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.Session.String(), ev.Device, ev.Backend.String(), ev.Synthetic, StateActivated, ev.Time, ev.Time)
	return err
}

// updateNegotiation stores the parameters the client was initialized with
func (ss *SessionStore) updateNegotiation(tx *sql.Tx, sessionID string, ev hook.SessionEvent, failed bool) error {
	state := StateInitialized
	if failed {
		state = StateFailed
	}

	if ev.Params == nil {
		return ss.updateState(tx, sessionID, state, ev.Time)
	}

	p := ev.Params
	_, err := tx.Exec(`
		UPDATE sessions SET
			state = ?, format = ?, sample_rate = ?, channels = ?, bits_per_sample = ?,
			share_mode = ?, buffer_duration = ?, periodicity = ?, status = ?, updated_at = ?
		WHERE session_id = ?
	`, state, p.Format.String(), p.Format.SampleRate, p.Format.Channels, p.Format.BitsPerSample,
		p.ShareMode.String(), int64(p.BufferDuration), int64(p.Periodicity), ev.Status, ev.Time,
		sessionID)
	return err
}

// updateState never reopens a closed session
func (ss *SessionStore) updateState(tx *sql.Tx, sessionID, state string, at time.Time) error {
	_, err := tx.Exec(`
		UPDATE sessions SET state = ?, updated_at = ? WHERE session_id = ? AND state != ?
	`, state, at, sessionID, StateClosed)
	if err != nil {
		return fmt.Errorf("failed to update session state: %w", err)
	}
	return nil
}

// updateStats updates session statistics
func (ss *SessionStore) updateStats(tx *sql.Tx, synthetic, failure bool) error {
	query := `
		UPDATE session_stats SET
			total_sessions = total_sessions + ?,
			total_synthetic = total_synthetic + ?,
			total_failures = total_failures + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
	`

	sessions, synth, failures := 1, 0, 0
	if synthetic {
		synth = 1
	}
	if failure {
		sessions, failures = 0, 1
	}

	_, err := tx.Exec(query, sessions, synth, failures)
	return err
}

// CleanupOldSessions removes sessions beyond the maximum limit
func (ss *SessionStore) CleanupOldSessions() error {
	tx, err := ss.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ss.cleanupOldSessions(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// cleanupOldSessions removes the oldest closed sessions beyond the limit
func (ss *SessionStore) cleanupOldSessions(tx *sql.Tx) error {
	if ss.maxSessions <= 0 {
		return nil
	}

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return err
	}

	if count <= ss.maxSessions {
		return nil
	}

	deleteCount := count - ss.maxSessions
	_, err := tx.Exec(`
		DELETE FROM sessions
		WHERE id IN (
			SELECT id FROM sessions
			WHERE state = ?
			ORDER BY activated_at ASC
			LIMIT ?
		)
	`, StateClosed, deleteCount)
	if err != nil {
		return err
	}

	_, err = tx.Exec("UPDATE session_stats SET last_cleanup = CURRENT_TIMESTAMP WHERE id = 1")
	return err
}

// Close closes the database connection
func (ss *SessionStore) Close() error {
	if ss.db != nil {
		return ss.db.Close()
	}
	return nil
}
