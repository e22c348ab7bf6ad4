package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dougsko/audiohook/pkg/protocol"
)

// SessionQuery represents query parameters for retrieving sessions
type SessionQuery struct {
	Limit      int
	Offset     int
	Since      *time.Time
	Backend    string
	ActiveOnly bool
}

// SessionStats represents database statistics
type SessionStats struct {
	TotalSessions  int       `json:"total_sessions"`
	TotalSynthetic int       `json:"total_synthetic"`
	TotalFailures  int       `json:"total_failures"`
	ActiveSessions int       `json:"active_sessions"`
	LastCleanup    time.Time `json:"last_cleanup"`
}

const sessionColumns = `
	id, session_id, device, backend, synthetic, state, format,
	sample_rate, channels, bits_per_sample, share_mode,
	buffer_duration, periodicity, status, activated_at, updated_at, closed_at
`

// GetSessions retrieves sessions based on query parameters, newest first
func (ss *SessionStore) GetSessions(query SessionQuery) ([]protocol.Session, error) {
	var args []interface{}
	var conditions []string

	sqlQuery := "SELECT " + sessionColumns + " FROM sessions WHERE 1=1"

	if query.Since != nil {
		conditions = append(conditions, "activated_at >= ?")
		args = append(args, query.Since)
	}

	if query.Backend != "" {
		conditions = append(conditions, "backend = ?")
		args = append(args, query.Backend)
	}

	if query.ActiveOnly {
		conditions = append(conditions, "state != ?")
		args = append(args, StateClosed)
	}

	for _, condition := range conditions {
		sqlQuery += " AND " + condition
	}

	sqlQuery += " ORDER BY activated_at DESC, id DESC"

	if query.Limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, query.Limit)

		if query.Offset > 0 {
			sqlQuery += " OFFSET ?"
			args = append(args, query.Offset)
		}
	}

	rows, err := ss.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []protocol.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (protocol.Session, error) {
	var s protocol.Session
	var closedAt sql.NullTime

	err := row.Scan(
		&s.ID,
		&s.SessionID,
		&s.Device,
		&s.Backend,
		&s.Synthetic,
		&s.State,
		&s.Format,
		&s.SampleRate,
		&s.Channels,
		&s.BitsPerSample,
		&s.ShareMode,
		&s.BufferDuration,
		&s.Periodicity,
		&s.Status,
		&s.ActivatedAt,
		&s.UpdatedAt,
		&closedAt,
	)
	if err != nil {
		return s, err
	}

	if closedAt.Valid {
		t := closedAt.Time
		s.ClosedAt = &t
	}
	return s, nil
}

// GetSession retrieves one session by its GUID
func (ss *SessionStore) GetSession(sessionID string) (*protocol.Session, error) {
	row := ss.db.QueryRow("SELECT "+sessionColumns+" FROM sessions WHERE session_id = ?", sessionID)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

// GetRecentSessions retrieves the most recent sessions
func (ss *SessionStore) GetRecentSessions(limit int) ([]protocol.Session, error) {
	return ss.GetSessions(SessionQuery{Limit: limit})
}

// GetActiveSessions retrieves sessions that have not been closed
func (ss *SessionStore) GetActiveSessions() ([]protocol.Session, error) {
	return ss.GetSessions(SessionQuery{ActiveOnly: true})
}

// GetEvents retrieves the event log of one session in order
func (ss *SessionStore) GetEvents(sessionID string) ([]protocol.SessionEvent, error) {
	rows, err := ss.db.Query(`
		SELECT id, session_id, kind, status, timestamp
		FROM session_events
		WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []protocol.SessionEvent
	for rows.Next() {
		var ev protocol.SessionEvent
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Kind, &ev.Status, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// GetSessionStats retrieves database statistics
func (ss *SessionStore) GetSessionStats() (*SessionStats, error) {
	var stats SessionStats
	var lastCleanup sql.NullTime

	err := ss.db.QueryRow(`
		SELECT total_sessions, total_synthetic, total_failures, last_cleanup
		FROM session_stats WHERE id = 1
	`).Scan(&stats.TotalSessions, &stats.TotalSynthetic, &stats.TotalFailures, &lastCleanup)
	if err != nil {
		return nil, fmt.Errorf("failed to get session stats: %w", err)
	}

	if lastCleanup.Valid {
		stats.LastCleanup = lastCleanup.Time
	}

	err = ss.db.QueryRow("SELECT COUNT(*) FROM sessions WHERE state != ?", StateClosed).Scan(&stats.ActiveSessions)
	if err != nil {
		return nil, fmt.Errorf("failed to count active sessions: %w", err)
	}

	return &stats, nil
}

// GetSessionCount returns the total number of stored sessions
func (ss *SessionStore) GetSessionCount() (int, error) {
	var count int
	err := ss.db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&count)
	return count, err
}
