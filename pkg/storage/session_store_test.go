package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dougsko/audiohook/pkg/backend"
	"github.com/dougsko/audiohook/pkg/format"
	"github.com/dougsko/audiohook/pkg/hook"
	"github.com/google/uuid"
)

func newTestStore(t *testing.T, maxSessions int) *SessionStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "audiohook-storage-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := NewSessionStore(filepath.Join(tempDir, "test.db"), maxSessions)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func activate(t *testing.T, store *SessionStore, kind backend.Kind, synthetic bool, at time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := store.StoreEvent(hook.SessionEvent{
		Session:   id,
		Kind:      hook.EventActivate,
		Backend:   kind,
		Synthetic: synthetic,
		Device:    "{0.0.0.00000000}.{speakers}",
		Time:      at,
	})
	if err != nil {
		t.Fatalf("Failed to store activate event: %v", err)
	}
	return id
}

func TestNewSessionStore(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "audiohook-storage-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	t.Run("Valid Store Creation", func(t *testing.T) {
		dbPath := filepath.Join(tempDir, "test.db")
		store, err := NewSessionStore(dbPath, 100)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		defer store.Close()

		if store.maxSessions != 100 {
			t.Errorf("Expected maxSessions 100, got %d", store.maxSessions)
		}
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("Expected database file to be created")
		}
	})

	t.Run("Store Creation with Nested Directory", func(t *testing.T) {
		dbPath := filepath.Join(tempDir, "nested", "dir", "test.db")
		store, err := NewSessionStore(dbPath, 10)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		defer store.Close()

		if _, err := os.Stat(filepath.Dir(dbPath)); os.IsNotExist(err) {
			t.Error("Expected nested directory to be created")
		}
	})

	t.Run("Tables Created", func(t *testing.T) {
		store := newTestStore(t, 10)
		for _, table := range []string{"sessions", "session_events", "session_stats"} {
			var name string
			err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
			if err != nil {
				t.Errorf("Expected table %s to exist: %v", table, err)
			}
		}
	})
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t, 100)
	now := time.Now()

	id := activate(t, store, backend.ProAudio, true, now)
	params := &backend.StreamParams{
		ShareMode:      backend.Exclusive,
		BufferDuration: 100000,
		Periodicity:    100000,
		Format:         format.NewPCM(2, 48000, 24),
	}

	steps := []hook.SessionEvent{
		{Session: id, Kind: hook.EventInitialize, Params: params, Status: "S_OK", Time: now.Add(time.Millisecond)},
		{Session: id, Kind: hook.EventStart, Time: now.Add(2 * time.Millisecond)},
		{Session: id, Kind: hook.EventStop, Time: now.Add(3 * time.Millisecond)},
	}
	for _, ev := range steps {
		if err := store.StoreEvent(ev); err != nil {
			t.Fatalf("Failed to store %s event: %v", ev.Kind, err)
		}
	}

	t.Run("Negotiated Parameters Stored", func(t *testing.T) {
		s, err := store.GetSession(id.String())
		if err != nil {
			t.Fatalf("Failed to get session: %v", err)
		}
		if s.State != StateStopped {
			t.Errorf("Expected state %s, got %s", StateStopped, s.State)
		}
		if s.Backend != "asio" || !s.Synthetic {
			t.Errorf("Expected synthetic asio session, got %s synthetic=%v", s.Backend, s.Synthetic)
		}
		if s.SampleRate != 48000 || s.Channels != 2 || s.BitsPerSample != 24 {
			t.Errorf("Unexpected format %d/%d/%d", s.SampleRate, s.Channels, s.BitsPerSample)
		}
		if s.ShareMode != "AUDCLNT_SHAREMODE_EXCLUSIVE" {
			t.Errorf("Expected exclusive share mode, got %s", s.ShareMode)
		}
		if s.BufferDuration != 100000 {
			t.Errorf("Expected buffer duration 100000, got %d", s.BufferDuration)
		}
		if s.ClosedAt != nil {
			t.Error("Expected open session to have no closed_at")
		}
	})

	t.Run("Close Marks Session", func(t *testing.T) {
		store.Record(hook.SessionEvent{Session: id, Kind: hook.EventClose, Time: now.Add(4 * time.Millisecond)})

		s, err := store.GetSession(id.String())
		if err != nil {
			t.Fatalf("Failed to get session: %v", err)
		}
		if s.State != StateClosed {
			t.Errorf("Expected state %s, got %s", StateClosed, s.State)
		}
		if s.ClosedAt == nil {
			t.Error("Expected closed_at to be set")
		}
	})

	t.Run("Events In Order", func(t *testing.T) {
		events, err := store.GetEvents(id.String())
		if err != nil {
			t.Fatalf("Failed to get events: %v", err)
		}
		want := []string{hook.EventActivate, hook.EventInitialize, hook.EventStart, hook.EventStop, hook.EventClose}
		if len(events) != len(want) {
			t.Fatalf("Expected %d events, got %d", len(want), len(events))
		}
		for i, ev := range events {
			if ev.Kind != want[i] {
				t.Errorf("Event %d: expected %s, got %s", i, want[i], ev.Kind)
			}
		}
		if events[1].Status != "S_OK" {
			t.Errorf("Expected initialize status S_OK, got %s", events[1].Status)
		}
	})

	t.Run("Stop After Close Keeps Closed", func(t *testing.T) {
		store.Record(hook.SessionEvent{Session: id, Kind: hook.EventStop, Time: now.Add(5 * time.Millisecond)})

		s, err := store.GetSession(id.String())
		if err != nil {
			t.Fatalf("Failed to get session: %v", err)
		}
		if s.State != StateClosed {
			t.Errorf("Expected state %s, got %s", StateClosed, s.State)
		}
	})

	t.Run("Unknown Session", func(t *testing.T) {
		if _, err := store.GetSession(uuid.NewString()); err == nil {
			t.Error("Expected error for unknown session")
		}
	})
}

func TestFailedInitialize(t *testing.T) {
	store := newTestStore(t, 100)
	id := activate(t, store, backend.WaveOut, false, time.Now())

	err := store.StoreEvent(hook.SessionEvent{
		Session: id,
		Kind:    hook.EventInitialize,
		Params:  &backend.StreamParams{Format: format.NewPCM(8, 44100, 16)},
		Status:  "AUDCLNT_E_UNSUPPORTED_FORMAT",
	})
	if err != nil {
		t.Fatalf("Failed to store event: %v", err)
	}

	s, err := store.GetSession(id.String())
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if s.State != StateFailed {
		t.Errorf("Expected state %s, got %s", StateFailed, s.State)
	}
	if s.Status != "AUDCLNT_E_UNSUPPORTED_FORMAT" {
		t.Errorf("Unexpected status %s", s.Status)
	}

	stats, err := store.GetSessionStats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.TotalSessions != 1 || stats.TotalFailures != 1 {
		t.Errorf("Expected 1 session and 1 failure, got %d and %d", stats.TotalSessions, stats.TotalFailures)
	}
}

func TestGetSessions(t *testing.T) {
	store := newTestStore(t, 100)
	base := time.Now().Add(-time.Hour)

	asio := activate(t, store, backend.ProAudio, true, base)
	wave := activate(t, store, backend.WaveOut, false, base.Add(time.Minute))
	activate(t, store, backend.None, false, base.Add(2*time.Minute))

	if err := store.StoreEvent(hook.SessionEvent{Session: wave, Kind: hook.EventClose, Time: base.Add(3 * time.Minute)}); err != nil {
		t.Fatalf("Failed to close session: %v", err)
	}

	t.Run("Newest First", func(t *testing.T) {
		sessions, err := store.GetRecentSessions(0)
		if err != nil {
			t.Fatalf("Failed to get sessions: %v", err)
		}
		if len(sessions) != 3 {
			t.Fatalf("Expected 3 sessions, got %d", len(sessions))
		}
		if sessions[2].SessionID != asio.String() {
			t.Errorf("Expected oldest session last, got %s", sessions[2].SessionID)
		}
	})

	t.Run("Limit And Offset", func(t *testing.T) {
		sessions, err := store.GetSessions(SessionQuery{Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("Failed to get sessions: %v", err)
		}
		if len(sessions) != 1 || sessions[0].SessionID != wave.String() {
			t.Errorf("Expected the waveout session, got %+v", sessions)
		}
	})

	t.Run("Filter By Backend", func(t *testing.T) {
		sessions, err := store.GetSessions(SessionQuery{Backend: "asio"})
		if err != nil {
			t.Fatalf("Failed to get sessions: %v", err)
		}
		if len(sessions) != 1 || sessions[0].SessionID != asio.String() {
			t.Errorf("Expected only the asio session, got %+v", sessions)
		}
	})

	t.Run("Active Only", func(t *testing.T) {
		sessions, err := store.GetActiveSessions()
		if err != nil {
			t.Fatalf("Failed to get sessions: %v", err)
		}
		if len(sessions) != 2 {
			t.Errorf("Expected 2 active sessions, got %d", len(sessions))
		}
		for _, s := range sessions {
			if s.SessionID == wave.String() {
				t.Error("Closed session returned as active")
			}
		}
	})

	t.Run("Since", func(t *testing.T) {
		since := base.Add(90 * time.Second)
		sessions, err := store.GetSessions(SessionQuery{Since: &since})
		if err != nil {
			t.Fatalf("Failed to get sessions: %v", err)
		}
		if len(sessions) != 1 {
			t.Errorf("Expected 1 session since %v, got %d", since, len(sessions))
		}
	})

	t.Run("Stats", func(t *testing.T) {
		stats, err := store.GetSessionStats()
		if err != nil {
			t.Fatalf("Failed to get stats: %v", err)
		}
		if stats.TotalSessions != 3 {
			t.Errorf("Expected 3 total sessions, got %d", stats.TotalSessions)
		}
		if stats.TotalSynthetic != 1 {
			t.Errorf("Expected 1 synthetic session, got %d", stats.TotalSynthetic)
		}
		if stats.ActiveSessions != 2 {
			t.Errorf("Expected 2 active sessions, got %d", stats.ActiveSessions)
		}
	})
}

func TestCleanupOldSessions(t *testing.T) {
	store := newTestStore(t, 3)
	base := time.Now().Add(-time.Hour)

	var first uuid.UUID
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		id := activate(t, store, backend.WaveOut, false, at)
		if i == 0 {
			first = id
		}
		if err := store.StoreEvent(hook.SessionEvent{Session: id, Kind: hook.EventClose, Time: at.Add(time.Second)}); err != nil {
			t.Fatalf("Failed to close session: %v", err)
		}
	}

	count, err := store.GetSessionCount()
	if err != nil {
		t.Fatalf("Failed to count sessions: %v", err)
	}
	// cleanup runs on activation, before the newest session is closed
	if count > 4 {
		t.Errorf("Expected at most 4 sessions after cleanup, got %d", count)
	}

	if err := store.CleanupOldSessions(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	count, err = store.GetSessionCount()
	if err != nil {
		t.Fatalf("Failed to count sessions: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 sessions after cleanup, got %d", count)
	}

	if _, err := store.GetSession(first.String()); err == nil {
		t.Error("Expected oldest session to be removed")
	}
	events, err := store.GetEvents(first.String())
	if err != nil {
		t.Fatalf("Failed to get events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Expected events of removed session to cascade, got %d", len(events))
	}

	stats, err := store.GetSessionStats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.LastCleanup.IsZero() {
		t.Error("Expected last cleanup time to be set")
	}
	if stats.TotalSessions != 5 {
		t.Errorf("Expected lifetime total of 5 sessions, got %d", stats.TotalSessions)
	}
}
