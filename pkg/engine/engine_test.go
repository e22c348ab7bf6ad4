package engine

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougsko/audiohook/pkg/client"
	"github.com/dougsko/audiohook/pkg/config"
	"github.com/dougsko/audiohook/pkg/hook"
	"github.com/dougsko/audiohook/pkg/logging"
	"github.com/dougsko/audiohook/pkg/protocol"
	"github.com/dougsko/audiohook/pkg/storage"
)

type testEngine struct {
	*CoreEngine
	created *[]*hook.MockClient
	socket  string
}

func newTestEngine(t *testing.T, cfg *config.Config, store *storage.SessionStore) *testEngine {
	t.Helper()
	created := &[]*hook.MockClient{}
	socket := filepath.Join(t.TempDir(), "engine.sock")

	e, err := NewCoreEngine(cfg, socket, Options{
		Platform: hook.MockFactory(created),
		Store:    store,
		Logger:   logging.NewWriterLogger(io.Discard, logging.LevelDebug),
	})
	require.NoError(t, err)
	require.NoError(t, e.Start())
	t.Cleanup(func() { e.Stop() })

	return &testEngine{CoreEngine: e, created: created, socket: socket}
}

func (e *testEngine) run(t *testing.T, line string) *protocol.Response {
	t.Helper()
	cmd, err := protocol.ParseCommand(line)
	require.NoError(t, err)
	return e.HandleCommand(cmd)
}

func proAudioConfig() *config.Config {
	cfg := config.Default()
	cfg.Hook.Enabled = true
	cfg.Hook.Backend = "asio"
	cfg.Monitor.Enabled = true
	return cfg
}

func TestHandleCommand(t *testing.T) {
	e := newTestEngine(t, proAudioConfig(), nil)

	t.Run("Ping", func(t *testing.T) {
		resp := e.run(t, "PING")
		assert.True(t, resp.Success)
		assert.Contains(t, resp.Data, "pong")
	})

	t.Run("Unknown Command", func(t *testing.T) {
		resp := e.run(t, "TRANSMIT:hello")
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Error, "unknown command")
	})

	t.Run("Status Before Playback", func(t *testing.T) {
		resp := e.run(t, "STATUS")
		require.True(t, resp.Success)
		status := resp.Data["status"].(protocol.Status)
		assert.Equal(t, "asio", status.Backend)
		assert.True(t, status.Hooked)
		assert.False(t, status.Playing)
		assert.Equal(t, Version, status.Version)
	})

	t.Run("Drivers", func(t *testing.T) {
		resp := e.run(t, "DRIVERS")
		require.True(t, resp.Success)
		assert.Equal(t, 1, resp.Data["count"])
	})

	t.Run("Sessions Without Storage", func(t *testing.T) {
		resp := e.run(t, "SESSIONS")
		assert.False(t, resp.Success)
	})

	t.Run("Reset Without Backend", func(t *testing.T) {
		resp := e.run(t, "RESET")
		assert.False(t, resp.Success)
	})

	t.Run("Config", func(t *testing.T) {
		resp := e.run(t, "CONFIG:get:hook.mute_buffers")
		require.True(t, resp.Success)
		assert.Equal(t, 16, resp.Data["value"])

		resp = e.run(t, "CONFIG:get:station.callsign")
		assert.False(t, resp.Success)

		resp = e.run(t, "CONFIG:set:hook.mute_buffers:4")
		assert.False(t, resp.Success)

		resp = e.run(t, "CONFIG:list")
		require.True(t, resp.Success)
		assert.Contains(t, resp.Data["keys"], "pro_audio.driver")
	})

	t.Run("Play Bad Sources", func(t *testing.T) {
		assert.False(t, e.run(t, "PLAY:tone:abc").Success)
		assert.False(t, e.run(t, "PLAY:file").Success)
		assert.False(t, e.run(t, "PLAY:noise").Success)
		assert.False(t, e.run(t, "PLAY:file:/nonexistent/x.wav").Success)
	})
}

func TestPlayThroughProAudio(t *testing.T) {
	store, err := storage.NewSessionStore(filepath.Join(t.TempDir(), "sessions.db"), 100)
	require.NoError(t, err)
	// registered first so it runs after the engine stops
	t.Cleanup(func() { store.Close() })

	e := newTestEngine(t, proAudioConfig(), store)

	resp := e.run(t, "PLAY:tone:1000")
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "tone 1000 Hz", resp.Data["source"])

	require.Eventually(t, func() bool {
		return e.Player().Stats().Frames > 4800
	}, 5*time.Second, 5*time.Millisecond)

	t.Run("Second Play Refused", func(t *testing.T) {
		assert.False(t, e.run(t, "PLAY:silence").Success)
	})

	t.Run("Status While Playing", func(t *testing.T) {
		resp := e.run(t, "STATUS")
		require.True(t, resp.Success)
		status := resp.Data["status"].(protocol.Status)
		assert.True(t, status.Playing)
		assert.Equal(t, "Simulated", status.Driver)
		assert.Equal(t, "running", status.State)
		assert.NotEmpty(t, status.Format)
		assert.Contains(t, resp.Data, "pro_audio")
	})

	t.Run("Levels", func(t *testing.T) {
		resp := e.run(t, "LEVELS")
		require.True(t, resp.Success)
		levels := e.Monitor().GetCurrentLevels()
		assert.Greater(t, levels.RMSLevel, float32(-30))
	})

	t.Run("Synthetic Client Replaced The Platform Client", func(t *testing.T) {
		require.Len(t, *e.created, 1)
		mock := (*e.created)[0]
		assert.True(t, mock.Closed())
		assert.Equal(t, 0, mock.Calls("Initialize"))
	})

	resp = e.run(t, "STOP")
	require.True(t, resp.Success)
	assert.False(t, e.Player().Playing())

	t.Run("Session Recorded", func(t *testing.T) {
		resp := e.run(t, "SESSIONS:10")
		require.True(t, resp.Success, resp.Error)
		sessions := resp.Data["sessions"].([]protocol.Session)
		require.Len(t, sessions, 1)
		s := sessions[0]
		assert.True(t, s.Synthetic)
		assert.Equal(t, "asio", s.Backend)
		assert.Equal(t, storage.StateClosed, s.State)
		assert.Equal(t, 48000, s.SampleRate)

		resp = e.run(t, "EVENTS:"+s.SessionID)
		require.True(t, resp.Success, resp.Error)
		events := resp.Data["events"].([]protocol.SessionEvent)
		kinds := make([]string, len(events))
		for i, ev := range events {
			kinds[i] = ev.Kind
		}
		assert.Equal(t, []string{
			hook.EventActivate, hook.EventInitialize, hook.EventStart, hook.EventStop, hook.EventClose,
		}, kinds)
	})

	t.Run("Sessions Bad Limit", func(t *testing.T) {
		assert.False(t, e.run(t, "SESSIONS:ten").Success)
		assert.False(t, e.run(t, "EVENTS:").Success)
	})

	t.Run("Play Again After Stop", func(t *testing.T) {
		require.True(t, e.run(t, "PLAY:silence").Success)
		require.Eventually(t, func() bool {
			return e.Player().Stats().Buffers > 2
		}, 5*time.Second, 5*time.Millisecond)
		require.True(t, e.run(t, "STOP").Success)
	})
}

func TestWrappedPassthrough(t *testing.T) {
	cfg := config.Default()
	e := newTestEngine(t, cfg, nil)

	require.True(t, e.run(t, "PLAY:tone").Success)
	require.Eventually(t, func() bool {
		return e.Player().Stats().Buffers > 3
	}, 5*time.Second, time.Millisecond)
	require.True(t, e.run(t, "STOP").Success)

	// the hook is disabled, so the consumer talked to the platform client
	require.Len(t, *e.created, 1)
	mock := (*e.created)[0]
	assert.Equal(t, 1, mock.Calls("Initialize"))
	assert.NotEmpty(t, mock.Played())
	assert.True(t, mock.Closed())

	resp := e.run(t, "STATUS")
	require.True(t, resp.Success)
	assert.False(t, resp.Data["status"].(protocol.Status).Hooked)
	assert.False(t, e.run(t, "LEVELS").Success)
}

func TestSocket(t *testing.T) {
	e := newTestEngine(t, proAudioConfig(), nil)
	c := client.NewSocketClient(e.socket)

	require.True(t, c.IsConnected())

	status, err := c.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, "asio", status.Backend)

	drivers, err := c.GetDrivers()
	require.NoError(t, err)
	require.Len(t, drivers, 1)
	assert.Equal(t, "Simulated", drivers[0].Name)

	resp, err := c.SendCommand("BOGUS")
	require.NoError(t, err)
	assert.False(t, resp.Success)
}
