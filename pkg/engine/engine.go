package engine

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dougsko/audiohook/pkg/backend"
	"github.com/dougsko/audiohook/pkg/capture"
	"github.com/dougsko/audiohook/pkg/config"
	"github.com/dougsko/audiohook/pkg/hook"
	"github.com/dougsko/audiohook/pkg/logging"
	"github.com/dougsko/audiohook/pkg/monitor"
	"github.com/dougsko/audiohook/pkg/platform"
	"github.com/dougsko/audiohook/pkg/player"
	"github.com/dougsko/audiohook/pkg/proaudio"
	"github.com/dougsko/audiohook/pkg/protocol"
	"github.com/dougsko/audiohook/pkg/storage"
)

// Version is reported by STATUS
const Version = "0.1.0-dev"

const component = "engine"

// Options supply the parts of the engine that are not derived from the
// configuration
type Options struct {
	// Platform is the unhooked client factory; defaults to the shared
	// speaker device
	Platform hook.ActivateFunc

	// Store records sessions when set. The engine does not close it.
	Store *storage.SessionStore

	Logger *logging.Logger
}

// CoreEngine owns the hook, the consumer that plays through it and the
// observers attached to it, and serves the control socket
type CoreEngine struct {
	config     *config.Config
	socketPath string
	listener   net.Listener
	running    bool
	mutex      sync.RWMutex
	startTime  time.Time
	log        *logging.Logger

	table   *hook.ImportTable
	hook    *hook.Hook
	hookOpt hook.Options
	cleanup func()

	player  *player.Player
	monitor *monitor.LevelMonitor
	capture *capture.Recorder
	store   *storage.SessionStore

	wg sync.WaitGroup
}

// NewCoreEngine creates a new core engine
func NewCoreEngine(cfg *config.Config, socketPath string, opts Options) (*CoreEngine, error) {
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}
	if opts.Platform == nil {
		opts.Platform = platform.Factory(platform.DeviceConfig{
			SampleRate:    cfg.Device.SampleRate,
			Channels:      cfg.Device.Channels,
			BitsPerSample: cfg.Device.BitsPerSample,
			PeriodMs:      cfg.Device.PeriodMs,
		})
	}

	hookOpts, cleanup, err := hook.OptionsFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure hook: %w", err)
	}
	hookOpts.Logger = opts.Logger

	e := &CoreEngine{
		config:     cfg,
		socketPath: socketPath,
		startTime:  time.Now(),
		log:        opts.Logger,
		table:      hook.NewImportTable(),
		cleanup:    cleanup,
		store:      opts.Store,
	}

	if cfg.Monitor.Enabled {
		e.monitor = monitor.NewLevelMonitor(cfg.Monitor.FFTSize)
		hookOpts.Taps = append(hookOpts.Taps, e.monitor)
	}
	if cfg.Capture.Enabled {
		rec, err := capture.NewRecorder(cfg.Capture.Directory)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to start capture: %w", err)
		}
		e.capture = rec
		hookOpts.Taps = append(hookOpts.Taps, rec)
	}
	if e.store != nil {
		hookOpts.Recorder = e.store
	}

	e.hookOpt = hookOpts
	e.hook = hook.New(hookOpts)
	e.table.Register(hook.ActivateSymbol, opts.Platform)

	// consumers resolve the factory through the table on every activation
	e.player = player.New(e.table.Activate, player.Options{
		Exclusive: cfg.Player.Exclusive,
		Logger:    opts.Logger,
	})

	return e, nil
}

// Start installs the hook and starts the Unix socket server
func (e *CoreEngine) Start() error {
	if err := e.hook.Install(e.table); err != nil {
		return fmt.Errorf("failed to install hook: %w", err)
	}

	os.Remove(e.socketPath)

	listener, err := net.Listen("unix", e.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create Unix socket: %w", err)
	}
	e.listener = listener

	if err := os.Chmod(e.socketPath, 0660); err != nil {
		e.log.Warnf(component, "failed to set socket permissions: %v", err)
	}

	e.mutex.Lock()
	e.running = true
	e.mutex.Unlock()

	e.log.Infof(component, "core engine listening on %s", e.socketPath)

	e.wg.Add(1)
	go e.acceptConnections()

	return nil
}

// Stop stops playback, releases the hooked client and closes the socket
func (e *CoreEngine) Stop() error {
	e.mutex.Lock()
	e.running = false
	e.mutex.Unlock()

	if e.listener != nil {
		e.listener.Close()
	}
	e.wg.Wait()

	e.player.Stop()
	e.hook.Stop()
	e.cleanup()

	if e.capture != nil {
		if err := e.capture.Close(); err != nil {
			e.log.Warnf(component, "failed to close capture: %v", err)
		}
	}

	os.Remove(e.socketPath)
	return nil
}

// acceptConnections accepts and handles socket connections
func (e *CoreEngine) acceptConnections() {
	defer e.wg.Done()
	for e.isRunning() {
		conn, err := e.listener.Accept()
		if err != nil {
			if e.isRunning() {
				e.log.Warnf(component, "socket accept error: %v", err)
				continue
			}
			return
		}

		go e.handleConnection(conn)
	}
}

// handleConnection handles a single socket connection
func (e *CoreEngine) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		cmd, err := protocol.ParseCommand(line)
		if err != nil {
			response := protocol.NewErrorResponse(fmt.Sprintf("parse error: %v", err))
			conn.Write([]byte(response.String() + "\n"))
			continue
		}

		response := e.HandleCommand(cmd)
		conn.Write([]byte(response.String() + "\n"))

		if cmd.Type == protocol.CmdQuit {
			break
		}
	}
}

// HandleCommand processes a single command
func (e *CoreEngine) HandleCommand(cmd *protocol.Command) *protocol.Response {
	switch cmd.Type {
	case protocol.CmdStatus:
		return e.handleStatus()

	case protocol.CmdDrivers:
		return e.handleDrivers()

	case protocol.CmdSessions:
		return e.handleSessions(cmd)

	case protocol.CmdEvents:
		return e.handleEvents(cmd)

	case protocol.CmdPlay:
		return e.handlePlay(cmd)

	case protocol.CmdStop:
		e.player.Stop()
		return protocol.NewSuccessResponse(map[string]interface{}{
			"status": "stopped",
			"stats":  e.player.Stats(),
		})

	case protocol.CmdReset:
		return e.handleReset()

	case protocol.CmdPanel:
		return e.handlePanel()

	case protocol.CmdLevels:
		return e.handleLevels()

	case protocol.CmdConfig:
		return e.handleConfig(cmd)

	case protocol.CmdPing:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"pong": time.Now().Unix(),
		})

	case protocol.CmdQuit:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"message": "goodbye",
		})

	default:
		return protocol.NewErrorResponse(fmt.Sprintf("unknown command: %s", cmd.Type))
	}
}

// handleStatus returns current daemon status
func (e *CoreEngine) handleStatus() *protocol.Response {
	status := protocol.Status{
		Backend:   e.hookOpt.Backend.String(),
		Hooked:    e.hookOpt.Enabled,
		Playing:   e.player.Playing(),
		Source:    e.player.Source(),
		Uptime:    time.Since(e.startTime).String(),
		StartTime: e.startTime,
		Version:   Version,
	}
	if f := e.hook.Format(); f.Channels > 0 {
		status.Format = f.String()
	}

	data := map[string]interface{}{
		"player": e.player.Stats(),
	}

	switch b := e.hook.Backend().(type) {
	case *proaudio.Backend:
		info := b.Info()
		status.Driver = info.Name
		status.State = info.State
		data["pro_audio"] = info
	case nil:
	default:
		data["backend_format"] = b.Format()
	}

	if e.monitor != nil {
		data["monitor"] = e.monitor.GetStatistics()
	}
	if e.capture != nil {
		data["capture"] = map[string]interface{}{
			"files":   e.capture.Files(),
			"frames":  e.capture.Frames(),
			"dropped": e.capture.Dropped(),
		}
	}

	data["status"] = status
	return protocol.NewSuccessResponse(data)
}

// handleDrivers lists the installed pro-audio drivers
func (e *CoreEngine) handleDrivers() *protocol.Response {
	list := e.hookOpt.ProAudio.Drivers
	if list == nil {
		return protocol.NewErrorResponse("no pro-audio driver list configured")
	}
	drivers, err := list.Drivers()
	if err != nil {
		return protocol.NewErrorResponse(fmt.Sprintf("failed to list drivers: %v", err))
	}
	return protocol.NewSuccessResponse(map[string]interface{}{
		"drivers":  drivers,
		"count":    len(drivers),
		"selected": e.hookOpt.ProAudio.DriverID,
	})
}

// handleSessions returns the session history
func (e *CoreEngine) handleSessions(cmd *protocol.Command) *protocol.Response {
	if e.store == nil {
		return protocol.NewErrorResponse("session storage not enabled")
	}

	query := storage.SessionQuery{Limit: 50}
	if active, _ := cmd.Args["active"].(bool); active {
		query.ActiveOnly = true
		query.Limit = 0
	}
	if limitStr, ok := cmd.Args["limit"].(string); ok {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			return protocol.NewErrorResponse(fmt.Sprintf("invalid limit: %q", limitStr))
		}
		query.Limit = limit
	}

	sessions, err := e.store.GetSessions(query)
	if err != nil {
		return protocol.NewErrorResponse(err.Error())
	}
	stats, err := e.store.GetSessionStats()
	if err != nil {
		return protocol.NewErrorResponse(err.Error())
	}

	return protocol.NewSuccessResponse(map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
		"stats":    stats,
	})
}

// handleEvents returns the event log of one session
func (e *CoreEngine) handleEvents(cmd *protocol.Command) *protocol.Response {
	if e.store == nil {
		return protocol.NewErrorResponse("session storage not enabled")
	}
	id, _ := cmd.Args["session"].(string)
	if id == "" {
		return protocol.NewErrorResponse("session id required")
	}

	session, err := e.store.GetSession(id)
	if err != nil {
		return protocol.NewErrorResponse(err.Error())
	}
	events, err := e.store.GetEvents(id)
	if err != nil {
		return protocol.NewErrorResponse(err.Error())
	}

	return protocol.NewSuccessResponse(map[string]interface{}{
		"session": session,
		"events":  events,
	})
}

// handlePlay starts the player on the requested source
func (e *CoreEngine) handlePlay(cmd *protocol.Command) *protocol.Response {
	source, _ := cmd.Args["source"].(string)
	arg, _ := cmd.Args["arg"].(string)
	if source == "" {
		source = e.config.Player.Source
		if source == "file" {
			arg = e.config.Player.File
		}
	}

	src, err := e.openSource(source, arg)
	if err != nil {
		return protocol.NewErrorResponse(err.Error())
	}

	if err := e.player.Start(src); err != nil {
		src.Close()
		return protocol.NewErrorResponse(err.Error())
	}

	e.log.Info(component, "playback started", logging.Fields{"source": src.Name()})
	return protocol.NewSuccessResponse(map[string]interface{}{
		"status": "playing",
		"source": src.Name(),
	})
}

func (e *CoreEngine) openSource(source, arg string) (player.Source, error) {
	rate := e.config.Device.SampleRate
	channels := e.config.Device.Channels

	switch source {
	case "tone":
		freq := e.config.Player.Frequency
		if arg != "" {
			f, err := strconv.ParseFloat(arg, 64)
			if err != nil || f <= 0 {
				return nil, fmt.Errorf("invalid tone frequency: %q", arg)
			}
			freq = f
		}
		return player.NewTone(freq, e.config.Player.Amplitude, rate, channels, 0), nil

	case "silence":
		return player.NewSilence(rate, channels, 0), nil

	case "file":
		if arg == "" {
			return nil, fmt.Errorf("file source needs a path")
		}
		return player.OpenFile(arg)
	}
	return nil, fmt.Errorf("unknown source: %q", source)
}

// handleReset asks the pro-audio backend to reload its driver
func (e *CoreEngine) handleReset() *protocol.Response {
	b, ok := e.hook.Backend().(*proaudio.Backend)
	if !ok {
		return protocol.NewErrorResponse("no pro-audio backend active")
	}
	b.RequestReset()
	return protocol.NewSuccessResponse(map[string]interface{}{
		"status": "reset requested",
	})
}

// handlePanel opens the driver's control panel
func (e *CoreEngine) handlePanel() *protocol.Response {
	b, ok := e.hook.Backend().(*proaudio.Backend)
	if !ok {
		return protocol.NewErrorResponse("no pro-audio backend active")
	}
	if err := b.ControlPanel(); err != nil {
		return protocol.NewErrorResponse(fmt.Sprintf("control panel: %v", err))
	}
	return protocol.NewSuccessResponse(map[string]interface{}{
		"status": "control panel opened",
	})
}

// handleLevels returns the latest level and spectrum data
func (e *CoreEngine) handleLevels() *protocol.Response {
	if e.monitor == nil {
		return protocol.NewErrorResponse("level monitor not enabled")
	}
	return protocol.NewSuccessResponse(map[string]interface{}{
		"levels":     e.monitor.GetVisualizationData(),
		"statistics": e.monitor.GetStatistics(),
	})
}

// configValues is the read-only view CONFIG:get exposes
func (e *CoreEngine) configValues() map[string]interface{} {
	c := e.config
	return map[string]interface{}{
		"hook.enabled":                   c.Hook.Enabled,
		"hook.backend":                   e.hookOpt.Backend.String(),
		"hook.force_synthetic":           c.Hook.ForceSynthetic,
		"hook.mute_buffers":              c.Hook.MuteBuffers,
		"hook.fix_multichannel":          c.Hook.FixMultichannel,
		"hook.low_latency_shared":        c.Hook.LowLatencyShared,
		"pro_audio.driver":               c.ProAudio.Driver,
		"pro_audio.driver_index":         c.ProAudio.DriverIndex,
		"pro_audio.force_unload_on_stop": c.ProAudio.ForceUnloadOnStop,
		"pro_audio.queue_depth":          c.ProAudio.QueueDepth,
		"pro_audio.pool_report_seconds":  c.ProAudio.PoolReportSeconds,
		"device.sample_rate":             c.Device.SampleRate,
		"device.channels":                c.Device.Channels,
		"device.bits_per_sample":         c.Device.BitsPerSample,
		"device.period_ms":               c.Device.PeriodMs,
		"player.source":                  c.Player.Source,
		"player.exclusive":               c.Player.Exclusive,
		"monitor.enabled":                c.Monitor.Enabled,
		"capture.enabled":                c.Capture.Enabled,
		"capture.directory":              c.Capture.Directory,
	}
}

// handleConfig answers CONFIG:get:key and CONFIG:list. Options are fixed
// once the hook exists, so set is refused.
func (e *CoreEngine) handleConfig(cmd *protocol.Command) *protocol.Response {
	action, _ := cmd.Args["action"].(string)
	key, _ := cmd.Args["key"].(string)
	values := e.configValues()

	switch strings.ToLower(action) {
	case "", "list":
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return protocol.NewSuccessResponse(map[string]interface{}{
			"keys":   keys,
			"values": values,
		})

	case "get":
		v, ok := values[key]
		if !ok {
			return protocol.NewErrorResponse(fmt.Sprintf("unknown config key: %q", key))
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"key":   key,
			"value": v,
		})

	case "set":
		return protocol.NewErrorResponse("configuration is read-only while the hook is installed; edit the file and restart")
	}
	return protocol.NewErrorResponse(fmt.Sprintf("unknown config action: %q", action))
}

// isRunning checks if the engine is running
func (e *CoreEngine) isRunning() bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.running
}

// Monitor returns the level monitor, nil when disabled
func (e *CoreEngine) Monitor() *monitor.LevelMonitor {
	return e.monitor
}

// Hook returns the installed hook
func (e *CoreEngine) Hook() *hook.Hook {
	return e.hook
}

// Player returns the test consumer
func (e *CoreEngine) Player() *player.Player {
	return e.player
}

// BackendKind is the configured backend
func (e *CoreEngine) BackendKind() backend.Kind {
	return e.hookOpt.Backend
}
