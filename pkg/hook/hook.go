package hook

import (
	"fmt"
	"sync"
	"time"

	"github.com/dougsko/audiohook/pkg/backend"
	"github.com/dougsko/audiohook/pkg/format"
	"github.com/dougsko/audiohook/pkg/logging"
	"github.com/dougsko/audiohook/pkg/proaudio"
	"github.com/dougsko/audiohook/pkg/waveout"
	"github.com/google/uuid"
)

const component = "audio::hook"

// Tap sees every released consumer buffer before it reaches a backend or
// the platform client. Taps must not keep data after returning.
type Tap interface {
	OnBuffer(f format.StreamFormat, data []byte, flags backend.BufferFlags)
}

// TapFunc adapts a function to Tap
type TapFunc func(f format.StreamFormat, data []byte, flags backend.BufferFlags)

func (fn TapFunc) OnBuffer(f format.StreamFormat, data []byte, flags backend.BufferFlags) {
	fn(f, data, flags)
}

// Event kinds delivered to a Recorder
const (
	EventActivate   = "activate"
	EventInitialize = "initialize"
	EventStart      = "start"
	EventStop       = "stop"
	EventClose      = "close"
)

// SessionEvent describes one step of a client's life
type SessionEvent struct {
	Session   uuid.UUID
	Kind      string
	Backend   backend.Kind
	Synthetic bool
	Device    string
	Params    *backend.StreamParams
	Status    string
	Time      time.Time
}

// Recorder receives session lifecycle events
type Recorder interface {
	Record(ev SessionEvent)
}

// Options configure the hook. They are fixed once the hook is created.
type Options struct {
	Enabled bool
	Backend backend.Kind

	// ForceSynthetic replaces the platform client even for backends that
	// can share it
	ForceSynthetic bool

	// MuteBuffers exclusive-mode buffers are zeroed around each start
	MuteBuffers int

	FixMultichannel  bool
	LowLatencyShared bool

	ProAudio      proaudio.Options
	WaveOut       waveout.Options
	WaveOutDevice func() waveout.Device

	Taps     []Tap
	Recorder Recorder
	Logger   *logging.Logger
}

// Hook owns the factory override and the clients it creates
type Hook struct {
	opts Options
	log  *logging.Logger

	// held while a client is being wrapped and while a pro-audio driver
	// starts; drivers that proxy through the platform stack re-enter
	// Activate under it
	initLock sync.Mutex

	driverSlot    backend.Slot
	syntheticSlot backend.Slot

	mu       sync.Mutex
	original ActivateFunc
	current  AudioClient
	format   format.StreamFormat
}

// New creates a hook. Nothing is intercepted until Install.
func New(opts Options) *Hook {
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}
	if opts.WaveOutDevice == nil {
		opts.WaveOutDevice = waveout.NewPlatformDevice
	}
	return &Hook{opts: opts, log: opts.Logger}
}

// Install replaces the client factory through ic
func (h *Hook) Install(ic Interceptor) error {
	if !h.opts.Enabled {
		h.log.Info(component, "audio hook disabled")
		return nil
	}
	h.log.Info(component, "initializing", logging.Fields{"backend": h.opts.Backend.String()})

	original, err := ic.Install(ActivateSymbol, h.Activate)
	if err != nil {
		return fmt.Errorf("failed to install %s override: %w", ActivateSymbol, err)
	}

	h.mu.Lock()
	h.original = original
	h.mu.Unlock()
	return nil
}

// Activate is the replacement factory. It creates the platform client and
// wraps it, or swaps it for a synthetic client when the backend demands.
func (h *Hook) Activate(deviceID string) (AudioClient, error) {
	h.mu.Lock()
	original := h.original
	h.mu.Unlock()
	if original == nil {
		return nil, fmt.Errorf("%s: %w", ActivateSymbol, ErrSymbolNotFound)
	}

	platform, err := original(deviceID)
	if err != nil {
		h.log.Warnf(component, "IMMDevice::Activate failed, hr=%s", backend.StatusName(err))
		return nil, err
	}

	if !h.initLock.TryLock() {
		h.log.Warn(component, "ignoring wrap request while backend is initializing, possible recursion")
		return platform, nil
	}
	defer h.initLock.Unlock()

	client, err := h.wrap(deviceID, platform)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.current = client
	h.mu.Unlock()
	return client, nil
}

func (h *Hook) wrap(deviceID string, platform AudioClient) (AudioClient, error) {
	kind := h.opts.Backend
	synthetic := h.opts.ForceSynthetic || kind.RequiresSynthetic()
	if synthetic && kind == backend.None {
		h.log.Warn(component, "synthetic client requested without a backend, wrapping the platform client")
		synthetic = false
	}

	id := uuid.New()
	if !synthetic {
		b, err := h.newBackend()
		if err != nil {
			platform.Close()
			return nil, err
		}
		c := newWrappedClient(h, id, platform, b)
		h.record(SessionEvent{Session: id, Kind: EventActivate, Backend: kind, Device: deviceID})
		return c, nil
	}

	c := &SyntheticClient{h: h, id: id, trace: newTracer(h.log, "SyntheticClient")}
	if err := h.syntheticSlot.Acquire(c); err != nil {
		h.log.Error(component, "a backend driven client is already active", logging.Fields{"backend": kind.String()})
		platform.Close()
		return nil, err
	}

	b, err := h.newBackend()
	if err != nil {
		h.syntheticSlot.Release(c)
		platform.Close()
		return nil, err
	}

	// the synthetic client never touches the platform client
	platform.Close()
	c.backend = b
	h.record(SessionEvent{Session: id, Kind: EventActivate, Backend: kind, Synthetic: true, Device: deviceID})
	return c, nil
}

func (h *Hook) newBackend() (backend.Backend, error) {
	switch h.opts.Backend {
	case backend.ProAudio:
		opts := h.opts.ProAudio
		opts.Slot = &h.driverSlot
		opts.InitializeLock = &h.initLock
		if opts.Logger == nil {
			opts.Logger = h.log
		}
		b, err := proaudio.New(opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	case backend.WaveOut:
		return waveout.New(h.opts.WaveOutDevice(), h.opts.WaveOut), nil
	}
	return nil, nil
}

// Current returns the most recently activated client
func (h *Hook) Current() AudioClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Format returns the last format a client was initialized with
func (h *Hook) Format() format.StreamFormat {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.format
}

func (h *Hook) setFormat(f format.StreamFormat) {
	h.mu.Lock()
	h.format = f
	h.mu.Unlock()
}

// Backend returns the backend behind the current client, if any
func (h *Hook) Backend() backend.Backend {
	switch c := h.Current().(type) {
	case *WrappedClient:
		return c.backend
	case *SyntheticClient:
		return c.backend
	}
	return nil
}

// Stop stops and closes the current client
func (h *Hook) Stop() {
	h.log.Info(component, "stopping")

	h.mu.Lock()
	client := h.current
	h.current = nil
	h.mu.Unlock()

	if client != nil {
		client.Stop()
		client.Close()
	}
}

func (h *Hook) record(ev SessionEvent) {
	if h.opts.Recorder == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	h.opts.Recorder.Record(ev)
}

func (h *Hook) tap(f format.StreamFormat, data []byte, flags backend.BufferFlags) {
	for _, t := range h.opts.Taps {
		t.OnBuffer(f, data, flags)
	}
}
