// Package platform provides the default shared-mode playback client. It
// mixes nothing: one client at a time plays through the process-wide oto
// context, which is what the hook wraps when no backend replaces it.
package platform

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/dougsko/audiohook/pkg/backend"
	"github.com/dougsko/audiohook/pkg/format"
	"github.com/dougsko/audiohook/pkg/hook"
	"github.com/dougsko/audiohook/pkg/speaker"
)

// Output is a started pull player
type Output interface {
	Play()
	Pause()
	Close() error
}

// Opener creates the player that pulls from r
type Opener func(sampleRate, channels int, r io.Reader) (Output, error)

// OtoOpener plays through the shared oto context
func OtoOpener(sampleRate, channels int, r io.Reader) (Output, error) {
	ctx, err := speaker.Open(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	return ctx.NewPlayer(r), nil
}

// DeviceConfig is the shape of the shared device
type DeviceConfig struct {
	SampleRate    int
	Channels      int
	BitsPerSample int

	// PeriodMs is the device period in milliseconds
	PeriodMs int

	Open Opener
}

func (c *DeviceConfig) setDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.Channels <= 0 {
		c.Channels = 2
	}
	if c.BitsPerSample <= 0 {
		c.BitsPerSample = 16
	}
	if c.PeriodMs <= 0 {
		c.PeriodMs = 10
	}
	if c.Open == nil {
		c.Open = OtoOpener
	}
}

// Factory returns the platform client factory for cfg
func Factory(cfg DeviceConfig) hook.ActivateFunc {
	cfg.setDefaults()
	return func(deviceID string) (hook.AudioClient, error) {
		log.Printf("Shared: activating %q", deviceID)
		return NewSharedClient(cfg), nil
	}
}

// SharedClient plays through a speaker stream. Buffers are converted to
// 16-bit on release and handed back once the player has pulled them.
type SharedClient struct {
	cfg DeviceConfig

	mu          sync.Mutex
	format      format.StreamFormat
	frames      uint32
	initialized bool
	started     bool
	stream      *speaker.Stream
	output      Output
	event       *backend.Event
	buf         []byte
	pending     bool
	closed      bool
}

var _ hook.AudioClient = (*SharedClient)(nil)

// NewSharedClient creates a client for the device described by cfg
func NewSharedClient(cfg DeviceConfig) *SharedClient {
	cfg.setDefaults()
	return &SharedClient{cfg: cfg}
}

func (c *SharedClient) period() backend.RefTime {
	return backend.RefTime(c.cfg.PeriodMs) * backend.RefTimePerSecond / 1000
}

func (c *SharedClient) mixFormat() format.StreamFormat {
	return format.NewPCM(c.cfg.Channels, c.cfg.SampleRate, c.cfg.BitsPerSample)
}

func (c *SharedClient) supported(f format.StreamFormat) error {
	if f.SampleRate != c.cfg.SampleRate || f.Channels != c.cfg.Channels {
		return fmt.Errorf("device runs at %dHz %dch, got %s: %w",
			c.cfg.SampleRate, c.cfg.Channels, f, backend.ErrUnsupportedFormat)
	}
	if !f.SampleFormat().Supported() {
		return fmt.Errorf("cannot convert %s: %w", f, backend.ErrUnsupportedFormat)
	}
	return nil
}

func (c *SharedClient) Initialize(p backend.StreamParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return backend.ErrAlreadyInitialized
	}
	if err := c.supported(p.Format); err != nil {
		return err
	}

	duration := p.BufferDuration
	if duration < c.period() {
		duration = c.period()
	}
	frames := backend.RefTimeToFrames(duration, p.Format.SampleRate)

	stream := speaker.NewStream(p.Format.SampleFormat(), p.Format.Channels)
	output, err := c.cfg.Open(p.Format.SampleRate, p.Format.Channels, stream)
	if err != nil {
		return fmt.Errorf("failed to open shared device: %v: %w", err, backend.ErrDeviceInvalidated)
	}

	c.format = p.Format
	c.frames = uint32(frames)
	c.stream = stream
	c.output = output
	c.initialized = true
	log.Printf("Shared: initialized %s, %d frames", p.Format, frames)
	return nil
}

func (c *SharedClient) GetBufferSize() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return 0, backend.ErrNotInitialized
	}
	return c.frames, nil
}

func (c *SharedClient) GetStreamLatency() (backend.RefTime, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return 0, backend.ErrNotInitialized
	}
	return c.period(), nil
}

// GetCurrentPadding reports frames queued and not yet pulled by the player
func (c *SharedClient) GetCurrentPadding() (uint32, error) {
	c.mu.Lock()
	stream, channels := c.stream, c.format.Channels
	c.mu.Unlock()
	if stream == nil {
		return 0, backend.ErrNotInitialized
	}
	return uint32(stream.Queued() / (2 * channels)), nil
}

func (c *SharedClient) IsFormatSupported(mode backend.ShareMode, f format.StreamFormat) error {
	if mode == backend.Exclusive {
		return fmt.Errorf("shared device has no exclusive mode: %w", backend.ErrUnsupportedFormat)
	}
	return c.supported(f)
}

func (c *SharedClient) GetMixFormat() (format.StreamFormat, error) {
	return c.mixFormat(), nil
}

func (c *SharedClient) GetDevicePeriod() (backend.RefTime, backend.RefTime, error) {
	return c.period(), c.period(), nil
}

func (c *SharedClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return backend.ErrNotInitialized
	}
	if !c.started {
		c.output.Play()
		c.started = true
	}
	return nil
}

func (c *SharedClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return backend.ErrNotInitialized
	}
	if c.started {
		c.output.Pause()
		c.started = false
	}
	return nil
}

func (c *SharedClient) Reset() error {
	c.mu.Lock()
	stream, started := c.stream, c.started
	c.mu.Unlock()
	if stream == nil {
		return backend.ErrNotInitialized
	}
	if started {
		return backend.ErrOutOfOrder
	}
	stream.Flush()
	return nil
}

func (c *SharedClient) SetEventHandle(h *backend.Event) error {
	c.mu.Lock()
	c.event = h
	c.mu.Unlock()
	return nil
}

func (c *SharedClient) GetService(s hook.Service) (any, error) {
	if s == hook.ServiceRenderClient {
		return &sharedRenderClient{c}, nil
	}
	return nil, backend.ErrNoInterface
}

func (c *SharedClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stream, output := c.stream, c.output
	c.mu.Unlock()

	// flushing runs done callbacks, which take the lock
	if stream != nil {
		stream.Flush()
	}
	if output != nil {
		return output.Close()
	}
	return nil
}

// signal is called by the stream once a chunk has been pulled
func (c *SharedClient) signal() {
	c.mu.Lock()
	ev := c.event
	c.mu.Unlock()
	if ev != nil {
		ev.Set()
	}
}

type sharedRenderClient struct {
	c *SharedClient
}

func (r *sharedRenderClient) GetBuffer(frames uint32) ([]byte, error) {
	c := r.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return nil, backend.ErrNotInitialized
	}
	if c.pending {
		return nil, backend.ErrOutOfOrder
	}
	queued := uint32(c.stream.Queued() / (2 * c.format.Channels))
	if queued+frames > c.frames {
		return nil, fmt.Errorf("%d frames requested with %d of %d queued: %w",
			frames, queued, c.frames, backend.ErrAllocationFailure)
	}

	size := int(frames) * c.format.BlockAlign
	if cap(c.buf) < size {
		c.buf = make([]byte, size)
	}
	c.buf = c.buf[:size]
	c.pending = true
	return c.buf, nil
}

func (r *sharedRenderClient) ReleaseBuffer(frames uint32, flags backend.BufferFlags) error {
	c := r.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.pending {
		return backend.ErrOutOfOrder
	}
	c.pending = false

	n := int(frames) * c.format.BlockAlign
	if n > len(c.buf) {
		return backend.ErrAllocationFailure
	}
	if n == 0 {
		return nil
	}
	data := c.buf[:n]
	if flags&backend.BufferSilent != 0 {
		clear(data)
	}
	return c.stream.Enqueue(data, c.signal)
}
