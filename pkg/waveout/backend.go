package waveout

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dougsko/audiohook/pkg/backend"
	"github.com/dougsko/audiohook/pkg/format"
)

const (
	// BufferCount is the number of headers cycled through the device
	BufferCount = 3

	// TargetRefTime is the duration of one buffer, 10 ms
	TargetRefTime backend.RefTime = 100000
)

// Options tune the streaming-output backend
type Options struct {
	// WaitTimeout bounds how long GetBuffer and ReleaseBuffer wait for a
	// header to come back from the device. Zero waits forever.
	WaitTimeout time.Duration
}

// Backend drives a waveform output stream with a small fixed pool of
// buffers. It has no thread of its own: all work happens inside the
// consumer's calls.
type Backend struct {
	device Device
	opts   Options

	mu          sync.Mutex
	format      format.StreamFormat
	initialized bool
	closed      bool
	headers     [BufferCount]*Header
	pending     []byte

	// set once the headers exist; padding reads them without the lock
	ready      atomic.Bool
	blockAlign int

	dispatcher *backend.Event
	relay      atomic.Pointer[backend.Event]

	written atomic.Int64
}

// New creates a streaming-output backend writing to device
func New(device Device, opts Options) *Backend {
	return &Backend{
		device:     device,
		opts:       opts,
		dispatcher: backend.NewEvent(),
	}
}

var _ backend.Backend = (*Backend)(nil)

func (b *Backend) Kind() backend.Kind {
	return backend.WaveOut
}

func (b *Backend) Format() format.StreamFormat {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.format
}

// BytesWritten returns the number of bytes submitted to the device
func (b *Backend) BytesWritten() int64 {
	return b.written.Load()
}

func (b *Backend) OnInitialize(p *backend.StreamParams) error {
	b.mu.Lock()
	b.format = p.Format
	b.mu.Unlock()

	p.ShareMode = backend.Shared
	p.Flags = backend.FlagEventCallback |
		backend.FlagRateAdjust |
		backend.FlagAutoConvertPCM |
		backend.FlagSrcDefaultQuality
	p.BufferDuration = TargetRefTime
	p.Periodicity = TargetRefTime

	if p.Format.Channels > 2 {
		return fmt.Errorf("waveout supports at most 2 channels, got %d: %w",
			p.Format.Channels, backend.ErrUnsupportedFormat)
	}
	return nil
}

// OnGetBufferSize reports the frames held by all buffers together
func (b *Backend) OnGetBufferSize() (uint32, error) {
	f := b.Format()
	return uint32(BufferCount * backend.RefTimeToFrames(TargetRefTime, f.SampleRate)), nil
}

func (b *Backend) OnGetStreamLatency() (backend.RefTime, error) {
	return TargetRefTime, nil
}

// OnGetCurrentPadding reports frames still queued in the device
func (b *Backend) OnGetCurrentPadding() (uint32, bool, error) {
	if !b.ready.Load() || b.blockAlign == 0 {
		return 0, true, nil
	}
	queued := 0
	for _, h := range b.headers {
		if !h.Done() {
			queued += h.Length
		}
	}
	return uint32(queued / b.blockAlign), true, nil
}

func (b *Backend) OnIsFormatSupported(mode backend.ShareMode, f format.StreamFormat) error {
	if mode == backend.Exclusive &&
		f.Channels == 2 &&
		f.SampleRate == 44100 &&
		f.BitsPerSample == 16 {
		return nil
	}
	return backend.ErrUnsupportedFormat
}

func (b *Backend) OnGetMixFormat() (format.StreamFormat, error) {
	return format.StreamFormat{}, backend.ErrNotImplemented
}

func (b *Backend) OnGetDevicePeriod() (backend.RefTime, backend.RefTime, error) {
	return TargetRefTime, TargetRefTime, nil
}

func (b *Backend) OnStart() error {
	return nil
}

func (b *Backend) OnStop() error {
	return nil
}

// OnSetEventHandle keeps the consumer's handle as the relay and hands the
// internal dispatcher event to the real client
func (b *Backend) OnSetEventHandle(h *backend.Event) (*backend.Event, error) {
	b.relay.Store(h)
	return b.dispatcher, nil
}

func (b *Backend) onDone(h *Header) {
	h.done.Store(true)
	b.dispatcher.Set()
}

// init opens the device and primes every header with silence
func (b *Backend) init(size int) error {
	if err := b.device.Open(b.format, b.onDone); err != nil {
		return fmt.Errorf("failed to open waveout device: %w", err)
	}

	perBuffer := backend.RefTimeToFrames(TargetRefTime, b.format.SampleRate) * b.format.BlockAlign
	if perBuffer > size {
		size = perBuffer
	}

	for i := range b.headers {
		h := &Header{Data: make([]byte, size), Length: size}
		if err := b.device.Prepare(h); err != nil {
			return fmt.Errorf("failed to prepare header %d: %w", i, err)
		}
		h.prepared = true
		b.headers[i] = h
	}
	b.blockAlign = b.format.BlockAlign
	b.ready.Store(true)

	for i, h := range b.headers {
		if err := b.device.Write(h); err != nil {
			return fmt.Errorf("failed to write header %d: %w", i, err)
		}
	}

	log.Printf("WaveOut: initialized %d buffers of %d bytes (%s)", BufferCount, size, b.format)
	b.initialized = true
	return nil
}

func (b *Backend) anyDone() bool {
	for _, h := range b.headers {
		if h.Done() {
			return true
		}
	}
	return false
}

// waitDone blocks until a header is free
func (b *Backend) waitDone() error {
	var deadline time.Time
	if b.opts.WaitTimeout > 0 {
		deadline = time.Now().Add(b.opts.WaitTimeout)
	}
	for !b.anyDone() {
		wait := time.Duration(-1)
		if !deadline.IsZero() {
			wait = time.Until(deadline)
			if wait <= 0 {
				return fmt.Errorf("no waveout buffer completed: %w", backend.ErrDeviceInvalidated)
			}
		}
		b.dispatcher.Wait(wait)
	}
	return nil
}

func (b *Backend) OnGetBuffer(frames uint32) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, backend.ErrDeviceInvalidated
	}
	size := int(frames) * b.format.BlockAlign
	if !b.initialized {
		if err := b.init(size); err != nil {
			return nil, fmt.Errorf("%v: %w", err, backend.ErrDeviceInvalidated)
		}
	}

	if err := b.waitDone(); err != nil {
		return nil, err
	}

	if cap(b.pending) < size {
		b.pending = make([]byte, size)
	}
	b.pending = b.pending[:size]
	return b.pending, nil
}

func (b *Backend) OnReleaseBuffer(frames uint32, flags backend.BufferFlags) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return backend.ErrOutOfOrder
	}
	n := int(frames) * b.format.BlockAlign
	if n > len(b.pending) {
		return fmt.Errorf("released %d bytes, buffer holds %d: %w", n, len(b.pending), backend.ErrAllocationFailure)
	}
	data := b.pending[:n]
	if flags&backend.BufferSilent != 0 {
		clear(data)
	}

	b.dispatcher.Reset()

	var deadline time.Time
	if b.opts.WaitTimeout > 0 {
		deadline = time.Now().Add(b.opts.WaitTimeout)
	}
	for offset := 0; offset < n; {
		for _, h := range b.headers {
			if offset >= n {
				break
			}
			if !h.Done() {
				continue
			}
			chunk := copy(h.Data, data[offset:])
			h.Length = chunk
			h.done.Store(false)
			if err := b.device.Write(h); err != nil {
				h.done.Store(true)
				return fmt.Errorf("waveout write failed: %v: %w", err, backend.ErrDeviceInvalidated)
			}
			b.written.Add(int64(chunk))
			offset += chunk
		}
		if offset < n {
			if !deadline.IsZero() && time.Now().After(deadline) {
				return fmt.Errorf("waveout stalled with %d bytes unwritten: %w", n-offset, backend.ErrDeviceInvalidated)
			}
			time.Sleep(time.Millisecond)
		}
	}

	if relay := b.relay.Load(); relay != nil {
		relay.Set()
	}
	return nil
}

// Close resets the stream and releases every header
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if !b.initialized {
		return nil
	}

	if err := b.device.Reset(); err != nil {
		log.Printf("WaveOut: reset failed: %v", err)
	}
	for _, h := range b.headers {
		if h != nil && h.prepared {
			if err := b.device.Unprepare(h); err != nil {
				log.Printf("WaveOut: unprepare failed: %v", err)
			}
			h.prepared = false
		}
	}
	return b.device.Close()
}
