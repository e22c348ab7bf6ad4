package proaudio

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/dougsko/audiohook/pkg/backend"
	"github.com/dougsko/audiohook/pkg/format"
)

func (b *Backend) initialized() bool {
	return b.workerReady.Load() && b.State() == StateRunning
}

func isSupportedSubformat(f format.StreamFormat) bool {
	return f.SampleFormat().Supported()
}

// refTime is the device period: one preferred driver buffer at the rate
// last checked against the driver
func (b *Backend) refTime() backend.RefTime {
	return backend.FramesToRefTime(b.instance().Buffers.Preferred, b.lastCheckedFormat().SampleRate)
}

func (b *Backend) OnInitialize(p *backend.StreamParams) error {
	b.fmtMu.Lock()
	b.format = p.Format
	b.lastChecked = p.Format
	b.fmtMu.Unlock()

	if !b.initialized() {
		return backend.ErrDeviceInvalidated
	}
	if owner := b.opts.Slot.Owner(); owner != nil && owner != b {
		b.log.Warn(component, "another pro-audio backend already owns the driver")
		return backend.ErrAlreadyInitialized
	}

	rate := p.Format.SampleRate
	if err := b.runOnWorker(func() error {
		if b.driver == nil {
			return DriverNotPresent
		}
		return b.driver.SetSampleRate(float64(rate))
	}); err != nil {
		b.log.Warnf(component, "failed to set sample rate %d: %v", rate, err)
		return fmt.Errorf("sample rate %d: %w", rate, backend.ErrUnsupportedFormat)
	}

	rt := b.refTime()
	p.BufferDuration = rt
	p.Periodicity = rt

	if p.ShareMode == backend.Shared && !p.Flags.Has(backend.FlagEventCallback) {
		b.log.Warn(component, "shared mode stream without event callback, pacing is up to the consumer")
	}

	if p.Format.Channels > b.instance().Outputs {
		return fmt.Errorf("%d channels, driver has %d outputs: %w",
			p.Format.Channels, b.instance().Outputs, backend.ErrUnsupportedFormat)
	}
	if !isSupportedSubformat(p.Format) {
		return fmt.Errorf("%s: %w", p.Format.SubFormatName(), backend.ErrUnsupportedFormat)
	}

	if err := b.runOnWorker(b.initBuffers); err != nil {
		if errors.Is(err, backend.ErrAlreadyInitialized) {
			return err
		}
		b.log.Warnf(component, "failed to initialize driver buffers: %v", err)
		return fmt.Errorf("init buffers: %v: %w", err, backend.ErrDeviceInvalidated)
	}
	return nil
}

func (b *Backend) OnGetBufferSize() (uint32, error) {
	return uint32(b.instance().Buffers.Preferred), nil
}

func (b *Backend) OnGetStreamLatency() (backend.RefTime, error) {
	if !b.initialized() {
		return 0, backend.ErrNotInitialized
	}
	if err := b.runOnWorker(b.updateLatency); err != nil {
		return 0, fmt.Errorf("latency: %v: %w", err, backend.ErrDeviceInvalidated)
	}
	return backend.FramesToRefTime(b.instance().OutputLatency, b.lastCheckedFormat().SampleRate), nil
}

func (b *Backend) OnGetCurrentPadding() (uint32, bool, error) {
	queued := b.queuedFrames.Load()
	if queued < 0 {
		queued = 0
	}
	return uint32(queued), true, nil
}

func (b *Backend) OnIsFormatSupported(mode backend.ShareMode, f format.StreamFormat) error {
	if !b.initialized() {
		return backend.ErrNotInitialized
	}

	b.fmtMu.Lock()
	b.lastChecked = f
	b.fmtMu.Unlock()

	if f.Channels > b.instance().Outputs {
		return backend.ErrUnsupportedFormat
	}
	if !isSupportedSubformat(f) {
		return backend.ErrUnsupportedFormat
	}

	rate := f.SampleRate
	if err := b.runOnWorker(func() error {
		if b.driver == nil {
			return DriverNotPresent
		}
		return b.driver.CanSampleRate(float64(rate))
	}); err != nil {
		return fmt.Errorf("sample rate %d: %w", rate, backend.ErrUnsupportedFormat)
	}
	return nil
}

func (b *Backend) OnGetMixFormat() (format.StreamFormat, error) {
	var f format.StreamFormat
	err := b.runOnWorker(func() error {
		var err error
		f, err = b.initialFormat()
		return err
	})
	if err != nil {
		return format.StreamFormat{}, fmt.Errorf("mix format: %v: %w", err, backend.ErrDeviceInvalidated)
	}
	return f, nil
}

func (b *Backend) OnGetDevicePeriod() (backend.RefTime, backend.RefTime, error) {
	rt := b.refTime()
	return rt, rt, nil
}

// OnStart starts the driver and waits for buffers queued by a previous
// session to play out
func (b *Backend) OnStart() error {
	if !b.initialized() {
		return backend.ErrNotInitialized
	}

	b.opts.InitializeLock.Lock()
	err := b.runOnWorker(b.start)
	b.opts.InitializeLock.Unlock()
	if err != nil {
		b.log.Warnf(component, "failed to start driver: %v", err)
		return fmt.Errorf("start: %v: %w", err, backend.ErrDeviceInvalidated)
	}
	b.started.Store(true)

	deadline := time.Now().Add(b.opts.StartDrainTimeout)
	for b.queuedFrames.Load() > 0 {
		if time.Now().After(deadline) {
			b.log.Warnf(component, "%d stale frames still queued after start", b.queuedFrames.Load())
			break
		}
		runtime.Gosched()
	}
	return nil
}

func (b *Backend) OnStop() error {
	err := b.runOnWorker(b.stop)
	b.started.Store(false)
	if err != nil {
		b.log.Warnf(component, "failed to stop driver: %v", err)
		return fmt.Errorf("stop: %v: %w", err, backend.ErrDeviceInvalidated)
	}
	return nil
}

// OnSetEventHandle relays buffer switches to h. The returned event is
// handed to the real client, which this backend never signals through.
func (b *Backend) OnSetEventHandle(h *backend.Event) (*backend.Event, error) {
	b.relay.Store(h)
	return backend.NewEvent(), nil
}

// reclaim returns buffers the callback has finished with to the pool
func (b *Backend) reclaim() {
	for {
		buf, ok := b.recycle.Pop()
		if !ok {
			return
		}
		buf.Release()
	}
}

func (b *Backend) OnGetBuffer(frames uint32) ([]byte, error) {
	f := b.Format()
	if f.Channels == 0 {
		return nil, backend.ErrNotInitialized
	}
	b.reclaim()

	size := max(f.BlockAlign*int(frames), format.RequiredBufferSize(int(frames), f.Channels, b.driverSampleFormat()))
	buf := b.pool.Get(size)
	if b.pending != nil {
		b.pending.Release()
	}
	b.pending = buf
	return buf.Data[:f.BlockAlign*int(frames)], nil
}

// OnReleaseBuffer converts the pending buffer to the driver's encoding and
// queues it for the buffer-switch callback
func (b *Backend) OnReleaseBuffer(frames uint32, flags backend.BufferFlags) error {
	buf := b.pending
	if buf == nil {
		return backend.ErrOutOfOrder
	}
	b.pending = nil

	if frames == 0 {
		buf.Release()
		return nil
	}

	f := b.Format()
	length := f.BlockAlign * int(frames)
	if length > len(buf.Data) {
		buf.Release()
		return backend.ErrAllocationFailure
	}

	if flags&backend.BufferSilent != 0 {
		clear(buf.Data[:length])
	}

	n, err := format.Convert(buf.Data, length, f.Channels, &b.scratch, f.SampleFormat(), b.driverSampleFormat())
	if err != nil {
		buf.Release()
		return fmt.Errorf("convert: %v: %w", err, backend.ErrAllocationFailure)
	}

	b.queuedFrames.Add(int64(frames))
	b.queuedBytes.Add(int64(n))
	if !b.queue.Push(entry{buf: buf, length: n}) {
		b.queuedFrames.Add(-int64(frames))
		b.queuedBytes.Add(-int64(n))
		buf.Release()
		b.log.Warn(component, "buffer queue full, dropping released buffer")
		return backend.ErrAllocationFailure
	}
	return nil
}
