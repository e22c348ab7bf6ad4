package hook

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dougsko/audiohook/pkg/backend"
	"github.com/dougsko/audiohook/pkg/format"
	"github.com/google/uuid"
)

// WrappedClient forwards to the platform client, consulting the backend
// first where it has an answer
type WrappedClient struct {
	h       *Hook
	id      uuid.UUID
	real    AudioClient
	backend backend.Backend
	trace   *tracer

	mu        sync.Mutex
	format    format.StreamFormat
	exclusive bool
	frameSize int

	muteRemaining atomic.Int32
	closeOnce     sync.Once
}

var _ AudioClient = (*WrappedClient)(nil)

func newWrappedClient(h *Hook, id uuid.UUID, real AudioClient, b backend.Backend) *WrappedClient {
	return &WrappedClient{
		h:       h,
		id:      id,
		real:    real,
		backend: b,
		trace:   newTracer(h.log, "WrappedClient"),
	}
}

// ID identifies the client's session in recorder events
func (c *WrappedClient) ID() uuid.UUID { return c.id }

// Real returns the platform client being wrapped
func (c *WrappedClient) Real() AudioClient { return c.real }

func (c *WrappedClient) Initialize(p backend.StreamParams) error {
	c.trace.call("Initialize")
	log := c.h.log

	if c.h.opts.FixMultichannel && p.Format.Channels > 2 {
		fixMultichannel(log, &p.Format)
	}

	log.Info(component, "IAudioClient::Initialize hook hit")
	logParams(log, &p)

	if c.backend != nil {
		if err := c.backend.OnInitialize(&p); err != nil {
			c.recordInit(&p, err)
			return c.trace.backendCall("on_initialize", err)
		}
		log.Info(component, "AudioBackend::on_initialize call finished")
		logParams(log, &p)
	} else if c.h.opts.LowLatencyShared && p.ShareMode == backend.Shared {
		c.lowLatency(&p)
	}

	c.mu.Lock()
	c.format = p.Format
	if p.ShareMode == backend.Exclusive {
		c.exclusive = true
		c.frameSize = p.Format.Channels * (p.Format.BitsPerSample / 8)
	}
	c.mu.Unlock()
	c.muteRemaining.Store(int32(c.h.opts.MuteBuffers))

	if err := c.real.Initialize(p); err != nil {
		c.recordInit(&p, err)
		return c.trace.check("Initialize", err)
	}
	log.Infof(component, "IAudioClient::Initialize success, hr=%s", backend.StatusName(nil))

	c.h.setFormat(p.Format)
	c.recordInit(&p, nil)
	return nil
}

// lowLatency asks the platform client for its smallest period and uses it
// for both buffer duration and periodicity
func (c *WrappedClient) lowLatency(p *backend.StreamParams) {
	_, minimum, err := c.real.GetDevicePeriod()
	if err != nil || minimum <= 0 {
		c.h.log.Warnf(component, "low latency shared mode unavailable, hr=%s", backend.StatusName(err))
		return
	}
	rate := p.Format.SampleRate
	frames := backend.RefTimeToFrames(minimum, rate)
	c.h.log.Infof(component, "low latency shared mode: %d samples (%.2f ms) instead of %s",
		frames, float64(minimum.Duration().Microseconds())/1000, p.BufferDuration)
	p.BufferDuration = minimum
	p.Periodicity = minimum
}

func (c *WrappedClient) recordInit(p *backend.StreamParams, err error) {
	params := *p
	c.h.record(SessionEvent{
		Session: c.id,
		Kind:    EventInitialize,
		Backend: c.h.opts.Backend,
		Params:  &params,
		Status:  backend.StatusName(err),
	})
}

func (c *WrappedClient) GetBufferSize() (uint32, error) {
	c.trace.first(traceBufferSize)

	if c.backend != nil {
		frames, err := c.backend.OnGetBufferSize()
		if err != nil {
			return 0, c.trace.backendCall("on_get_buffer_size", err)
		}
		if frames > 0 {
			return frames, nil
		}
	}

	frames, err := c.real.GetBufferSize()
	return frames, c.trace.check("GetBufferSize", err)
}

func (c *WrappedClient) GetStreamLatency() (backend.RefTime, error) {
	c.trace.first(traceStreamLatency)

	if c.backend != nil {
		latency, err := c.backend.OnGetStreamLatency()
		if err != nil {
			return 0, c.trace.backendCall("on_get_stream_latency", err)
		}
		if latency > 0 {
			return latency, nil
		}
	}

	latency, err := c.real.GetStreamLatency()
	return latency, c.trace.check("GetStreamLatency", err)
}

func (c *WrappedClient) GetCurrentPadding() (uint32, error) {
	c.trace.first(tracePadding)

	if c.backend != nil {
		frames, ok, err := c.backend.OnGetCurrentPadding()
		if err != nil {
			return 0, c.trace.backendCall("on_get_current_padding", err)
		}
		if ok {
			return frames, nil
		}
	}

	frames, err := c.real.GetCurrentPadding()
	return frames, c.trace.check("GetCurrentPadding", err)
}

func (c *WrappedClient) IsFormatSupported(mode backend.ShareMode, f format.StreamFormat) error {
	c.trace.call("IsFormatSupported")

	if c.h.opts.FixMultichannel && f.Channels > 2 {
		fixMultichannel(c.h.log, &f)
	}
	logFormat(c.h.log, f)

	if c.backend != nil {
		err := c.backend.OnIsFormatSupported(mode, f)
		if err == nil {
			return nil
		}
		if !errors.Is(err, backend.ErrUnsupportedFormat) {
			return c.trace.backendCall("on_is_format_supported", err)
		}
	}

	return c.trace.check("IsFormatSupported", c.real.IsFormatSupported(mode, f))
}

func (c *WrappedClient) GetMixFormat() (format.StreamFormat, error) {
	c.trace.call("GetMixFormat")

	if c.backend != nil {
		f, err := c.backend.OnGetMixFormat()
		if err == nil {
			logFormat(c.h.log, f)
			return f, nil
		}
		if !errors.Is(err, backend.ErrNotImplemented) {
			return format.StreamFormat{}, c.trace.backendCall("on_get_mix_format", err)
		}
	}

	f, err := c.real.GetMixFormat()
	if err != nil {
		return format.StreamFormat{}, c.trace.check("GetMixFormat", err)
	}
	logFormat(c.h.log, f)
	return f, nil
}

func (c *WrappedClient) GetDevicePeriod() (backend.RefTime, backend.RefTime, error) {
	c.trace.first(traceDevicePeriod)

	def, minimum, err := c.real.GetDevicePeriod()
	if err != nil {
		return 0, 0, c.trace.check("GetDevicePeriod", err)
	}
	if c.backend != nil {
		def, minimum, err = c.backend.OnGetDevicePeriod()
		if err != nil {
			return 0, 0, c.trace.backendCall("on_get_device_period", err)
		}
	}
	return def, minimum, nil
}

func (c *WrappedClient) Start() error {
	c.trace.call("Start")

	if err := c.real.Start(); err != nil {
		return c.trace.check("Start", err)
	}
	if c.backend != nil {
		if err := c.backend.OnStart(); err != nil {
			return c.trace.backendCall("on_start", err)
		}
	}
	c.h.record(SessionEvent{Session: c.id, Kind: EventStart, Backend: c.h.opts.Backend})
	return nil
}

func (c *WrappedClient) Stop() error {
	c.trace.call("Stop")

	if err := c.real.Stop(); err != nil {
		return c.trace.check("Stop", err)
	}
	if c.backend != nil {
		if err := c.backend.OnStop(); err != nil {
			return c.trace.backendCall("on_stop", err)
		}
	}
	c.muteRemaining.Store(int32(c.h.opts.MuteBuffers))
	c.h.record(SessionEvent{Session: c.id, Kind: EventStop, Backend: c.h.opts.Backend})
	return nil
}

func (c *WrappedClient) Reset() error {
	c.trace.call("Reset")
	return c.trace.check("Reset", c.real.Reset())
}

func (c *WrappedClient) SetEventHandle(h *backend.Event) error {
	c.trace.call("SetEventHandle")

	if c.backend != nil {
		substitute, err := c.backend.OnSetEventHandle(h)
		if err != nil {
			return c.trace.backendCall("on_set_event_handle", err)
		}
		h = substitute
	}
	return c.trace.check("SetEventHandle", c.real.SetEventHandle(h))
}

func (c *WrappedClient) GetService(s Service) (any, error) {
	c.trace.call("GetService(" + s.String() + ")")

	svc, err := c.real.GetService(s)
	if err != nil {
		return nil, c.trace.check("GetService", err)
	}
	if s == ServiceRenderClient {
		if rc, ok := svc.(RenderClient); ok {
			return &wrappedRenderClient{client: c, real: rc, trace: newTracer(c.h.log, "WrappedRenderClient")}, nil
		}
	}
	return svc, nil
}

func (c *WrappedClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.real.Close()
		if c.backend != nil {
			if berr := c.backend.Close(); berr != nil && err == nil {
				err = berr
			}
		}
		c.h.record(SessionEvent{Session: c.id, Kind: EventClose, Backend: c.h.opts.Backend})
	})
	return err
}

func (c *WrappedClient) muteState() (format.StreamFormat, bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format, c.exclusive, c.frameSize
}

// wrappedRenderClient sends buffers to the backend when there is one and
// otherwise applies the pop workaround on the way to the platform client
type wrappedRenderClient struct {
	client *WrappedClient
	real   RenderClient
	trace  *tracer
	buf    []byte
}

var _ RenderClient = (*wrappedRenderClient)(nil)

func (r *wrappedRenderClient) GetBuffer(frames uint32) ([]byte, error) {
	r.trace.first(traceGetBuffer)

	var (
		buf []byte
		err error
	)
	if b := r.client.backend; b != nil {
		buf, err = b.OnGetBuffer(frames)
		if err != nil {
			return nil, r.trace.backendCall("on_get_buffer", err)
		}
	} else {
		buf, err = r.real.GetBuffer(frames)
		if err != nil {
			return nil, r.trace.check("GetBuffer", err)
		}
	}
	r.buf = buf
	return buf, nil
}

func (r *wrappedRenderClient) ReleaseBuffer(frames uint32, flags backend.BufferFlags) error {
	r.trace.first(traceReleaseBuffer)

	f, exclusive, frameSize := r.client.muteState()
	if n := int(frames) * f.BlockAlign; n > 0 && n <= len(r.buf) {
		r.client.h.tap(f, r.buf[:n], flags)
	}

	if b := r.client.backend; b != nil {
		r.buf = nil
		return r.trace.backendCall("on_release_buffer", b.OnReleaseBuffer(frames, flags))
	}

	if exclusive && frameSize > 0 && r.client.muteRemaining.Load() > 0 {
		if n := int(frames) * frameSize; n <= len(r.buf) {
			clear(r.buf[:n])
		}
		r.client.muteRemaining.Add(-1)
	}
	r.buf = nil
	return r.trace.check("ReleaseBuffer", r.real.ReleaseBuffer(frames, flags))
}
