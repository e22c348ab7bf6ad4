package hook

import (
	"slices"
	"sync"

	"github.com/dougsko/audiohook/pkg/backend"
	"github.com/dougsko/audiohook/pkg/format"
	"github.com/google/uuid"
)

// SyntheticClient stands in for the platform client when the backend owns
// the device outright. Every call is served by the backend.
type SyntheticClient struct {
	h       *Hook
	id      uuid.UUID
	backend backend.Backend
	trace   *tracer

	mu       sync.Mutex
	handlers []SessionEvents
	state    SessionState
	name     string
	icon     string
	group    uuid.UUID
	closed   bool
}

var _ AudioClient = (*SyntheticClient)(nil)

// ID identifies the client's session in recorder events
func (c *SyntheticClient) ID() uuid.UUID { return c.id }

func (c *SyntheticClient) Initialize(p backend.StreamParams) error {
	t := c.trace
	t.call("Initialize")

	log := c.h.log
	log.Info(component, "IAudioClient::Initialize hook hit")
	logParams(log, &p)

	err := c.backend.OnInitialize(&p)
	params := p
	c.h.record(SessionEvent{
		Session:   c.id,
		Kind:      EventInitialize,
		Backend:   c.h.opts.Backend,
		Synthetic: true,
		Params:    &params,
		Status:    backend.StatusName(err),
	})
	if err != nil {
		return t.backendCall("on_initialize", err)
	}

	log.Info(component, "AudioBackend::on_initialize call finished")
	logParams(log, &p)
	c.h.setFormat(c.backend.Format())
	return nil
}

func (c *SyntheticClient) GetBufferSize() (uint32, error) {
	t := c.trace
	t.first(traceBufferSize)
	frames, err := c.backend.OnGetBufferSize()
	return frames, t.backendCall("on_get_buffer_size", err)
}

func (c *SyntheticClient) GetStreamLatency() (backend.RefTime, error) {
	t := c.trace
	t.first(traceStreamLatency)
	latency, err := c.backend.OnGetStreamLatency()
	return latency, t.backendCall("on_get_stream_latency", err)
}

func (c *SyntheticClient) GetCurrentPadding() (uint32, error) {
	t := c.trace
	t.first(tracePadding)
	frames, ok, err := c.backend.OnGetCurrentPadding()
	if err != nil {
		return 0, t.backendCall("on_get_current_padding", err)
	}
	if !ok {
		return 0, nil
	}
	return frames, nil
}

func (c *SyntheticClient) IsFormatSupported(mode backend.ShareMode, f format.StreamFormat) error {
	t := c.trace
	t.call("IsFormatSupported")
	logFormat(c.h.log, f)
	return t.backendCall("on_is_format_supported", c.backend.OnIsFormatSupported(mode, f))
}

func (c *SyntheticClient) GetMixFormat() (format.StreamFormat, error) {
	t := c.trace
	t.call("GetMixFormat")
	f, err := c.backend.OnGetMixFormat()
	if err != nil {
		return format.StreamFormat{}, t.backendCall("on_get_mix_format", err)
	}
	logFormat(c.h.log, f)
	return f, nil
}

func (c *SyntheticClient) GetDevicePeriod() (backend.RefTime, backend.RefTime, error) {
	t := c.trace
	t.first(traceDevicePeriod)
	def, minimum, err := c.backend.OnGetDevicePeriod()
	return def, minimum, t.backendCall("on_get_device_period", err)
}

func (c *SyntheticClient) Start() error {
	t := c.trace
	t.call("Start")
	if err := c.backend.OnStart(); err != nil {
		return t.backendCall("on_start", err)
	}
	c.setState(SessionActive)
	c.h.record(SessionEvent{Session: c.id, Kind: EventStart, Backend: c.h.opts.Backend, Synthetic: true})
	return nil
}

func (c *SyntheticClient) Stop() error {
	t := c.trace
	t.call("Stop")
	if err := c.backend.OnStop(); err != nil {
		return t.backendCall("on_stop", err)
	}
	c.setState(SessionInactive)
	c.h.record(SessionEvent{Session: c.id, Kind: EventStop, Backend: c.h.opts.Backend, Synthetic: true})
	return nil
}

// Reset has nothing to flush; queued audio belongs to the backend
func (c *SyntheticClient) Reset() error {
	c.trace.call("Reset")
	return nil
}

func (c *SyntheticClient) SetEventHandle(h *backend.Event) error {
	t := c.trace
	t.call("SetEventHandle")
	_, err := c.backend.OnSetEventHandle(h)
	return t.backendCall("on_set_event_handle", err)
}

func (c *SyntheticClient) GetService(s Service) (any, error) {
	t := c.trace
	t.call("GetService(" + s.String() + ")")

	switch s {
	case ServiceRenderClient:
		return &syntheticRenderClient{client: c, trace: newTracer(c.h.log, "SyntheticRenderClient")}, nil
	case ServiceSessionControl:
		return &syntheticSession{client: c}, nil
	case ServiceClock:
		return &syntheticClock{client: c}, nil
	}
	c.h.log.Warnf(component, "SyntheticClient::GetService: %s not available", s)
	return nil, backend.ErrNoInterface
}

func (c *SyntheticClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.backend.Close()
	c.setState(SessionExpired)
	c.h.syntheticSlot.Release(c)
	c.h.record(SessionEvent{Session: c.id, Kind: EventClose, Backend: c.h.opts.Backend, Synthetic: true})
	return err
}

func (c *SyntheticClient) setState(state SessionState) {
	c.mu.Lock()
	c.state = state
	handlers := slices.Clone(c.handlers)
	c.mu.Unlock()

	for _, h := range handlers {
		h.OnStateChanged(state)
	}
}

type syntheticRenderClient struct {
	client *SyntheticClient
	trace  *tracer
	buf    []byte
}

func (r *syntheticRenderClient) GetBuffer(frames uint32) ([]byte, error) {
	r.trace.first(traceGetBuffer)
	buf, err := r.client.backend.OnGetBuffer(frames)
	if err != nil {
		return nil, r.trace.backendCall("on_get_buffer", err)
	}
	r.buf = buf
	return buf, nil
}

func (r *syntheticRenderClient) ReleaseBuffer(frames uint32, flags backend.BufferFlags) error {
	r.trace.first(traceReleaseBuffer)

	f := r.client.backend.Format()
	if n := int(frames) * f.BlockAlign; n > 0 && n <= len(r.buf) {
		r.client.h.tap(f, r.buf[:n], flags)
	}
	r.buf = nil
	return r.trace.backendCall("on_release_buffer", r.client.backend.OnReleaseBuffer(frames, flags))
}

// syntheticSession keeps session properties locally; there is no platform
// session behind a synthetic client
type syntheticSession struct {
	client *SyntheticClient
}

func (s *syntheticSession) GetState() (SessionState, error) {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	return s.client.state, nil
}

func (s *syntheticSession) GetDisplayName() (string, error) {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	return s.client.name, nil
}

func (s *syntheticSession) SetDisplayName(name string, _ uuid.UUID) error {
	s.client.mu.Lock()
	s.client.name = name
	s.client.mu.Unlock()
	return nil
}

func (s *syntheticSession) GetIconPath() (string, error) {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	return s.client.icon, nil
}

func (s *syntheticSession) SetIconPath(path string, _ uuid.UUID) error {
	s.client.mu.Lock()
	s.client.icon = path
	s.client.mu.Unlock()
	return nil
}

func (s *syntheticSession) GetGroupingParam() (uuid.UUID, error) {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	return s.client.group, nil
}

func (s *syntheticSession) SetGroupingParam(group, _ uuid.UUID) error {
	s.client.mu.Lock()
	s.client.group = group
	s.client.mu.Unlock()
	return nil
}

func (s *syntheticSession) RegisterSessionNotification(events SessionEvents) error {
	if events == nil {
		return backend.ErrNoInterface
	}
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	if !slices.Contains(s.client.handlers, events) {
		s.client.handlers = append(s.client.handlers, events)
	}
	return nil
}

func (s *syntheticSession) UnregisterSessionNotification(events SessionEvents) error {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	s.client.handlers = slices.DeleteFunc(s.client.handlers, func(h SessionEvents) bool { return h == events })
	return nil
}

// syntheticClock reports the backend's sample rate as its frequency.
// Position is not tracked.
type syntheticClock struct {
	client *SyntheticClient
}

func (c *syntheticClock) GetFrequency() (uint64, error) {
	return uint64(c.client.backend.Format().SampleRate), nil
}

func (c *syntheticClock) GetPosition() (uint64, uint64, error) {
	return 0, 0, backend.ErrNotImplemented
}

func (c *syntheticClock) GetCharacteristics() (uint32, error) {
	return 0, backend.ErrNotImplemented
}
