package hook

import (
	"fmt"
	"log"
	"sync"

	"github.com/dougsko/audiohook/pkg/backend"
	"github.com/dougsko/audiohook/pkg/format"
)

// MockClient is a platform client without a device. It consumes released
// buffers immediately and records what it was asked to do.
type MockClient struct {
	MixFormat     format.StreamFormat
	BufferFrames  uint32
	DefaultPeriod backend.RefTime
	MinimumPeriod backend.RefTime

	// InitializeErr fails Initialize when set
	InitializeErr error

	// Supported decides IsFormatSupported; nil accepts everything
	Supported func(mode backend.ShareMode, f format.StreamFormat) error

	mu      sync.Mutex
	params  []backend.StreamParams
	calls   map[string]int
	played  []byte
	buf     []byte
	started bool
	closed  bool
	event   *backend.Event
}

var _ AudioClient = (*MockClient)(nil)

// NewMockClient creates a mock client with a stereo float mix format
func NewMockClient() *MockClient {
	return &MockClient{
		MixFormat:     format.NewExtensible(2, 48000, format.F32, format.StereoMask),
		BufferFrames:  480,
		DefaultPeriod: 100000,
		MinimumPeriod: 30000,
		calls:         make(map[string]int),
	}
}

// MockFactory returns an ActivateFunc that hands out fresh mock clients
// and keeps them in created
func MockFactory(created *[]*MockClient) ActivateFunc {
	var mu sync.Mutex
	return func(deviceID string) (AudioClient, error) {
		c := NewMockClient()
		mu.Lock()
		*created = append(*created, c)
		mu.Unlock()
		log.Printf("MockClient: activated %q", deviceID)
		return c, nil
	}
}

func (m *MockClient) count(method string) {
	m.mu.Lock()
	m.calls[method]++
	m.mu.Unlock()
}

func (m *MockClient) Initialize(p backend.StreamParams) error {
	m.count("Initialize")
	if m.InitializeErr != nil {
		return m.InitializeErr
	}
	m.mu.Lock()
	m.params = append(m.params, p)
	m.mu.Unlock()
	log.Printf("MockClient: initialized %s", p.Format)
	return nil
}

func (m *MockClient) GetBufferSize() (uint32, error) {
	m.count("GetBufferSize")
	return m.BufferFrames, nil
}

func (m *MockClient) GetStreamLatency() (backend.RefTime, error) {
	m.count("GetStreamLatency")
	return m.DefaultPeriod, nil
}

func (m *MockClient) GetCurrentPadding() (uint32, error) {
	m.count("GetCurrentPadding")
	return 0, nil
}

func (m *MockClient) IsFormatSupported(mode backend.ShareMode, f format.StreamFormat) error {
	m.count("IsFormatSupported")
	if m.Supported != nil {
		return m.Supported(mode, f)
	}
	return nil
}

func (m *MockClient) GetMixFormat() (format.StreamFormat, error) {
	m.count("GetMixFormat")
	return m.MixFormat, nil
}

func (m *MockClient) GetDevicePeriod() (backend.RefTime, backend.RefTime, error) {
	m.count("GetDevicePeriod")
	return m.DefaultPeriod, m.MinimumPeriod, nil
}

func (m *MockClient) Start() error {
	m.count("Start")
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	return nil
}

func (m *MockClient) Stop() error {
	m.count("Stop")
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
	return nil
}

func (m *MockClient) Reset() error {
	m.count("Reset")
	return nil
}

func (m *MockClient) SetEventHandle(h *backend.Event) error {
	m.count("SetEventHandle")
	m.mu.Lock()
	m.event = h
	m.mu.Unlock()
	return nil
}

func (m *MockClient) GetService(s Service) (any, error) {
	m.count("GetService")
	switch s {
	case ServiceRenderClient:
		return mockRenderClient{m}, nil
	}
	return nil, backend.ErrNoInterface
}

func (m *MockClient) Close() error {
	m.count("Close")
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Calls returns how often method was called
func (m *MockClient) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Params returns every accepted Initialize call
func (m *MockClient) Params() []backend.StreamParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]backend.StreamParams(nil), m.params...)
}

// Played returns every released byte
func (m *MockClient) Played() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.played...)
}

// Event returns the handle passed to SetEventHandle
func (m *MockClient) Event() *backend.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.event
}

func (m *MockClient) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *MockClient) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockClient) blockAlign() int {
	if len(m.params) > 0 {
		return m.params[len(m.params)-1].Format.BlockAlign
	}
	return m.MixFormat.BlockAlign
}

type mockRenderClient struct {
	m *MockClient
}

func (r mockRenderClient) GetBuffer(frames uint32) ([]byte, error) {
	m := r.m
	m.count("GetBuffer")
	m.mu.Lock()
	defer m.mu.Unlock()
	if frames > m.BufferFrames {
		return nil, fmt.Errorf("mock buffer too small for %d frames: %w", frames, backend.ErrAllocationFailure)
	}
	m.buf = make([]byte, int(frames)*m.blockAlign())
	return m.buf, nil
}

func (r mockRenderClient) ReleaseBuffer(frames uint32, flags backend.BufferFlags) error {
	m := r.m
	m.count("ReleaseBuffer")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buf == nil {
		return backend.ErrOutOfOrder
	}
	n := int(frames) * m.blockAlign()
	if n > len(m.buf) {
		return backend.ErrAllocationFailure
	}
	data := m.buf[:n]
	if flags&backend.BufferSilent != 0 {
		data = make([]byte, n)
	}
	m.played = append(m.played, data...)
	m.buf = nil
	return nil
}
