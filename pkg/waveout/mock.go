package waveout

import (
	"fmt"
	"log"
	"sync"

	"github.com/dougsko/audiohook/pkg/format"
)

// MockDevice records everything written to it. With AutoComplete set,
// headers are handed back as soon as they are written; otherwise the
// test calls Complete.
type MockDevice struct {
	AutoComplete bool
	FailOpen     bool

	mu       sync.Mutex
	format   format.StreamFormat
	done     func(*Header)
	open     bool
	queue    []*Header
	played   []byte
	writes   int
	prepared int
}

// NewMockDevice creates a mock waveform device
func NewMockDevice(autoComplete bool) *MockDevice {
	return &MockDevice{AutoComplete: autoComplete}
}

func (m *MockDevice) Open(f format.StreamFormat, done func(*Header)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailOpen {
		return fmt.Errorf("mock open failure")
	}
	m.format = f
	m.done = done
	m.open = true
	log.Printf("MockWaveOut: opened %s", f)
	return nil
}

func (m *MockDevice) Prepare(h *Header) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prepared++
	return nil
}

func (m *MockDevice) Unprepare(h *Header) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prepared--
	return nil
}

func (m *MockDevice) Write(h *Header) error {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return fmt.Errorf("mock device not open")
	}
	m.writes++
	m.played = append(m.played, h.Data[:h.Length]...)
	done := m.done
	if !m.AutoComplete {
		m.queue = append(m.queue, h)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	done(h)
	return nil
}

// Complete hands back the oldest queued header, reporting whether there was one
func (m *MockDevice) Complete() bool {
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return false
	}
	h := m.queue[0]
	m.queue = m.queue[1:]
	done := m.done
	m.mu.Unlock()

	done(h)
	return true
}

func (m *MockDevice) Reset() error {
	for m.Complete() {
	}
	return nil
}

func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	log.Printf("MockWaveOut: closed after %d writes", m.writes)
	return nil
}

// Played returns a copy of every byte written so far
func (m *MockDevice) Played() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.played...)
}

// Writes returns the number of Write calls
func (m *MockDevice) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Queued returns the number of headers waiting for Complete
func (m *MockDevice) Queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Prepared returns the number of headers currently prepared
func (m *MockDevice) Prepared() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prepared
}

// Format returns the format passed to Open
func (m *MockDevice) Format() format.StreamFormat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.format
}

// IsOpen reports whether the device is open
func (m *MockDevice) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}
