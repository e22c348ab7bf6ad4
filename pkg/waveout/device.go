package waveout

import (
	"sync/atomic"

	"github.com/dougsko/audiohook/pkg/format"
)

// Header is one buffer cycled between the backend and the OS stream
type Header struct {
	Data   []byte
	Length int

	done     atomic.Bool
	prepared bool
	sys      any
}

// Done reports whether the stream has finished playing the header
func (h *Header) Done() bool {
	return h.done.Load()
}

// Sys returns device private state attached by Prepare
func (h *Header) Sys() any {
	return h.sys
}

// SetSys attaches device private state
func (h *Header) SetSys(v any) {
	h.sys = v
}

// Device is an OS waveform output stream. Written headers are played in
// order and handed back through the done callback given to Open, which
// may run on any goroutine.
type Device interface {
	Open(f format.StreamFormat, done func(*Header)) error
	Prepare(h *Header) error
	Write(h *Header) error
	Unprepare(h *Header) error
	Reset() error
	Close() error
}
