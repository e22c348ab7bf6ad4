package speaker

import (
	"sync"

	"github.com/dougsko/audiohook/pkg/format"
)

type chunk struct {
	data []byte
	off  int
	done func()
}

// Stream is an io.Reader fed with discrete chunks. Each chunk's done
// callback runs once the player has pulled its last byte. When nothing is
// queued the stream reads as silence so the player never stalls.
type Stream struct {
	src      format.SampleFormat
	channels int

	mu      sync.Mutex
	chunks  []*chunk
	queued  int
	scratch format.Scratch
	free    [][]byte
	pulled  int64
}

// NewStream creates a stream accepting samples in src and emitting s16
func NewStream(src format.SampleFormat, channels int) *Stream {
	return &Stream{src: src, channels: channels}
}

// Enqueue copies data, converts it to s16 and queues it for playback
func (s *Stream) Enqueue(data []byte, done func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := len(data)
	if s.src.Size() > 0 {
		if n := len(data) / s.src.Size() * 2; n > size {
			size = n
		}
	}

	var buf []byte
	if last := len(s.free) - 1; last >= 0 && cap(s.free[last]) >= size {
		buf = s.free[last][:size]
		s.free = s.free[:last]
	} else {
		buf = make([]byte, size)
	}
	copy(buf, data)

	n, err := format.Convert(buf, len(data), s.channels, &s.scratch, s.src, format.S16)
	if err != nil {
		return err
	}

	s.chunks = append(s.chunks, &chunk{data: buf[:n], done: done})
	s.queued += n
	return nil
}

// Read implements io.Reader for the oto player
func (s *Stream) Read(p []byte) (int, error) {
	var finished []func()

	s.mu.Lock()
	n := 0
	for n < len(p) && len(s.chunks) > 0 {
		c := s.chunks[0]
		m := copy(p[n:], c.data[c.off:])
		c.off += m
		n += m
		s.queued -= m
		if c.off == len(c.data) {
			s.chunks = s.chunks[1:]
			s.free = append(s.free, c.data[:0])
			if c.done != nil {
				finished = append(finished, c.done)
			}
		}
	}
	s.pulled += int64(n)
	s.mu.Unlock()

	clear(p[n:])
	for _, done := range finished {
		done()
	}
	return len(p), nil
}

// Queued returns the number of s16 bytes waiting to be played
func (s *Stream) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued
}

// Pulled returns the number of queued bytes the player has consumed
func (s *Stream) Pulled() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulled
}

// Flush drops every queued chunk, running its done callback
func (s *Stream) Flush() {
	s.mu.Lock()
	chunks := s.chunks
	s.chunks = nil
	s.queued = 0
	s.mu.Unlock()

	for _, c := range chunks {
		if c.done != nil {
			c.done()
		}
	}
}
