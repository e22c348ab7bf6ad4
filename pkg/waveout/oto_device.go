//go:build !windows

package waveout

import (
	"fmt"
	"sync"

	"github.com/dougsko/audiohook/pkg/format"
	"github.com/dougsko/audiohook/pkg/speaker"
	"github.com/ebitengine/oto/v3"
)

// OtoDevice plays headers through the shared oto context
type OtoDevice struct {
	mu     sync.Mutex
	stream *speaker.Stream
	player *oto.Player
	done   func(*Header)
}

// NewPlatformDevice returns the waveform device for this platform
func NewPlatformDevice() Device {
	return &OtoDevice{}
}

func (d *OtoDevice) Open(f format.StreamFormat, done func(*Header)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sf := f.SampleFormat()
	if !sf.Supported() {
		return fmt.Errorf("oto device cannot play %s", f)
	}
	ctx, err := speaker.Open(f.SampleRate, f.Channels)
	if err != nil {
		return err
	}

	d.done = done
	d.stream = speaker.NewStream(sf, f.Channels)
	d.player = speaker.Play(ctx, d.stream)
	return nil
}

func (d *OtoDevice) Prepare(h *Header) error {
	return nil
}

func (d *OtoDevice) Unprepare(h *Header) error {
	return nil
}

func (d *OtoDevice) Write(h *Header) error {
	d.mu.Lock()
	stream, done := d.stream, d.done
	d.mu.Unlock()

	if stream == nil {
		return fmt.Errorf("oto device not open")
	}
	return stream.Enqueue(h.Data[:h.Length], func() { done(h) })
}

func (d *OtoDevice) Reset() error {
	d.mu.Lock()
	stream := d.stream
	d.mu.Unlock()

	if stream != nil {
		stream.Flush()
	}
	return nil
}

func (d *OtoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.player != nil {
		err := d.player.Close()
		d.player = nil
		d.stream = nil
		return err
	}
	return nil
}
