// Package capture records the audio flowing through the hook to WAV
// files. A Recorder is a Tap; encoding and file I/O happen on its own
// goroutine so the render path only pays for a sample copy.
package capture

import (
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dougsko/audiohook/pkg/backend"
	"github.com/dougsko/audiohook/pkg/format"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

type block struct {
	format format.StreamFormat
	data   []int
}

// Recorder writes every tapped buffer to a WAV file in its directory. A new
// file is started whenever the stream format changes.
type Recorder struct {
	dir string

	sendMu sync.RWMutex
	closed bool
	blocks chan block
	done   chan struct{}

	dropped atomic.Int64
	frames  atomic.Int64

	mu      sync.Mutex
	scratch []float64
	files   []string

	// writer goroutine state
	current format.StreamFormat
	file    *os.File
	enc     *wav.Encoder
}

// NewRecorder creates dir if needed and starts the writer
func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	r := &Recorder{
		dir:    dir,
		blocks: make(chan block, 64),
		done:   make(chan struct{}),
	}
	go r.writer()
	return r, nil
}

// bitDepth is the WAV sample width used for f. Float streams are stored
// as 32-bit integers.
func bitDepth(f format.SampleFormat) int {
	if f.IsFloat() {
		return 32
	}
	return f.Bits()
}

// OnBuffer implements hook.Tap
func (r *Recorder) OnBuffer(f format.StreamFormat, data []byte, flags backend.BufferFlags) {
	sf := f.SampleFormat()
	if !sf.Supported() || f.Channels <= 0 {
		return
	}

	count := len(data) / sf.Size()
	count -= count % f.Channels
	ints := make([]int, count)
	if flags&backend.BufferSilent == 0 {
		r.mu.Lock()
		if cap(r.scratch) < count {
			r.scratch = make([]float64, count)
		}
		samples := r.scratch[:count]
		format.Decode(data, sf, samples)
		scale := math.Ldexp(1, bitDepth(sf)-1)
		for i, s := range samples {
			ints[i] = quantize(s, scale)
		}
		r.mu.Unlock()
	}

	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.blocks <- block{format: f, data: ints}:
	default:
		r.dropped.Add(1)
	}
}

func quantize(s, scale float64) int {
	v := math.Round(s * scale)
	if v >= scale {
		return int(scale) - 1
	}
	if v < -scale {
		return -int(scale)
	}
	return int(v)
}

func (r *Recorder) writer() {
	defer close(r.done)
	for b := range r.blocks {
		if b.format != r.current || r.enc == nil {
			r.finish()
			if err := r.open(b.format); err != nil {
				log.Printf("Capture: %v", err)
				continue
			}
		}
		buf := &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: b.format.Channels, SampleRate: b.format.SampleRate},
			Data:           b.data,
			SourceBitDepth: r.enc.BitDepth,
		}
		if err := r.enc.Write(buf); err != nil {
			log.Printf("Capture: write failed: %v", err)
			continue
		}
		r.frames.Add(int64(len(b.data) / b.format.Channels))
	}
	r.finish()
}

func (r *Recorder) open(f format.StreamFormat) error {
	name := fmt.Sprintf("capture-%s-%dHz-%dch.wav",
		time.Now().Format("20060102-150405.000"), f.SampleRate, f.Channels)
	path := filepath.Join(r.dir, name)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	r.file = file
	r.enc = wav.NewEncoder(file, f.SampleRate, bitDepth(f.SampleFormat()), f.Channels, wavFormatPCM)
	r.current = f

	r.mu.Lock()
	r.files = append(r.files, path)
	r.mu.Unlock()
	log.Printf("Capture: recording %s to %s", f, path)
	return nil
}

func (r *Recorder) finish() {
	if r.enc == nil {
		return
	}
	if err := r.enc.Close(); err != nil {
		log.Printf("Capture: failed to finalize wav: %v", err)
	}
	if err := r.file.Close(); err != nil {
		log.Printf("Capture: failed to close file: %v", err)
	}
	r.enc = nil
	r.file = nil
}

// Files returns the paths written so far
func (r *Recorder) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

// Frames returns the number of frames written
func (r *Recorder) Frames() int64 {
	return r.frames.Load()
}

// Dropped returns the number of buffers lost because the writer fell behind
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close flushes pending buffers and finalizes the current file
func (r *Recorder) Close() error {
	r.sendMu.Lock()
	if r.closed {
		r.sendMu.Unlock()
		return nil
	}
	r.closed = true
	close(r.blocks)
	r.sendMu.Unlock()

	<-r.done
	return nil
}
