package player

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
)

// ErrNotWavFile is returned when a .wav source has no valid RIFF header
var ErrNotWavFile = errors.New("not a valid WAV file")

// Source produces interleaved samples in [-1.0, 1.0)
type Source interface {
	Name() string
	SampleRate() int
	Channels() int

	// Read fills dst with whole frames and returns the number of samples
	// written. It returns io.EOF once the source is exhausted.
	Read(dst []float64) (int, error)
	Close() error
}

// RateFollower is implemented by generated sources, which play at whatever
// rate the device negotiates
type RateFollower interface {
	SetSampleRate(rate int)
}

// ToneSource is an endless or fixed-length sine wave on every channel
type ToneSource struct {
	Frequency float64
	Amplitude float64
	rate      int
	channels  int
	phase     float64
	remaining int
}

// NewTone creates a sine source. A positive frames limits its length.
func NewTone(frequency, amplitude float64, rate, channels, frames int) *ToneSource {
	if frames <= 0 {
		frames = -1
	}
	return &ToneSource{
		Frequency: frequency,
		Amplitude: amplitude,
		rate:      rate,
		channels:  channels,
		remaining: frames,
	}
}

func (t *ToneSource) Name() string    { return fmt.Sprintf("tone %.0f Hz", t.Frequency) }
func (t *ToneSource) SampleRate() int { return t.rate }
func (t *ToneSource) Channels() int   { return t.channels }
func (t *ToneSource) Close() error    { return nil }

func (t *ToneSource) SetSampleRate(rate int) { t.rate = rate }

func (t *ToneSource) Read(dst []float64) (int, error) {
	if t.remaining == 0 {
		return 0, io.EOF
	}
	frames := len(dst) / t.channels
	if t.remaining > 0 {
		frames = min(frames, t.remaining)
		t.remaining -= frames
	}

	step := 2 * math.Pi * t.Frequency / float64(t.rate)
	for i := 0; i < frames; i++ {
		v := t.Amplitude * math.Sin(t.phase)
		for c := 0; c < t.channels; c++ {
			dst[i*t.channels+c] = v
		}
		t.phase += step
		if t.phase >= 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	return frames * t.channels, nil
}

// SilenceSource produces zeros
type SilenceSource struct {
	rate      int
	channels  int
	remaining int
}

// NewSilence creates a silent source. A positive frames limits its length.
func NewSilence(rate, channels, frames int) *SilenceSource {
	if frames <= 0 {
		frames = -1
	}
	return &SilenceSource{rate: rate, channels: channels, remaining: frames}
}

func (s *SilenceSource) Name() string    { return "silence" }
func (s *SilenceSource) SampleRate() int { return s.rate }
func (s *SilenceSource) Channels() int   { return s.channels }
func (s *SilenceSource) Close() error    { return nil }

func (s *SilenceSource) SetSampleRate(rate int) { s.rate = rate }

func (s *SilenceSource) Read(dst []float64) (int, error) {
	if s.remaining == 0 {
		return 0, io.EOF
	}
	frames := len(dst) / s.channels
	if s.remaining > 0 {
		frames = min(frames, s.remaining)
		s.remaining -= frames
	}
	clear(dst[:frames*s.channels])
	return frames * s.channels, nil
}

// WavSource decodes integer PCM WAV files
type WavSource struct {
	name     string
	file     io.Closer
	dec      *wav.Decoder
	intBuf   *goaudio.IntBuffer
	channels int
	rate     int
	scale    float64
}

// NewWavSource decodes r. c is closed with the source when not nil.
func NewWavSource(name string, r io.ReadSeeker, c io.Closer) (*WavSource, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrNotWavFile
	}
	dec.ReadInfo()
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("failed to find PCM data: %w", err)
	}

	f := dec.Format()
	if f == nil || f.NumChannels == 0 || dec.BitDepth == 0 {
		return nil, fmt.Errorf("unsupported WAV layout")
	}

	return &WavSource{
		name:     name,
		file:     c,
		dec:      dec,
		channels: f.NumChannels,
		rate:     f.SampleRate,
		scale:    math.Exp2(float64(dec.BitDepth) - 1),
	}, nil
}

func (w *WavSource) Name() string    { return w.name }
func (w *WavSource) SampleRate() int { return w.rate }
func (w *WavSource) Channels() int   { return w.channels }

func (w *WavSource) Close() error {
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func (w *WavSource) Read(dst []float64) (int, error) {
	want := len(dst) / w.channels * w.channels
	if want == 0 {
		return 0, nil
	}

	if w.intBuf == nil || cap(w.intBuf.Data) < want {
		w.intBuf = &goaudio.IntBuffer{Data: make([]int, want), Format: w.dec.Format()}
	} else {
		w.intBuf.Data = w.intBuf.Data[:want]
	}

	n, err := w.dec.PCMBuffer(w.intBuf)
	if n == 0 {
		if err != nil {
			return 0, err
		}
		return 0, io.EOF
	}
	n = n / w.channels * w.channels

	for i := 0; i < n; i++ {
		dst[i] = float64(w.intBuf.Data[i]) / w.scale
	}
	return n, nil
}

// Mp3Source decodes MP3 files to stereo 16-bit samples
type Mp3Source struct {
	name string
	file io.Closer
	dec  *gomp3.Decoder
	buf  []byte
}

// NewMp3Source decodes r. c is closed with the source when not nil.
func NewMp3Source(name string, r io.Reader, c io.Closer) (*Mp3Source, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}
	return &Mp3Source{name: name, file: c, dec: dec, buf: make([]byte, 8192)}, nil
}

func (m *Mp3Source) Name() string    { return m.name }
func (m *Mp3Source) SampleRate() int { return m.dec.SampleRate() }

// go-mp3 always decodes to interleaved stereo
func (m *Mp3Source) Channels() int { return 2 }

func (m *Mp3Source) Close() error {
	if m.file != nil {
		return m.file.Close()
	}
	return nil
}

func (m *Mp3Source) Read(dst []float64) (int, error) {
	bytesNeeded := len(dst) / 2 * 4
	if bytesNeeded == 0 {
		return 0, nil
	}
	if cap(m.buf) < bytesNeeded {
		m.buf = make([]byte, bytesNeeded)
	}
	m.buf = m.buf[:bytesNeeded]

	n, err := io.ReadFull(m.dec, m.buf)
	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	frames := n / 4
	if frames == 0 {
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}

	for i := 0; i < frames*2; i++ {
		v := int16(uint16(m.buf[2*i]) | uint16(m.buf[2*i+1])<<8)
		dst[i] = float64(v) / 32768.0
	}
	return frames * 2, err
}

// OpenFile opens a WAV or MP3 file by extension
func OpenFile(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	name := filepath.Base(path)
	var src Source
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		src, err = NewWavSource(name, f, f)
	case ".mp3":
		src, err = NewMp3Source(name, f, f)
	default:
		err = fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}
