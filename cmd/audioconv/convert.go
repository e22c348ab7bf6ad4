package main

import (
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/dougsko/audiohook/pkg/format"
)

const chunkFrames = 4096

// wavFormatPCM is the WAVE_FORMAT_PCM tag go-audio expects
const wavFormatPCM = 1

type stats struct {
	Frames int64
	Peak   float64
	Clip   int64
}

// convertStream reads interleaved src samples from r, converts them in
// place to dst and hands each converted chunk to emit. A trailing partial
// frame is dropped.
func convertStream(r io.Reader, emit func([]byte) error, channels int, src, dst format.SampleFormat) (stats, error) {
	var st stats
	if !src.Supported() || !dst.Supported() {
		return st, fmt.Errorf("cannot convert %s to %s", src, dst)
	}
	if channels <= 0 {
		return st, fmt.Errorf("channel count must be positive")
	}

	inFrame := channels * src.Size()
	outFrame := channels * dst.Size()
	buf := make([]byte, chunkFrames*max(inFrame, outFrame))
	samples := make([]float64, chunkFrames*channels)
	var scratch format.Scratch

	for {
		n, err := io.ReadFull(r, buf[:chunkFrames*inFrame])
		n -= n % inFrame
		if n > 0 {
			out, cerr := format.Convert(buf, n, channels, &scratch, src, dst)
			if cerr != nil {
				return st, cerr
			}

			count := format.Decode(buf[:out], dst, samples)
			for _, s := range samples[:count] {
				a := math.Abs(s)
				if a > st.Peak {
					st.Peak = a
				}
				if !dst.IsFloat() && a >= 1.0-1.0/dst.MaxMagnitude() {
					st.Clip++
				}
			}

			if werr := emit(buf[:out]); werr != nil {
				return st, werr
			}
			st.Frames += int64(n / inFrame)
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return st, nil
		}
		if err != nil {
			return st, fmt.Errorf("read error: %w", err)
		}
	}
}

// wavInput repacks an integer PCM WAV file as little-endian samples of
// its own bit depth so it can feed convertStream
type wavInput struct {
	dec      *wav.Decoder
	format   format.SampleFormat
	channels int
	rate     int

	ints    *goaudio.IntBuffer
	floats  []float64
	pending []byte
}

func openWav(r io.ReadSeeker) (*wavInput, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("not a valid WAV file")
	}
	dec.ReadInfo()
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("failed to find PCM data: %w", err)
	}

	f := dec.Format()
	if f == nil || f.NumChannels == 0 {
		return nil, fmt.Errorf("unsupported WAV layout")
	}
	sf := format.SampleFormatFromBits(int(dec.BitDepth), false)
	if !sf.Supported() {
		return nil, fmt.Errorf("unsupported WAV bit depth: %d", dec.BitDepth)
	}

	return &wavInput{
		dec:      dec,
		format:   sf,
		channels: f.NumChannels,
		rate:     f.SampleRate,
		ints:     &goaudio.IntBuffer{Data: make([]int, chunkFrames*f.NumChannels), Format: f},
		floats:   make([]float64, chunkFrames*f.NumChannels),
	}, nil
}

func (w *wavInput) Read(p []byte) (int, error) {
	if len(w.pending) == 0 {
		n, err := w.dec.PCMBuffer(w.ints)
		if n == 0 {
			if err != nil {
				return 0, err
			}
			return 0, io.EOF
		}

		scale := w.format.MaxMagnitude()
		for i, v := range w.ints.Data[:n] {
			w.floats[i] = float64(v) / scale
		}
		out := make([]byte, n*w.format.Size())
		format.Encode(out, w.format, w.floats[:n])
		w.pending = out
	}

	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

// wavOutput writes converted integer samples through a go-audio encoder
type wavOutput struct {
	enc      *wav.Encoder
	format   format.SampleFormat
	channels int
	rate     int
	floats   []float64
}

func newWavOutput(w io.WriteSeeker, sf format.SampleFormat, channels, rate int) (*wavOutput, error) {
	if sf.IsFloat() {
		return nil, fmt.Errorf("WAV output needs an integer sample format, got %s", sf)
	}
	return &wavOutput{
		enc:      wav.NewEncoder(w, rate, sf.Bits(), channels, wavFormatPCM),
		format:   sf,
		channels: channels,
		rate:     rate,
	}, nil
}

func (o *wavOutput) write(data []byte) error {
	count := len(data) / o.format.Size()
	if cap(o.floats) < count {
		o.floats = make([]float64, count)
	}
	o.floats = o.floats[:count]
	format.Decode(data, o.format, o.floats)

	scale := o.format.MaxMagnitude()
	ints := make([]int, count)
	for i, s := range o.floats {
		ints[i] = int(math.Round(s * scale))
	}

	return o.enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: o.channels, SampleRate: o.rate},
		Data:           ints,
		SourceBitDepth: o.format.Bits(),
	})
}

func (o *wavOutput) Close() error {
	return o.enc.Close()
}
