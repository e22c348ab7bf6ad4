package format

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrShortBuffer is returned when the converted samples would not fit in
// the buffer being converted in place
var ErrShortBuffer = errors.New("format: buffer too small for destination format")

// Scratch is a reusable staging area for Convert. The zero value is ready
// to use; it only grows when a call needs more capacity than any call
// before it.
type Scratch struct {
	samples []float64
}

// Reserve grows the scratch area to hold at least n samples
func (s *Scratch) Reserve(n int) {
	if cap(s.samples) < n {
		s.samples = make([]float64, n)
	}
	s.samples = s.samples[:n]
}

// Cap returns the number of samples the scratch area holds without growing
func (s *Scratch) Cap() int {
	return cap(s.samples)
}

// Convert rewrites the first n bytes of buf in place from src to dst and
// returns the number of bytes now holding converted samples. Only whole
// frames of channels samples are converted; trailing bytes are left alone.
//
// Convert is a no-op returning (n, nil) when src equals dst, when n is not
// positive, or when either format is Unsupported. The unsupported case is
// intentionally silent: callers rely on an untouched buffer as a fallback
// rather than an error. ErrShortBuffer is the only error, returned when
// the destination encoding is wider than len(buf) allows.
func Convert(buf []byte, n, channels int, scratch *Scratch, src, dst SampleFormat) (int, error) {
	if src == dst || n <= 0 || !src.Supported() || !dst.Supported() {
		return n, nil
	}
	if channels <= 0 {
		channels = 1
	}
	if n > len(buf) {
		n = len(buf)
	}

	frames := n / (channels * src.Size())
	count := frames * channels
	out := count * dst.Size()
	if out > len(buf) {
		return 0, ErrShortBuffer
	}

	scratch.Reserve(count)
	samples := scratch.samples
	decode(buf, samples, src)
	encode(buf, samples, dst)
	return out, nil
}

func decode(buf []byte, samples []float64, f SampleFormat) {
	mag := f.MaxMagnitude()
	switch f {
	case S16:
		for i := range samples {
			v := int16(binary.LittleEndian.Uint16(buf[i*2:]))
			samples[i] = float64(v) / mag
		}
	case S24:
		for i := range samples {
			samples[i] = float64(unpack24(buf[i*3:])) / mag
		}
	case S32:
		for i := range samples {
			v := int32(binary.LittleEndian.Uint32(buf[i*4:]))
			samples[i] = float64(v) / mag
		}
	case F32:
		for i := range samples {
			samples[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:])))
		}
	case F64:
		for i := range samples {
			samples[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
		}
	}
}

func encode(buf []byte, samples []float64, f SampleFormat) {
	mag := f.MaxMagnitude()
	switch f {
	case S16:
		for i, s := range samples {
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(quantize(s, mag))))
		}
	case S24:
		for i, s := range samples {
			pack24(buf[i*3:], int32(quantize(s, mag)))
		}
	case S32:
		for i, s := range samples {
			binary.LittleEndian.PutUint32(buf[i*4:], uint32(int32(quantize(s, mag))))
		}
	case F32:
		for i, s := range samples {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(s)))
		}
	case F64:
		for i, s := range samples {
			binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(s))
		}
	}
}

// quantize scales s by mag and clamps to [-mag, mag-1]
func quantize(s, mag float64) int64 {
	if math.IsNaN(s) {
		return 0
	}
	v := math.Round(s * mag)
	if v >= mag {
		return int64(mag) - 1
	}
	if v < -mag {
		return -int64(mag)
	}
	return int64(v)
}

func unpack24(b []byte) int32 {
	v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	if v&0x800000 != 0 {
		v |= ^0xffffff
	}
	return v
}

func pack24(b []byte, v int32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

// Decode reads whole samples of f from buf into dst as values in
// [-1.0, 1.0) and returns how many were decoded. Unsupported formats
// decode nothing.
func Decode(buf []byte, f SampleFormat, dst []float64) int {
	if !f.Supported() {
		return 0
	}
	n := min(len(buf)/f.Size(), len(dst))
	decode(buf, dst[:n], f)
	return n
}

// Encode writes src into buf as samples of f, clamping integer formats,
// and returns how many samples fit
func Encode(buf []byte, f SampleFormat, src []float64) int {
	if !f.Supported() {
		return 0
	}
	n := min(len(buf)/f.Size(), len(src))
	encode(buf, src[:n], f)
	return n
}
