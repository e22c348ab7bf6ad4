package monitor

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/dougsko/audiohook/pkg/backend"
	"github.com/dougsko/audiohook/pkg/format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sineS16 renders frames of an interleaved stereo sine
func sineS16(frames int, freq, rate, amplitude float64) []byte {
	buf := make([]byte, frames*4)
	for i := 0; i < frames; i++ {
		v := int16(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/rate))
		binary.LittleEndian.PutUint16(buf[i*4:], uint16(v))
		binary.LittleEndian.PutUint16(buf[i*4+2:], uint16(v))
	}
	return buf
}

func TestLevelMonitor(t *testing.T) {
	f := format.NewPCM(2, 48000, 16)

	t.Run("Starts Silent", func(t *testing.T) {
		m := NewLevelMonitor(256)
		levels := m.GetCurrentLevels()
		assert.Equal(t, float32(-100), levels.RMSLevel)
		assert.Equal(t, float32(-100), levels.PeakLevel)
	})

	t.Run("Half Scale Sine", func(t *testing.T) {
		m := NewLevelMonitor(1024)
		m.OnBuffer(f, sineS16(4800, 1000, 48000, 0.5), 0)

		levels := m.GetCurrentLevels()
		assert.InDelta(t, -6.0, levels.PeakLevel, 0.1)
		// a sine's RMS sits 3 dB under its peak
		assert.InDelta(t, -9.0, levels.RMSLevel, 0.2)
		assert.False(t, levels.Clipping)
	})

	t.Run("Spectrum Peaks At Tone", func(t *testing.T) {
		m := NewLevelMonitor(1024)
		m.OnBuffer(f, sineS16(2048, 3000, 48000, 0.5), 0)

		spectrum := m.GetCurrentSpectrum()
		require.Len(t, spectrum.Spectrum, 512)
		assert.Equal(t, float32(48000)/1024, spectrum.FreqStep)

		best := 0
		for i, v := range spectrum.Spectrum {
			if v > spectrum.Spectrum[best] {
				best = i
			}
		}
		assert.InDelta(t, 3000, float32(best)*spectrum.FreqStep, float64(spectrum.FreqStep))
	})

	t.Run("Detects Clipping", func(t *testing.T) {
		m := NewLevelMonitor(256)
		m.OnBuffer(f, sineS16(480, 1000, 48000, 1.0), 0)
		assert.True(t, m.GetCurrentLevels().Clipping)
		assert.Greater(t, m.GetStatistics()["clip_count"].(int64), int64(0))
	})

	t.Run("Silent Buffers Are Counted Not Measured", func(t *testing.T) {
		m := NewLevelMonitor(256)
		m.OnBuffer(f, sineS16(480, 1000, 48000, 0.5), backend.BufferSilent)

		stats := m.GetStatistics()
		assert.Equal(t, int64(1), stats["silent_buffers"])
		assert.Equal(t, int64(0), stats["sample_count"])
	})

	t.Run("Float Input", func(t *testing.T) {
		m := NewLevelMonitor(256)
		buf := make([]byte, 8*10)
		for i := 0; i < 20; i++ {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(0.25))
		}
		m.OnBuffer(format.NewFloat(2, 44100, 32), buf, 0)

		levels := m.GetCurrentLevels()
		assert.InDelta(t, -12.04, levels.PeakLevel, 0.01)
		assert.Equal(t, 44100, m.GetCurrentSpectrum().SampleRate)
	})

	t.Run("Subscribers Receive Updates", func(t *testing.T) {
		m := NewLevelMonitor(256)
		ch := m.Subscribe()
		m.OnBuffer(f, sineS16(100, 1000, 48000, 0.5), 0)

		levels := <-ch
		assert.InDelta(t, -6.0, levels.PeakLevel, 0.2)

		m.Unsubscribe(ch)
		_, open := <-ch
		assert.False(t, open)
		m.OnBuffer(f, sineS16(100, 1000, 48000, 0.5), 0)
	})
}
