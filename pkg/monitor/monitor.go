// Package monitor measures the audio flowing through the hook. It is a
// Tap: every released buffer is mixed down to mono and fed to the level
// meters and the spectrum analyzer.
package monitor

import (
	"math"
	"sync"
	"time"

	"github.com/dougsko/audiohook/pkg/backend"
	"github.com/dougsko/audiohook/pkg/format"
	"github.com/mjibson/go-dsp/fft"
)

const (
	silenceDB   = -100.0
	clipLevel   = 0.98
	peakHoldFor = 2 * time.Second
)

// LevelData represents real-time audio level measurements
type LevelData struct {
	Timestamp int64   `json:"timestamp"`
	RMSLevel  float32 `json:"rms"`      // RMS level in dBFS
	PeakLevel float32 `json:"peak"`     // Peak level in dBFS
	Clipping  bool    `json:"clipping"` // True if clipping detected
}

// SpectrumData represents FFT spectrum analysis
type SpectrumData struct {
	Timestamp  int64     `json:"timestamp"`
	SampleRate int       `json:"sample_rate"`
	Spectrum   []float32 `json:"spectrum"`  // Magnitude spectrum in dB
	FreqStep   float32   `json:"freq_step"` // Frequency per bin in Hz
}

// VisualizationData combines level and spectrum data
type VisualizationData struct {
	LevelData
	SpectrumData
}

// LevelMonitor processes released buffers for real-time visualization
type LevelMonitor struct {
	mutex sync.RWMutex

	fftSize    int
	sampleRate int

	currentRMS   float32
	currentPeak  float32
	peakHold     float32
	peakHoldTime time.Time
	isClipping   bool

	spectrum     []float32
	spectrumTime time.Time

	decoded   []float64
	mono      []float64
	fftBuffer []complex128
	window    []float64

	sampleCount int64
	clipCount   int64
	bufferCount int64
	silentCount int64

	subscribers map[chan LevelData]struct{}
}

// NewLevelMonitor creates a monitor analyzing fftSize samples at a time
func NewLevelMonitor(fftSize int) *LevelMonitor {
	return &LevelMonitor{
		fftSize:     fftSize,
		currentRMS:  silenceDB,
		currentPeak: silenceDB,
		peakHold:    silenceDB,
		spectrum:    make([]float32, fftSize/2),
		fftBuffer:   make([]complex128, fftSize),
		window:      makeHannWindow(fftSize),
		subscribers: make(map[chan LevelData]struct{}),
	}
}

// makeHannWindow creates a Hann window function for FFT
func makeHannWindow(size int) []float64 {
	window := make([]float64, size)
	for i := 0; i < size; i++ {
		window[i] = 0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(size-1)))
	}
	return window
}

// OnBuffer implements hook.Tap
func (m *LevelMonitor) OnBuffer(f format.StreamFormat, data []byte, flags backend.BufferFlags) {
	sf := f.SampleFormat()
	if !sf.Supported() || f.Channels <= 0 {
		return
	}

	m.mutex.Lock()
	m.bufferCount++
	if flags&backend.BufferSilent != 0 {
		m.silentCount++
		m.mutex.Unlock()
		return
	}

	count := len(data) / sf.Size()
	if cap(m.decoded) < count {
		m.decoded = make([]float64, count)
	}
	m.decoded = m.decoded[:count]
	n := format.Decode(data, sf, m.decoded)

	frames := n / f.Channels
	mono := make([]float64, frames)
	for i := range mono {
		var sum float64
		for ch := 0; ch < f.Channels; ch++ {
			sum += m.decoded[i*f.Channels+ch]
		}
		mono[i] = sum / float64(f.Channels)
	}
	m.sampleRate = f.SampleRate
	m.mutex.Unlock()

	m.ProcessSamples(mono)
}

// ProcessSamples processes mono samples in [-1.0, 1.0)
func (m *LevelMonitor) ProcessSamples(samples []float64) {
	if len(samples) == 0 {
		return
	}

	m.mutex.Lock()
	m.calculateLevels(samples)

	m.mono = append(m.mono, samples...)
	if len(m.mono) >= m.fftSize {
		// keep only the newest samples
		if len(m.mono) > m.fftSize {
			copy(m.mono, m.mono[len(m.mono)-m.fftSize:])
			m.mono = m.mono[:m.fftSize]
		}
		m.calculateSpectrum()
	}
	m.sampleCount += int64(len(samples))

	levels := m.levelsLocked()
	for ch := range m.subscribers {
		select {
		case ch <- levels:
		default:
			// slow subscribers miss updates
		}
	}
	m.mutex.Unlock()
}

func (m *LevelMonitor) calculateLevels(samples []float64) {
	var sumSquares, peak float64
	clipping := false

	for _, sample := range samples {
		sample = math.Abs(sample)
		if sample > peak {
			peak = sample
		}
		if sample >= clipLevel {
			clipping = true
			m.clipCount++
		}
		sumSquares += sample * sample
	}

	rms := math.Sqrt(sumSquares / float64(len(samples)))
	m.currentRMS = toDB(rms)
	m.currentPeak = toDB(peak)

	now := time.Now()
	if m.currentPeak > m.peakHold || now.Sub(m.peakHoldTime) > peakHoldFor {
		m.peakHold = m.currentPeak
		m.peakHoldTime = now
	}
	m.isClipping = clipping
}

func toDB(v float64) float32 {
	if v <= 0 {
		return silenceDB
	}
	return float32(20.0 * math.Log10(v))
}

// calculateSpectrum performs FFT analysis on the accumulated samples
func (m *LevelMonitor) calculateSpectrum() {
	for i := 0; i < m.fftSize; i++ {
		m.fftBuffer[i] = complex(m.mono[i]*m.window[i], 0)
	}

	fftResult := fft.FFT(m.fftBuffer)

	// positive frequencies only
	for i := range m.spectrum {
		magnitude := math.Hypot(real(fftResult[i]), imag(fftResult[i]))
		if magnitude > 0 {
			m.spectrum[i] = float32(20.0 * math.Log10(magnitude))
		} else {
			m.spectrum[i] = silenceDB
		}
	}

	m.spectrumTime = time.Now()
}

func (m *LevelMonitor) levelsLocked() LevelData {
	return LevelData{
		Timestamp: time.Now().UnixMilli(),
		RMSLevel:  m.currentRMS,
		PeakLevel: m.currentPeak,
		Clipping:  m.isClipping,
	}
}

// GetCurrentLevels returns the current audio levels
func (m *LevelMonitor) GetCurrentLevels() LevelData {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.levelsLocked()
}

// GetCurrentSpectrum returns the current spectrum data
func (m *LevelMonitor) GetCurrentSpectrum() SpectrumData {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	spectrum := make([]float32, len(m.spectrum))
	copy(spectrum, m.spectrum)

	var freqStep float32
	if m.fftSize > 0 {
		freqStep = float32(m.sampleRate) / float32(m.fftSize)
	}

	return SpectrumData{
		Timestamp:  m.spectrumTime.UnixMilli(),
		SampleRate: m.sampleRate,
		Spectrum:   spectrum,
		FreqStep:   freqStep,
	}
}

// GetVisualizationData returns combined audio data for visualization
func (m *LevelMonitor) GetVisualizationData() VisualizationData {
	return VisualizationData{
		LevelData:    m.GetCurrentLevels(),
		SpectrumData: m.GetCurrentSpectrum(),
	}
}

// GetStatistics returns monitoring statistics
func (m *LevelMonitor) GetStatistics() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	clipRate := float64(0)
	if m.sampleCount > 0 {
		clipRate = float64(m.clipCount) / float64(m.sampleCount) * 100.0
	}

	return map[string]interface{}{
		"sample_count":   m.sampleCount,
		"clip_count":     m.clipCount,
		"clip_rate_pct":  clipRate,
		"peak_hold_db":   m.peakHold,
		"sample_rate":    m.sampleRate,
		"fft_size":       m.fftSize,
		"buffers":        m.bufferCount,
		"silent_buffers": m.silentCount,
	}
}

// Subscribe returns a channel receiving a level update per processed
// buffer. Updates are dropped while the channel is full.
func (m *LevelMonitor) Subscribe() <-chan LevelData {
	ch := make(chan LevelData, 16)
	m.mutex.Lock()
	m.subscribers[ch] = struct{}{}
	m.mutex.Unlock()
	return ch
}

// Unsubscribe stops and closes a channel returned by Subscribe
func (m *LevelMonitor) Unsubscribe(ch <-chan LevelData) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for c := range m.subscribers {
		if c == ch {
			delete(m.subscribers, c)
			close(c)
			return
		}
	}
}
