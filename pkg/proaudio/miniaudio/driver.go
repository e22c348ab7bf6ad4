// Package miniaudio exposes miniaudio playback devices as pro-audio
// drivers. miniaudio pulls audio from its own device thread, which is where
// the buffer-switch callback runs.
package miniaudio

import (
	"fmt"
	"log"
	"sync"

	"github.com/dougsko/audiohook/pkg/proaudio"
	"github.com/gen2brain/malgo"
)

// Config is the device shape every opened driver reports
type Config struct {
	Outputs    int
	SampleRate int
	BufferSize int
	SampleType proaudio.SampleType
}

// List enumerates miniaudio playback devices. Driver ids are indexes into
// the playback device list.
type List struct {
	cfg Config

	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewList initializes a miniaudio context
func NewList(cfg Config) (*List, error) {
	if cfg.Outputs <= 0 {
		cfg.Outputs = 2
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if malgoFormat(cfg.SampleType) == malgo.FormatUnknown {
		cfg.SampleType = proaudio.SampleFloat32LSB
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	return &List{cfg: cfg, ctx: ctx}, nil
}

func (l *List) devices() ([]malgo.DeviceInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx == nil {
		return nil, proaudio.DriverNotPresent
	}
	return l.ctx.Devices(malgo.Playback)
}

func (l *List) Drivers() ([]proaudio.DriverInfo, error) {
	devices, err := l.devices()
	if err != nil {
		return nil, err
	}

	drivers := make([]proaudio.DriverInfo, 0, len(devices))
	for i, dev := range devices {
		path := "miniaudio"
		if dev.IsDefault == 1 {
			path = "miniaudio (default)"
		}
		drivers = append(drivers, proaudio.DriverInfo{ID: i, Name: dev.Name(), Path: path})
	}
	return drivers, nil
}

func (l *List) Open(id int) (proaudio.Driver, error) {
	devices, err := l.devices()
	if err != nil {
		return nil, err
	}
	if id < 0 || id >= len(devices) {
		return nil, proaudio.DriverNotPresent
	}
	return &Driver{list: l, info: devices[id], cfg: l.cfg, rate: float64(l.cfg.SampleRate)}, nil
}

// Close releases the miniaudio context. Drivers opened from the list must
// be released first.
func (l *List) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx == nil {
		return nil
	}
	err := l.ctx.Uninit()
	l.ctx.Free()
	l.ctx = nil
	return err
}

func (l *List) context() *malgo.AllocatedContext {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ctx
}

// Driver drives one miniaudio playback device
type Driver struct {
	list *List
	info malgo.DeviceInfo
	cfg  Config
	rate float64

	device     *malgo.Device
	infos      []proaudio.BufferInfo
	cb         proaudio.Callbacks
	frames     int
	sampleSize int

	// touched only by the device thread once the device exists
	staging    []byte
	stagingPos int
	stagingLen int
	index      int
}

func (d *Driver) Init() error {
	if d.list.context() == nil {
		return proaudio.DriverNotPresent
	}
	log.Printf("Miniaudio: opened %s (%d outputs, %.0f Hz, %d frames)", d.info.Name(), d.cfg.Outputs, d.rate, d.cfg.BufferSize)
	return nil
}

func (d *Driver) Name() string { return d.info.Name() }

func (d *Driver) Version() int { return 1 }

func (d *Driver) ErrorMessage() string { return "" }

func (d *Driver) Channels() (int, int, error) {
	return 0, d.cfg.Outputs, nil
}

func (d *Driver) Latencies() (int, int, error) {
	return 0, d.cfg.BufferSize, nil
}

func (d *Driver) BufferSize() (proaudio.BufferSizes, error) {
	return proaudio.BufferSizes{
		Min:         d.cfg.BufferSize,
		Max:         d.cfg.BufferSize,
		Preferred:   d.cfg.BufferSize,
		Granularity: 0,
	}, nil
}

// CanSampleRate accepts the range miniaudio resamples from
func (d *Driver) CanSampleRate(rate float64) error {
	if rate < 8000 || rate > 384000 {
		return proaudio.DriverNoClock
	}
	return nil
}

func (d *Driver) SampleRate() (float64, error) {
	return d.rate, nil
}

// SetSampleRate takes effect the next time buffers are created
func (d *Driver) SetSampleRate(rate float64) error {
	if err := d.CanSampleRate(rate); err != nil {
		return err
	}
	d.rate = rate
	return nil
}

func (d *Driver) ChannelInfo(channel int, input bool) (proaudio.ChannelInfo, error) {
	if input || channel < 0 || channel >= d.cfg.Outputs {
		return proaudio.ChannelInfo{}, proaudio.DriverInvalidParameter
	}
	return proaudio.ChannelInfo{
		Channel: channel,
		Active:  true,
		Type:    d.cfg.SampleType,
		Name:    fmt.Sprintf("%s %d", d.info.Name(), channel+1),
	}, nil
}

func (d *Driver) CreateBuffers(infos []proaudio.BufferInfo, frames int, cb proaudio.Callbacks) error {
	if d.device != nil {
		return proaudio.DriverInvalidMode
	}
	if frames <= 0 || len(infos) == 0 {
		return proaudio.DriverInvalidParameter
	}

	d.sampleSize = d.cfg.SampleType.SampleFormat().Size()
	for i := range infos {
		if infos[i].Input || infos[i].Channel >= d.cfg.Outputs {
			return proaudio.DriverInvalidParameter
		}
		infos[i].Buffers[0] = make([]byte, frames*d.sampleSize)
		infos[i].Buffers[1] = make([]byte, frames*d.sampleSize)
	}
	d.infos = infos
	d.cb = cb
	d.frames = frames
	d.staging = make([]byte, frames*len(infos)*d.sampleSize)
	d.stagingPos, d.stagingLen, d.index = 0, 0, 0

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgoFormat(d.cfg.SampleType)
	config.Playback.Channels = uint32(len(infos))
	if d.info.IsDefault != 1 {
		config.Playback.DeviceID = d.info.ID.Pointer()
	}
	config.SampleRate = uint32(d.rate)
	config.PeriodSizeInFrames = uint32(frames)
	config.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(d.list.context().Context, config, malgo.DeviceCallbacks{
		Data: d.data,
	})
	if err != nil {
		d.infos = nil
		log.Printf("Miniaudio: failed to initialize playback device: %v", err)
		return proaudio.DriverHWMalfunction
	}
	d.device = device
	return nil
}

// data runs on the miniaudio device thread
func (d *Driver) data(out, _ []byte, frameCount uint32) {
	frameSize := len(d.infos) * d.sampleSize
	total := min(int(frameCount)*frameSize, len(out))

	for written := 0; written < total; {
		if d.stagingPos == d.stagingLen {
			d.cb.BufferSwitch(d.index, true)
			d.stagingLen = interleave(d.staging, d.infos, d.index, d.sampleSize, d.frames)
			d.stagingPos = 0
			d.index ^= 1
		}
		n := copy(out[written:total], d.staging[d.stagingPos:d.stagingLen])
		d.stagingPos += n
		written += n
	}
}

// interleave gathers one half of the per-channel buffers into dst and
// returns the number of bytes written
func interleave(dst []byte, infos []proaudio.BufferInfo, index, sampleSize, frames int) int {
	frameSize := len(infos) * sampleSize
	for f := 0; f < frames; f++ {
		for ch := range infos {
			src := infos[ch].Buffers[index][f*sampleSize : (f+1)*sampleSize]
			copy(dst[f*frameSize+ch*sampleSize:], src)
		}
	}
	return frames * frameSize
}

func (d *Driver) DisposeBuffers() error {
	if d.device == nil {
		return proaudio.DriverInvalidMode
	}
	d.device.Uninit()
	d.device = nil
	d.infos = nil
	d.cb = proaudio.Callbacks{}
	return nil
}

func (d *Driver) Start() error {
	if d.device == nil {
		return proaudio.DriverInvalidMode
	}
	if err := d.device.Start(); err != nil {
		log.Printf("Miniaudio: failed to start device: %v", err)
		return proaudio.DriverHWMalfunction
	}
	return nil
}

func (d *Driver) Stop() error {
	if d.device == nil {
		return nil
	}
	if err := d.device.Stop(); err != nil {
		log.Printf("Miniaudio: device stop error: %v", err)
		return proaudio.DriverHWMalfunction
	}
	return nil
}

func (d *Driver) ControlPanel() error {
	log.Printf("Miniaudio: %s has no control panel", d.info.Name())
	return nil
}

func (d *Driver) OutputReady() error {
	return nil
}

func (d *Driver) Release() {
	if d.device != nil {
		d.device.Uninit()
		d.device = nil
	}
}

func malgoFormat(t proaudio.SampleType) malgo.FormatType {
	switch t {
	case proaudio.SampleInt16LSB:
		return malgo.FormatS16
	case proaudio.SampleInt24LSB:
		return malgo.FormatS24
	case proaudio.SampleInt32LSB:
		return malgo.FormatS32
	case proaudio.SampleFloat32LSB:
		return malgo.FormatF32
	}
	return malgo.FormatUnknown
}
