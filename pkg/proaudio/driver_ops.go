package proaudio

import (
	"fmt"

	"github.com/dougsko/audiohook/pkg/format"
	"github.com/dougsko/audiohook/pkg/logging"
)

// The functions in this file run on the worker goroutine only.

func (b *Backend) loadDriver() bool {
	drivers, err := b.opts.Drivers.Drivers()
	if err != nil {
		b.log.Warnf(component, "failed to list drivers: %v", err)
	}
	for _, d := range drivers {
		b.log.Infof(component, "Driver %d", d.ID)
		b.log.Infof(component, "... Name : %s", d.Name)
		b.log.Infof(component, "... Path : %s", d.Path)
	}

	drv, err := b.opts.Drivers.Open(b.opts.DriverID)
	if err != nil {
		b.log.Warnf(component, "failed to open driver: %v", err)
		return false
	}

	if err := drv.Init(); err != nil {
		msg := drv.ErrorMessage()
		b.infoMu.Lock()
		b.errorMessage = msg
		b.infoMu.Unlock()
		b.log.Warnf(component, "failed to initialize driver: %s", msg)
		drv.Release()
		return false
	}

	b.driver = drv
	return true
}

func (b *Backend) updateDriverInfo() bool {
	b.infoMu.Lock()
	defer b.infoMu.Unlock()

	b.driverName = ""
	b.driverVersion = 0
	b.info = InstanceInfo{}
	b.channelInfo = nil

	if b.driver == nil {
		b.log.Warn(component, "attempted to update driver info when no driver is loaded")
		return false
	}

	b.driverName = b.driver.Name()
	b.driverVersion = b.driver.Version()

	inputs, outputs, err := b.driver.Channels()
	if err != nil {
		b.log.Warnf(component, "failed to get channels: %v", err)
		return false
	}
	b.info.Inputs = inputs
	b.info.Outputs = outputs

	sizes, err := b.driver.BufferSize()
	if err != nil {
		b.log.Warnf(component, "failed to get buffer sizes: %v", err)
		return false
	}
	b.info.Buffers = sizes

	for i := 0; i < outputs; i++ {
		ci, err := b.driver.ChannelInfo(i, false)
		if err != nil {
			b.log.Warnf(component, "failed to get channel %d info: %v", i, err)
			return false
		}
		b.channelInfo = append(b.channelInfo, ci)
	}

	b.log.Info(component, "Device Info:")
	b.log.Infof(component, "... Name               : %s", b.driverName)
	b.log.Infof(component, "... Version            : %d", b.driverVersion)
	b.log.Infof(component, "... Inputs             : %d channels", inputs)
	b.log.Infof(component, "... Outputs            : %d channels", outputs)
	b.log.Infof(component, "... Buffer Minimum     : %d samples", sizes.Min)
	b.log.Infof(component, "... Buffer Maximum     : %d samples", sizes.Max)
	b.log.Infof(component, "... Buffer Preferred   : %d samples", sizes.Preferred)
	b.log.Infof(component, "... Buffer Granularity : %d samples", sizes.Granularity)
	b.log.Info(component, "Channel Info:")
	for _, ci := range b.channelInfo {
		b.log.Infof(component, "... Channel %d: %s (group: %d, type: %s)", ci.Channel, ci.Name, ci.Group, ci.Type)
	}
	return true
}

func (b *Backend) updateLatency() error {
	if b.driver == nil {
		return DriverNotPresent
	}
	input, output, err := b.driver.Latencies()
	if err != nil {
		b.log.Warnf(component, "failed to get latency: %v", err)
		return err
	}

	b.infoMu.Lock()
	b.info.InputLatency = input
	b.info.OutputLatency = output
	b.infoMu.Unlock()
	return nil
}

// initialFormat derives the format the driver natively runs at
func (b *Backend) initialFormat() (format.StreamFormat, error) {
	if b.driver == nil {
		return format.StreamFormat{}, DriverNotPresent
	}
	rate, err := b.driver.SampleRate()
	if err != nil {
		b.log.Warnf(component, "failed to get current sample rate: %v", err)
		return format.StreamFormat{}, err
	}

	b.infoMu.Lock()
	defer b.infoMu.Unlock()

	outputs := b.info.Outputs
	if len(b.channelInfo) == 0 {
		f := format.StreamFormat{Tag: format.TagPCM, Channels: outputs, SampleRate: int(rate)}
		f.Recompute()
		return f, nil
	}

	b.driverType = b.channelInfo[0].Type.SampleFormat()
	if !b.driverType.Supported() {
		return format.StreamFormat{Channels: outputs, SampleRate: int(rate)}, nil
	}
	return format.NewExtensible(outputs, int(rate), b.driverType, format.SpeakerAll), nil
}

func (b *Backend) refreshInitialFormat() bool {
	f, err := b.initialFormat()
	if err != nil {
		return false
	}
	b.fmtMu.Lock()
	b.lastChecked = f
	b.fmtMu.Unlock()
	return true
}

// initBuffers claims the callback slot and creates one double buffer per
// consumer channel
func (b *Backend) initBuffers() error {
	if b.driver == nil {
		return DriverNotPresent
	}
	if err := b.opts.Slot.Acquire(b); err != nil {
		b.log.Warn(component, "driver callbacks already initialized")
		return err
	}

	if b.buffers != nil {
		b.sw.Store(nil)
		if err := b.driver.DisposeBuffers(); err != nil {
			b.log.Warnf(component, "failed to dispose buffers: %v", err)
		}
		b.buffers = nil
	}

	f := b.Format()
	driverType := b.driverSampleFormat()
	if !driverType.Supported() {
		b.log.Warnf(component, "driver sample type %s is not supported", driverType)
		b.opts.Slot.Release(b)
		return DriverInvalidMode
	}

	infos := make([]BufferInfo, f.Channels)
	for i := range infos {
		infos[i].Channel = i
	}

	b.callbacks = Callbacks{
		BufferSwitch:        b.bufferSwitch,
		SampleRateDidChange: b.sampleRateDidChange,
		Message:             b.message,
	}

	preferred := b.instance().Buffers.Preferred
	if err := b.driver.CreateBuffers(infos, preferred, b.callbacks); err != nil {
		b.log.Warnf(component, "failed to create buffers: %v", err)
		b.opts.Slot.Release(b)
		return err
	}

	size := preferred * driverType.Size()
	for i := range infos {
		for half := range infos[i].Buffers {
			if len(infos[i].Buffers[half]) < size {
				b.opts.Slot.Release(b)
				return fmt.Errorf("driver returned a %d byte buffer for channel %d, need %d: %w",
					len(infos[i].Buffers[half]), i, size, DriverNoMemory)
			}
			clear(infos[i].Buffers[half][:size])
		}
	}

	b.buffers = infos
	b.sw.Store(&switchState{
		driver:     b.driver,
		channels:   f.Channels,
		sampleSize: driverType.Size(),
		frames:     preferred,
		buffers:    infos,
	})

	return b.updateLatency()
}

func (b *Backend) unloadDriver() {
	if b.driver == nil {
		return
	}

	if err := b.driver.Stop(); err != nil {
		b.log.Warnf(component, "failed to stop driver: %v", err)
	}

	b.sw.Store(nil)
	if b.buffers != nil {
		if err := b.driver.DisposeBuffers(); err != nil {
			b.log.Warnf(component, "failed to dispose buffers: %v", err)
		}
		b.buffers = nil
	}

	b.driver.Release()
	b.driver = nil
	b.callbacks = Callbacks{}
	b.opts.Slot.Release(b)

	b.infoMu.Lock()
	b.driverName = ""
	b.driverVersion = 0
	b.info = InstanceInfo{}
	b.channelInfo = nil
	b.driverType = format.Unsupported
	b.infoMu.Unlock()
}

// reload loads the driver again and recreates buffers for the current
// consumer format
func (b *Backend) reload() error {
	if !(b.loadDriver() && b.updateDriverInfo() && b.refreshInitialFormat()) {
		b.unloadDriver()
		return DriverNotPresent
	}

	f := b.Format()
	if f.Channels == 0 {
		// nothing negotiated yet
		return nil
	}
	if err := b.driver.SetSampleRate(float64(f.SampleRate)); err != nil {
		b.log.Warnf(component, "failed to set sample rate %d: %v", f.SampleRate, err)
	}
	return b.initBuffers()
}

// reset unloads and reloads the driver, restarting playback if it was
// running. A driver that cannot be reloaded leaves the backend Failed.
func (b *Backend) reset() error {
	b.log.Info(component, "resetting driver")
	wasStarted := b.started.Load()

	b.unloadDriver()
	if err := b.reload(); err != nil {
		if err == DriverNotPresent {
			b.log.Error(component, "failed to reload driver after reset", logging.Fields{"driver_id": b.opts.DriverID})
			b.setState(StateFailed)
			return err
		}
		b.log.Warnf(component, "failed to recreate buffers after reset: %v", err)
		return err
	}

	if wasStarted && b.driver != nil {
		if err := b.driver.Start(); err != nil {
			b.log.Warnf(component, "failed to restart driver after reset: %v", err)
			return err
		}
	}
	return nil
}

// start starts the driver, reloading it first when a previous stop
// unloaded it
func (b *Backend) start() error {
	if b.driver == nil {
		if err := b.reload(); err != nil {
			return err
		}
	}
	return b.driver.Start()
}

func (b *Backend) stop() error {
	if b.opts.ForceUnloadOnStop {
		b.unloadDriver()
		return nil
	}
	if b.driver == nil {
		return nil
	}
	return b.driver.Stop()
}
