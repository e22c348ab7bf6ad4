package proaudio

import (
	"fmt"

	"github.com/dougsko/audiohook/pkg/format"
)

// SampleType is the native sample encoding of a driver channel
type SampleType int32

const (
	SampleInt16MSB   SampleType = 0
	SampleInt24MSB   SampleType = 1
	SampleInt32MSB   SampleType = 2
	SampleFloat32MSB SampleType = 3
	SampleFloat64MSB SampleType = 4
	SampleInt16LSB   SampleType = 16
	SampleInt24LSB   SampleType = 17
	SampleInt32LSB   SampleType = 18
	SampleFloat32LSB SampleType = 19
	SampleFloat64LSB SampleType = 20
)

var sampleTypeNames = map[SampleType]string{
	SampleInt16MSB:   "ASIOSTInt16MSB",
	SampleInt24MSB:   "ASIOSTInt24MSB",
	SampleInt32MSB:   "ASIOSTInt32MSB",
	SampleFloat32MSB: "ASIOSTFloat32MSB",
	SampleFloat64MSB: "ASIOSTFloat64MSB",
	SampleInt16LSB:   "ASIOSTInt16LSB",
	SampleInt24LSB:   "ASIOSTInt24LSB",
	SampleInt32LSB:   "ASIOSTInt32LSB",
	SampleFloat32LSB: "ASIOSTFloat32LSB",
	SampleFloat64LSB: "ASIOSTFloat64LSB",
}

func (t SampleType) String() string {
	if name, ok := sampleTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("%d", int32(t))
}

// SampleFormat maps the driver encoding to a convertible sample format.
// Only little-endian types are supported.
func (t SampleType) SampleFormat() format.SampleFormat {
	switch t {
	case SampleInt16LSB:
		return format.S16
	case SampleInt24LSB:
		return format.S24
	case SampleInt32LSB:
		return format.S32
	case SampleFloat32LSB:
		return format.F32
	case SampleFloat64LSB:
		return format.F64
	}
	return format.Unsupported
}

// ParseSampleType accepts names such as "int16", "int24", "float32"
func ParseSampleType(name string) (SampleType, error) {
	sf, err := format.ParseSampleFormat(name)
	if err != nil {
		return 0, err
	}
	switch sf {
	case format.S16:
		return SampleInt16LSB, nil
	case format.S24:
		return SampleInt24LSB, nil
	case format.S32:
		return SampleInt32LSB, nil
	case format.F32:
		return SampleFloat32LSB, nil
	}
	return SampleFloat64LSB, nil
}

// Message selectors delivered through Callbacks.Message
const (
	SelectorSupported    = 1
	EngineVersion        = 2
	ResetRequest         = 3
	BufferSizeChange     = 4
	ResyncRequest        = 5
	LatenciesChanged     = 6
	SupportsTimeInfo     = 7
	SupportsTimeCode     = 8
	MMCCommand           = 9
	SupportsInputMonitor = 10
	SupportsInputGain    = 11
	SupportsInputMeter   = 12
	SupportsOutputGain   = 13
	SupportsOutputMeter  = 14
	Overload             = 15
)

// BufferSizes are the buffer sizes a driver accepts, in frames
type BufferSizes struct {
	Min         int `json:"min"`
	Max         int `json:"max"`
	Preferred   int `json:"preferred"`
	Granularity int `json:"granularity"`
}

// ChannelInfo describes one driver channel
type ChannelInfo struct {
	Channel int        `json:"channel"`
	Input   bool       `json:"input"`
	Active  bool       `json:"active"`
	Group   int        `json:"group"`
	Type    SampleType `json:"type"`
	Name    string     `json:"name"`
}

// BufferInfo requests one channel's double buffer from CreateBuffers. The
// driver fills Buffers.
type BufferInfo struct {
	Input   bool
	Channel int
	Buffers [2][]byte
}

// Callbacks are invoked by the driver on its own thread
type Callbacks struct {
	BufferSwitch        func(index int, direct bool)
	SampleRateDidChange func(rate float64)
	Message             func(selector, value int) int
}

// Driver is a loaded pro-audio driver. Every method except OutputReady
// must be called from the backend's worker goroutine; OutputReady is called
// from inside the buffer-switch callback.
type Driver interface {
	Init() error
	Name() string
	Version() int
	ErrorMessage() string
	Start() error
	Stop() error
	Channels() (inputs, outputs int, err error)
	Latencies() (input, output int, err error)
	BufferSize() (BufferSizes, error)
	CanSampleRate(rate float64) error
	SampleRate() (float64, error)
	SetSampleRate(rate float64) error
	ChannelInfo(channel int, input bool) (ChannelInfo, error)
	CreateBuffers(infos []BufferInfo, frames int, cb Callbacks) error
	DisposeBuffers() error
	ControlPanel() error
	OutputReady() error
	Release()
}

// DriverInfo is one entry of the installed driver list
type DriverInfo struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// DriverList enumerates and opens installed drivers
type DriverList interface {
	Drivers() ([]DriverInfo, error)
	Open(id int) (Driver, error)
}
