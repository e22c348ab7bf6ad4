// Package backend defines the capability set a backend must provide to
// stand in for a real playback device.
package backend

import (
	"strings"

	"github.com/dougsko/audiohook/pkg/format"
	"github.com/google/uuid"
)

// ShareMode selects shared or exclusive access to the endpoint
type ShareMode int

const (
	Shared ShareMode = iota
	Exclusive
)

func (m ShareMode) String() string {
	if m == Exclusive {
		return "AUDCLNT_SHAREMODE_EXCLUSIVE"
	}
	return "AUDCLNT_SHAREMODE_SHARED"
}

// StreamFlags are the flags passed to Initialize
type StreamFlags uint32

const (
	FlagCrossProcess      StreamFlags = 0x00010000
	FlagLoopback          StreamFlags = 0x00020000
	FlagEventCallback     StreamFlags = 0x00040000
	FlagNoPersist         StreamFlags = 0x00080000
	FlagRateAdjust        StreamFlags = 0x00100000
	FlagSrcDefaultQuality StreamFlags = 0x08000000
	FlagAutoConvertPCM    StreamFlags = 0x80000000
)

var streamFlagNames = []struct {
	flag StreamFlags
	name string
}{
	{FlagCrossProcess, "AUDCLNT_STREAMFLAGS_CROSSPROCESS"},
	{FlagLoopback, "AUDCLNT_STREAMFLAGS_LOOPBACK"},
	{FlagEventCallback, "AUDCLNT_STREAMFLAGS_EVENTCALLBACK"},
	{FlagNoPersist, "AUDCLNT_STREAMFLAGS_NOPERSIST"},
	{FlagRateAdjust, "AUDCLNT_STREAMFLAGS_RATEADJUST"},
	{FlagSrcDefaultQuality, "AUDCLNT_STREAMFLAGS_SRC_DEFAULT_QUALITY"},
	{FlagAutoConvertPCM, "AUDCLNT_STREAMFLAGS_AUTOCONVERTPCM"},
}

// Has reports whether every bit of other is set
func (f StreamFlags) Has(other StreamFlags) bool {
	return f&other == other
}

func (f StreamFlags) String() string {
	if f == 0 {
		return "0"
	}
	var names []string
	for _, n := range streamFlagNames {
		if f&n.flag != 0 {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "unknown"
	}
	return strings.Join(names, " | ")
}

// BufferFlags accompany a released buffer
type BufferFlags uint32

const (
	BufferDataDiscontinuity BufferFlags = 0x1
	BufferSilent            BufferFlags = 0x2
	BufferTimestampError    BufferFlags = 0x4
)

// StreamParams are the Initialize arguments. Backends may rewrite the mode,
// flags, duration and periodicity before the real client sees them.
type StreamParams struct {
	ShareMode      ShareMode
	Flags          StreamFlags
	BufferDuration RefTime
	Periodicity    RefTime
	Format         format.StreamFormat
	Session        uuid.UUID
}

// Backend is implemented by every device a client can be redirected to.
//
// Calls follow the client lifecycle: OnInitialize, then GetBuffer and
// ReleaseBuffer pairs while started, then OnStop, then Close. A single
// consumer drives a backend; no method is called concurrently with itself.
type Backend interface {
	// Kind names the backend implementation
	Kind() Kind

	// Format returns the consumer format recorded by OnInitialize
	Format() format.StreamFormat

	OnInitialize(p *StreamParams) error
	OnGetBufferSize() (uint32, error)
	OnGetStreamLatency() (RefTime, error)

	// OnGetCurrentPadding returns ok == false when the backend has no
	// opinion and the real client should answer
	OnGetCurrentPadding() (frames uint32, ok bool, err error)

	OnIsFormatSupported(mode ShareMode, f format.StreamFormat) error
	OnGetMixFormat() (format.StreamFormat, error)
	OnGetDevicePeriod() (defaultPeriod, minimumPeriod RefTime, err error)
	OnStart() error
	OnStop() error

	// OnSetEventHandle receives the consumer's wait handle and returns the
	// handle the real client should signal instead
	OnSetEventHandle(h *Event) (*Event, error)

	OnGetBuffer(frames uint32) ([]byte, error)
	OnReleaseBuffer(frames uint32, flags BufferFlags) error

	// Close releases the device. Further calls are invalid.
	Close() error
}
