// Package hook virtualizes the platform's playback client. It replaces the
// client factory, and every client it hands out either forwards to the
// real platform client with a backend layered in, or is a synthetic client
// driven purely by the backend.
package hook

import (
	"github.com/dougsko/audiohook/pkg/backend"
	"github.com/dougsko/audiohook/pkg/format"
	"github.com/google/uuid"
)

// Service identifies a sub-object requested through GetService
type Service int

const (
	ServiceRenderClient Service = iota + 1
	ServiceClock
	ServiceSessionControl
	ServiceClockAdjustment
)

func (s Service) String() string {
	switch s {
	case ServiceRenderClient:
		return "IAudioRenderClient"
	case ServiceClock:
		return "IAudioClock"
	case ServiceSessionControl:
		return "IAudioSessionControl"
	case ServiceClockAdjustment:
		return "IAudioClockAdjustment"
	}
	return "unknown"
}

// AudioClient is the playback client contract consumers program against
type AudioClient interface {
	Initialize(p backend.StreamParams) error
	GetBufferSize() (uint32, error)
	GetStreamLatency() (backend.RefTime, error)
	GetCurrentPadding() (uint32, error)
	IsFormatSupported(mode backend.ShareMode, f format.StreamFormat) error
	GetMixFormat() (format.StreamFormat, error)
	GetDevicePeriod() (defaultPeriod, minimumPeriod backend.RefTime, err error)
	Start() error
	Stop() error
	Reset() error
	SetEventHandle(h *backend.Event) error
	GetService(s Service) (any, error)

	// Close releases the client and everything it owns
	Close() error
}

// RenderClient hands out buffers to fill
type RenderClient interface {
	GetBuffer(frames uint32) ([]byte, error)
	ReleaseBuffer(frames uint32, flags backend.BufferFlags) error
}

// AudioClock reports stream position
type AudioClock interface {
	GetFrequency() (uint64, error)
	GetPosition() (position, qpcPosition uint64, err error)
	GetCharacteristics() (uint32, error)
}

// SessionState is the state reported to session event sinks
type SessionState int

const (
	SessionInactive SessionState = iota
	SessionActive
	SessionExpired
)

func (s SessionState) String() string {
	switch s {
	case SessionInactive:
		return "inactive"
	case SessionActive:
		return "active"
	case SessionExpired:
		return "expired"
	}
	return "unknown"
}

// SessionEvents receives session notifications
type SessionEvents interface {
	OnStateChanged(state SessionState)
}

// SessionControl manages the audio session a client belongs to
type SessionControl interface {
	GetState() (SessionState, error)
	GetDisplayName() (string, error)
	SetDisplayName(name string, eventContext uuid.UUID) error
	GetIconPath() (string, error)
	SetIconPath(path string, eventContext uuid.UUID) error
	GetGroupingParam() (uuid.UUID, error)
	SetGroupingParam(group, eventContext uuid.UUID) error
	RegisterSessionNotification(events SessionEvents) error
	UnregisterSessionNotification(events SessionEvents) error
}

// ActivateFunc is the factory that creates playback clients for a device
type ActivateFunc func(deviceID string) (AudioClient, error)
