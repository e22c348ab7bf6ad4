package backend

import (
	"fmt"
	"strings"
)

// Kind selects which backend replaces the platform device
type Kind int

const (
	None Kind = iota
	ProAudio
	WaveOut
)

func (k Kind) String() string {
	switch k {
	case ProAudio:
		return "asio"
	case WaveOut:
		return "waveout"
	}
	return "none"
}

// RequiresSynthetic reports whether the backend cannot coexist with the
// real platform client, so the client must be replaced entirely
func (k Kind) RequiresSynthetic() bool {
	return k == ProAudio
}

// ParseKind parses a backend name, ignoring case
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return None, nil
	case "asio", "proaudio", "pro_audio":
		return ProAudio, nil
	case "waveout", "streaming":
		return WaveOut, nil
	}
	return None, fmt.Errorf("unknown backend: %q", name)
}
