// Package speaker owns the process-wide oto context and the queued streams
// played through it.
package speaker

import (
	"fmt"
	"log"
	"sync"

	"github.com/ebitengine/oto/v3"
)

var (
	ctxMu       sync.Mutex
	ctx         *oto.Context
	ctxRate     int
	ctxChannels int
)

// Open returns the shared oto context, creating it on first use. oto only
// allows one context per process, so later calls must ask for the same
// rate and channel count.
func Open(sampleRate, channelCount int) (*oto.Context, error) {
	ctxMu.Lock()
	defer ctxMu.Unlock()

	if ctx != nil {
		if sampleRate != ctxRate || channelCount != ctxChannels {
			return nil, fmt.Errorf("speaker already open at %dHz %dch, cannot reopen at %dHz %dch",
				ctxRate, ctxChannels, sampleRate, channelCount)
		}
		return ctx, nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channelCount,
		Format:       oto.FormatSignedInt16LE,
	}

	c, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	ctx = c
	ctxRate = sampleRate
	ctxChannels = channelCount
	log.Printf("Speaker: output initialized: %dHz, %d channels", sampleRate, channelCount)
	return ctx, nil
}

// Play starts an oto player pulling from s
func Play(c *oto.Context, s *Stream) *oto.Player {
	player := c.NewPlayer(s)
	player.Play()
	return player
}
