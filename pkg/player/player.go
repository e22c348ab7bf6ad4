// Package player is a playback consumer. It drives a hooked AudioClient the
// way an ordinary application does: event-driven, filling whatever the
// device has room for after each wake-up.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dougsko/audiohook/pkg/backend"
	"github.com/dougsko/audiohook/pkg/format"
	"github.com/dougsko/audiohook/pkg/hook"
	"github.com/dougsko/audiohook/pkg/logging"
)

const component = "player"

// ErrAlreadyPlaying is returned by Start while a source is playing
var ErrAlreadyPlaying = errors.New("already playing")

// DefaultBufferDuration is requested from the client in shared mode
const DefaultBufferDuration backend.RefTime = 1_000_000

// Options configure a Player
type Options struct {
	Device         string
	Exclusive      bool
	BufferDuration backend.RefTime

	// WaitTimeout bounds each wait for the client event. A timeout is not
	// an error; the loop polls padding instead.
	WaitTimeout time.Duration
	Logger      *logging.Logger
}

// Stats counts what the last playback did
type Stats struct {
	Buffers  int64 `json:"buffers"`
	Frames   int64 `json:"frames"`
	Timeouts int64 `json:"timeouts"`
}

// Player plays one source at a time through clients from activate
type Player struct {
	activate hook.ActivateFunc
	opts     Options
	log      *logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	source string
	err    error

	buffers  atomic.Int64
	frames   atomic.Int64
	timeouts atomic.Int64
}

// New creates a player
func New(activate hook.ActivateFunc, opts Options) *Player {
	if opts.BufferDuration <= 0 {
		opts.BufferDuration = DefaultBufferDuration
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 200 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}
	return &Player{activate: activate, opts: opts, log: opts.Logger}
}

// Start plays src in the background. The player closes src when done.
func (p *Player) Start(src Source) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		select {
		case <-p.done:
		default:
			return ErrAlreadyPlaying
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.source = src.Name()
	p.err = nil

	go func() {
		defer close(done)
		err := p.Play(ctx, src)
		if err != nil {
			p.log.Warnf(component, "playback of %s failed: %v", src.Name(), err)
		}
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
	}()
	return nil
}

// Stop cancels background playback and waits for it to finish
func (p *Player) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until background playback finishes and returns its error
func (p *Player) Wait() error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Playing reports whether background playback is running
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Source names the source most recently started
func (p *Player) Source() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source
}

// Stats returns counters of the current or last playback
func (p *Player) Stats() Stats {
	return Stats{
		Buffers:  p.buffers.Load(),
		Frames:   p.frames.Load(),
		Timeouts: p.timeouts.Load(),
	}
}

// Play activates a client and plays src through it until src ends or ctx
// is canceled. Cancellation is not an error. src is closed on return.
func (p *Player) Play(ctx context.Context, src Source) error {
	defer src.Close()

	p.buffers.Store(0)
	p.frames.Store(0)
	p.timeouts.Store(0)

	client, err := p.activate(p.opts.Device)
	if err != nil {
		return fmt.Errorf("activate %q: %w", p.opts.Device, err)
	}
	defer client.Close()

	s, err := p.open(client, src)
	if err != nil {
		return err
	}

	if _, err := s.fill(s.size); err != nil {
		return err
	}
	if err := client.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer client.Stop()

	p.log.Info(component, "playing", logging.Fields{
		"source": src.Name(),
		"format": s.format.String(),
		"frames": s.size,
	})

	timer := time.NewTimer(p.opts.WaitTimeout)
	defer timer.Stop()

	for {
		timer.Reset(p.opts.WaitTimeout)
		select {
		case <-ctx.Done():
			p.log.Info(component, "playback canceled", logging.Fields{"source": src.Name()})
			return nil
		case <-s.event.C():
		case <-timer.C:
			p.timeouts.Add(1)
		}

		padding, err := client.GetCurrentPadding()
		if err != nil {
			return fmt.Errorf("padding: %w", err)
		}
		if padding >= s.size {
			continue
		}

		eof, err := s.fill(s.size - padding)
		if err != nil {
			return err
		}
		if eof {
			p.drain(ctx, client, s)
			p.log.Info(component, "playback finished", logging.Fields{
				"source": src.Name(),
				"frames": p.frames.Load(),
			})
			return nil
		}
	}
}

// drain waits for queued frames to play out
func (p *Player) drain(ctx context.Context, client hook.AudioClient, s *stream) {
	buffered := backend.FramesToRefTime(int(s.size), s.format.SampleRate).Duration()
	deadline := time.Now().Add(buffered + p.opts.WaitTimeout)
	for time.Now().Before(deadline) {
		padding, err := client.GetCurrentPadding()
		if err != nil || padding == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-s.event.C():
		case <-time.After(time.Millisecond):
		}
	}
}

func (p *Player) open(client hook.AudioClient, src Source) (*stream, error) {
	mix, err := client.GetMixFormat()
	if err != nil {
		return nil, fmt.Errorf("mix format: %w", err)
	}

	mode := backend.Shared
	f := mix
	if rf, ok := src.(RateFollower); ok {
		rf.SetSampleRate(mix.SampleRate)
	}
	if p.opts.Exclusive {
		mode = backend.Exclusive
		mask := mix.ChannelMask
		if mask == 0 {
			mask = format.SpeakerAll
		}
		f = format.NewExtensible(mix.Channels, src.SampleRate(), mix.SampleFormat(), mask)
	}

	if !f.SampleFormat().Supported() {
		return nil, fmt.Errorf("device format %s: %w", f, backend.ErrUnsupportedFormat)
	}
	if f.SampleRate != src.SampleRate() {
		return nil, fmt.Errorf("source rate %d does not match device rate %d: %w",
			src.SampleRate(), f.SampleRate, backend.ErrUnsupportedFormat)
	}
	if err := client.IsFormatSupported(mode, f); err != nil {
		return nil, fmt.Errorf("format %s: %w", f, err)
	}

	params := backend.StreamParams{
		ShareMode:      mode,
		Flags:          backend.FlagEventCallback,
		BufferDuration: p.opts.BufferDuration,
		Format:         f,
	}
	if mode == backend.Exclusive {
		params.Periodicity = p.opts.BufferDuration
	}
	if err := client.Initialize(params); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	event := backend.NewEvent()
	if err := client.SetEventHandle(event); err != nil {
		return nil, fmt.Errorf("set event handle: %w", err)
	}

	size, err := client.GetBufferSize()
	if err != nil {
		return nil, fmt.Errorf("buffer size: %w", err)
	}
	svc, err := client.GetService(hook.ServiceRenderClient)
	if err != nil {
		return nil, fmt.Errorf("render client: %w", err)
	}
	rc, ok := svc.(hook.RenderClient)
	if !ok {
		return nil, fmt.Errorf("render client: %w", backend.ErrNoInterface)
	}

	return &stream{
		p:      p,
		src:    src,
		rc:     rc,
		event:  event,
		format: f,
		size:   size,
		in:     make([]float64, int(size)*src.Channels()),
		out:    make([]float64, int(size)*f.Channels),
	}, nil
}

type stream struct {
	p      *Player
	src    Source
	rc     hook.RenderClient
	event  *backend.Event
	format format.StreamFormat
	size   uint32
	in     []float64
	out    []float64
	eof    bool
}

// fill writes frames of source audio into one client buffer. Once the
// source is exhausted the rest of the buffer is silence.
func (s *stream) fill(frames uint32) (bool, error) {
	if frames == 0 {
		return s.eof, nil
	}
	buf, err := s.rc.GetBuffer(frames)
	if err != nil {
		return false, fmt.Errorf("get buffer: %w", err)
	}

	srcCh := s.src.Channels()
	dstCh := s.format.Channels
	in := s.in[:int(frames)*srcCh]

	got := 0
	for got < len(in) && !s.eof {
		n, err := s.src.Read(in[got:])
		got += n
		if err == io.EOF {
			s.eof = true
		} else if err != nil {
			s.rc.ReleaseBuffer(0, 0)
			return false, fmt.Errorf("read %s: %w", s.src.Name(), err)
		} else if n == 0 {
			s.eof = true
		}
	}

	out := s.out[:int(frames)*dstCh]
	clear(out)
	for i := 0; i < got/srcCh; i++ {
		for c := 0; c < dstCh; c++ {
			switch {
			case srcCh == 1:
				out[i*dstCh+c] = in[i]
			case c < srcCh:
				out[i*dstCh+c] = in[i*srcCh+c]
			}
		}
	}
	format.Encode(buf, s.format.SampleFormat(), out)

	var flags backend.BufferFlags
	if got == 0 {
		flags = backend.BufferSilent
	}
	if err := s.rc.ReleaseBuffer(frames, flags); err != nil {
		return false, fmt.Errorf("release buffer: %w", err)
	}

	s.p.buffers.Add(1)
	s.p.frames.Add(int64(got / srcCh))
	return s.eof, nil
}
