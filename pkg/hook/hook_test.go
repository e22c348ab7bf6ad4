package hook

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dougsko/audiohook/pkg/backend"
	"github.com/dougsko/audiohook/pkg/config"
	"github.com/dougsko/audiohook/pkg/format"
	"github.com/dougsko/audiohook/pkg/logging"
	"github.com/dougsko/audiohook/pkg/proaudio"
	"github.com/dougsko/audiohook/pkg/waveout"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (l *eventLog) Record(ev SessionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var kinds []string
	for _, ev := range l.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

type stateLog struct {
	mu     sync.Mutex
	states []SessionState
}

func (s *stateLog) OnStateChanged(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

// installed creates a hook over a table whose factory hands out mock
// clients
func installed(t *testing.T, opts Options) (*Hook, *ImportTable, *[]*MockClient) {
	t.Helper()
	created := &[]*MockClient{}
	table := NewImportTable()
	table.Register(ActivateSymbol, MockFactory(created))

	opts.Enabled = true
	opts.Logger = logging.NewWriterLogger(io.Discard, logging.LevelDebug)
	h := New(opts)
	require.NoError(t, h.Install(table))
	t.Cleanup(h.Stop)
	return h, table, created
}

func activate(t *testing.T, table *ImportTable) AudioClient {
	t.Helper()
	c, err := table.Activate("{0.0.0.00000000}.{test}")
	require.NoError(t, err)
	return c
}

func renderClient(t *testing.T, c AudioClient) RenderClient {
	t.Helper()
	svc, err := c.GetService(ServiceRenderClient)
	require.NoError(t, err)
	rc, ok := svc.(RenderClient)
	require.True(t, ok)
	return rc
}

func fill(rc RenderClient, t *testing.T, frames uint32, value byte) []byte {
	t.Helper()
	buf, err := rc.GetBuffer(frames)
	require.NoError(t, err)
	for i := range buf {
		buf[i] = value
	}
	out := append([]byte(nil), buf...)
	require.NoError(t, rc.ReleaseBuffer(frames, 0))
	return out
}

func simulatedList() *proaudio.SimulatedList {
	return &proaudio.SimulatedList{Config: proaudio.SimulatedConfig{
		Outputs:    2,
		SampleRate: 48000,
		BufferSize: 256,
		SampleType: proaudio.SampleInt32LSB,
		Manual:     true,
	}}
}

func exclusive(f format.StreamFormat) backend.StreamParams {
	return backend.StreamParams{
		ShareMode: backend.Exclusive,
		Flags:     backend.FlagEventCallback,
		Format:    f,
	}
}

func TestInstall(t *testing.T) {
	t.Run("Disabled Hook Leaves Factory Alone", func(t *testing.T) {
		var created []*MockClient
		table := NewImportTable()
		table.Register(ActivateSymbol, MockFactory(&created))

		h := New(Options{Logger: logging.NewWriterLogger(io.Discard, logging.LevelError)})
		require.NoError(t, h.Install(table))

		c := activate(t, table)
		assert.IsType(t, &MockClient{}, c)
		assert.Nil(t, h.Current())
	})

	t.Run("Missing Symbol", func(t *testing.T) {
		h := New(Options{Enabled: true, Logger: logging.NewWriterLogger(io.Discard, logging.LevelError)})
		err := h.Install(NewImportTable())
		assert.ErrorIs(t, err, ErrSymbolNotFound)

		_, err = h.Activate("device")
		assert.ErrorIs(t, err, ErrSymbolNotFound)
	})

	t.Run("Factory Failure Passes Through", func(t *testing.T) {
		failure := errors.New("device gone")
		table := NewImportTable()
		table.Register(ActivateSymbol, func(string) (AudioClient, error) { return nil, failure })

		h := New(Options{Enabled: true, Logger: logging.NewWriterLogger(io.Discard, logging.LevelError)})
		require.NoError(t, h.Install(table))
		_, err := table.Activate("device")
		assert.ErrorIs(t, err, failure)
	})

	t.Run("Wraps Platform Client", func(t *testing.T) {
		h, table, created := installed(t, Options{})
		c := activate(t, table)

		wrapped, ok := c.(*WrappedClient)
		require.True(t, ok)
		require.Len(t, *created, 1)
		assert.Same(t, (*created)[0], wrapped.Real())
		assert.Same(t, c, h.Current())
		assert.Nil(t, h.Backend())
	})

	t.Run("Recursive Activation Returns Platform Client", func(t *testing.T) {
		h, table, created := installed(t, Options{})

		h.initLock.Lock()
		c := activate(t, table)
		h.initLock.Unlock()

		assert.IsType(t, &MockClient{}, c)
		assert.Len(t, *created, 1)
		assert.Nil(t, h.Current())
	})

	t.Run("Force Synthetic Without Backend Wraps", func(t *testing.T) {
		_, table, _ := installed(t, Options{ForceSynthetic: true})
		assert.IsType(t, &WrappedClient{}, activate(t, table))
	})
}

func TestWrappedClient(t *testing.T) {
	t.Run("Forwards Without Backend", func(t *testing.T) {
		h, table, created := installed(t, Options{})
		c := activate(t, table)
		platform := (*created)[0]

		f := format.NewPCM(2, 48000, 16)
		require.NoError(t, c.Initialize(backend.StreamParams{ShareMode: backend.Shared, Format: f}))
		assert.Equal(t, f, h.Format())

		size, err := c.GetBufferSize()
		require.NoError(t, err)
		assert.Equal(t, uint32(480), size)

		mix, err := c.GetMixFormat()
		require.NoError(t, err)
		assert.Equal(t, platform.MixFormat, mix)

		rc := renderClient(t, c)
		data := fill(rc, t, 10, 0x11)
		assert.Equal(t, data, platform.Played())
	})

	t.Run("Fixes Multichannel Formats", func(t *testing.T) {
		_, table, created := installed(t, Options{FixMultichannel: true})
		c := activate(t, table)

		f := format.NewExtensible(6, 48000, format.F32, 0x3F)
		require.NoError(t, c.Initialize(backend.StreamParams{ShareMode: backend.Shared, Format: f}))

		params := (*created)[0].Params()
		require.Len(t, params, 1)
		got := params[0].Format
		assert.Equal(t, 2, got.Channels)
		assert.Equal(t, 16, got.BitsPerSample)
		assert.Equal(t, 16, got.ValidBits)
		assert.Equal(t, format.StereoMask, got.ChannelMask)
		assert.Equal(t, format.SubtypePCM, got.SubFormat)
		assert.Equal(t, 4, got.BlockAlign)
		assert.Equal(t, 48000*4, got.AvgBytesPerSec)
	})

	t.Run("Low Latency Shared Mode", func(t *testing.T) {
		_, table, created := installed(t, Options{LowLatencyShared: true})
		c := activate(t, table)

		p := backend.StreamParams{ShareMode: backend.Shared, BufferDuration: 200000, Format: format.NewPCM(2, 48000, 16)}
		require.NoError(t, c.Initialize(p))

		got := (*created)[0].Params()[0]
		assert.Equal(t, backend.RefTime(30000), got.BufferDuration)
		assert.Equal(t, backend.RefTime(30000), got.Periodicity)
	})

	t.Run("Mutes Buffers Around Start", func(t *testing.T) {
		_, table, created := installed(t, Options{MuteBuffers: 2})
		c := activate(t, table)
		platform := (*created)[0]

		require.NoError(t, c.Initialize(exclusive(format.NewPCM(2, 48000, 16))))
		require.NoError(t, c.Start())
		rc := renderClient(t, c)
		for range 3 {
			fill(rc, t, 4, 0x7F)
		}

		played := platform.Played()
		require.Len(t, played, 3*16)
		assert.Equal(t, make([]byte, 32), played[:32])
		assert.Equal(t, bytes.Repeat([]byte{0x7F}, 16), played[32:])

		require.NoError(t, c.Stop())
		fill(rc, t, 4, 0x7F)
		assert.Equal(t, make([]byte, 16), platform.Played()[48:])
	})

	t.Run("Shared Mode Is Never Muted", func(t *testing.T) {
		_, table, created := installed(t, Options{MuteBuffers: 4})
		c := activate(t, table)

		require.NoError(t, c.Initialize(backend.StreamParams{ShareMode: backend.Shared, Format: format.NewPCM(2, 48000, 16)}))
		fill(renderClient(t, c), t, 4, 0x22)
		assert.Equal(t, bytes.Repeat([]byte{0x22}, 16), (*created)[0].Played())
	})

	t.Run("Records Lifecycle", func(t *testing.T) {
		rec := &eventLog{}
		_, table, _ := installed(t, Options{Recorder: rec})
		c := activate(t, table)

		require.NoError(t, c.Initialize(exclusive(format.NewPCM(2, 48000, 16))))
		require.NoError(t, c.Start())
		require.NoError(t, c.Stop())
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())

		assert.Equal(t, []string{EventActivate, EventInitialize, EventStart, EventStop, EventClose}, rec.kinds())
		rec.mu.Lock()
		defer rec.mu.Unlock()
		assert.Equal(t, "S_OK", rec.events[1].Status)
		assert.NotNil(t, rec.events[1].Params)
		for _, ev := range rec.events {
			assert.Equal(t, rec.events[0].Session, ev.Session)
			assert.False(t, ev.Time.IsZero())
		}
	})

	t.Run("Failed Initialize Is Recorded", func(t *testing.T) {
		rec := &eventLog{}
		table := NewImportTable()
		table.Register(ActivateSymbol, func(string) (AudioClient, error) {
			m := NewMockClient()
			m.InitializeErr = backend.ErrUnsupportedFormat
			return m, nil
		})
		h := New(Options{Enabled: true, Recorder: rec, Logger: logging.NewWriterLogger(io.Discard, logging.LevelError)})
		require.NoError(t, h.Install(table))
		c := activate(t, table)

		err := c.Initialize(exclusive(format.NewPCM(2, 48000, 16)))
		assert.ErrorIs(t, err, backend.ErrUnsupportedFormat)
		assert.Equal(t, "AUDCLNT_E_UNSUPPORTED_FORMAT", rec.events[1].Status)
	})
}

func TestWaveOutBackend(t *testing.T) {
	newHook := func(t *testing.T, taps ...Tap) (*waveout.MockDevice, AudioClient, *MockClient) {
		dev := waveout.NewMockDevice(true)
		_, table, created := installed(t, Options{
			Backend:       backend.WaveOut,
			WaveOut:       waveout.Options{WaitTimeout: time.Second},
			WaveOutDevice: func() waveout.Device { return dev },
			Taps:          taps,
		})
		c := activate(t, table)
		require.IsType(t, &WrappedClient{}, c)
		return dev, c, (*created)[0]
	}

	t.Run("Initialize Rewrites Parameters", func(t *testing.T) {
		_, c, platform := newHook(t)
		require.NoError(t, c.Initialize(exclusive(format.NewPCM(2, 48000, 16))))

		got := platform.Params()[0]
		assert.Equal(t, backend.Shared, got.ShareMode)
		assert.True(t, got.Flags.Has(backend.FlagAutoConvertPCM))
		assert.Equal(t, waveout.TargetRefTime, got.BufferDuration)
	})

	t.Run("Backend Failure Stops Initialize", func(t *testing.T) {
		_, c, platform := newHook(t)
		err := c.Initialize(exclusive(format.NewPCM(6, 48000, 16)))
		assert.ErrorIs(t, err, backend.ErrUnsupportedFormat)
		assert.Equal(t, 0, platform.Calls("Initialize"))
	})

	t.Run("Capabilities Prefer Backend", func(t *testing.T) {
		_, c, platform := newHook(t)
		require.NoError(t, c.Initialize(exclusive(format.NewPCM(2, 48000, 16))))

		size, err := c.GetBufferSize()
		require.NoError(t, err)
		assert.Equal(t, uint32(3*480), size)
		assert.Equal(t, 0, platform.Calls("GetBufferSize"))

		latency, err := c.GetStreamLatency()
		require.NoError(t, err)
		assert.Equal(t, waveout.TargetRefTime, latency)

		padding, err := c.GetCurrentPadding()
		require.NoError(t, err)
		assert.Equal(t, uint32(0), padding)
		assert.Equal(t, 0, platform.Calls("GetCurrentPadding"))

		def, minimum, err := c.GetDevicePeriod()
		require.NoError(t, err)
		assert.Equal(t, waveout.TargetRefTime, def)
		assert.Equal(t, waveout.TargetRefTime, minimum)
		assert.Equal(t, 1, platform.Calls("GetDevicePeriod"))
	})

	t.Run("Mix Format Falls Through", func(t *testing.T) {
		_, c, platform := newHook(t)
		mix, err := c.GetMixFormat()
		require.NoError(t, err)
		assert.Equal(t, platform.MixFormat, mix)
	})

	t.Run("Format Support Falls Through On Unsupported", func(t *testing.T) {
		_, c, platform := newHook(t)
		refused := errors.New("refused")
		platform.Supported = func(backend.ShareMode, format.StreamFormat) error { return refused }

		assert.NoError(t, c.IsFormatSupported(backend.Exclusive, format.NewPCM(2, 44100, 16)))
		assert.Equal(t, 0, platform.Calls("IsFormatSupported"))

		err := c.IsFormatSupported(backend.Exclusive, format.NewPCM(2, 48000, 16))
		assert.ErrorIs(t, err, refused)
		assert.Equal(t, 1, platform.Calls("IsFormatSupported"))
	})

	t.Run("Event Handle Is Substituted", func(t *testing.T) {
		_, c, platform := newHook(t)
		mine := backend.NewEvent()
		require.NoError(t, c.SetEventHandle(mine))
		require.NotNil(t, platform.Event())
		assert.NotSame(t, mine, platform.Event())
	})

	t.Run("Buffers Go To Backend And Taps", func(t *testing.T) {
		var tapped []byte
		tap := TapFunc(func(_ format.StreamFormat, data []byte, _ backend.BufferFlags) {
			tapped = append(tapped, data...)
		})
		dev, c, platform := newHook(t, tap)

		require.NoError(t, c.Initialize(exclusive(format.NewPCM(2, 48000, 16))))
		require.NoError(t, c.Start())
		data := fill(renderClient(t, c), t, 100, 0x42)

		assert.Equal(t, data, tapped)
		assert.Empty(t, platform.Played())
		assert.True(t, bytes.HasSuffix(dev.Played(), data))
	})
}

func TestSyntheticClient(t *testing.T) {
	proAudio := func(rec Recorder) Options {
		return Options{
			Backend:  backend.ProAudio,
			ProAudio: proaudio.Options{Drivers: simulatedList(), StartDrainTimeout: 20 * time.Millisecond},
			Recorder: rec,
		}
	}

	t.Run("Replaces Platform Client", func(t *testing.T) {
		h, table, created := installed(t, proAudio(nil))
		c := activate(t, table)

		require.IsType(t, &SyntheticClient{}, c)
		require.Len(t, *created, 1)
		assert.True(t, (*created)[0].Closed())
		assert.Equal(t, backend.ProAudio, h.Backend().Kind())
	})

	t.Run("Exactly One Synthetic Client", func(t *testing.T) {
		_, table, created := installed(t, proAudio(nil))
		first := activate(t, table)

		_, err := table.Activate("second")
		assert.ErrorIs(t, err, backend.ErrAlreadyInitialized)
		require.Len(t, *created, 2)
		assert.True(t, (*created)[1].Closed())

		// the first client keeps working
		require.NoError(t, first.Initialize(exclusive(format.NewPCM(2, 48000, 16))))

		require.NoError(t, first.Close())
		again := activate(t, table)
		assert.IsType(t, &SyntheticClient{}, again)
	})

	t.Run("Driver Load Failure", func(t *testing.T) {
		list := simulatedList()
		list.Config.FailInit = "no hardware"
		_, table, created := installed(t, Options{Backend: backend.ProAudio, ProAudio: proaudio.Options{Drivers: list}})

		_, err := table.Activate("device")
		assert.Error(t, err)
		assert.True(t, (*created)[0].Closed())

		// the synthetic slot was given back
		list.Config.FailInit = ""
		assert.IsType(t, &SyntheticClient{}, activate(t, table))
	})

	t.Run("Serves Every Call From Backend", func(t *testing.T) {
		h, table, _ := installed(t, proAudio(nil))
		c := activate(t, table)

		f := format.NewPCM(2, 48000, 16)
		require.NoError(t, c.IsFormatSupported(backend.Exclusive, f))
		require.NoError(t, c.Initialize(exclusive(f)))
		assert.Equal(t, f, h.Format())

		size, err := c.GetBufferSize()
		require.NoError(t, err)
		assert.Equal(t, uint32(256), size)

		def, minimum, err := c.GetDevicePeriod()
		require.NoError(t, err)
		assert.Equal(t, backend.FramesToRefTime(256, 48000), def)
		assert.Equal(t, def, minimum)

		mix, err := c.GetMixFormat()
		require.NoError(t, err)
		assert.Equal(t, 32, mix.BitsPerSample)

		assert.NoError(t, c.Reset())

		rc := renderClient(t, c)
		fill(rc, t, 64, 0x01)
		padding, err := c.GetCurrentPadding()
		require.NoError(t, err)
		assert.Equal(t, uint32(64), padding)
	})

	t.Run("Services", func(t *testing.T) {
		_, table, _ := installed(t, proAudio(nil))
		c := activate(t, table)
		require.NoError(t, c.Initialize(exclusive(format.NewPCM(2, 48000, 16))))

		svc, err := c.GetService(ServiceClock)
		require.NoError(t, err)
		clock := svc.(AudioClock)
		freq, err := clock.GetFrequency()
		require.NoError(t, err)
		assert.Equal(t, uint64(48000), freq)
		_, _, err = clock.GetPosition()
		assert.ErrorIs(t, err, backend.ErrNotImplemented)

		_, err = c.GetService(ServiceClockAdjustment)
		assert.ErrorIs(t, err, backend.ErrNoInterface)
	})

	t.Run("Session Notifications", func(t *testing.T) {
		rec := &eventLog{}
		_, table, _ := installed(t, proAudio(rec))
		c := activate(t, table)
		require.NoError(t, c.Initialize(exclusive(format.NewPCM(2, 48000, 16))))

		svc, err := c.GetService(ServiceSessionControl)
		require.NoError(t, err)
		session := svc.(SessionControl)

		states := &stateLog{}
		require.NoError(t, session.RegisterSessionNotification(states))
		require.NoError(t, session.RegisterSessionNotification(states))
		require.NoError(t, session.SetDisplayName("Player", uuid.Nil))

		require.NoError(t, c.Start())
		state, err := session.GetState()
		require.NoError(t, err)
		assert.Equal(t, SessionActive, state)

		require.NoError(t, c.Stop())
		require.NoError(t, session.UnregisterSessionNotification(states))
		require.NoError(t, c.Start())

		name, err := session.GetDisplayName()
		require.NoError(t, err)
		assert.Equal(t, "Player", name)

		states.mu.Lock()
		assert.Equal(t, []SessionState{SessionActive, SessionInactive}, states.states)
		states.mu.Unlock()

		for _, ev := range rec.events {
			assert.True(t, ev.Synthetic)
		}
	})
}

func TestOptionsFromConfig(t *testing.T) {
	t.Run("Simulated Driver", func(t *testing.T) {
		cfg := config.Default()
		cfg.Hook.Enabled = true
		cfg.Hook.Backend = "asio"
		cfg.ProAudio.Simulated.Outputs = 4

		opts, cleanup, err := OptionsFromConfig(cfg)
		require.NoError(t, err)
		defer cleanup()

		assert.True(t, opts.Enabled)
		assert.Equal(t, backend.ProAudio, opts.Backend)
		assert.Equal(t, 16, opts.MuteBuffers)
		assert.Equal(t, 256, opts.ProAudio.QueueDepth)

		list, ok := opts.ProAudio.Drivers.(*proaudio.SimulatedList)
		require.True(t, ok)
		assert.Equal(t, 4, list.Config.Outputs)
		assert.Equal(t, proaudio.SampleInt32LSB, list.Config.SampleType)
	})

	t.Run("Disabled Hook Has No Backend", func(t *testing.T) {
		cfg := config.Default()
		cfg.Hook.Backend = "waveout"
		opts, cleanup, err := OptionsFromConfig(cfg)
		require.NoError(t, err)
		defer cleanup()
		assert.Equal(t, backend.None, opts.Backend)
	})

	t.Run("Bad Sample Type", func(t *testing.T) {
		cfg := config.Default()
		cfg.ProAudio.Simulated.SampleType = "int12"
		_, cleanup, err := OptionsFromConfig(cfg)
		defer cleanup()
		assert.Error(t, err)
	})
}
