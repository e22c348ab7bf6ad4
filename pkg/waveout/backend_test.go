package waveout

import (
	"bytes"
	"testing"
	"time"

	"github.com/dougsko/audiohook/pkg/backend"
	"github.com/dougsko/audiohook/pkg/format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stereo16() format.StreamFormat {
	return format.NewPCM(2, 48000, 16)
}

func initialized(t *testing.T, dev *MockDevice, opts Options) *Backend {
	t.Helper()
	b := New(dev, opts)
	p := &backend.StreamParams{ShareMode: backend.Exclusive, Format: stereo16()}
	require.NoError(t, b.OnInitialize(p))
	return b
}

func TestInitialize(t *testing.T) {
	t.Run("Forces Shared Event Driven Stream", func(t *testing.T) {
		b := New(NewMockDevice(true), Options{})
		p := &backend.StreamParams{
			ShareMode:      backend.Exclusive,
			BufferDuration: 5000000,
			Format:         stereo16(),
		}
		require.NoError(t, b.OnInitialize(p))

		assert.Equal(t, backend.Shared, p.ShareMode)
		assert.True(t, p.Flags.Has(backend.FlagEventCallback|backend.FlagAutoConvertPCM))
		assert.True(t, p.Flags.Has(backend.FlagRateAdjust|backend.FlagSrcDefaultQuality))
		assert.Equal(t, TargetRefTime, p.BufferDuration)
		assert.Equal(t, TargetRefTime, p.Periodicity)
		assert.Equal(t, stereo16(), b.Format())
	})

	t.Run("Rejects More Than Two Channels", func(t *testing.T) {
		b := New(NewMockDevice(true), Options{})
		p := &backend.StreamParams{ShareMode: backend.Exclusive, Format: format.NewPCM(6, 48000, 16)}
		err := b.OnInitialize(p)
		assert.ErrorIs(t, err, backend.ErrUnsupportedFormat)
		// parameters are rewritten before the channel check
		assert.Equal(t, backend.Shared, p.ShareMode)
	})
}

func TestCapabilities(t *testing.T) {
	b := initialized(t, NewMockDevice(true), Options{})

	size, err := b.OnGetBufferSize()
	require.NoError(t, err)
	assert.Equal(t, uint32(3*480), size)

	latency, _ := b.OnGetStreamLatency()
	assert.Equal(t, backend.RefTime(100000), latency)

	def, min, err := b.OnGetDevicePeriod()
	require.NoError(t, err)
	assert.Equal(t, TargetRefTime, def)
	assert.Equal(t, TargetRefTime, min)

	_, err = b.OnGetMixFormat()
	assert.ErrorIs(t, err, backend.ErrNotImplemented)

	assert.NoError(t, b.OnStart())
	assert.NoError(t, b.OnStop())

	t.Run("Format Support", func(t *testing.T) {
		cd := format.NewPCM(2, 44100, 16)
		assert.NoError(t, b.OnIsFormatSupported(backend.Exclusive, cd))
		assert.ErrorIs(t, b.OnIsFormatSupported(backend.Shared, cd), backend.ErrUnsupportedFormat)
		assert.ErrorIs(t, b.OnIsFormatSupported(backend.Exclusive, stereo16()), backend.ErrUnsupportedFormat)
		assert.ErrorIs(t, b.OnIsFormatSupported(backend.Exclusive, format.NewPCM(1, 44100, 16)), backend.ErrUnsupportedFormat)
		assert.ErrorIs(t, b.OnIsFormatSupported(backend.Exclusive, format.NewPCM(2, 44100, 24)), backend.ErrUnsupportedFormat)
	})
}

func TestBufferCycle(t *testing.T) {
	t.Run("Released Data Reaches Device In Order", func(t *testing.T) {
		dev := NewMockDevice(true)
		b := initialized(t, dev, Options{})

		consumer := backend.NewEvent()
		dispatcher, err := b.OnSetEventHandle(consumer)
		require.NoError(t, err)
		assert.NotSame(t, consumer, dispatcher)

		var want []byte
		for i := 0; i < 5; i++ {
			buf, err := b.OnGetBuffer(480)
			require.NoError(t, err)
			require.Len(t, buf, 1920)
			for j := range buf {
				buf[j] = byte(i*7 + j)
			}
			want = append(want, buf...)
			require.NoError(t, b.OnReleaseBuffer(480, 0))
			assert.True(t, consumer.Wait(0), "release should signal the consumer handle")
		}

		played := dev.Played()
		priming := BufferCount * 1920
		require.Len(t, played, priming+len(want))
		assert.Equal(t, make([]byte, priming), played[:priming])
		assert.True(t, bytes.Equal(want, played[priming:]))
		assert.Equal(t, int64(len(want)), b.BytesWritten())
	})

	t.Run("Large Release Spans Several Buffers", func(t *testing.T) {
		dev := NewMockDevice(true)
		b := initialized(t, dev, Options{})

		_, err := b.OnGetBuffer(480)
		require.NoError(t, err)
		require.NoError(t, b.OnReleaseBuffer(480, 0))
		writes := dev.Writes()

		buf, err := b.OnGetBuffer(960)
		require.NoError(t, err)
		for j := range buf {
			buf[j] = 0x5A
		}
		require.NoError(t, b.OnReleaseBuffer(960, 0))
		assert.Equal(t, writes+2, dev.Writes())
		played := dev.Played()
		assert.Equal(t, bytes.Repeat([]byte{0x5A}, 3840), played[len(played)-3840:])
	})

	t.Run("Silent Flag Zeroes Data", func(t *testing.T) {
		dev := NewMockDevice(true)
		b := initialized(t, dev, Options{})

		buf, err := b.OnGetBuffer(480)
		require.NoError(t, err)
		for j := range buf {
			buf[j] = 0xFF
		}
		require.NoError(t, b.OnReleaseBuffer(480, backend.BufferSilent))
		played := dev.Played()
		assert.Equal(t, make([]byte, 1920), played[len(played)-1920:])
	})

	t.Run("Release Before Get Is Out Of Order", func(t *testing.T) {
		b := initialized(t, NewMockDevice(true), Options{})
		assert.ErrorIs(t, b.OnReleaseBuffer(480, 0), backend.ErrOutOfOrder)
	})
}

func TestPaddingAndBlocking(t *testing.T) {
	dev := NewMockDevice(false)
	b := initialized(t, dev, Options{})

	padding, ok, err := b.OnGetCurrentPadding()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint32(0), padding, "nothing queued before first buffer")

	got := make(chan error, 1)
	go func() {
		_, err := b.OnGetBuffer(480)
		got <- err
	}()

	require.Eventually(t, func() bool { return dev.Queued() == BufferCount }, time.Second, time.Millisecond)
	padding, _, _ = b.OnGetCurrentPadding()
	assert.Equal(t, uint32(3*480), padding)

	select {
	case <-got:
		t.Fatal("GetBuffer returned while every buffer was queued")
	case <-time.After(20 * time.Millisecond):
	}

	require.True(t, dev.Complete())
	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("GetBuffer did not wake after completion")
	}

	padding, _, _ = b.OnGetCurrentPadding()
	assert.Equal(t, uint32(2*480), padding)
}

func TestWaitTimeout(t *testing.T) {
	dev := NewMockDevice(false)
	b := initialized(t, dev, Options{WaitTimeout: 20 * time.Millisecond})

	_, err := b.OnGetBuffer(480)
	assert.ErrorIs(t, err, backend.ErrDeviceInvalidated)
}

func TestOpenFailure(t *testing.T) {
	dev := NewMockDevice(true)
	dev.FailOpen = true
	b := initialized(t, dev, Options{})

	_, err := b.OnGetBuffer(480)
	assert.ErrorIs(t, err, backend.ErrDeviceInvalidated)
}

func TestClose(t *testing.T) {
	dev := NewMockDevice(false)
	b := initialized(t, dev, Options{WaitTimeout: 10 * time.Millisecond})
	b.OnGetBuffer(480)
	assert.Equal(t, BufferCount, dev.Prepared())

	require.NoError(t, b.Close())
	assert.Equal(t, 0, dev.Prepared())
	assert.Equal(t, 0, dev.Queued())
	assert.False(t, dev.IsOpen())

	_, err := b.OnGetBuffer(480)
	assert.ErrorIs(t, err, backend.ErrDeviceInvalidated)
	assert.NoError(t, b.Close())
}
