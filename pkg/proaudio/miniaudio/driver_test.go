package miniaudio

import (
	"testing"

	"github.com/dougsko/audiohook/pkg/proaudio"
	"github.com/gen2brain/malgo"
	"github.com/stretchr/testify/assert"
)

func TestInterleave(t *testing.T) {
	infos := []proaudio.BufferInfo{
		{Channel: 0, Buffers: [2][]byte{{1, 2, 3, 4}, {9, 9, 9, 9}}},
		{Channel: 1, Buffers: [2][]byte{{5, 6, 7, 8}, {9, 9, 9, 9}}},
	}
	dst := make([]byte, 8)

	n := interleave(dst, infos, 0, 2, 2)
	assert.Equal(t, 8, n)
	assert.Equal(t, []byte{1, 2, 5, 6, 3, 4, 7, 8}, dst)
}

func TestData(t *testing.T) {
	t.Run("Switches Whenever The Staging Area Runs Dry", func(t *testing.T) {
		switches := 0
		infos := []proaudio.BufferInfo{{Buffers: [2][]byte{make([]byte, 8), make([]byte, 8)}}}
		d := &Driver{
			infos:      infos,
			frames:     4,
			sampleSize: 2,
			staging:    make([]byte, 8),
			cb: proaudio.Callbacks{BufferSwitch: func(index int, direct bool) {
				switches++
				for i := range infos[0].Buffers[index] {
					infos[0].Buffers[index][i] = byte(switches)
				}
			}},
		}

		// miniaudio asks for 3 frames at a time while the driver period is 4
		out := make([]byte, 6)
		d.data(out, nil, 3)
		assert.Equal(t, []byte{1, 1, 1, 1, 1, 1}, out)
		d.data(out, nil, 3)
		assert.Equal(t, []byte{1, 1, 2, 2, 2, 2}, out)
		assert.Equal(t, 2, switches)
		assert.Equal(t, 0, d.index)
	})
}

func TestMalgoFormat(t *testing.T) {
	assert.Equal(t, malgo.FormatS16, malgoFormat(proaudio.SampleInt16LSB))
	assert.Equal(t, malgo.FormatS24, malgoFormat(proaudio.SampleInt24LSB))
	assert.Equal(t, malgo.FormatS32, malgoFormat(proaudio.SampleInt32LSB))
	assert.Equal(t, malgo.FormatF32, malgoFormat(proaudio.SampleFloat32LSB))
	assert.Equal(t, malgo.FormatUnknown, malgoFormat(proaudio.SampleFloat64LSB))
	assert.Equal(t, malgo.FormatUnknown, malgoFormat(proaudio.SampleInt16MSB))
}
