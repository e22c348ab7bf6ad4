package format

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Format tags carried by StreamFormat.Tag
const (
	TagPCM        uint16 = 0x0001
	TagIEEEFloat  uint16 = 0x0003
	TagExtensible uint16 = 0xFFFE
)

// Sub-format identifiers used by extensible formats
var (
	SubtypePCM       = uuid.MustParse("00000001-0000-0010-8000-00aa00389b71")
	SubtypeIEEEFloat = uuid.MustParse("00000003-0000-0010-8000-00aa00389b71")
)

// StreamFormat describes a negotiated interleaved stream. It is passed and
// stored by value.
type StreamFormat struct {
	Tag            uint16    `json:"tag"`
	Channels       int       `json:"channels"`
	SampleRate     int       `json:"sample_rate"`
	AvgBytesPerSec int       `json:"avg_bytes_per_sec"`
	BlockAlign     int       `json:"block_align"`
	BitsPerSample  int       `json:"bits_per_sample"`
	ValidBits      int       `json:"valid_bits,omitempty"`
	ChannelMask    uint32    `json:"channel_mask,omitempty"`
	SubFormat      uuid.UUID `json:"sub_format,omitempty"`
}

// NewPCM returns a plain integer PCM format
func NewPCM(channels, rate, bits int) StreamFormat {
	f := StreamFormat{
		Tag:           TagPCM,
		Channels:      channels,
		SampleRate:    rate,
		BitsPerSample: bits,
	}
	f.Recompute()
	return f
}

// NewFloat returns a plain IEEE float format
func NewFloat(channels, rate, bits int) StreamFormat {
	f := StreamFormat{
		Tag:           TagIEEEFloat,
		Channels:      channels,
		SampleRate:    rate,
		BitsPerSample: bits,
	}
	f.Recompute()
	return f
}

// NewExtensible returns an extensible format for sample format sf
func NewExtensible(channels, rate int, sf SampleFormat, mask uint32) StreamFormat {
	f := StreamFormat{
		Tag:           TagExtensible,
		Channels:      channels,
		SampleRate:    rate,
		BitsPerSample: sf.Bits(),
		ValidBits:     sf.Bits(),
		ChannelMask:   mask,
		SubFormat:     SubtypePCM,
	}
	if sf.IsFloat() {
		f.SubFormat = SubtypeIEEEFloat
	}
	f.Recompute()
	return f
}

// Recompute derives block alignment and byte rate from the channel count,
// sample width and rate
func (f *StreamFormat) Recompute() {
	f.BlockAlign = f.Channels * f.BitsPerSample / 8
	f.AvgBytesPerSec = f.SampleRate * f.BlockAlign
}

// IsPCM reports whether the format carries integer samples
func (f StreamFormat) IsPCM() bool {
	return f.Tag == TagPCM || (f.Tag == TagExtensible && f.SubFormat == SubtypePCM)
}

// IsFloat reports whether the format carries IEEE float samples
func (f StreamFormat) IsFloat() bool {
	return f.Tag == TagIEEEFloat || (f.Tag == TagExtensible && f.SubFormat == SubtypeIEEEFloat)
}

// SampleFormat maps the stream to the per-sample encoding, or Unsupported
func (f StreamFormat) SampleFormat() SampleFormat {
	switch {
	case f.IsFloat():
		return SampleFormatFromBits(f.BitsPerSample, true)
	case f.IsPCM():
		return SampleFormatFromBits(f.BitsPerSample, false)
	}
	return Unsupported
}

// FrameSize returns bytes per frame
func (f StreamFormat) FrameSize() int {
	return f.BlockAlign
}

// TagName names the format tag
func (f StreamFormat) TagName() string {
	switch f.Tag {
	case TagPCM:
		return "WAVE_FORMAT_PCM"
	case TagIEEEFloat:
		return "WAVE_FORMAT_IEEE_FLOAT"
	case TagExtensible:
		return "WAVE_FORMAT_EXTENSIBLE"
	}
	return fmt.Sprintf("0x%04x", f.Tag)
}

// SubFormatName names the extensible sub-format
func (f StreamFormat) SubFormatName() string {
	switch f.SubFormat {
	case SubtypePCM:
		return "KSDATAFORMAT_SUBTYPE_PCM"
	case SubtypeIEEEFloat:
		return "KSDATAFORMAT_SUBTYPE_IEEE_FLOAT"
	case uuid.Nil:
		return "none"
	}
	return f.SubFormat.String()
}

func (f StreamFormat) String() string {
	return fmt.Sprintf("%s %dch %dHz %dbit", f.SampleFormat(), f.Channels, f.SampleRate, f.BitsPerSample)
}

// Describe returns the multi-line dump logged whenever a format is negotiated
func (f StreamFormat) Describe() []string {
	lines := []string{
		fmt.Sprintf("Format Tag      : %s", f.TagName()),
		fmt.Sprintf("Channels        : %d", f.Channels),
		fmt.Sprintf("Sample Rate     : %d", f.SampleRate),
		fmt.Sprintf("Avg Bytes/Sec   : %d", f.AvgBytesPerSec),
		fmt.Sprintf("Block Align     : %d", f.BlockAlign),
		fmt.Sprintf("Bits/Sample     : %d", f.BitsPerSample),
	}
	if f.Tag == TagExtensible {
		lines = append(lines,
			fmt.Sprintf("Valid Bits      : %d", f.ValidBits),
			fmt.Sprintf("Channel Mask    : %s", ChannelMaskString(f.ChannelMask)),
			fmt.Sprintf("Sub Format      : %s", f.SubFormatName()),
		)
	}
	return lines
}

// DescribeString joins Describe with newlines
func (f StreamFormat) DescribeString() string {
	return strings.Join(f.Describe(), "\n")
}
