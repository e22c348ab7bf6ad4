package format

import (
	"fmt"
	"strings"
)

// Speaker position bits used in StreamFormat.ChannelMask
const (
	SpeakerFrontLeft          uint32 = 0x1
	SpeakerFrontRight         uint32 = 0x2
	SpeakerFrontCenter        uint32 = 0x4
	SpeakerLowFrequency       uint32 = 0x8
	SpeakerBackLeft           uint32 = 0x10
	SpeakerBackRight          uint32 = 0x20
	SpeakerFrontLeftOfCenter  uint32 = 0x40
	SpeakerFrontRightOfCenter uint32 = 0x80
	SpeakerBackCenter         uint32 = 0x100
	SpeakerSideLeft           uint32 = 0x200
	SpeakerSideRight          uint32 = 0x400
	SpeakerTopCenter          uint32 = 0x800
	SpeakerAll                uint32 = 0x80000000
)

var speakerNames = []struct {
	bit  uint32
	name string
}{
	{SpeakerFrontLeft, "FL"},
	{SpeakerFrontRight, "FR"},
	{SpeakerFrontCenter, "FC"},
	{SpeakerLowFrequency, "LFE"},
	{SpeakerBackLeft, "BL"},
	{SpeakerBackRight, "BR"},
	{SpeakerFrontLeftOfCenter, "FLC"},
	{SpeakerFrontRightOfCenter, "FRC"},
	{SpeakerBackCenter, "BC"},
	{SpeakerSideLeft, "SL"},
	{SpeakerSideRight, "SR"},
	{SpeakerTopCenter, "TC"},
}

// StereoMask is the usual two channel layout
const StereoMask = SpeakerFrontLeft | SpeakerFrontRight

// ChannelMaskString lists the speaker positions set in mask
func ChannelMaskString(mask uint32) string {
	if mask == 0 {
		return "none"
	}
	if mask == SpeakerAll {
		return "ALL"
	}

	var names []string
	rest := mask
	for _, s := range speakerNames {
		if mask&s.bit != 0 {
			names = append(names, s.name)
			rest &^= s.bit
		}
	}
	if rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", rest))
	}
	return strings.Join(names, " | ")
}
