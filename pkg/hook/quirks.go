package hook

import (
	"github.com/dougsko/audiohook/pkg/backend"
	"github.com/dougsko/audiohook/pkg/format"
	"github.com/dougsko/audiohook/pkg/logging"
)

// fixMultichannel forces stereo 16-bit for devices that ask for more than
// two channels but only play two
func fixMultichannel(log *logging.Logger, f *format.StreamFormat) {
	log.Debug(component, "changing format to 2ch 16-bit")

	f.Channels = 2
	f.BitsPerSample = 16
	if f.Tag == format.TagExtensible {
		f.ValidBits = 16
		f.ChannelMask = format.StereoMask
		f.SubFormat = format.SubtypePCM
	} else {
		f.Tag = format.TagPCM
	}
	f.Recompute()
}

func logParams(log *logging.Logger, p *backend.StreamParams) {
	log.Infof(component, "... ShareMode         : %s", p.ShareMode)
	log.Infof(component, "... StreamFlags       : %s", p.Flags)
	log.Infof(component, "... hnsBufferDuration : %d", p.BufferDuration)
	log.Infof(component, "... hnsPeriodicity    : %d", p.Periodicity)
	logFormat(log, p.Format)
}

func logFormat(log *logging.Logger, f format.StreamFormat) {
	for _, line := range f.Describe() {
		log.Info(component, "... "+line)
	}
}
