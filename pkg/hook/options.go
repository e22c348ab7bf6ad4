package hook

import (
	"fmt"
	"strings"
	"time"

	"github.com/dougsko/audiohook/pkg/config"
	"github.com/dougsko/audiohook/pkg/proaudio"
	"github.com/dougsko/audiohook/pkg/proaudio/miniaudio"
)

// OptionsFromConfig maps the configuration onto hook options. The returned
// cleanup releases the driver list and must be called after the hook stops.
func OptionsFromConfig(cfg *config.Config) (Options, func(), error) {
	opts := Options{
		Enabled:          cfg.Hook.Enabled,
		Backend:          cfg.BackendKind(),
		ForceSynthetic:   cfg.Hook.ForceSynthetic,
		MuteBuffers:      cfg.Hook.MuteBuffers,
		FixMultichannel:  cfg.Hook.FixMultichannel,
		LowLatencyShared: cfg.Hook.LowLatencyShared,
	}
	cleanup := func() {}

	sim := cfg.ProAudio.Simulated
	sampleType, err := proaudio.ParseSampleType(sim.SampleType)
	if err != nil {
		return Options{}, cleanup, fmt.Errorf("pro_audio sample_type: %w", err)
	}

	opts.ProAudio = proaudio.Options{
		DriverID:          cfg.ProAudio.DriverIndex,
		ForceUnloadOnStop: cfg.ProAudio.ForceUnloadOnStop,
		QueueDepth:        cfg.ProAudio.QueueDepth,
	}
	if cfg.ProAudio.PoolReportSeconds > 0 {
		opts.ProAudio.PoolReportInterval = time.Duration(cfg.ProAudio.PoolReportSeconds) * time.Second
	}

	switch strings.ToLower(cfg.ProAudio.Driver) {
	case "miniaudio":
		list, err := miniaudio.NewList(miniaudio.Config{
			Outputs:    sim.Outputs,
			SampleRate: sim.SampleRate,
			BufferSize: sim.BufferSize,
			SampleType: sampleType,
		})
		if err != nil {
			return Options{}, cleanup, err
		}
		opts.ProAudio.Drivers = list
		cleanup = func() { list.Close() }
	default:
		opts.ProAudio.Drivers = &proaudio.SimulatedList{Config: proaudio.SimulatedConfig{
			Outputs:    sim.Outputs,
			SampleRate: float64(sim.SampleRate),
			BufferSize: sim.BufferSize,
			SampleType: sampleType,
		}}
	}

	return opts, cleanup, nil
}
