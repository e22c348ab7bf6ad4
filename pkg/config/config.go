package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/dougsko/audiohook/pkg/backend"
	"gopkg.in/yaml.v2"
)

// Config represents the audiohook configuration
type Config struct {
	Hook struct {
		Enabled bool   `yaml:"enabled"`
		Backend string `yaml:"backend"`

		// Replace the platform client even when the backend could share it
		ForceSynthetic bool `yaml:"force_synthetic"`

		// Pop workaround: buffers zeroed after each start in exclusive mode
		MuteBuffers int `yaml:"mute_buffers"`

		// Force stereo 16-bit when a device asks for more than two channels
		FixMultichannel bool `yaml:"fix_multichannel"`

		LowLatencyShared bool `yaml:"low_latency_shared"`
	} `yaml:"hook"`

	ProAudio struct {
		Driver            string `yaml:"driver"`
		DriverIndex       int    `yaml:"driver_index"`
		ForceUnloadOnStop bool   `yaml:"force_unload_on_stop"`
		QueueDepth        int    `yaml:"queue_depth"`
		PoolReportSeconds int    `yaml:"pool_report_seconds"`

		Simulated struct {
			Outputs    int    `yaml:"outputs"`
			SampleRate int    `yaml:"sample_rate"`
			BufferSize int    `yaml:"buffer_size"`
			SampleType string `yaml:"sample_type"`
		} `yaml:"simulated"`
	} `yaml:"pro_audio"`

	Device struct {
		SampleRate    int `yaml:"sample_rate"`
		Channels      int `yaml:"channels"`
		BitsPerSample int `yaml:"bits_per_sample"`
		PeriodMs      int `yaml:"period_ms"`
	} `yaml:"device"`

	Player struct {
		Source    string  `yaml:"source"`
		File      string  `yaml:"file"`
		Frequency float64 `yaml:"frequency"`
		Amplitude float64 `yaml:"amplitude"`
		Exclusive bool    `yaml:"exclusive"`
	} `yaml:"player"`

	Monitor struct {
		Enabled bool `yaml:"enabled"`
		FFTSize int  `yaml:"fft_size"`
	} `yaml:"monitor"`

	Capture struct {
		Enabled   bool   `yaml:"enabled"`
		Directory string `yaml:"directory"`
	} `yaml:"capture"`

	Web struct {
		Port        int    `yaml:"port"`
		BindAddress string `yaml:"bind_address"`
	} `yaml:"web"`

	API struct {
		UnixSocket string `yaml:"unix_socket"`
	} `yaml:"api"`

	Storage struct {
		DatabasePath string `yaml:"database_path"`
		MaxSessions  int    `yaml:"max_sessions"`
	} `yaml:"storage"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		Structured bool   `yaml:"structured"`
		Console    bool   `yaml:"console"`
		Verbose    bool   `yaml:"verbose"`
		MaxSize    int    `yaml:"max_size"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.SetDefaults()
	return &config, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	var config Config
	config.SetDefaults()
	return &config
}

// SetDefaults fills in every unset field
func (c *Config) SetDefaults() {
	if c.Hook.MuteBuffers == 0 {
		c.Hook.MuteBuffers = 16
	}
	if c.ProAudio.Driver == "" {
		c.ProAudio.Driver = "simulated"
	}
	if c.ProAudio.QueueDepth == 0 {
		c.ProAudio.QueueDepth = 256
	}
	if c.ProAudio.Simulated.Outputs == 0 {
		c.ProAudio.Simulated.Outputs = 2
	}
	if c.ProAudio.Simulated.SampleRate == 0 {
		c.ProAudio.Simulated.SampleRate = 48000
	}
	if c.ProAudio.Simulated.BufferSize == 0 {
		c.ProAudio.Simulated.BufferSize = 256
	}
	if c.ProAudio.Simulated.SampleType == "" {
		c.ProAudio.Simulated.SampleType = "int32"
	}
	if c.Device.SampleRate == 0 {
		c.Device.SampleRate = 48000
	}
	if c.Device.Channels == 0 {
		c.Device.Channels = 2
	}
	if c.Device.BitsPerSample == 0 {
		c.Device.BitsPerSample = 16
	}
	if c.Device.PeriodMs == 0 {
		c.Device.PeriodMs = 10
	}
	if c.Player.Source == "" {
		c.Player.Source = "tone"
	}
	if c.Player.Frequency == 0 {
		c.Player.Frequency = 440
	}
	if c.Player.Amplitude == 0 {
		c.Player.Amplitude = 0.25
	}
	if c.Monitor.FFTSize == 0 {
		c.Monitor.FFTSize = 1024
	}
	if c.Capture.Directory == "" {
		c.Capture.Directory = "./captures"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8090
	}
	if c.Web.BindAddress == "" {
		c.Web.BindAddress = "127.0.0.1"
	}
	if c.API.UnixSocket == "" {
		c.API.UnixSocket = "/tmp/audiohookd.sock"
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "./audiohook.db"
	}
	if c.Storage.MaxSessions == 0 {
		c.Storage.MaxSessions = 5000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 28
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := backend.ParseKind(c.Hook.Backend); err != nil {
		return fmt.Errorf("hook backend: %w", err)
	}
	if c.Hook.MuteBuffers < 0 {
		return fmt.Errorf("mute_buffers must not be negative")
	}
	switch strings.ToLower(c.ProAudio.Driver) {
	case "simulated", "miniaudio":
	default:
		return fmt.Errorf("unknown pro_audio driver: %q", c.ProAudio.Driver)
	}
	if c.ProAudio.DriverIndex < 0 {
		return fmt.Errorf("pro_audio driver_index must not be negative")
	}
	if c.ProAudio.QueueDepth < 2 {
		return fmt.Errorf("pro_audio queue_depth must be at least 2")
	}
	if c.ProAudio.PoolReportSeconds < 0 {
		return fmt.Errorf("pro_audio pool_report_seconds must not be negative")
	}
	if c.ProAudio.Simulated.Outputs <= 0 || c.ProAudio.Simulated.SampleRate <= 0 || c.ProAudio.Simulated.BufferSize <= 0 {
		return fmt.Errorf("simulated driver needs positive outputs, sample rate and buffer size")
	}
	if c.Device.SampleRate <= 0 {
		return fmt.Errorf("device sample rate must be positive")
	}
	if c.Device.Channels <= 0 {
		return fmt.Errorf("device channel count must be positive")
	}
	switch c.Device.BitsPerSample {
	case 16, 24, 32:
	default:
		return fmt.Errorf("device bits_per_sample must be 16, 24 or 32")
	}
	if n := c.Monitor.FFTSize; n <= 0 || n&(n-1) != 0 {
		return fmt.Errorf("monitor fft_size must be a power of two")
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web port out of range: %d", c.Web.Port)
	}
	return nil
}

// BackendKind returns the configured backend, None when hooking is disabled
func (c *Config) BackendKind() backend.Kind {
	if !c.Hook.Enabled {
		return backend.None
	}
	kind, err := backend.ParseKind(c.Hook.Backend)
	if err != nil {
		return backend.None
	}
	return kind
}
