package proaudio

import (
	"log"
	"slices"
	"strconv"
	"sync"
	"time"
)

// SimulatedConfig describes the device a SimulatedDriver pretends to be
type SimulatedConfig struct {
	Name       string
	Outputs    int
	Inputs     int
	SampleRate float64
	BufferSize int
	SampleType SampleType

	// Rates the driver accepts; empty means the usual set of studio rates
	Rates []float64

	// Manual disables the clock goroutine; callers drive switches with Tick
	Manual bool

	// FailInit makes Init fail with the given message
	FailInit string

	// Record keeps every delivered output sample for inspection
	Record bool
}

var defaultRates = []float64{44100, 48000, 88200, 96000}

// SimulatedDriver is a clock-driven driver without hardware. It calls
// BufferSwitch every preferred-buffer period from its own goroutine, the
// way a real driver calls from its audio thread.
type SimulatedDriver struct {
	cfg SimulatedConfig

	mu       sync.Mutex
	rate     float64
	infos    []BufferInfo
	cb       Callbacks
	running  bool
	index    int
	stop     chan struct{}
	wg       sync.WaitGroup
	recorded [][]byte
	errMsg   string
	released bool

	switches     int
	outputReady  int
	controlPanel int
}

// NewSimulatedDriver creates a driver with cfg, filling in defaults
func NewSimulatedDriver(cfg SimulatedConfig) *SimulatedDriver {
	if cfg.Name == "" {
		cfg.Name = "Simulated"
	}
	if cfg.Outputs <= 0 {
		cfg.Outputs = 2
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if len(cfg.Rates) == 0 {
		cfg.Rates = defaultRates
	}
	return &SimulatedDriver{cfg: cfg, rate: cfg.SampleRate}
}

func (d *SimulatedDriver) Init() error {
	if d.cfg.FailInit != "" {
		d.mu.Lock()
		d.errMsg = d.cfg.FailInit
		d.mu.Unlock()
		return DriverNotPresent
	}
	log.Printf("Simulated: initialized %s (%d outputs, %.0f Hz, %d frames, %s)",
		d.cfg.Name, d.cfg.Outputs, d.rate, d.cfg.BufferSize, d.cfg.SampleType)
	return nil
}

func (d *SimulatedDriver) Name() string { return d.cfg.Name }

func (d *SimulatedDriver) Version() int { return 1 }

func (d *SimulatedDriver) ErrorMessage() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errMsg
}

func (d *SimulatedDriver) Channels() (int, int, error) {
	return d.cfg.Inputs, d.cfg.Outputs, nil
}

func (d *SimulatedDriver) Latencies() (int, int, error) {
	return d.cfg.BufferSize, d.cfg.BufferSize, nil
}

func (d *SimulatedDriver) BufferSize() (BufferSizes, error) {
	return BufferSizes{
		Min:         d.cfg.BufferSize,
		Max:         d.cfg.BufferSize,
		Preferred:   d.cfg.BufferSize,
		Granularity: 0,
	}, nil
}

func (d *SimulatedDriver) CanSampleRate(rate float64) error {
	if slices.Contains(d.cfg.Rates, rate) {
		return nil
	}
	return DriverNoClock
}

func (d *SimulatedDriver) SampleRate() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rate, nil
}

func (d *SimulatedDriver) SetSampleRate(rate float64) error {
	if err := d.CanSampleRate(rate); err != nil {
		return err
	}
	d.mu.Lock()
	d.rate = rate
	d.mu.Unlock()
	return nil
}

func (d *SimulatedDriver) ChannelInfo(channel int, input bool) (ChannelInfo, error) {
	count := d.cfg.Outputs
	if input {
		count = d.cfg.Inputs
	}
	if channel < 0 || channel >= count {
		return ChannelInfo{}, DriverInvalidParameter
	}
	prefix := "Out"
	if input {
		prefix = "In"
	}
	return ChannelInfo{
		Channel: channel,
		Input:   input,
		Active:  true,
		Type:    d.cfg.SampleType,
		Name:    prefix + " " + strconv.Itoa(channel+1),
	}, nil
}

func (d *SimulatedDriver) CreateBuffers(infos []BufferInfo, frames int, cb Callbacks) error {
	if frames <= 0 {
		return DriverInvalidParameter
	}
	size := frames * d.cfg.SampleType.SampleFormat().Size()
	if size == 0 {
		return DriverInvalidMode
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return DriverInvalidMode
	}
	for i := range infos {
		if infos[i].Input || infos[i].Channel < 0 || infos[i].Channel >= d.cfg.Outputs {
			return DriverInvalidParameter
		}
		infos[i].Buffers[0] = make([]byte, size)
		infos[i].Buffers[1] = make([]byte, size)
	}
	d.infos = infos
	d.cb = cb
	d.recorded = make([][]byte, len(infos))
	return nil
}

func (d *SimulatedDriver) DisposeBuffers() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.infos == nil {
		return DriverInvalidMode
	}
	d.infos = nil
	d.cb = Callbacks{}
	return nil
}

func (d *SimulatedDriver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.infos == nil {
		return DriverInvalidMode
	}
	if d.running {
		return nil
	}
	d.running = true
	if d.cfg.Manual {
		return nil
	}

	period := time.Duration(float64(time.Second) * float64(d.cfg.BufferSize) / d.rate)
	d.stop = make(chan struct{})
	d.wg.Add(1)
	go d.clock(period, d.stop)
	return nil
}

func (d *SimulatedDriver) clock(period time.Duration, stop <-chan struct{}) {
	defer d.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.Tick()
		}
	}
}

// Stop halts the clock and waits for an in-flight switch to return
func (d *SimulatedDriver) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		d.wg.Wait()
	}
	return nil
}

// Tick performs one buffer switch. It reports false when the driver is not
// running.
func (d *SimulatedDriver) Tick() bool {
	d.mu.Lock()
	if !d.running || d.cb.BufferSwitch == nil {
		d.mu.Unlock()
		return false
	}
	index := d.index
	d.index ^= 1
	cb := d.cb.BufferSwitch
	infos := d.infos
	d.mu.Unlock()

	cb(index, false)

	d.mu.Lock()
	d.switches++
	if d.cfg.Record {
		for i := range infos {
			d.recorded[i] = append(d.recorded[i], infos[i].Buffers[index]...)
		}
	}
	d.mu.Unlock()
	return true
}

func (d *SimulatedDriver) ControlPanel() error {
	d.mu.Lock()
	d.controlPanel++
	d.mu.Unlock()
	log.Printf("Simulated: control panel requested for %s", d.cfg.Name)
	return nil
}

func (d *SimulatedDriver) OutputReady() error {
	d.mu.Lock()
	d.outputReady++
	d.mu.Unlock()
	return nil
}

func (d *SimulatedDriver) Release() {
	d.Stop()
	d.mu.Lock()
	d.released = true
	d.mu.Unlock()
}

// Released reports whether the backend released the driver
func (d *SimulatedDriver) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

// Running reports whether the driver is started
func (d *SimulatedDriver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Switches returns the number of completed buffer switches
func (d *SimulatedDriver) Switches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.switches
}

// Recorded returns the bytes delivered to output channel ch
func (d *SimulatedDriver) Recorded(ch int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch < 0 || ch >= len(d.recorded) {
		return nil
	}
	return slices.Clone(d.recorded[ch])
}

// ChangeSampleRate simulates the hardware clock changing underneath the
// backend
func (d *SimulatedDriver) ChangeSampleRate(rate float64) {
	d.mu.Lock()
	d.rate = rate
	cb := d.cb.SampleRateDidChange
	d.mu.Unlock()
	if cb != nil {
		cb(rate)
	}
}

// SendMessage delivers a driver message and returns the host's answer
func (d *SimulatedDriver) SendMessage(selector, value int) int {
	d.mu.Lock()
	cb := d.cb.Message
	d.mu.Unlock()
	if cb == nil {
		return 0
	}
	return cb(selector, value)
}

// SimulatedList is a driver list holding one simulated device
type SimulatedList struct {
	Config SimulatedConfig

	mu     sync.Mutex
	opened []*SimulatedDriver
}

func (l *SimulatedList) Drivers() ([]DriverInfo, error) {
	name := l.Config.Name
	if name == "" {
		name = "Simulated"
	}
	return []DriverInfo{{ID: 0, Name: name, Path: "builtin"}}, nil
}

// Open returns a fresh driver instance for every load, as a real driver
// list does
func (l *SimulatedList) Open(id int) (Driver, error) {
	if id != 0 {
		return nil, DriverNotPresent
	}
	d := NewSimulatedDriver(l.Config)
	l.mu.Lock()
	l.opened = append(l.opened, d)
	l.mu.Unlock()
	return d, nil
}

// Current returns the most recently opened driver
func (l *SimulatedList) Current() *SimulatedDriver {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.opened) == 0 {
		return nil
	}
	return l.opened[len(l.opened)-1]
}

// Opened returns how many times the driver was loaded
func (l *SimulatedList) Opened() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.opened)
}
