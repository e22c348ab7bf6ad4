// Package proaudio bridges a callback-driven pro-audio driver to the pull
// model of the client contract. One worker goroutine owns the driver; the
// driver's buffer-switch callback drains a lock-free queue that the
// consumer fills.
package proaudio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dougsko/audiohook/pkg/backend"
	"github.com/dougsko/audiohook/pkg/format"
	"github.com/dougsko/audiohook/pkg/logging"
)

const component = "audio::proaudio"

// Options configure a pro-audio backend
type Options struct {
	DriverID int
	Drivers  DriverList

	// Unload the driver on stop instead of only stopping it
	ForceUnloadOnStop bool

	// Slot admits one backend at a time to the driver callbacks. Backends
	// that share a Slot exclude each other.
	Slot *backend.Slot

	// InitializeLock is held while the driver starts
	InitializeLock sync.Locker

	// QueueDepth bounds the number of released buffers waiting for the driver
	QueueDepth int

	// StartDrainTimeout bounds how long OnStart waits for stale buffers
	StartDrainTimeout time.Duration

	// PoolReportInterval logs transfer pool statistics while the backend
	// lives. Zero disables the report.
	PoolReportInterval time.Duration

	Logger *logging.Logger
}

type entry struct {
	buf    *TransferBuffer
	length int
	read   int
}

// switchState is what the buffer-switch callback needs, published
// atomically once buffers exist
type switchState struct {
	driver     Driver
	channels   int
	sampleSize int
	frames     int
	buffers    []BufferInfo
}

type call struct {
	fn     func() error
	result chan error
}

// Backend implements backend.Backend on top of a pro-audio driver
type Backend struct {
	opts Options
	log  *logging.Logger

	stateMu     sync.Mutex
	stateCV     *sync.Cond
	state       atomic.Int32
	workerReady atomic.Bool
	calls       chan call
	done        chan struct{}
	closeOnce   sync.Once

	// owned by the worker goroutine
	driver    Driver
	callbacks Callbacks
	buffers   []BufferInfo

	infoMu        sync.RWMutex
	info          InstanceInfo
	driverName    string
	driverVersion int
	errorMessage  string
	channelInfo   []ChannelInfo
	driverType    format.SampleFormat

	fmtMu       sync.Mutex
	format      format.StreamFormat
	lastChecked format.StreamFormat

	// consumer side
	queue   *ring[entry]
	recycle *ring[*TransferBuffer]
	pool    *TransferPool
	pending *TransferBuffer
	scratch format.Scratch

	sw      atomic.Pointer[switchState]
	relay   atomic.Pointer[backend.Event]
	started atomic.Bool

	queuedFrames atomic.Int64
	queuedBytes  atomic.Int64
	delivered    atomic.Int64
	switches     atomic.Int64
	underruns    atomic.Int64
}

var _ backend.Backend = (*Backend)(nil)

// New starts the worker goroutine and waits for it to load the driver.
// A driver that fails to load is fatal for this backend: the failure is
// logged at the highest severity and an error is returned.
func New(opts Options) (*Backend, error) {
	if opts.Drivers == nil {
		return nil, fmt.Errorf("no driver list configured")
	}
	if opts.Slot == nil {
		opts.Slot = &backend.Slot{}
	}
	if opts.InitializeLock == nil {
		opts.InitializeLock = &sync.Mutex{}
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 256
	}
	if opts.StartDrainTimeout <= 0 {
		opts.StartDrainTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}

	b := &Backend{
		opts:    opts,
		log:     opts.Logger,
		calls:   make(chan call, 64),
		done:    make(chan struct{}),
		queue:   newRing[entry](opts.QueueDepth),
		recycle: newRing[*TransferBuffer](opts.QueueDepth),
		pool:    NewTransferPool(),
	}
	b.stateCV = sync.NewCond(&b.stateMu)

	go b.run()

	b.stateMu.Lock()
	for b.State() == StateClosed {
		b.stateCV.Wait()
	}
	state := b.State()
	b.stateMu.Unlock()

	if state == StateFailed {
		b.log.Fatal(component, "failed to initialize driver thread", logging.Fields{"driver_id": opts.DriverID})
		<-b.done
		return nil, fmt.Errorf("pro-audio driver %d: %w", opts.DriverID, backend.ErrDeviceInvalidated)
	}
	if opts.PoolReportInterval > 0 {
		b.pool.StartReporter(opts.PoolReportInterval, b.done)
	}
	return b, nil
}

func (b *Backend) Kind() backend.Kind {
	return backend.ProAudio
}

// State returns the worker state
func (b *Backend) State() ThreadState {
	return ThreadState(b.state.Load())
}

func (b *Backend) setState(s ThreadState) {
	b.stateMu.Lock()
	b.state.Store(int32(s))
	b.stateMu.Unlock()
	b.stateCV.Broadcast()
}

func (b *Backend) Format() format.StreamFormat {
	b.fmtMu.Lock()
	defer b.fmtMu.Unlock()
	return b.format
}

func (b *Backend) lastCheckedFormat() format.StreamFormat {
	b.fmtMu.Lock()
	defer b.fmtMu.Unlock()
	return b.lastChecked
}

func (b *Backend) instance() InstanceInfo {
	b.infoMu.RLock()
	defer b.infoMu.RUnlock()
	return b.info
}

func (b *Backend) driverSampleFormat() format.SampleFormat {
	b.infoMu.RLock()
	defer b.infoMu.RUnlock()
	return b.driverType
}

// Close unloads the driver on the worker, moves the worker to
// ShuttingDown and waits for it to exit. No driver call runs afterwards.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		b.log.Info(component, "shutting down pro-audio backend")

		if b.workerReady.Load() {
			if err := b.runOnWorker(func() error {
				b.unloadDriver()
				return nil
			}); err != nil {
				b.log.Warnf(component, "driver unload during shutdown failed: %v", err)
			}
		}

		b.stateMu.Lock()
		if b.State() == StateRunning {
			b.state.Store(int32(StateShuttingDown))
		}
		b.stateMu.Unlock()
		b.stateCV.Broadcast()

		// wake the loop so it observes the new state
		b.post(func() error { return nil })
		<-b.done

		for {
			e, ok := b.queue.Pop()
			if !ok {
				break
			}
			e.buf.Release()
		}
		b.reclaim()
		if b.pending != nil {
			b.pending.Release()
			b.pending = nil
		}
		b.queuedFrames.Store(0)
		b.queuedBytes.Store(0)
	})
	return nil
}

// ControlPanel asks the driver to show its control panel
func (b *Backend) ControlPanel() error {
	return b.runOnWorker(func() error {
		if b.driver == nil {
			return DriverNotPresent
		}
		return b.driver.ControlPanel()
	})
}

// RequestReset schedules a driver reload without waiting for it
func (b *Backend) RequestReset() {
	b.post(b.reset)
}

// Info is a diagnostic snapshot of the backend
type Info struct {
	State        string              `json:"state"`
	DriverID     int                 `json:"driver_id"`
	Name         string              `json:"name"`
	Version      int                 `json:"version"`
	ErrorMessage string              `json:"error_message,omitempty"`
	Instance     InstanceInfo        `json:"instance"`
	Channels     []ChannelInfo       `json:"channels"`
	DriverFormat string              `json:"driver_format"`
	Format       format.StreamFormat `json:"format"`
	Started      bool                `json:"started"`
	QueuedFrames int64               `json:"queued_frames"`
	QueuedBytes  int64               `json:"queued_bytes"`
	Delivered    int64               `json:"delivered_bytes"`
	Switches     int64               `json:"buffer_switches"`
	Underruns    int64               `json:"underruns"`
	Pool         map[string]int64    `json:"pool"`
}

// Info returns a diagnostic snapshot
func (b *Backend) Info() Info {
	b.infoMu.RLock()
	info := Info{
		State:        b.State().String(),
		DriverID:     b.opts.DriverID,
		Name:         b.driverName,
		Version:      b.driverVersion,
		ErrorMessage: b.errorMessage,
		Instance:     b.info,
		Channels:     append([]ChannelInfo(nil), b.channelInfo...),
		DriverFormat: b.driverType.String(),
	}
	b.infoMu.RUnlock()

	info.Format = b.Format()
	info.Started = b.started.Load()
	info.QueuedFrames = b.queuedFrames.Load()
	info.QueuedBytes = b.queuedBytes.Load()
	info.Delivered = b.delivered.Load()
	info.Switches = b.switches.Load()
	info.Underruns = b.underruns.Load()
	info.Pool = b.pool.GetStatistics()
	return info
}

// Pool exposes the transfer pool, e.g. to start its reporter
func (b *Backend) Pool() *TransferPool {
	return b.pool
}
