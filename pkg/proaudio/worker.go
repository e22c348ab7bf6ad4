package proaudio

import (
	"runtime"
)

// run is the worker goroutine. It owns the driver for its whole life.
func (b *Backend) run() {
	// drivers expect every call on one OS thread
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(b.done)

	b.stateMu.Lock()
	b.log.Info(component, "initializing driver thread")
	ok := b.loadDriver() && b.updateDriverInfo() && b.refreshInitialFormat()
	if ok {
		b.state.Store(int32(StateRunning))
	} else {
		b.unloadDriver()
		b.state.Store(int32(StateFailed))
	}
	b.stateMu.Unlock()
	b.stateCV.Broadcast()

	if !ok {
		return
	}

	b.log.Info(component, "driver thread entering main loop")
	b.workerReady.Store(true)
	defer b.workerReady.Store(false)

	for c := range b.calls {
		if b.State() != StateRunning {
			if c.result != nil {
				c.result <- DriverNotPresent
			}
			return
		}
		err := c.fn()
		if c.result != nil {
			c.result <- err
		}
	}
}

// runOnWorker executes fn on the worker goroutine and waits for its result.
// It must not be called from the worker itself.
func (b *Backend) runOnWorker(fn func() error) error {
	result := make(chan error, 1)
	select {
	case b.calls <- call{fn: fn, result: result}:
	case <-b.done:
		return DriverNotPresent
	}

	select {
	case err := <-result:
		return err
	case <-b.done:
		select {
		case err := <-result:
			return err
		default:
			return DriverNotPresent
		}
	}
}

// post queues fn on the worker without waiting for it
func (b *Backend) post(fn func() error) {
	select {
	case b.calls <- call{fn: fn}:
	case <-b.done:
	}
}
