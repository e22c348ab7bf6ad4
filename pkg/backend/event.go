package backend

import "time"

// Event is an auto-reset signal shared between a client and whoever wakes
// it. Set never blocks and coalesces while the event is already signaled.
type Event struct {
	ch chan struct{}
}

// NewEvent returns an unsignaled event
func NewEvent() *Event {
	return &Event{ch: make(chan struct{}, 1)}
}

// Set signals the event
func (e *Event) Set() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Reset clears a pending signal
func (e *Event) Reset() {
	select {
	case <-e.ch:
	default:
	}
}

// Wait blocks until the event is signaled or timeout elapses. A negative
// timeout waits forever. It reports whether the event was signaled.
func (e *Event) Wait(timeout time.Duration) bool {
	if timeout < 0 {
		<-e.ch
		return true
	}
	if timeout == 0 {
		select {
		case <-e.ch:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.ch:
		return true
	case <-timer.C:
		return false
	}
}

// C exposes the signal channel for use in select statements. Receiving
// from it consumes the signal.
func (e *Event) C() <-chan struct{} {
	return e.ch
}
