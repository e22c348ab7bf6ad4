package proaudio

// ThreadState is the lifecycle of the backend's worker goroutine
type ThreadState int32

const (
	StateClosed ThreadState = iota
	StateFailed
	StateRunning
	StateShuttingDown
)

func (s ThreadState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting down"
	}
	return "unknown"
}

// InstanceInfo is the capability snapshot of the loaded driver
type InstanceInfo struct {
	Inputs        int         `json:"inputs"`
	Outputs       int         `json:"outputs"`
	Buffers       BufferSizes `json:"buffers"`
	InputLatency  int         `json:"input_latency"`
	OutputLatency int         `json:"output_latency"`
}
