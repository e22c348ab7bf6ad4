package verbose

import (
	"fmt"
	"sync/atomic"

	"github.com/dougsko/audiohook/pkg/logging"
)

var enabled atomic.Bool

// SetEnabled sets the global verbose logging flag
func SetEnabled(enable bool) {
	enabled.Store(enable)
}

// IsEnabled returns whether verbose logging is enabled
func IsEnabled() bool {
	return enabled.Load()
}

// Printf logs a verbose trace line for component if verbose logging is enabled
func Printf(component, format string, args ...interface{}) {
	if enabled.Load() {
		logging.Info(component, "[VERBOSE] "+fmt.Sprintf(format, args...))
	}
}

// Call traces a forwarded method call, e.g. "WrappedClient::Start"
func Call(component, object, method string) {
	if enabled.Load() {
		logging.Info(component, "[VERBOSE] "+object+"::"+method)
	}
}

// Result traces the status a forwarded call returned
func Result(component, object, method, status string) {
	if enabled.Load() {
		logging.Info(component, fmt.Sprintf("[VERBOSE] %s::%s -> %s", object, method, status))
	}
}
