package hook

import (
	"sync"

	"github.com/dougsko/audiohook/pkg/backend"
	"github.com/dougsko/audiohook/pkg/logging"
	"github.com/dougsko/audiohook/pkg/verbose"
)

// hot-path methods are traced once per object
const (
	traceBufferSize = iota
	traceStreamLatency
	tracePadding
	traceDevicePeriod
	traceGetBuffer
	traceReleaseBuffer
	traceCount
)

var traceNames = [traceCount]string{
	"GetBufferSize",
	"GetStreamLatency",
	"GetCurrentPadding",
	"GetDevicePeriod",
	"GetBuffer",
	"ReleaseBuffer",
}

type tracer struct {
	object string
	log    *logging.Logger
	once   [traceCount]sync.Once
}

func newTracer(log *logging.Logger, object string) *tracer {
	return &tracer{object: object, log: log}
}

func (t *tracer) first(method int) {
	t.once[method].Do(func() {
		t.log.Debug(component, t.object+"::"+traceNames[method])
	})
}

// call traces a method that is logged on every call when verbose
func (t *tracer) call(method string) {
	verbose.Call(component, t.object, method)
}

// check logs a failed call and passes err through
func (t *tracer) check(method string, err error) error {
	if err != nil {
		t.log.Warnf(component, "%s::%s failed, hr=%s", t.object, method, backend.StatusName(err))
	}
	return err
}

// backendCall logs a failed backend call and passes err through
func (t *tracer) backendCall(method string, err error) error {
	if err != nil {
		t.log.Warnf(component, "AudioBackend::%s failed, hr=%s: %v", method, backend.StatusName(err), err)
	}
	return err
}
