package backend

import "errors"

var (
	ErrUnsupportedFormat  = errors.New("unsupported format")
	ErrNotInitialized     = errors.New("not initialized")
	ErrDeviceInvalidated  = errors.New("device invalidated")
	ErrAllocationFailure  = errors.New("buffer allocation failed")
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrNotImplemented     = errors.New("not implemented")
	ErrOutOfOrder         = errors.New("call out of order")
	ErrNoInterface        = errors.New("no such interface")
)

var statusNames = []struct {
	err  error
	name string
}{
	{ErrUnsupportedFormat, "AUDCLNT_E_UNSUPPORTED_FORMAT"},
	{ErrNotInitialized, "AUDCLNT_E_NOT_INITIALIZED"},
	{ErrDeviceInvalidated, "AUDCLNT_E_DEVICE_INVALIDATED"},
	{ErrAllocationFailure, "AUDCLNT_E_BUFFER_ERROR"},
	{ErrAlreadyInitialized, "AUDCLNT_E_ALREADY_INITIALIZED"},
	{ErrNotImplemented, "E_NOTIMPL"},
	{ErrOutOfOrder, "AUDCLNT_E_OUT_OF_ORDER"},
	{ErrNoInterface, "E_NOINTERFACE"},
}

// StatusName maps an error to the platform result name used in logs
func StatusName(err error) string {
	if err == nil {
		return "S_OK"
	}
	for _, s := range statusNames {
		if errors.Is(err, s.err) {
			return s.name
		}
	}
	return "E_FAIL"
}
