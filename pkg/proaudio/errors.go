package proaudio

import "fmt"

// DriverError is a result code returned by a pro-audio driver
type DriverError int32

const (
	DriverOK               DriverError = 0
	DriverSuccess          DriverError = 0x3f4847a0
	DriverNotPresent       DriverError = -1000
	DriverHWMalfunction    DriverError = -999
	DriverInvalidParameter DriverError = -998
	DriverInvalidMode      DriverError = -997
	DriverSPNotAdvancing   DriverError = -996
	DriverNoClock          DriverError = -995
	DriverNoMemory         DriverError = -994
)

var driverErrorNames = map[DriverError]string{
	DriverOK:               "ASE_OK",
	DriverSuccess:          "ASE_SUCCESS",
	DriverNotPresent:       "ASE_NotPresent",
	DriverHWMalfunction:    "ASE_HWMalfunction",
	DriverInvalidParameter: "ASE_InvalidParameter",
	DriverInvalidMode:      "ASE_InvalidMode",
	DriverSPNotAdvancing:   "ASE_SPNotAdvancing",
	DriverNoClock:          "ASE_NoClock",
	DriverNoMemory:         "ASE_NoMemory",
}

func (e DriverError) Error() string {
	if name, ok := driverErrorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("driver error %d", int32(e))
}

// check converts a driver result to a Go error, treating both success
// codes as nil
func check(code DriverError) error {
	if code == DriverOK || code == DriverSuccess {
		return nil
	}
	return code
}
