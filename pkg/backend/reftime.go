package backend

import "time"

// RefTime is a duration in 100 nanosecond units
type RefTime int64

// RefTimePerSecond is the number of RefTime units in one second
const RefTimePerSecond RefTime = 10_000_000

// FramesToRefTime converts a frame count at rate to RefTime, rounding up
func FramesToRefTime(frames, rate int) RefTime {
	if rate <= 0 {
		return 0
	}
	n := int64(RefTimePerSecond) * int64(frames)
	r := int64(rate)
	return RefTime((n + r - 1) / r)
}

// RefTimeToFrames converts t to a frame count at rate, rounding down
func RefTimeToFrames(t RefTime, rate int) int {
	return int(int64(t) * int64(rate) / int64(RefTimePerSecond))
}

// Duration converts to a time.Duration
func (t RefTime) Duration() time.Duration {
	return time.Duration(t) * 100
}

func (t RefTime) String() string {
	return t.Duration().String()
}
