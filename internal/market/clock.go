package market

import "time"

// Clock is the single time source for an operation. Deadline comparisons
// always read it exactly once per operation, never wall-clock sampled per
// check.
type Clock interface {
	// NowUnixM returns the current time in unix microseconds. It must be
	// monotonically non-decreasing across calls.
	NowUnixM() int64
}

type systemClock struct{}

func (systemClock) NowUnixM() int64 { return time.Now().UnixMicro() }

// SystemClock returns the wall-clock backed Clock used outside tests.
func SystemClock() Clock { return systemClock{} }
