package safe

import (
	"math"
)

// SafeAdd performs int64 addition and panics on overflow/underflow.
// Timestamps and deadlines are unix microseconds; a wrapped deadline would
// silently reopen or close an auction, so overflow is fatal.
func SafeAdd(a, b int64) int64 {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		panic("MARKET_SAFE_ADD_OVERFLOW")
	}
	return a + b
}

// SafeSub performs int64 subtraction and panics on overflow/underflow.
func SafeSub(a, b int64) int64 {
	if (b > 0 && a < math.MinInt64+b) || (b < 0 && a > math.MaxInt64+b) {
		panic("MARKET_SAFE_SUB_OVERFLOW")
	}
	return a - b
}
