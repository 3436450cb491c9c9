// Package mono gives the rest of the runtime a single, mockable source of
// monotonic time: the timing wheel and flow limiters must never observe
// wall-clock jumps (NTP step, DST) as time travel.
package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds elapsed since process start, monotonic.
func NanoTime() int64 { return time.Since(start).Nanoseconds() }

// MilliTime returns milliseconds elapsed since process start, monotonic.
func MilliTime() int64 { return time.Since(start).Milliseconds() }
