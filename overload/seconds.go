package overload

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"github.com/flowrpc/flowrpc/internal/mono"
)

const defaultWindowSize = 10

type secondsBucket struct {
	counter        atomic.Int64
	accessTimeSecs atomic.Int64
}

// SecondsLimiter is a fixed-window limiter sharded over W buckets indexed
// by whole seconds of monotonic process time (mono.MilliTime()/1000, not
// epoch or wall-clock seconds) modulo W (W = window_size). Only admitted
// calls are counted. Each bucket carries an
// atomic count and an atomic last-access-second; on a stale bucket the
// reset is double-checked under a mutex so two threads racing on the
// exact second boundary reset at most once.
type SecondsLimiter struct {
	limit      int64
	windowSize int32
	buckets    []secondsBucket
	mu         sync.Mutex
	report     Reporter
	name       string
}

// NewSecondsLimiter builds a limiter admitting at most limit requests in
// any given one-second window of monotonic process time (windows start at
// process start, not on wall-clock second boundaries), tracked with
// windowSize rotating buckets
// (clamped >= 1; defaults to 10 when <= 0, matching the source).
func NewSecondsLimiter(name string, limit int64, windowSize int32, report Reporter) *SecondsLimiter {
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	return &SecondsLimiter{
		limit:      limit,
		windowSize: windowSize,
		buckets:    make([]secondsBucket, windowSize),
		report:     report,
		name:       name,
	}
}

func (l *SecondsLimiter) Allow(_ context.Context) bool {
	nowSecs := mono.MilliTime() / 1000
	idx := nowSecs % int64(l.windowSize)
	b := &l.buckets[idx]

	if b.accessTimeSecs.Load() != nowSecs {
		l.mu.Lock()
		if b.accessTimeSecs.Load() != nowSecs {
			b.counter.Store(0)
			b.accessTimeSecs.Store(nowSecs)
		}
		l.mu.Unlock()
	}

	result := b.counter.Inc()
	admit := result <= l.limit
	if !admit {
		b.counter.Dec() // a rejected call does not count toward the window
	}
	if l.report != nil {
		l.report.ReportLimiter(l.name, "seconds", result, l.limit, admit)
	}
	return admit
}

func (l *SecondsLimiter) CurrentCount() int64 {
	nowSecs := mono.MilliTime() / 1000
	idx := nowSecs % int64(l.windowSize)
	b := &l.buckets[idx]
	if b.accessTimeSecs.Load() != nowSecs {
		return 0
	}
	return b.counter.Load()
}

func (l *SecondsLimiter) MaxCount() int64 { return l.limit }
