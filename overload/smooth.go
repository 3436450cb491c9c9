package overload

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/flowrpc/flowrpc/internal/nlog"
)

const defaultCellsPerSecond = 100

// SmoothLimiter is a sliding-window limiter: a circular array of N cells
// (default 100/s, i.e. 10ms granularity) advanced by a background tick
// every 1/N second. Allow increments the current cell; admission is
// denied once the sum across all cells exceeds limit, and a denied call's
// increment is taken back so only admitted calls fill the window.
type SmoothLimiter struct {
	limit   int64
	ncells  int
	cells   []atomic.Int64
	current atomic.Int32 // current cell index, advanced by the ticker

	report Reporter
	name   string

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewSmoothLimiter starts the background tick goroutine immediately;
// callers must call Stop when the limiter is no longer needed so the
// ticker goroutine exits.
func NewSmoothLimiter(name string, limit int64, cellsPerSecond int, report Reporter) *SmoothLimiter {
	if cellsPerSecond <= 0 {
		cellsPerSecond = defaultCellsPerSecond
	}
	l := &SmoothLimiter{
		limit:  limit,
		ncells: cellsPerSecond,
		cells:  make([]atomic.Int64, cellsPerSecond),
		report: report,
		name:   name,
		stopCh: make(chan struct{}),
	}
	go l.tick()
	return l
}

func (l *SmoothLimiter) tick() {
	period := time.Second / time.Duration(l.ncells)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.advance()
		case <-l.stopCh:
			return
		}
	}
}

// advance moves to the next cell, zeroing the incoming cell *before*
// publishing the new index so a concurrent Allow never observes a
// half-reset cell (release/acquire via the atomic store on `current`).
func (l *SmoothLimiter) advance() {
	next := (int(l.current.Load()) + 1) % l.ncells
	l.cells[next].Store(0)
	l.current.Store(int32(next))
}

func (l *SmoothLimiter) Allow(context.Context) bool {
	idx := l.current.Load()
	l.cells[idx].Inc()
	total := l.CurrentCount()
	admit := total <= l.limit
	if !admit {
		l.cells[idx].Dec()
	}
	if l.report != nil {
		l.report.ReportLimiter(l.name, "smooth", total, l.limit, admit)
	}
	return admit
}

func (l *SmoothLimiter) CurrentCount() int64 {
	var total int64
	for i := range l.cells {
		total += l.cells[i].Load()
	}
	return total
}

func (l *SmoothLimiter) MaxCount() int64 { return l.limit }

// Stop terminates the limiter's background tick goroutine.
func (l *SmoothLimiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		nlog.Infof("overload: smooth limiter %q stopped", l.name)
	})
}
