// Package hk implements a generic ticked housekeeper: callers register a
// periodic task (1 Hz by default) that the housekeeper invokes until the
// caller asks to be removed. It backs the transport package's per-bind-
// adapter idle-connection sweep: a min-heap ordered by next-due tick,
// one shared ticker.
package hk

import (
	"container/heap"
	"sync"
	"time"

	"github.com/flowrpc/flowrpc/internal/nlog"
	"github.com/flowrpc/flowrpc/internal/xsync"
)

const defaultTick = time.Second

// Task is a single registered housekeeping job.
type Task struct {
	name  string
	every time.Duration
	f     func() (nextDue time.Duration, keep bool)

	ticksLeft int
	index     int // heap index, maintained by container/heap callbacks
}

// Housekeeper runs every registered Task's f on its own schedule, off of
// one shared ticker, until f returns keep=false or Unregister is called.
type Housekeeper struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	heap   taskHeap
	ticker *time.Ticker
	tick   time.Duration
	ctrlCh chan ctrlMsg
	stopCh xsync.StopCh
	wg     sync.WaitGroup
}

type ctrlMsg struct {
	t   *Task
	add bool
}

// New builds a Housekeeper ticking every `tick` (defaultTick if <= 0).
// Call Run to start it in a background goroutine.
func New(tick time.Duration) *Housekeeper {
	if tick <= 0 {
		tick = defaultTick
	}
	h := &Housekeeper{
		tasks:  make(map[string]*Task),
		tick:   tick,
		ctrlCh: make(chan ctrlMsg, 64),
	}
	h.stopCh.Init()
	return h
}

// Register adds a named task: f runs roughly every `every`, and on each
// invocation may request a different next-due interval via its return
// value; keep=false removes the task without further invocations.
func (h *Housekeeper) Register(name string, every time.Duration, f func() (nextDue time.Duration, keep bool)) {
	t := &Task{name: name, every: every, f: f, ticksLeft: ticksFor(every, h.tick)}
	h.ctrlCh <- ctrlMsg{t: t, add: true}
}

// Unregister removes a previously-registered task by name, if present.
func (h *Housekeeper) Unregister(name string) {
	h.mu.Lock()
	t, ok := h.tasks[name]
	h.mu.Unlock()
	if !ok {
		return
	}
	h.ctrlCh <- ctrlMsg{t: t, add: false}
}

func ticksFor(d, tick time.Duration) int {
	n := int(d / tick)
	if n < 1 {
		n = 1
	}
	return n
}

// Run blocks, driving the ticker and processing control messages, until
// Stop is called. Intended to be launched with `go h.Run()`.
func (h *Housekeeper) Run() {
	h.ticker = time.NewTicker(h.tick)
	defer h.ticker.Stop()
	for {
		select {
		case <-h.ticker.C:
			h.doTick()
		case msg := <-h.ctrlCh:
			h.mu.Lock()
			if msg.add {
				h.tasks[msg.t.name] = msg.t
				heap.Push(&h.heap, msg.t)
			} else if _, ok := h.tasks[msg.t.name]; ok {
				delete(h.tasks, msg.t.name)
				heap.Remove(&h.heap, msg.t.index)
			}
			h.mu.Unlock()
		case <-h.stopCh.Listen():
			return
		}
	}
}

func (h *Housekeeper) doTick() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.heap {
		t.ticksLeft--
	}
	for h.heap.Len() > 0 && h.heap[0].ticksLeft <= 0 {
		t := h.heap[0]
		nextDue, keep := runTask(t)
		if !keep {
			heap.Remove(&h.heap, t.index)
			delete(h.tasks, t.name)
			continue
		}
		t.ticksLeft = ticksFor(nextDue, h.tick)
		heap.Fix(&h.heap, t.index)
	}
}

func runTask(t *Task) (time.Duration, bool) {
	defer func() {
		if r := recover(); r != nil {
			nlog.Errorf("hk: task %q panicked: %v", t.name, r)
		}
	}()
	return t.f()
}

// Stop halts the Run loop; safe to call more than once.
func (h *Housekeeper) Stop() { h.stopCh.Close() }

// taskHeap is a min-heap over ticksLeft (soonest-due first).
type taskHeap []*Task

func (th taskHeap) Len() int            { return len(th) }
func (th taskHeap) Less(i, j int) bool  { return th[i].ticksLeft < th[j].ticksLeft }
func (th taskHeap) Swap(i, j int)       { th[i], th[j] = th[j], th[i]; th[i].index = i; th[j].index = j }
func (th *taskHeap) Push(x any)         { t := x.(*Task); t.index = len(*th); *th = append(*th, t) }
func (th *taskHeap) Pop() any {
	old := *th
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*th = old[:n-1]
	return t
}
