package filter

import (
	"fmt"

	"go.uber.org/atomic"
)

// Status is mutated by a filter handler to short-circuit the chain.
type Status int

const (
	StatusOK Status = iota
	StatusReject
)

// Handler runs at a given point; it mutates status to StatusReject to
// short-circuit the remainder of the chain at this point.
type Handler func(status *Status, point Point, payload any)

// Filter has a process-unique id, a name, the set of points it applies
// to, and a handler.
type Filter struct {
	ID     uint16
	Name   string
	Points map[Point]bool
	Handle Handler
}

const (
	firstFilterID = 10000
	maxFilterID   = 65535
)

var idCounter = atomic.NewUint32(firstFilterID)

// nextID allocates the next filter id, monotonically, bounded by
// maxFilterID. Panics on exhaustion: running out of the 65535-wide id
// space should be impossible in a correctly configured process.
func nextID() uint16 {
	id := idCounter.Inc() - 1
	if id > maxFilterID {
		panic(fmt.Sprintf("filter: id space exhausted at %d (max %d)", id, maxFilterID))
	}
	return uint16(id)
}

// New constructs a Filter with an auto-assigned, process-unique id.
func New(name string, points []Point, h Handler) *Filter {
	pm := make(map[Point]bool, len(points))
	for _, p := range points {
		pm[p] = true
	}
	return &Filter{ID: nextID(), Name: name, Points: pm, Handle: h}
}

// ResetIDCounterForTest rewinds the id counter; test-only.
func ResetIDCounterForTest(v uint32) { idCounter.Store(v) }
