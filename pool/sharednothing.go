package pool

import (
	"sync"

	"go.uber.org/atomic"
)

const (
	pageSize       = 4096
	minChunkSlots  = 8
	defaultMaxFree = 64
)

type ownerState[T any] struct {
	mu    sync.Mutex
	free  *Slot[T] // local freelist, LIFO singly-linked
	nfree int
	cross crossFreeQueue[T]
	nextC int32 // next chunk id this owner will allocate
}

// SharedNothing is the per-owner ("shared-nothing") allocator: each
// owner keeps its own free list bounded between minFree and maxFree,
// backed by bulk chunk allocations, falling back to one-off allocation
// (tagged needFreeToSystem) once the global live-slot cap is reached.
type SharedNothing[T any] struct {
	newValue     func() T
	maxFreeNum   int
	minFreeNum   int
	chunkSize    int
	maxObjectNum int64 // 0 = unbounded

	live   atomic.Int64
	owners []*ownerState[T]
}

// NewSharedNothing builds a pool with nOwners independent shards (one per
// reactor / scheduling group in the caller's design). maxObjectNum <= 0
// means unbounded (kMaxObjectNum disabled).
func NewSharedNothing[T any](nOwners int, newValue func() T, maxObjectNum int64) *SharedNothing[T] {
	if nOwners < 1 {
		nOwners = 1
	}
	chunkSize := pageSize / structSizeHint[T]()
	if chunkSize < minChunkSlots {
		chunkSize = minChunkSlots
	}
	p := &SharedNothing[T]{
		newValue:     newValue,
		maxFreeNum:   defaultMaxFree,
		minFreeNum:   defaultMaxFree / 2,
		chunkSize:    chunkSize,
		maxObjectNum: maxObjectNum,
		owners:       make([]*ownerState[T], nOwners),
	}
	for i := range p.owners {
		p.owners[i] = &ownerState[T]{}
	}
	return p
}

// structSizeHint avoids importing unsafe just for a rough chunk-size
// heuristic; a fixed divisor is good enough since the goal (bound the
// number of slots touched per bulk chunk allocation) doesn't need exact
// sizeof.
func structSizeHint[T any]() int { return 64 }

// Allocate returns a slot for owner ownerID, draining any cross-owner
// frees first, then the local freelist, then bulk-allocating a new
// chunk, then — only if the live-slot cap would otherwise be exceeded —
// falling back to a direct one-off allocation.
func (p *SharedNothing[T]) Allocate(ownerID int) *Slot[T] {
	o := p.owners[ownerID]

	o.mu.Lock()
	defer o.mu.Unlock()

	p.drainCross(o)

	if o.free == nil {
		p.refill(o, int32(ownerID))
	}

	if o.free != nil {
		s := o.free
		o.free = s.next
		s.next = nil
		o.nfree--
		return s
	}

	// direct fallback: not pooled, tagged for individual recycling.
	p.live.Inc()
	return &Slot[T]{Value: p.newValue(), needFreeToSystem: true, ownerID: int32(ownerID)}
}

func (p *SharedNothing[T]) drainCross(o *ownerState[T]) {
	s := o.cross.drainAll()
	for s != nil {
		next := s.next
		s.next = o.free
		o.free = s
		o.nfree++
		s = next
	}
}

func (p *SharedNothing[T]) refill(o *ownerState[T], ownerID int32) {
	if p.maxObjectNum > 0 && p.live.Load()+int64(p.chunkSize) > p.maxObjectNum {
		return // caller falls back to direct allocation
	}
	cid := o.nextC
	o.nextC++
	for i := 0; i < p.chunkSize; i++ {
		s := &Slot[T]{Value: p.newValue(), ownerID: ownerID, chunkID: cid}
		s.next = o.free
		o.free = s
		o.nfree++
	}
	p.live.Add(int64(p.chunkSize))
}

// Deallocate recycles s. If the calling owner matches the slot's owner,
// it goes straight onto the local freelist (trimmed back toward the
// (min+max)/2 goal once it overflows maxFreeNum). Otherwise it is pushed
// onto the owning owner's lock-free cross-free queue.
func (p *SharedNothing[T]) Deallocate(callerOwnerID int, s *Slot[T]) {
	if s.needFreeToSystem {
		p.live.Dec()
		return // nothing to recycle; let the GC reclaim it
	}
	if int(s.ownerID) == callerOwnerID {
		o := p.owners[callerOwnerID]
		o.mu.Lock()
		s.next = o.free
		o.free = s
		o.nfree++
		if o.nfree > p.maxFreeNum {
			goal := (p.maxFreeNum + p.minFreeNum) / 2
			for o.nfree > goal {
				drop := o.free
				o.free = drop.next
				o.nfree--
				p.live.Dec()
			}
		}
		o.mu.Unlock()
		return
	}
	p.owners[s.ownerID].cross.push(s)
}

// LiveCount returns the current process-wide live-slot count (bounded by
// maxObjectNum when configured).
func (p *SharedNothing[T]) LiveCount() int64 { return p.live.Load() }

// Drain, called on owner-exit, returns every local slot to the pool's
// live-count bookkeeping by discarding pool references so the GC
// reclaims them once unreachable. Owners must drain on exit; a
// cross-owner free arriving after drain leaks its slot (deliberately
// unhandled — a post-drain free is a caller bug).
func (p *SharedNothing[T]) Drain(ownerID int) {
	o := p.owners[ownerID]
	o.mu.Lock()
	defer o.mu.Unlock()
	p.drainCross(o)
	for o.free != nil {
		o.free = o.free.next
		o.nfree--
		p.live.Dec()
	}
}
