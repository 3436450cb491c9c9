package transport

import "sync/atomic"

// connID is the runtime-wide connection identifier: the owning bind
// adapter's index in the high 32 bits, a per-adapter monotonic counter
// in the low 32 bits. Encoding/decoding is pure arithmetic so a send on
// any adapter can route to the right one without a lookup.
type connID uint64

func makeConnID(adapterIdx uint32, counter uint32) connID {
	return connID(uint64(adapterIdx)<<32 | uint64(counter))
}

func (id connID) adapterIdx() uint32 { return uint32(id >> 32) }
func (id connID) counter() uint32    { return uint32(id) }

// connIDAllocator hands out per-adapter-local, monotonically increasing
// counters; combined with the adapter's own index this yields a
// process-wide-unique connID.
type connIDAllocator struct {
	adapterIdx uint32
	next       uint32
}

func newConnIDAllocator(adapterIdx uint32) *connIDAllocator {
	return &connIDAllocator{adapterIdx: adapterIdx}
}

func (a *connIDAllocator) next32() uint32 {
	return atomic.AddUint32(&a.next, 1)
}

func (a *connIDAllocator) allocate() connID {
	return makeConnID(a.adapterIdx, a.next32())
}
