// Package pool implements the runtime's two hot-path object allocators:
// a shared-nothing, per-owner pool (minimal cross-goroutine contention)
// and a small-N global pool (shared, mutex-protected, for types that
// don't have a natural owner). Both are generic over the payload type
// and return Slot[T] wrappers that track enough bookkeeping to recycle
// in bulk instead of calling into the allocator one object at a time.
//
// The source pins pool ownership to OS threads; Go goroutines are not
// pinned to OS threads and expose no portable thread-id, so ownership
// here is an explicit caller-supplied owner index instead (e.g. a
// reactor or scheduling-group id) — see DESIGN.md for why this is the
// faithful translation rather than a shortcut.
package pool

// Slot is a fixed-size cell carrying the pooled value plus two flag
// bits: needFreeToSystem (this slot bypassed the pool and must not be
// recycled into a freelist) and, for the shared-nothing pool, the
// owning-owner id and chunk id.
type Slot[T any] struct {
	Value T

	next             *Slot[T]
	needFreeToSystem bool
	ownerID          int32
	chunkID          int32
}
