package pool

import (
	"sync"

	"go.uber.org/atomic"
)

const globalPoolShards = 4

// globalShard is one of a small number of mutex-protected global pools;
// each caller "thread" (goroutine-local cache, passed in by the caller
// as a *LocalCache) is tied round-robin to one shard.
type globalShard[T any] struct {
	mu        sync.Mutex
	chunks    [][]Slot[T]
	freeLists []*Slot[T]
}

// Global is the small-N, mutex-protected allocator shared by every
// caller; it trades the shared-nothing pool's zero-contention fast path
// for simplicity when a type has no natural per-owner affinity.
type Global[T any] struct {
	newValue     func() T
	chunkSize    int
	maxObjectNum int64
	live         atomic.Int64
	shards       [globalPoolShards]*globalShard[T]
	nextShard    atomic.Int64
}

// LocalCache is a thread/goroutine-local front for a Global pool: a small
// free-slot list plus the shard it is bound to, avoiding shard-mutex
// contention on the common case of an immediately-reused slot.
type LocalCache[T any] struct {
	g      *Global[T]
	shard  int
	free   *Slot[T]
	nfree  int
	maxLoc int
}

func NewGlobal[T any](newValue func() T, chunkSize int, maxObjectNum int64) *Global[T] {
	if chunkSize < minChunkSlots {
		chunkSize = minChunkSlots
	}
	g := &Global[T]{newValue: newValue, chunkSize: chunkSize, maxObjectNum: maxObjectNum}
	for i := range g.shards {
		g.shards[i] = &globalShard[T]{}
	}
	return g
}

// NewLocalCache binds a new thread-local front-end to the pool,
// round-robining across shards.
func (g *Global[T]) NewLocalCache() *LocalCache[T] {
	shard := int(g.nextShard.Inc()-1) % globalPoolShards
	return &LocalCache[T]{g: g, shard: shard, maxLoc: defaultMaxFree}
}

// Allocate returns a slot from the local cache, falling back to the
// bound global shard (allocating a fresh chunk under its mutex if the
// shard has nothing free), and finally to a direct allocation once
// maxObjectNum is exceeded.
func (lc *LocalCache[T]) Allocate() *Slot[T] {
	if lc.free != nil {
		s := lc.free
		lc.free = s.next
		s.next = nil
		lc.nfree--
		return s
	}
	g := lc.g
	sh := g.shards[lc.shard]
	sh.mu.Lock()
	if len(sh.freeLists) > 0 {
		s := sh.freeLists[len(sh.freeLists)-1]
		sh.freeLists = sh.freeLists[:len(sh.freeLists)-1]
		sh.mu.Unlock()
		return s
	}
	if g.maxObjectNum > 0 && g.live.Load()+int64(g.chunkSize) > g.maxObjectNum {
		sh.mu.Unlock()
		g.live.Inc()
		return &Slot[T]{Value: g.newValue(), needFreeToSystem: true}
	}
	chunk := make([]Slot[T], g.chunkSize)
	for i := range chunk {
		chunk[i].Value = g.newValue()
	}
	sh.chunks = append(sh.chunks, chunk)
	g.live.Add(int64(g.chunkSize))
	// hand back slot 0, stash the rest on the shard freelist
	for i := 1; i < len(chunk); i++ {
		sh.freeLists = append(sh.freeLists, &chunk[i])
	}
	sh.mu.Unlock()
	return &chunk[0]
}

// Deallocate pushes s onto the local cache; once the local cache grows
// past maxLoc, the whole list is moved to the bound global shard's
// free-list vector under its mutex.
func (lc *LocalCache[T]) Deallocate(s *Slot[T]) {
	if s.needFreeToSystem {
		lc.g.live.Dec()
		return
	}
	s.next = lc.free
	lc.free = s
	lc.nfree++
	if lc.nfree <= lc.maxLoc {
		return
	}
	sh := lc.g.shards[lc.shard]
	sh.mu.Lock()
	for lc.free != nil {
		n := lc.free
		lc.free = n.next
		n.next = nil
		sh.freeLists = append(sh.freeLists, n)
	}
	sh.mu.Unlock()
	lc.nfree = 0
}

// LiveCount returns the process-wide live-slot count.
func (g *Global[T]) LiveCount() int64 { return g.live.Load() }
