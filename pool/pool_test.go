package pool

import (
	"sync"
	"testing"
)

type payload struct{ N int }

// property 9: over N allocate/deallocate cycles from K owners, the global
// live-slot counter returns to its pre-test value; a slot allocated by
// owner T is never recycled onto owner U's local free list.
func TestSharedNothingNoLeak(t *testing.T) {
	const owners = 4
	const cyclesPerOwner = 500

	p := NewSharedNothing[payload](owners, func() payload { return payload{} }, 0)

	before := p.LiveCount()

	var wg sync.WaitGroup
	for o := 0; o < owners; o++ {
		wg.Add(1)
		go func(owner int) {
			defer wg.Done()
			var held []*Slot[payload]
			for i := 0; i < cyclesPerOwner; i++ {
				s := p.Allocate(owner)
				if int(s.ownerID) != owner && !s.needFreeToSystem {
					t.Errorf("slot allocated for owner %d carries ownerID %d", owner, s.ownerID)
				}
				held = append(held, s)
				if len(held) > 8 {
					p.Deallocate(owner, held[0])
					held = held[1:]
				}
			}
			for _, s := range held {
				p.Deallocate(owner, s)
			}
		}(o)
	}
	wg.Wait()

	for o := 0; o < owners; o++ {
		p.Drain(o)
	}

	if got := p.LiveCount(); got != before {
		t.Fatalf("live count after drain = %d, want %d (pre-test value)", got, before)
	}
}

func TestSharedNothingCrossOwnerFree(t *testing.T) {
	p := NewSharedNothing[payload](2, func() payload { return payload{} }, 0)
	s := p.Allocate(0)
	if s.ownerID != 0 {
		t.Fatalf("ownerID = %d, want 0", s.ownerID)
	}
	// Deallocate from "owner 1" - must not land on owner 1's local free list.
	p.Deallocate(1, s)
	if p.owners[1].free == s {
		t.Fatal("cross-owner free landed directly on the wrong owner's local list")
	}
	// It should be recoverable once owner 0 drains its cross-free queue.
	next := p.Allocate(0)
	found := next == s
	for o := p.owners[0].free; o != nil && !found; o = o.next {
		found = o == s
	}
	if !found {
		t.Fatal("cross-freed slot never reappeared in its owner's pool")
	}
}

func TestGlobalPoolBasic(t *testing.T) {
	g := NewGlobal[payload](func() payload { return payload{} }, 16, 0)
	lc1 := g.NewLocalCache()
	lc2 := g.NewLocalCache()

	s1 := lc1.Allocate()
	s2 := lc2.Allocate()
	if s1 == s2 {
		t.Fatal("two allocations returned the same slot")
	}
	lc1.Deallocate(s1)
	lc2.Deallocate(s2)

	if g.LiveCount() == 0 {
		t.Fatal("expected at least one chunk allocated")
	}
}

func TestMaxObjectNumFallback(t *testing.T) {
	p := NewSharedNothing[payload](1, func() payload { return payload{} }, 4)
	var slots []*Slot[payload]
	for i := 0; i < 20; i++ {
		slots = append(slots, p.Allocate(0))
	}
	var directCount int
	for _, s := range slots {
		if s.needFreeToSystem {
			directCount++
		}
	}
	if directCount == 0 {
		t.Fatal("expected some direct (needFreeToSystem) allocations once maxObjectNum was exceeded")
	}
	for _, s := range slots {
		p.Deallocate(0, s)
	}
}
