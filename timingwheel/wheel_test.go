package timingwheel

import (
	"sort"
	"testing"
)

// property 6: timers fire in non-decreasing expire-time order, exactly
// once each, and never before their expire time.
func TestFiresInOrder(t *testing.T) {
	w := New(0)
	expires := []int64{5, 1500, 70000, 3, 2000, 1, 100000}
	for _, e := range expires {
		w.Add(e, e)
	}

	var fired []int64
	w.DoTimeout(100000, func(v any) { fired = append(fired, v.(int64)) })

	if len(fired) != len(expires) {
		t.Fatalf("fired %d nodes, want %d", len(fired), len(expires))
	}
	want := append([]int64(nil), expires...)
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	lastSeen := map[int64]int{}
	for _, e := range want {
		lastSeen[e]++
	}
	gotCount := map[int64]int{}
	for _, f := range fired {
		gotCount[f]++
	}
	for _, e := range want {
		if gotCount[e] != lastSeen[e] {
			t.Fatalf("expire %d fired %d times, want %d", e, gotCount[e], lastSeen[e])
		}
	}

	// non-decreasing order check
	for i := 1; i < len(fired); i++ {
		if fired[i] < fired[i-1] {
			t.Fatalf("fired out of order: %v", fired)
		}
	}
}

func TestCascadeAcrossLevels(t *testing.T) {
	w := New(0)
	// past the level-0 range (1024ms) so it lands in level 1+ and must
	// cascade down as the wheel advances.
	n := w.Add(5000, "payload")
	_ = n

	var fired []any
	w.DoTimeout(4999, func(v any) { fired = append(fired, v) })
	if len(fired) != 0 {
		t.Fatalf("fired before expiry: %v", fired)
	}

	w.DoTimeout(5000, func(v any) { fired = append(fired, v) })
	if len(fired) != 1 || fired[0] != "payload" {
		t.Fatalf("fired = %v, want [payload] at tick 5000", fired)
	}
}

func TestDeleteCancels(t *testing.T) {
	w := New(0)
	n := w.Add(10, "x")
	w.Delete(n)
	// deleting twice must not panic
	w.Delete(n)

	var fired []any
	w.DoTimeout(20, func(v any) { fired = append(fired, v) })
	if len(fired) != 0 {
		t.Fatalf("cancelled node still fired: %v", fired)
	}
}

// A degenerate insert (expire already behind the wheel's current time)
// must fire on the very next tick.
func TestDegenerateInsertFiresImmediately(t *testing.T) {
	w := New(1000)
	w.Add(500, "late")

	var fired []any
	w.DoTimeout(1001, func(v any) { fired = append(fired, v) })
	if len(fired) != 1 || fired[0] != "late" {
		t.Fatalf("fired = %v, want [late]", fired)
	}
}

func TestSendQueueOneInFlightPerConn(t *testing.T) {
	w := New(0)
	var timedOut []int
	q := NewSendQueue(w, func(idx int, waiter any) { timedOut = append(timedOut, idx) })

	if !q.Push(1, 100, 5000, "req-a") {
		t.Fatal("first push on conn 1 should succeed")
	}
	if q.Push(1, 101, 6000, "req-b") {
		t.Fatal("second push on a busy conn 1 must fail")
	}

	waiter, ok := q.Pop(1, 100)
	if !ok || waiter != "req-a" {
		t.Fatalf("Pop = %v, %v; want req-a, true", waiter, ok)
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d, want 0 after Pop", q.Len())
	}

	// now conn 1 can accept a new in-flight request
	if !q.Push(1, 102, 5000, "req-c") {
		t.Fatal("push after Pop should succeed")
	}

	q.DoTimeout(5001)
	if len(timedOut) != 1 || timedOut[0] != 1 {
		t.Fatalf("timedOut = %v, want [1]", timedOut)
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d after timeout, want 0", q.Len())
	}
}

func TestSendQueueStaleResponseRejected(t *testing.T) {
	w := New(0)
	q := NewSendQueue(w, nil)
	q.Push(2, 1, 1000, "w")
	if _, ok := q.Pop(2, 2); ok {
		t.Fatal("Pop with mismatched seqID must fail")
	}
	if _, ok := q.Pop(2, 1); !ok {
		t.Fatal("Pop with the correct seqID must succeed")
	}
}
