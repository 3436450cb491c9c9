package timingwheel

import "sync"

// pending is one in-flight request: the connection-pool client allows at
// most one per connection index, tracked by sequence id and a deadline
// node in the owning Wheel.
type pending struct {
	seqID  int64
	node   *Node
	waiter any // opaque continuation/future the caller resumes on Pop or timeout
}

// SendQueue tracks in-flight requests for one connection-pool client
// reactor: at most one outstanding request per connection index, each
// armed against a deadline in a Wheel. Push fails fast (returns false)
// rather than queueing a second in-flight request for the same index,
// matching the one-request-per-connection invariant.
type SendQueue struct {
	mu      sync.Mutex
	wheel   *Wheel
	inflight map[int]*pending // connIndex -> pending
	onTimeout func(connIndex int, waiter any)
}

// NewSendQueue builds a queue backed by wheel; onTimeout is invoked (with
// the SendQueue's lock released) for any request that expires via
// DoTimeout before being Popped.
func NewSendQueue(wheel *Wheel, onTimeout func(connIndex int, waiter any)) *SendQueue {
	return &SendQueue{
		wheel:     wheel,
		inflight:  make(map[int]*pending),
		onTimeout: onTimeout,
	}
}

// Push registers seqID as in-flight on connIndex with the given
// deadline, returning false without side effects if connIndex already
// has an outstanding request.
func (q *SendQueue) Push(connIndex int, seqID int64, deadlineMs int64, waiter any) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, busy := q.inflight[connIndex]; busy {
		return false
	}
	p := &pending{seqID: seqID, waiter: waiter}
	p.node = q.wheel.Add(deadlineMs, connIndex)
	q.inflight[connIndex] = p
	return true
}

// Pop matches an arriving response's seqID against the in-flight request
// on connIndex, cancels its deadline node, and returns its waiter. ok is
// false if there was no in-flight request on connIndex, or its seqID did
// not match (a stale/duplicate response).
func (q *SendQueue) Pop(connIndex int, seqID int64) (waiter any, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, found := q.inflight[connIndex]
	if !found || p.seqID != seqID {
		return nil, false
	}
	delete(q.inflight, connIndex)
	q.wheel.Delete(p.node)
	return p.waiter, true
}

// DoTimeout advances the backing wheel to nowMs, firing onTimeout for
// every connection index whose in-flight request has expired.
func (q *SendQueue) DoTimeout(nowMs int64) {
	var expired []struct {
		idx    int
		waiter any
	}
	q.mu.Lock()
	q.wheel.DoTimeout(nowMs, func(v any) {
		idx := v.(int)
		p, found := q.inflight[idx]
		if !found {
			return
		}
		delete(q.inflight, idx)
		expired = append(expired, struct {
			idx    int
			waiter any
		}{idx, p.waiter})
	})
	q.mu.Unlock()

	for _, e := range expired {
		if q.onTimeout != nil {
			q.onTimeout(e.idx, e.waiter)
		}
	}
}

// Len reports the number of currently in-flight requests.
func (q *SendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}
