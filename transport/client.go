package transport

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/flowrpc/flowrpc/internal/mono"
	"github.com/flowrpc/flowrpc/internal/xsync"
	"github.com/flowrpc/flowrpc/iobuf"
	"github.com/flowrpc/flowrpc/timingwheel"
)

const clientTickInterval = 10 * time.Millisecond

// the connection-pool client keeps exactly one request in flight on
// connIndex 0: a single persistent connection, unary, not pipelined —
// the send queue's one-in-flight-per-index invariant still applies, it
// just never has a second index to worry about.
const singleConnIndex = 0

// Client is a single-connection RPC client: one persistent net.Conn,
// its own checker.ConnHandler, and a timingwheel-backed send queue that
// times out a request if no matching response arrives.
type Client struct {
	conn   *Connection
	wheel  *timingwheel.Wheel
	queue  *timingwheel.SendQueue
	nextSeq atomic.Int64
	tickStop xsync.StopCh
}

// Dial connects to addr and wires up the client's framing handler and
// timeout wheel. info's server-only fields (accept/listen hooks) are
// ignored.
func Dial(ctx context.Context, info *BindInfo, network, addr string) (*Client, error) {
	full := info.withDefaults()
	if full.NewConnHandler == nil {
		return nil, fmt.Errorf("transport: BindInfo.NewConnHandler is required")
	}
	var d net.Dialer
	nc, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	if err := setConnSockOpts(nc, full.CustomSetSocketOpt); err != nil {
		nc.Close()
		return nil, err
	}

	cl := &Client{wheel: timingwheel.New(mono.MilliTime())}
	cl.tickStop.Init()
	handler := full.NewConnHandler(full)
	cl.conn = newConnection(makeConnID(0, 1), ConnTCP, nc, full, handler, cl.onMessage, nil)
	cl.queue = timingwheel.NewSendQueue(cl.wheel, cl.onTimeout)
	cl.conn.run(ctx)
	go cl.tick()
	return cl, nil
}

func (cl *Client) tick() {
	ticker := time.NewTicker(clientTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cl.queue.DoTimeout(mono.MilliTime())
		case <-cl.tickStop.Listen():
			return
		}
	}
}

// waiter is what Pop/onTimeout hand back to Call's goroutine.
type waiter struct {
	resp chan *iobuf.Message
	errc chan error
}

// Call sends buf and blocks until a response arrives, ctx is cancelled,
// or timeoutMs elapses — whichever first. Exactly one request may be in
// flight at a time; a second concurrent Call fails fast.
func (cl *Client) Call(ctx context.Context, buf *iobuf.Buffer, timeoutMs int64) (*iobuf.Message, error) {
	seq := cl.nextSeq.Load() + 1
	w := &waiter{resp: make(chan *iobuf.Message, 1), errc: make(chan error, 1)}
	deadline := mono.MilliTime() + timeoutMs
	if !cl.queue.Push(singleConnIndex, seq, deadline, w) {
		return nil, fmt.Errorf("transport: client already has a request in flight")
	}
	cl.nextSeq.Store(seq) // only a pushed request advances the sequence
	if err := cl.conn.Send(ctx, buf); err != nil {
		cl.queue.Pop(singleConnIndex, seq)
		return nil, err
	}
	select {
	case resp := <-w.resp:
		return resp, nil
	case err := <-w.errc:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// onMessage matches the first response against whatever is currently in
// flight on connIndex 0 (there can be at most one, by construction).
func (cl *Client) onMessage(c *Connection, msgs []*iobuf.Message) {
	for _, m := range msgs {
		v, ok := cl.queue.Pop(singleConnIndex, cl.currentSeq())
		if !ok {
			continue // stale/unmatched response; drop it
		}
		v.(*waiter).resp <- m
	}
}

// currentSeq exists solely so onMessage's Pop matches whatever Call most
// recently pushed; safe because the client never pipelines.
func (cl *Client) currentSeq() int64 { return cl.nextSeq.Load() }

func (cl *Client) onTimeout(connIndex int, v any) {
	v.(*waiter).errc <- fmt.Errorf("transport: request timed out")
}

// Close tears down the client's connection and timer goroutine.
func (cl *Client) Close() {
	cl.tickStop.Close()
	cl.conn.Stop()
}
