package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/flowrpc/flowrpc/checker"
	"github.com/flowrpc/flowrpc/iobuf"
)

type stopTrackingHandler struct {
	stopped *bool
}

func (h stopTrackingHandler) Init(ctx context.Context) error { return nil }
func (h stopTrackingHandler) DoHandshake(ctx context.Context, in *iobuf.Buffer) (bool, error) {
	return true, nil
}
func (h stopTrackingHandler) CheckMessage(ctx context.Context, in *iobuf.Buffer, out *[]*iobuf.Message) (checker.PacketStatus, error) {
	return checker.PacketLess, nil
}
func (h stopTrackingHandler) EncodeStreamMessage(msg *iobuf.Message) (*iobuf.Buffer, error) {
	return msg.Buf, nil
}
func (h stopTrackingHandler) Stop() { *h.stopped = true }
func (h stopTrackingHandler) Join() {}

func TestBindAdapterSweepEvictsIdleConnection(t *testing.T) {
	info := (&BindInfo{IdleTime: time.Millisecond}).withDefaults()

	a := newBindAdapter(0, info)
	defer a.stop()

	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()

	var stopped bool
	handler := stopTrackingHandler{stopped: &stopped}
	c := newConnection(a.ids.allocate(), ConnTCP, serverSide, info, handler, nil, a)
	if !a.register(c) {
		t.Fatal("register should succeed")
	}

	var closedVia *Connection
	info.ConnCloseFunction = func(cc *Connection) { closedVia = cc }

	// Force the connection to look idle far beyond the cutoff.
	c.lastActivityMs.Store(0)

	beforeCount := a.conns.count()
	a.sweepOnce()

	if _, ok := a.conns.get(c.id); ok {
		t.Fatal("idle connection should have been evicted")
	}
	if !stopped {
		t.Fatal("evicted connection's handler should have been stopped")
	}
	if closedVia != c {
		t.Fatal("evicted connection's close hook should have fired exactly once")
	}
	if a.conns.count() != beforeCount-1 {
		t.Fatalf("live count = %d, want %d after eviction", a.conns.count(), beforeCount-1)
	}
}

func TestBindAdapterRegisterRespectsMaxConnNum(t *testing.T) {
	info := (&BindInfo{MaxConnNum: 1}).withDefaults()
	a := newBindAdapter(0, info)
	defer a.stop()

	_, s1 := net.Pipe()
	_, s2 := net.Pipe()
	defer s1.Close()
	defer s2.Close()

	c1 := newConnection(a.ids.allocate(), ConnTCP, s1, info, stopTrackingHandler{stopped: new(bool)}, nil, a)
	c2 := newConnection(a.ids.allocate(), ConnTCP, s2, info, stopTrackingHandler{stopped: new(bool)}, nil, a)

	if !a.register(c1) {
		t.Fatal("first registration should succeed")
	}
	if a.register(c2) {
		t.Fatal("second registration should fail once max_conn_num is reached")
	}
}
