package transport

import (
	"time"

	"github.com/flowrpc/flowrpc/hk"
	"github.com/flowrpc/flowrpc/internal/mono"
	"github.com/flowrpc/flowrpc/internal/nlog"
)

// bindAdapter owns one reactor-equivalent's worth of state: its own
// connection manager and connID allocator, plus (when SO_REUSEPORT is
// available) its own listening socket. A connection is owned by exactly
// one adapter for its entire life; cross-adapter routing only ever
// happens by decoding the adapter index out of a connID.
type bindAdapter struct {
	idx   uint32
	info  *BindInfo
	conns *connManager
	ids   *connIDAllocator
	hk    *hk.Housekeeper
}

func newBindAdapter(idx uint32, info *BindInfo) *bindAdapter {
	a := &bindAdapter{
		idx:   idx,
		info:  info,
		conns: newConnManager(info.MaxConnNum),
		ids:   newConnIDAllocator(idx),
	}
	if info.IdleTime > 0 {
		a.hk = hk.New(time.Second)
		go a.hk.Run()
		a.hk.Register("idle-sweep", time.Second, a.sweepOnce)
	}
	return a
}

// sweepOnce is the hk task body: walk every live connection and stop
// any whose last activity exceeds info.IdleTime. Stop/Join is
// synchronous, so a connection mid-dispatch is never torn down from
// underneath a frame in flight.
func (a *bindAdapter) sweepOnce() (time.Duration, bool) {
	now := mono.MilliTime()
	cutoffMs := a.info.IdleTime.Milliseconds()
	a.conns.forEach(func(c *Connection) {
		if now-c.LastActivityMs() > cutoffMs {
			nlog.Infof("transport: evicting idle connection %d on adapter %d", c.ID(), a.idx)
			a.removeAndStop(c)
		}
	})
	return time.Second, true
}

// register reserves a live-connection slot and, if granted, inserts c
// into this adapter's connection manager. Returns false if the adapter
// is already at max_conn_num.
func (a *bindAdapter) register(c *Connection) bool {
	if !a.conns.reserve() {
		return false
	}
	a.conns.insert(c)
	return true
}

// reap releases c's connection-manager bookkeeping. Called by Connection
// itself, from inside Stop, exactly once per connection.
func (a *bindAdapter) reap(c *Connection) {
	a.conns.remove(c.id)
	a.conns.release()
}

func (a *bindAdapter) removeAndStop(c *Connection) {
	c.Stop()
}

// stopAcceptingReads disables further reads on every live connection
// (used by StopListen(cleanConn=true)) without tearing them down, so
// in-flight responses can still drain.
func (a *bindAdapter) stopAcceptingReads() {
	a.conns.forEach(func(c *Connection) { c.disableRead() })
}

// stop tears down every live connection on this adapter and its
// housekeeper.
func (a *bindAdapter) stop() {
	if a.hk != nil {
		a.hk.Stop()
	}
	a.conns.forEach(func(c *Connection) {
		a.removeAndStop(c)
	})
}
