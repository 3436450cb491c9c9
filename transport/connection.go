package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowrpc/flowrpc/checker"
	"github.com/flowrpc/flowrpc/internal/mono"
	"github.com/flowrpc/flowrpc/internal/nlog"
	"github.com/flowrpc/flowrpc/internal/xsync"
	"github.com/flowrpc/flowrpc/iobuf"
	"github.com/flowrpc/flowrpc/netaddr"
)

// ConnType distinguishes the three connection kinds the runtime
// supports. Split out from the protocol (network) since a UDS
// connection is still TCP-long in every way that matters here.
type ConnType int

const (
	ConnTCP ConnType = iota
	ConnUDP
	ConnUDS
)

var errConnClosed = errors.New("transport: connection closed")

// connReaper releases the connection-manager bookkeeping (shard-map entry,
// live-slot count) that a bindAdapter holds for a connection. Connection
// calls it exactly once, from inside Stop, regardless of which path
// triggered the stop.
type connReaper interface {
	reap(c *Connection)
}

// Connection is one accepted or dialed connection: lifecycle, addresses,
// send queue, and the checker.ConnHandler that frames its bytes. Once
// Stop/Join returns, no callback associated with it fires again.
type Connection struct {
	id     connID
	typ    ConnType
	conn   net.Conn
	local  netaddr.Address
	peer   netaddr.Address
	info   *BindInfo
	handler checker.ConnHandler
	reaper  connReaper

	onMessage func(c *Connection, msgs []*iobuf.Message)

	lastActivityMs atomic.Int64
	readDisabled   atomic.Bool
	sendCh         chan outMsg
	stopCh         xsync.StopCh
	wg             sync.WaitGroup
	stopOnce       sync.Once
}

func newConnection(id connID, typ ConnType, nc net.Conn, info *BindInfo, handler checker.ConnHandler,
	onMessage func(c *Connection, msgs []*iobuf.Message), reaper connReaper) *Connection {
	c := &Connection{
		id: id, typ: typ, conn: nc, info: info, handler: handler, onMessage: onMessage, reaper: reaper,
	}
	c.local = netaddr.Parse(nc.LocalAddr().String())
	c.peer = netaddr.Parse(nc.RemoteAddr().String())
	c.sendCh = make(chan outMsg, queueCapacity(info.SendQueueCapacity))
	c.stopCh.Init()
	c.lastActivityMs.Store(mono.MilliTime())
	return c
}

func queueCapacity(n int) int {
	if n <= 0 {
		return 256
	}
	return n
}

// ID exposes the connection's process-wide identifier.
func (c *Connection) ID() uint64 { return uint64(c.id) }

// Peer returns the remote address.
func (c *Connection) Peer() netaddr.Address { return c.peer }

// LastActivityMs is read by the bind adapter's idle sweep.
func (c *Connection) LastActivityMs() int64 { return c.lastActivityMs.Load() }

func (c *Connection) touch() { c.lastActivityMs.Store(mono.MilliTime()) }

// run starts the read and write loops; returns once both goroutines have
// been launched (not once they exit — use Join for that).
func (c *Connection) run(ctx context.Context) {
	if err := c.handler.Init(ctx); err != nil {
		nlog.Warningf("transport: conn %d handler Init failed: %v", c.id, err)
		c.Stop()
		return
	}
	c.wg.Add(2)
	go c.readLoop(ctx)
	go c.writeLoop()
}

func (c *Connection) readLoop(ctx context.Context) {
	defer c.wg.Done()
	buf := iobuf.New()
	raw := make([]byte, c.info.RecvBufferSize)
	handshaked := false
	for {
		n, err := c.conn.Read(raw)
		if n > 0 {
			chunk := append([]byte(nil), raw[:n]...)
			buf.Append(chunk)
			c.touch()
		}
		if err != nil {
			if c.readDisabled.Load() {
				return // StopListen(cleanConn=true): reads deliberately cut off
			}
			c.stopAsync()
			return
		}
		if !handshaked {
			ok, herr := c.handler.DoHandshake(ctx, buf)
			if herr != nil {
				nlog.Warningf("transport: conn %d handshake failed: %v", c.id, herr)
				c.stopAsync()
				return
			}
			if !ok {
				continue // need more bytes
			}
			handshaked = true
		}
		for {
			var msgs []*iobuf.Message
			status, cerr := c.handler.CheckMessage(ctx, buf, &msgs)
			if cerr != nil || status == checker.PacketErr {
				nlog.Warningf("transport: conn %d framing error: %v", c.id, cerr)
				c.stopAsync()
				return
			}
			if len(msgs) > 0 && c.onMessage != nil {
				c.onMessage(c, msgs)
			}
			if status != checker.PacketFull {
				break
			}
		}

		select {
		case <-c.stopCh.Listen():
			return
		default:
		}
	}
}

func (c *Connection) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case m, ok := <-c.sendCh:
			if !ok {
				return
			}
			_, err := m.buf.WriteTo(c.conn)
			if m.done != nil {
				m.done <- err
			}
			if err != nil {
				c.stopAsync()
				return
			}
			c.touch()
		case <-c.stopCh.Listen():
			return
		}
	}
}

// Send enqueues buf for writing and waits for the write. It fails with
// errConnClosed if the connection has been stopped, with a send-queue
// timeout error if the queue stays full past SendQueueTimeout, or with
// ctx's error if ctx ends before buf is queued.
func (c *Connection) Send(ctx context.Context, buf *iobuf.Buffer) error {
	done := make(chan error, 1)
	timer := time.NewTimer(c.info.SendQueueTimeout)
	defer timer.Stop()
	select {
	case c.sendCh <- outMsg{buf: buf, done: done}:
	case <-c.stopCh.Listen():
		return errConnClosed
	case <-timer.C:
		return errors.New("transport: send queue timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-c.stopCh.Listen():
		return errConnClosed
	}
}

// stopAsync triggers Stop from within the read or write loop itself.
// Stop's Join waits on c.wg, which this goroutine is still a member of
// (its deferred wg.Done hasn't run yet), so calling Stop synchronously
// here would deadlock; running it on its own goroutine lets this loop
// return and release its wg slot first.
func (c *Connection) stopAsync() {
	go c.Stop()
}

func (c *Connection) closeSocket() {
	_ = c.conn.Close()
}

// disableRead stops the read loop from accepting further input by
// forcing its blocked Read to return, while leaving the write side
// (and send queue) intact so outstanding responses can still drain.
func (c *Connection) disableRead() {
	c.readDisabled.Store(true)
	_ = c.conn.SetReadDeadline(time.Unix(1, 0))
}

// Stop synchronously halts the connection: the handler is stopped, the
// socket is closed, the connection manager's bookkeeping for it is
// released, and ConnCloseFunction runs exactly once — regardless of
// whether Stop was reached via peer-initiated close, idle eviction, or
// an explicit caller. Both loop goroutines are guaranteed to have
// exited before Stop returns. Safe to call more than once.
func (c *Connection) Stop() {
	c.stopOnce.Do(func() {
		c.handler.Stop()
		c.stopCh.Close()
		c.closeSocket()
		if c.reaper != nil {
			c.reaper.reap(c)
		}
		if c.info.ConnCloseFunction != nil {
			c.info.ConnCloseFunction(c)
		}
	})
	c.Join()
}

// Join blocks until the read and write loops have both exited.
func (c *Connection) Join() {
	c.wg.Wait()
	c.handler.Join()
}
