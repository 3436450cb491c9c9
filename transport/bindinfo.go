// Package transport implements the runtime's connection layer: accept
// path, bind adapters, the sharded connection manager, and the per-
// connection send/receive loops that sit between a raw net.Conn and a
// checker.ConnHandler.
package transport

import (
	"time"

	"github.com/flowrpc/flowrpc/checker"
	"github.com/flowrpc/flowrpc/filter"
	"github.com/flowrpc/flowrpc/iobuf"
	"github.com/flowrpc/flowrpc/netaddr"
	"github.com/flowrpc/flowrpc/overload"
)

const (
	defaultMaxPacketSize     = 10_000_000
	defaultRecvBufferSize    = 8_192
	defaultSendQueueTimeout  = 3 * time.Second
	defaultMaxConnNum        = 10_000
	defaultAcceptThreadNum   = 1
)

// BindInfo is the configuration a caller hands to Bind: network/address,
// resource limits, and the hook functions the accept path and
// connection lifecycle consult.
type BindInfo struct {
	Protocol string
	Network  string // "tcp", "udp", or "tcp,udp"
	Addr     netaddr.Address
	UnixPath string

	MaxPacketSize     int64
	RecvBufferSize    int
	SendQueueCapacity int // 0 = unbounded
	SendQueueTimeout  time.Duration
	MaxConnNum        int64
	IdleTime          time.Duration // 0 disables idle eviction
	AcceptThreadNum   int
	HasStreamRPC      bool

	// BlockingStreamBody controls whether the HTTP in-flight parser
	// early-emits a request once its headers are complete, handing the
	// still-arriving body to the handler as a blocking stream, rather
	// than buffering the whole body before the message is enqueued. An
	// explicit bit instead of ambient context, since this runtime has no
	// implicit per-goroutine execution context to infer it from.
	// Consulted by a NewConnHandler that builds a checker.HTTPChecker;
	// ignored by handlers that don't care about it.
	BlockingStreamBody bool

	// NewConnHandler constructs one checker.ConnHandler per accepted or
	// dialed connection. It receives the fully-defaulted BindInfo so it
	// can consult fields like BlockingStreamBody or MaxPacketSize.
	NewConnHandler func(info *BindInfo) checker.ConnHandler

	// MsgHandleFunction is the business dispatch called once a message
	// has cleared framing, the server-filter chain, and overload
	// control. A false return is treated like a framing error: the
	// connection is closed.
	MsgHandleFunction func(c *Connection, msgs []*iobuf.Message) bool

	// ServerFilters runs at filter.ServerPostRecvMsg before overload
	// control is consulted. It is not run on the send path (SendMsg runs
	// no filter point). Nil disables server-side filtering.
	ServerFilters *filter.Chain
	// Overload, if set, gates every inbound message through
	// BeforeSchedule before MsgHandleFunction runs.
	Overload *overload.Controller
	// ServiceMethodOf extracts the (service, method) key Overload
	// should check; required if Overload is set.
	ServiceMethodOf func(msg *iobuf.Message) (service, method string)

	AcceptFunction         func(addr netaddr.Address) bool
	DispatchAcceptFunction func(info *BindInfo, nAdapters int) int
	ConnEstablishFunction  func(c *Connection)
	ConnCloseFunction      func(c *Connection)
	CustomSetSocketOpt     func(fd uintptr) error
	CustomSetAcceptSockOpt func(fd uintptr) error
}

func (b *BindInfo) withDefaults() *BindInfo {
	cp := *b
	if cp.MaxPacketSize <= 0 {
		cp.MaxPacketSize = defaultMaxPacketSize
	}
	if cp.RecvBufferSize <= 0 {
		cp.RecvBufferSize = defaultRecvBufferSize
	}
	if cp.SendQueueTimeout <= 0 {
		cp.SendQueueTimeout = defaultSendQueueTimeout
	}
	if cp.MaxConnNum <= 0 {
		cp.MaxConnNum = defaultMaxConnNum
	}
	if cp.AcceptThreadNum <= 0 {
		cp.AcceptThreadNum = defaultAcceptThreadNum
	}
	return &cp
}

// outMsg is a queued outbound write: an already-framed buffer plus
// whatever the caller wants notified once it's flushed.
type outMsg struct {
	buf  *iobuf.Buffer
	done chan error
}
