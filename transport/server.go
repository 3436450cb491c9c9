package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/flowrpc/flowrpc/filter"
	"github.com/flowrpc/flowrpc/internal/nlog"
	"github.com/flowrpc/flowrpc/iobuf"
	"github.com/flowrpc/flowrpc/netaddr"
)

// Server is the top-level bind/listen/stop lifecycle over one or more
// bindAdapters. accept_thread_num adapters share one listening socket
// and round-robin dispatch when SO_REUSEPORT isn't available; each gets
// its own listener (and so its own kernel accept queue) when it is.
type Server struct {
	info     *BindInfo
	adapters []*bindAdapter
	listeners []net.Listener

	mu        sync.Mutex
	listening bool
	stopped   bool
	nextRR    atomic.Int64
	eg        *errgroup.Group
}

// Bind validates info, applies defaults, and constructs the server's
// bind adapters without starting to listen yet.
func Bind(info *BindInfo) (*Server, error) {
	full := info.withDefaults()
	if full.AcceptThreadNum > 1 && !reusePortAvailable {
		return nil, fmt.Errorf("transport: accept_thread_num=%d requires SO_REUSEPORT, unavailable on this platform",
			full.AcceptThreadNum)
	}
	if full.NewConnHandler == nil {
		return nil, fmt.Errorf("transport: BindInfo.NewConnHandler is required")
	}
	s := &Server{info: full}
	for i := 0; i < full.AcceptThreadNum; i++ {
		s.adapters = append(s.adapters, newBindAdapter(uint32(i), full))
	}
	return s, nil
}

// Listen opens the listening socket(s) and starts accepting. With
// SO_REUSEPORT available, every adapter gets its own listener on the
// same address; otherwise exactly one listener is shared and accepted
// connections are dispatched round-robin (or via DispatchAcceptFunction).
func (s *Server) Listen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listening {
		return fmt.Errorf("transport: already listening")
	}
	addr := s.listenAddr()
	lc := listenConfig()

	nListeners := 1
	if reusePortAvailable {
		nListeners = len(s.adapters)
	}
	for i := 0; i < nListeners; i++ {
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("transport: listen %s: %w", addr, err)
		}
		s.listeners = append(s.listeners, ln)
	}

	s.eg = &errgroup.Group{}
	for i, ln := range s.listeners {
		ln, adapterForListener := ln, s.adapters[0]
		if reusePortAvailable {
			adapterForListener = s.adapters[i]
		}
		s.eg.Go(func() error {
			s.acceptLoop(ctx, ln, adapterForListener)
			return nil
		})
	}
	s.listening = true
	return nil
}

func (s *Server) listenAddr() string {
	return s.info.Addr.String()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, fixedAdapter *bindAdapter) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			return // listener closed: normal shutdown path
		}
		s.handleAccept(ctx, nc, fixedAdapter)
	}
}

func (s *Server) handleAccept(ctx context.Context, nc net.Conn, fixedAdapter *bindAdapter) {
	peer := netaddr.Parse(nc.RemoteAddr().String())
	if s.info.AcceptFunction != nil && !s.info.AcceptFunction(peer) {
		_ = nc.Close()
		return
	}

	adapter := fixedAdapter
	if !reusePortAvailable {
		adapter = s.pickAdapter()
	}

	if err := setConnSockOpts(nc, s.info.CustomSetSocketOpt); err != nil {
		nlog.Warningf("transport: socket opts on accepted conn failed: %v", err)
	}

	id := adapter.ids.allocate()
	handler := s.info.NewConnHandler(s.info)
	c := newConnection(id, ConnTCP, nc, s.info, handler, s.onMessage, adapter)

	if !adapter.register(c) {
		nlog.Warningf("transport: max_conn_num reached, rejecting new connection")
		_ = nc.Close()
		return
	}
	if s.info.ConnEstablishFunction != nil {
		s.info.ConnEstablishFunction(c)
	}
	c.run(ctx)
}

func (s *Server) pickAdapter() *bindAdapter {
	if s.info.DispatchAcceptFunction != nil {
		idx := s.info.DispatchAcceptFunction(s.info, len(s.adapters))
		if idx >= 0 && idx < len(s.adapters) {
			return s.adapters[idx]
		}
	}
	idx := int(s.nextRR.Add(1)-1) % len(s.adapters)
	return s.adapters[idx]
}

// onMessage runs the server-filter POST_RECV point, then overload
// control, before handing surviving messages to MsgHandleFunction.
func (s *Server) onMessage(c *Connection, msgs []*iobuf.Message) {
	var admitted []*iobuf.Message
	for _, m := range msgs {
		if s.info.ServerFilters != nil {
			status := s.info.ServerFilters.Run(filter.ServerPostRecvMsg, m)
			if status == filter.StatusReject {
				continue
			}
		}
		if s.info.Overload != nil && s.info.ServiceMethodOf != nil {
			svc, method := s.info.ServiceMethodOf(m)
			if !s.info.Overload.BeforeSchedule(context.Background(), svc, method) {
				continue
			}
		}
		admitted = append(admitted, m)
	}
	if len(admitted) == 0 {
		return
	}
	if s.info.MsgHandleFunction != nil && !s.info.MsgHandleFunction(c, admitted) {
		c.stopAsync() // runs on c's read loop: a synchronous Stop would wait on itself
	}
}

// SendMsg routes a response to the connection identified by connID,
// decoding the owning adapter's index from its high bits; cross-adapter
// routing only ever happens through this decode.
func (s *Server) SendMsg(ctx context.Context, connIDValue uint64, buf *iobuf.Buffer) error {
	id := connID(connIDValue)
	adapter := s.adapters[id.adapterIdx()]
	c, ok := adapter.conns.get(id)
	if !ok {
		return fmt.Errorf("transport: connID %d not found", connIDValue)
	}
	return c.Send(ctx, buf)
}

// StopListen disables the listener(s); if cleanConn, every live
// connection also stops accepting reads so it can drain outstanding
// responses without taking new input.
func (s *Server) StopListen(cleanConn bool) {
	s.mu.Lock()
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
	s.mu.Unlock()
	if cleanConn {
		for _, a := range s.adapters {
			a.stopAcceptingReads()
		}
	}
}

// Stop halts the listener and every live connection on every adapter.
func (s *Server) Stop() {
	s.StopListen(false)
	if s.eg != nil {
		_ = s.eg.Wait() // acceptLoop never returns a non-nil error
	}
	for _, a := range s.adapters {
		a.stop()
	}
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// Destroy releases the server's adapter tables. Must follow Stop.
func (s *Server) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		panic("transport: Destroy called before Stop")
	}
	s.adapters = nil
}
