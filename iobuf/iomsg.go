package iobuf

import (
	"context"
	"io"
)

// Message is the tuple passed across the connection/handler boundary:
// an owning context, the non-contiguous payload, and (for UDP) the peer
// address plus an optional sequence id used to match datagrams to sends.
type Message struct {
	Ctx     context.Context
	Buf     *Buffer
	PeerTag string // formatted peer address, empty for connection-oriented transports
	SeqID   int64  // 0 means "not set"

	// Stream is set instead of Buf when a checker early-emits a message
	// before its body has fully arrived: reads block until more bytes
	// arrive, the body completes (io.EOF), or the owning connection
	// closes (a non-EOF error wakes the blocked reader).
	Stream io.Reader
}
