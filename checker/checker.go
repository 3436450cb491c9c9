// Package checker implements the in-flight protocol checkers that sit
// between a raw connection's byte stream and the framed messages the
// rest of the runtime operates on.
package checker

import (
	"context"

	"github.com/flowrpc/flowrpc/iobuf"
)

// PacketStatus reports how much of a framed message CheckMessage found
// in the bytes handed to it.
type PacketStatus int

const (
	// PacketLess means the buffer does not yet hold a complete message;
	// the caller must wait for more bytes before calling again.
	PacketLess PacketStatus = iota
	// PacketFull means one or more complete messages were extracted.
	PacketFull
	// PacketErr means the bytes are not decodable and the connection
	// must be torn down.
	PacketErr
)

// ConnHandler is the per-connection protocol state machine: handshake,
// framing, and message dispatch. Implementations are not required to be
// safe for concurrent use; each connection owns exactly one handler.
type ConnHandler interface {
	// Init prepares the handler for a freshly accepted/connected conn.
	Init(ctx context.Context) error
	// DoHandshake performs any protocol handshake (e.g. HTTP Upgrade,
	// TLS already completed at the transport layer). ok is false while
	// more bytes are needed.
	DoHandshake(ctx context.Context, in *iobuf.Buffer) (ok bool, err error)
	// CheckMessage consumes as many complete messages as in currently
	// holds, appending them to out, and reports overall status.
	CheckMessage(ctx context.Context, in *iobuf.Buffer, out *[]*iobuf.Message) (PacketStatus, error)
	// EncodeStreamMessage frames an outgoing message for the wire.
	EncodeStreamMessage(msg *iobuf.Message) (*iobuf.Buffer, error)
	// Stop signals the handler to abandon any in-progress parse state.
	Stop()
	// Join blocks until any handler-owned goroutine has exited.
	Join()
}
