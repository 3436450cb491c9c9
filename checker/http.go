package checker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"sync"

	"github.com/valyala/fasthttp"

	"github.com/flowrpc/flowrpc/iobuf"
)

const (
	minRequestBytes  = len("GET / HTTP/1.1\r\n\r\n")
	headerEndMarker  = "\r\n\r\n"
	defaultMaxHeader = 64 * 1024
)

// ErrBodyStreamClosed is returned by a blocking body stream's Read once
// the owning connection closes before the body finished arriving.
var ErrBodyStreamClosed = errors.New("checker: connection closed while streaming body")

// bodyStream is the io.Reader handed to a handler when HTTPChecker is
// built in blocking mode: Read blocks until more bytes arrive, the body
// completes (io.EOF), or abort wakes it with ErrBodyStreamClosed.
type bodyStream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	chunks [][]byte
	done   bool
	err    error
}

func newBodyStream() *bodyStream {
	s := &bodyStream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *bodyStream) push(b []byte) {
	if len(b) == 0 {
		return
	}
	s.mu.Lock()
	s.chunks = append(s.chunks, append([]byte(nil), b...))
	s.cond.Broadcast()
	s.mu.Unlock()
}

// closeDone marks the body as fully received: a subsequent Read with no
// buffered bytes left returns io.EOF rather than blocking.
func (s *bodyStream) closeDone() {
	s.mu.Lock()
	s.done = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// abort wakes any blocked or future Read with err. Called from the
// checker's Stop, which the connection runs exactly once on close.
func (s *bodyStream) abort(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *bodyStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.chunks) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		if s.done {
			return 0, io.EOF
		}
		s.cond.Wait()
	}
	n := copy(p, s.chunks[0])
	if n == len(s.chunks[0]) {
		s.chunks = s.chunks[1:]
	} else {
		s.chunks[0] = s.chunks[0][n:]
	}
	return n, nil
}

// httpInflight mirrors one request's parse state across CheckMessage
// calls: headers parsed once, body accumulated (possibly chunked)
// across however many calls it takes for the bytes to arrive. In
// blocking mode the body is pushed into stream instead of buffered.
type httpInflight struct {
	header           fasthttp.RequestHeader
	expectContentLen int64 // remaining, non-chunked
	isChunked        bool
	chunkRemaining   int64 // bytes left in the current chunk, chunked mode
	chunkDone        bool
	body             []byte
	bodyBytes        int64 // total body bytes seen so far, buffered or streamed
	stream           *bodyStream
}

func (inf *httpInflight) appendBody(b []byte) {
	inf.bodyBytes += int64(len(b))
	if inf.stream != nil {
		inf.stream.push(b)
		return
	}
	inf.body = append(inf.body, b...)
}

// HTTPChecker implements ConnHandler for HTTP/1.x request framing: one
// Content-Length or chunked body per request, no pipelining reordering
// (matches the single-inflight-per-connection invariant the rest of the
// runtime assumes for unary RPCs). In blocking mode a request is
// early-emitted once its headers are complete, and the handler reads
// its still-arriving body from Message.Stream instead of Message.Buf.
type HTTPChecker struct {
	maxPacketSize int64 // 0 = unbounded body, header capped at defaultMaxHeader
	blocking      bool
	inflight      *httpInflight
}

// NewHTTPChecker builds a checker; maxPacketSize bounds both the header
// block and the body. With maxPacketSize 0 the body is unbounded and the
// header block is capped at 64 KiB (defaultMaxHeader). blocking selects early-emit
// streaming bodies (BindInfo.BlockingStreamBody) over fully-buffered ones.
func NewHTTPChecker(maxPacketSize int64, blocking bool) *HTTPChecker {
	return &HTTPChecker{maxPacketSize: maxPacketSize, blocking: blocking}
}

func (c *HTTPChecker) Init(ctx context.Context) error { return nil }

// DoHandshake is a no-op for plain HTTP: there is no handshake distinct
// from the request line itself.
func (c *HTTPChecker) DoHandshake(ctx context.Context, in *iobuf.Buffer) (bool, error) {
	return true, nil
}

// Stop aborts any body still streaming to a handler, waking a blocked
// Read with ErrBodyStreamClosed instead of leaving it hung forever.
func (c *HTTPChecker) Stop() {
	if c.inflight != nil && c.inflight.stream != nil {
		c.inflight.stream.abort(ErrBodyStreamClosed)
	}
}
func (c *HTTPChecker) Join() {}

// CheckMessage extracts as many complete HTTP requests as `in` holds.
func (c *HTTPChecker) CheckMessage(ctx context.Context, in *iobuf.Buffer, out *[]*iobuf.Message) (PacketStatus, error) {
	any := false
	for {
		if c.inflight == nil {
			status, err := c.parseHeader(in)
			if err != nil {
				return PacketErr, err
			}
			if status == PacketLess {
				if any {
					return PacketFull, nil
				}
				return PacketLess, nil
			}
			if c.inflight.stream != nil {
				// Early-emit: hand the handler the request now; the body
				// streams in afterward through Message.Stream.
				*out = append(*out, &iobuf.Message{Stream: c.inflight.stream})
				any = true
			}
		}

		status, msg, err := c.parseBody(in)
		if err != nil {
			return PacketErr, err
		}
		if status == PacketLess {
			if any {
				return PacketFull, nil
			}
			return PacketLess, nil
		}
		if msg != nil {
			*out = append(*out, msg)
			any = true
		}
		if in.Empty() {
			return PacketFull, nil
		}
	}
}

// parseHeader looks for the end-of-header marker, parses it with
// fasthttp's zero-allocation header scanner, and primes c.inflight.
func (c *HTTPChecker) parseHeader(in *iobuf.Buffer) (PacketStatus, error) {
	if in.ByteSize() < int64(minRequestBytes) {
		return PacketLess, nil
	}
	raw := in.Bytes() // flattens; header scan needs contiguous bytes anyway
	maxHeader := c.maxPacketSize
	if maxHeader <= 0 {
		maxHeader = defaultMaxHeader
	}
	end := bytes.Index(raw, []byte(headerEndMarker))
	if end < 0 {
		if int64(len(raw)) > maxHeader {
			return PacketErr, errors.New("checker: http header exceeds max packet size")
		}
		return PacketLess, nil
	}
	headerLen := end + len(headerEndMarker)
	if int64(headerLen) > maxHeader {
		return PacketErr, errors.New("checker: http header exceeds max packet size")
	}

	var h fasthttp.RequestHeader
	br := bufio.NewReader(bytes.NewReader(raw[:headerLen]))
	if err := h.Read(br); err != nil {
		return PacketErr, err
	}

	inf := &httpInflight{header: h}
	if c.blocking {
		inf.stream = newBodyStream()
	}
	te := h.Peek("Transfer-Encoding")
	cl := h.Peek("Content-Length")
	if len(te) > 0 && len(cl) > 0 {
		return PacketErr, errors.New("checker: chunked request must not carry Content-Length")
	}
	if len(te) > 0 {
		inf.isChunked = true
	} else if len(cl) > 0 {
		n, err := strconv.ParseInt(string(cl), 10, 64)
		if err != nil || n < 0 {
			return PacketErr, errors.New("checker: invalid Content-Length")
		}
		if c.maxPacketSize > 0 && n > c.maxPacketSize {
			return PacketErr, errors.New("checker: request body too large")
		}
		inf.expectContentLen = n
	}
	c.inflight = inf
	in.Skip(int64(headerLen))
	return PacketFull, nil
}

// parseBody drains the current inflight request's body from in,
// returning a complete Message once fully received.
func (c *HTTPChecker) parseBody(in *iobuf.Buffer) (PacketStatus, *iobuf.Message, error) {
	inf := c.inflight
	if !inf.isChunked {
		if inf.expectContentLen == 0 {
			return c.finish(inf)
		}
		avail := in.ByteSize()
		if avail == 0 {
			return PacketLess, nil, nil
		}
		take := inf.expectContentLen
		if avail < take {
			take = avail
		}
		chunk := in.Cut(take)
		inf.appendBody(chunk.Bytes())
		inf.expectContentLen -= take
		if inf.expectContentLen > 0 {
			return PacketLess, nil, nil
		}
		return c.finish(inf)
	}
	return c.parseChunked(in, inf)
}

// parseChunked implements a minimal HTTP chunked-transfer decoder: each
// call consumes whatever chunk data is currently available, but never a
// size line or a chunk's trailing CRLF before it has fully arrived, so a
// partial input is always safe to re-call with more bytes appended.
func (c *HTTPChecker) parseChunked(in *iobuf.Buffer, inf *httpInflight) (PacketStatus, *iobuf.Message, error) {
	for {
		if inf.chunkDone {
			return c.finish(inf)
		}
		if inf.chunkRemaining > 0 {
			avail := in.ByteSize()
			take := inf.chunkRemaining
			if avail < take {
				take = avail
			} else if avail < take+2 {
				take-- // hold back the last data byte until the trailing CRLF arrives
			}
			if take == 0 {
				return PacketLess, nil, nil
			}
			chunk := in.Cut(take)
			inf.appendBody(chunk.Bytes())
			inf.chunkRemaining -= take
			if inf.chunkRemaining > 0 {
				return PacketLess, nil, nil
			}
			// consume the trailing CRLF after the chunk data
			in.Skip(2)
			continue
		}
		// need a chunk-size line
		raw := in.Bytes()
		idx := bytes.Index(raw, []byte("\r\n"))
		if idx < 0 {
			if int64(len(raw)) > 64 {
				return PacketErr, nil, errors.New("checker: chunk size line too long")
			}
			return PacketLess, nil, nil
		}
		sizeLine := raw[:idx]
		if semi := bytes.IndexByte(sizeLine, ';'); semi >= 0 {
			sizeLine = sizeLine[:semi] // ignore chunk extensions
		}
		size, err := strconv.ParseInt(string(bytes.TrimSpace(sizeLine)), 16, 64)
		if err != nil || size < 0 {
			return PacketErr, nil, errors.New("checker: invalid chunk size")
		}
		if size == 0 {
			// final chunk: trailers end with a bare CRLF, no trailer
			// headers supported here.
			if in.ByteSize() < int64(idx)+4 {
				return PacketLess, nil, nil
			}
			in.Skip(int64(idx) + 4)
			inf.chunkDone = true
			continue
		}
		in.Skip(int64(idx) + 2)
		if c.maxPacketSize > 0 && inf.bodyBytes+size > c.maxPacketSize {
			return PacketErr, nil, errors.New("checker: chunked body too large")
		}
		inf.chunkRemaining = size
	}
}

// finish completes the current request. In blocking mode the request
// was already emitted (with its body streaming through inf.stream), so
// there's nothing left to hand back; otherwise this is where the
// fully-buffered Message is produced.
func (c *HTTPChecker) finish(inf *httpInflight) (PacketStatus, *iobuf.Message, error) {
	c.inflight = nil
	if inf.stream != nil {
		inf.stream.closeDone()
		return PacketFull, nil, nil
	}
	return PacketFull, &iobuf.Message{Buf: iobuf.New(inf.body)}, nil
}

// EncodeStreamMessage writes msg's payload back out framed as an
// HTTP/1.1 response with an explicit Content-Length.
func (c *HTTPChecker) EncodeStreamMessage(msg *iobuf.Message) (*iobuf.Buffer, error) {
	var h fasthttp.ResponseHeader
	h.SetStatusCode(200)
	h.SetContentLength(int(msg.Buf.ByteSize()))
	header := h.Header()
	out := iobuf.New(append([]byte(nil), header...))
	out.Append(msg.Buf.Bytes())
	return out, nil
}
