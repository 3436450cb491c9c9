package checker

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/flowrpc/flowrpc/iobuf"
)

func TestHTTPCheckerBuffersBodyWhenNotBlocking(t *testing.T) {
	c := NewHTTPChecker(0, false)
	req := "POST /x HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"
	in := iobuf.New([]byte(req))

	var msgs []*iobuf.Message
	status, err := c.CheckMessage(context.Background(), in, &msgs)
	if err != nil {
		t.Fatalf("CheckMessage: %v", err)
	}
	if status != PacketFull {
		t.Fatalf("status = %v, want PacketFull", status)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Stream != nil {
		t.Fatal("non-blocking mode should not set Stream")
	}
	if string(msgs[0].Buf.Bytes()) != "hello" {
		t.Fatalf("body = %q, want %q", msgs[0].Buf.Bytes(), "hello")
	}
}

func TestHTTPCheckerEarlyEmitsInBlockingMode(t *testing.T) {
	c := NewHTTPChecker(0, true)
	header := "POST /x HTTP/1.1\r\nContent-Length: 5\r\n\r\n"
	in := iobuf.New([]byte(header))

	var msgs []*iobuf.Message
	status, err := c.CheckMessage(context.Background(), in, &msgs)
	if err != nil {
		t.Fatalf("CheckMessage: %v", err)
	}
	if status != PacketFull {
		t.Fatalf("status = %v, want PacketFull (header complete)", status)
	}
	if len(msgs) != 1 || msgs[0].Stream == nil {
		t.Fatalf("blocking mode should early-emit exactly one message with a Stream, got %+v", msgs)
	}

	readDone := make(chan []byte, 1)
	readErr := make(chan error, 1)
	go func() {
		buf, err := io.ReadAll(msgs[0].Stream)
		if err != nil {
			readErr <- err
			return
		}
		readDone <- buf
	}()

	select {
	case <-readDone:
		t.Fatal("Stream should still be blocked: body hasn't arrived yet")
	case <-time.After(50 * time.Millisecond):
	}

	bodyBuf := iobuf.New([]byte("hello"))
	var more []*iobuf.Message
	status, err = c.CheckMessage(context.Background(), bodyBuf, &more)
	if err != nil {
		t.Fatalf("CheckMessage (body): %v", err)
	}
	if status != PacketFull {
		t.Fatalf("status = %v, want PacketFull", status)
	}
	if len(more) != 0 {
		t.Fatalf("blocking mode should not re-emit a second message for the same request, got %+v", more)
	}

	select {
	case got := <-readDone:
		if !bytes.Equal(got, []byte("hello")) {
			t.Fatalf("streamed body = %q, want %q", got, "hello")
		}
	case err := <-readErr:
		t.Fatalf("Stream read failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the streamed body")
	}
}

func TestHTTPCheckerStopAbortsBlockedReader(t *testing.T) {
	c := NewHTTPChecker(0, true)
	header := "POST /x HTTP/1.1\r\nContent-Length: 5\r\n\r\n"
	in := iobuf.New([]byte(header))

	var msgs []*iobuf.Message
	if _, err := c.CheckMessage(context.Background(), in, &msgs); err != nil {
		t.Fatalf("CheckMessage: %v", err)
	}
	stream := msgs[0].Stream

	errc := make(chan error, 1)
	go func() {
		_, err := stream.Read(make([]byte, 16))
		errc <- err
	}()

	time.Sleep(50 * time.Millisecond)
	c.Stop()

	select {
	case err := <-errc:
		if err != ErrBodyStreamClosed {
			t.Fatalf("err = %v, want ErrBodyStreamClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop should have woken the blocked Read")
	}
}
