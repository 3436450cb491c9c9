package transport

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/flowrpc/flowrpc/checker"
	"github.com/flowrpc/flowrpc/iobuf"
)

func newTestConnection(t *testing.T, info *BindInfo, handler checker.ConnHandler, onMessage func(*Connection, []*iobuf.Message)) (*Connection, net.Conn) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	full := info.withDefaults()
	c := newConnection(makeConnID(0, 1), ConnTCP, serverSide, full, handler, onMessage, nil)
	return c, clientSide
}

func TestConnectionStopIsSynchronousAndIdempotent(t *testing.T) {
	c, clientSide := newTestConnection(t, &BindInfo{}, lineHandler{}, nil)
	defer clientSide.Close()
	c.run(context.Background())

	c.Stop()
	c.Stop() // must not panic or block a second time

	select {
	case <-c.stopCh.Listen():
	default:
		t.Fatal("stopCh should be closed after Stop")
	}
}

func TestConnectionDeliversFramedMessages(t *testing.T) {
	received := make(chan string, 4)
	onMessage := func(_ *Connection, msgs []*iobuf.Message) {
		for _, m := range msgs {
			received <- string(m.Buf.Bytes())
		}
	}
	c, clientSide := newTestConnection(t, &BindInfo{}, lineHandler{}, onMessage)
	defer c.Stop()
	defer clientSide.Close()
	c.run(context.Background())

	if _, err := clientSide.Write([]byte("one\ntwo\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case line := <-received:
			got[line] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for framed message")
		}
	}
	if !got["one\n"] || !got["two\n"] {
		t.Fatalf("got %v, want one\\n and two\\n", got)
	}
}

func TestConnectionSendWritesToPeer(t *testing.T) {
	c, clientSide := newTestConnection(t, &BindInfo{}, lineHandler{}, nil)
	defer c.Stop()
	defer clientSide.Close()
	c.run(context.Background())

	if err := c.Send(context.Background(), iobuf.New([]byte("resp\n"))); err != nil {
		t.Fatalf("Send: %v", err)
	}

	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := clientSide.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte("resp\n")) {
		t.Fatalf("peer read %q, want %q", buf[:n], "resp\n")
	}
}

func TestConnectionSendAfterStopFails(t *testing.T) {
	c, clientSide := newTestConnection(t, &BindInfo{}, lineHandler{}, nil)
	defer clientSide.Close()
	c.run(context.Background())
	c.Stop()

	if err := c.Send(context.Background(), iobuf.New([]byte("x\n"))); err == nil {
		t.Fatal("Send after Stop should fail")
	}
}
