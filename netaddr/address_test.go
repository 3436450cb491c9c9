package netaddr

import "testing"

func TestRoundTrip(t *testing.T) {
	cases := []string{
		"1.2.3.4:80",
		"127.0.0.1:1357",
		"[::1]:80",
		"[1:2:3:4:5:6:7:8]:1357",
	}
	for _, s := range cases {
		a := Parse(s)
		if a.Typ == Unknown {
			t.Fatalf("Parse(%q) = Unknown, want a valid address", s)
		}
		if got := a.String(); !Parse(got).Equal(a) {
			t.Fatalf("round trip mismatch for %q: got %q", s, got)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", "not-an-address", "1.2.3.4:notaport", "1.2.3.4:99999"} {
		if a := Parse(s); a.Typ != Unknown {
			t.Fatalf("Parse(%q).Typ = %v, want Unknown", s, a.Typ)
		}
	}
}

// S3: "[1:2:3:4:5:6:7:8]:1357" -> IPv6, port 1357, 28-byte SockAddr.
func TestS3IPv6(t *testing.T) {
	a := Parse("[1:2:3:4:5:6:7:8]:1357")
	if a.Typ != IPv6 {
		t.Fatalf("Typ = %v, want IPv6", a.Typ)
	}
	if a.Port != 1357 {
		t.Fatalf("Port = %d, want 1357", a.Port)
	}
	sa, err := a.SockAddr()
	if err != nil {
		t.Fatal(err)
	}
	if len(sa) != 28 {
		t.Fatalf("len(SockAddr()) = %d, want 28", len(sa))
	}
	if got := Parse(a.String()); !got.Equal(a) {
		t.Fatalf("round trip: got %+v, want %+v", got, a)
	}
}

func TestUDS(t *testing.T) {
	a := Parse("/tmp/flowrpc.sock")
	if a.Typ != UDS {
		t.Fatalf("Typ = %v, want UDS", a.Typ)
	}
	if a.String() != "/tmp/flowrpc.sock" {
		t.Fatalf("String() = %q", a.String())
	}
}
