package udpconn

import (
	"net/netip"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func mustAddr(t *testing.T, s string) netip.AddrPort {
	t.Helper()
	a, err := netip.ParseAddrPort(s)
	if err != nil {
		t.Fatalf("parse addr %q: %v", s, err)
	}
	return a
}

func TestRecvFromNonBlocking(t *testing.T) {
	srv, err := Listen(zerolog.Nop(), mustAddr(t, "127.0.0.1:0"), Config{})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Shutdown()

	buf := make([]byte, MaxDatagramSize)
	if _, _, ok, err := srv.RecvFrom(buf); ok || err != nil {
		t.Fatalf("expected no datagram available, got ok=%v err=%v", ok, err)
	}
}

func TestSendRecvLoopback(t *testing.T) {
	srv, err := Listen(zerolog.Nop(), mustAddr(t, "127.0.0.1:0"), Config{})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Shutdown()

	cli, err := Dial(zerolog.Nop(), netip.AddrPort{}, srv.LocalAddr(), Config{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cli.Shutdown()

	if _, err := cli.Send([]byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}

	buf := make([]byte, MaxDatagramSize)
	var n int
	var ok bool
	for i := 0; i < 100 && !ok; i++ {
		_, n, ok, err = srv.RecvFrom(buf)
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		if !ok {
			time.Sleep(time.Millisecond)
		}
	}
	if !ok {
		t.Fatal("timed out waiting for datagram")
	}
	if string(buf[:n]) != "ping" {
		t.Errorf("got %q, want %q", buf[:n], "ping")
	}
}
