package conn

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/r2northstar/kcp2k/internal/proto"
)

var testAddr = netip.MustParseAddrPort("127.0.0.1:0")

func testConfig() *proto.Config {
	cfg := proto.DefaultConfig()
	cfg.Timeout = 200 * time.Millisecond
	return &cfg
}

// harness wires a client and a server Connection together with queued
// transmit closures, so tests can drive both sides' ticks under a shared
// virtual clock without touching a real socket.
type harness struct {
	t *testing.T

	toClient [][]byte
	toServer [][]byte

	client *Connection
	server *Connection

	clientEvents []proto.Event
	serverEvents []proto.Event
}

func newHarness(t *testing.T, cfg *proto.Config) *harness {
	t.Helper()
	h := &harness{t: t}

	h.client = New(1, proto.ModeClient, testAddr, 0, cfg, func(b []byte) error {
		h.toServer = append(h.toServer, append([]byte(nil), b...))
		return nil
	}, func(id uint64, ev proto.Event) {
		h.clientEvents = append(h.clientEvents, ev)
	}, zerolog.Nop(), nil)

	h.server = New(2, proto.ModeServer, testAddr, proto.GenerateCookie(), cfg, func(b []byte) error {
		h.toClient = append(h.toClient, append([]byte(nil), b...))
		return nil
	}, func(id uint64, ev proto.Event) {
		h.serverEvents = append(h.serverEvents, ev)
	}, zerolog.Nop(), nil)

	return h
}

// run advances the virtual clock in n steps of step, delivering any
// queued datagrams before each side's incoming tick.
func (h *harness) run(n int, step time.Duration, now time.Time) time.Time {
	for i := 0; i < n; i++ {
		now = now.Add(step)

		toServer := h.toServer
		h.toServer = nil
		for _, d := range toServer {
			h.server.RawInput(now, d)
		}

		toClient := h.toClient
		h.toClient = nil
		for _, d := range toClient {
			h.client.RawInput(now, d)
		}

		h.client.TickIncoming(now)
		h.server.TickIncoming(now)
		h.client.TickOutgoing(now)
		h.server.TickOutgoing(now)
	}
	return now
}

func (h *harness) hasEvent(events []proto.Event, typ proto.EventType) bool {
	for _, ev := range events {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

func TestHandshakeReachesAuthenticated(t *testing.T) {
	h := newHarness(t, testConfig())
	now := time.Now()

	if err := h.client.SendHello(); err != nil {
		t.Fatalf("send hello: %v", err)
	}

	h.run(20, 10*time.Millisecond, now)

	if h.client.State() != proto.StateAuthenticated {
		t.Fatalf("client state = %v, want Authenticated", h.client.State())
	}
	if h.server.State() != proto.StateAuthenticated {
		t.Fatalf("server state = %v, want Authenticated", h.server.State())
	}
	if !h.hasEvent(h.clientEvents, proto.OnConnected) {
		t.Error("client never fired OnConnected")
	}
	if !h.hasEvent(h.serverEvents, proto.OnConnected) {
		t.Error("server never fired OnConnected")
	}
	if h.client.Cookie() == 0 || h.client.Cookie() != h.server.Cookie() {
		t.Errorf("cookie not adopted consistently: client=%d server=%d", h.client.Cookie(), h.server.Cookie())
	}
}

func authenticate(t *testing.T, h *harness, now time.Time) time.Time {
	t.Helper()
	if err := h.client.SendHello(); err != nil {
		t.Fatalf("send hello: %v", err)
	}
	now = h.run(20, 10*time.Millisecond, now)
	if h.client.State() != proto.StateAuthenticated || h.server.State() != proto.StateAuthenticated {
		t.Fatalf("handshake did not complete: client=%v server=%v", h.client.State(), h.server.State())
	}
	h.clientEvents = nil
	h.serverEvents = nil
	return now
}

func TestReliableDataDeliveredInOrder(t *testing.T) {
	h := newHarness(t, testConfig())
	now := authenticate(t, h, time.Now())

	msgs := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, m := range msgs {
		if err := h.client.SendData(m, proto.ChannelReliable); err != nil {
			t.Fatalf("send data: %v", err)
		}
	}

	h.run(50, 10*time.Millisecond, now)

	var got [][]byte
	for _, ev := range h.serverEvents {
		if ev.Type == proto.OnData && ev.Channel == proto.ChannelReliable {
			got = append(got, ev.Data)
		}
	}
	if len(got) != len(msgs) {
		t.Fatalf("got %d reliable messages, want %d", len(got), len(msgs))
	}
	for i, m := range msgs {
		if string(got[i]) != string(m) {
			t.Errorf("message %d: got %q, want %q", i, got[i], m)
		}
	}
}

func TestUnreliableDataDelivered(t *testing.T) {
	h := newHarness(t, testConfig())
	now := authenticate(t, h, time.Now())

	if err := h.client.SendData([]byte("ping"), proto.ChannelUnreliable); err != nil {
		t.Fatalf("send data: %v", err)
	}
	h.run(5, 10*time.Millisecond, now)

	if !h.hasEvent(h.serverEvents, proto.OnData) {
		t.Error("server never received unreliable data")
	}
}

func TestEmptySendRejected(t *testing.T) {
	h := newHarness(t, testConfig())

	if err := h.client.SendData(nil, proto.ChannelReliable); !errors.Is(err, proto.ErrInvalidSend) {
		t.Errorf("send nil reliable: got %v, want ErrInvalidSend", err)
	}
	if err := h.client.SendData([]byte{}, proto.ChannelUnreliable); !errors.Is(err, proto.ErrInvalidSend) {
		t.Errorf("send empty unreliable: got %v, want ErrInvalidSend", err)
	}
}

func TestSendAfterDisconnectRejected(t *testing.T) {
	h := newHarness(t, testConfig())
	h.client.Disconnect()

	if err := h.client.SendData([]byte("x"), proto.ChannelReliable); !errors.Is(err, proto.ErrConnectionClosed) {
		t.Errorf("send after disconnect: got %v, want ErrConnectionClosed", err)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	now := authenticate(t, h, time.Now())
	_ = now

	h.client.Disconnect()
	h.client.Disconnect()
	h.client.Disconnect()

	n := 0
	for _, ev := range h.clientEvents {
		if ev.Type == proto.OnDisconnected {
			n++
		}
	}
	if n != 1 {
		t.Errorf("OnDisconnected fired %d times, want exactly 1", n)
	}
}

func TestCookieMismatchAfterAuthenticatedIsRejected(t *testing.T) {
	h := newHarness(t, testConfig())
	now := authenticate(t, h, time.Now())

	spoofed := proto.EncodeUnreliableFrame(h.server.Cookie()+1, proto.UnreliableData, []byte("spoofed"))
	h.server.RawInput(now, spoofed)

	if h.server.State() != proto.StateDisconnected {
		t.Errorf("server state after cookie mismatch = %v, want Disconnected", h.server.State())
	}
	if !h.hasEvent(h.serverEvents, proto.OnError) {
		t.Error("server never fired OnError on cookie mismatch")
	}
}

func TestUnreliableDataBeforeAuthenticatedFails(t *testing.T) {
	h := newHarness(t, testConfig())

	frame := proto.EncodeUnreliableFrame(h.server.Cookie(), proto.UnreliableData, []byte("early"))
	h.server.RawInput(time.Now(), frame)

	if h.server.State() != proto.StateDisconnected {
		t.Errorf("server state = %v, want Disconnected", h.server.State())
	}
}

func TestUnknownUnreliableHeaderFails(t *testing.T) {
	h := newHarness(t, testConfig())
	now := authenticate(t, h, time.Now())

	frame := proto.EncodeUnreliableFrame(h.server.Cookie(), proto.UnreliableHeader(99), nil)
	h.server.RawInput(now, frame)

	if h.server.State() != proto.StateDisconnected {
		t.Errorf("server state = %v, want Disconnected", h.server.State())
	}
	if !h.hasEvent(h.serverEvents, proto.OnError) {
		t.Error("server never fired OnError on unknown unreliable header")
	}
}

func TestInactivityTimeoutDisconnects(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg)
	now := authenticate(t, h, time.Now())

	// Shorten the timeout only after the handshake: authenticate's 200ms
	// loop goes quiet once the Hellos are acknowledged, which would already
	// exceed 30ms. Both connections read cfg through the shared pointer.
	cfg.Timeout = 30 * time.Millisecond

	// Advance time well past the timeout without delivering any datagrams.
	now = now.Add(200 * time.Millisecond)
	h.client.TickIncoming(now)

	if h.client.State() != proto.StateDisconnected {
		t.Errorf("client state = %v, want Disconnected", h.client.State())
	}
	if !h.hasEvent(h.clientEvents, proto.OnError) {
		t.Error("client never fired OnError on timeout")
	}
}

func TestDatagramTooShortIsRejected(t *testing.T) {
	h := newHarness(t, testConfig())

	h.server.RawInput(time.Now(), []byte{1, 2, 3})

	if h.server.State() != proto.StateDisconnected {
		t.Errorf("server state = %v, want Disconnected", h.server.State())
	}
}
