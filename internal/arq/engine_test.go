package arq

import (
	"bytes"
	"testing"
)

// pair wires two engines' output directly into each other's Input, as if
// they were connected by a lossless wire.
func pair(t *testing.T) (a, b Engine) {
	t.Helper()

	var ea, eb Engine
	ea = New(func(seg []byte) {
		if err := eb.Input(seg); err != nil {
			t.Errorf("b.Input: %v", err)
		}
	})
	eb = New(func(seg []byte) {
		if err := ea.Input(seg); err != nil {
			t.Errorf("a.Input: %v", err)
		}
	})
	return ea, eb
}

func TestRoundTrip(t *testing.T) {
	a, b := pair(t)

	msg := []byte("hello from a")
	if err := a.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	var now uint32
	var got []byte
	for i := 0; i < 50 && got == nil; i++ {
		now += 10
		a.Update(now)
		b.Update(now)

		if size, ok := b.PeekSize(); ok {
			buf := make([]byte, size)
			n := b.Recv(buf)
			got = buf[:n]
		}
	}

	if !bytes.Equal(got, msg) {
		t.Errorf("round trip mismatch: got %q, want %q", got, msg)
	}
}

func TestDeadLinkNotTriggeredOnHealthyLink(t *testing.T) {
	a, b := pair(t)
	a.SetMaximumResendTimes(5)

	if err := a.Send([]byte("x")); err != nil {
		t.Fatalf("send: %v", err)
	}

	var now uint32
	for i := 0; i < 20; i++ {
		now += 10
		a.Update(now)
		b.Update(now)
	}

	if a.IsDeadLink() {
		t.Error("healthy link reported as dead")
	}
}
