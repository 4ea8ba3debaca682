package transport

import (
	"bytes"
	"testing"
	"time"
)

func TestPipeTransportSendRecv(t *testing.T) {
	a, b := NewMockPair()
	defer a.Close()
	defer b.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ok, errMsg := a.Send([]byte("hello"))
		if !ok {
			t.Errorf("send failed: %s", errMsg)
		}
	}()

	var got []byte
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		ok, errMsg, data := b.Recv(0)
		if !ok {
			t.Fatalf("recv failed: %s", errMsg)
		}
		got = append(got, data...)
		if len(got) >= len("hello") {
			break
		}
	}
	<-done
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestPipeTransportCloseIsIdempotent(t *testing.T) {
	a, b := NewMockPair()
	defer b.Close()

	if err := a.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	// Close must tolerate being called any number of times without panicking.
	_ = a.Close()

	if ok, _ := a.Send([]byte("x")); ok {
		t.Fatalf("send after close should fail")
	}
}

func TestPipeTransportRecvNoDataIsNotError(t *testing.T) {
	a, b := NewMockPair()
	defer a.Close()
	defer b.Close()

	ok, errMsg, data := b.Recv(0)
	if !ok || errMsg != "" || len(data) != 0 {
		t.Fatalf("expected (true, \"\", empty) on idle recv, got (%v, %q, %v)", ok, errMsg, data)
	}
}
