package session

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/Danakane/Redcat/internal/platform"
	"github.com/Danakane/Redcat/internal/transport"
)

func TestSessionOpenAndSend(t *testing.T) {
	handlerSide, shellSide := transport.NewMockPair()
	var out bytes.Buffer
	in := strings.NewReader("") // writer pump just observes EOF and stops; not under test here

	var errs []string
	s, err := New(1, handlerSide, transport.TCP, platform.Linux, platform.DefaultConfig(), func(s *Session, msg string) {
		errs = append(errs, msg)
	}, &out, in)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ok, errMsg := s.Open(); !ok {
		t.Fatalf("Open: %s", errMsg)
	}
	if !s.WaitOpen(time.Second) {
		t.Fatal("WaitOpen timed out")
	}
	if !s.IsOpen() {
		t.Fatal("session should report open")
	}

	stop := make(chan struct{})
	defer close(stop)
	go transport.ShellScript(shellSide, false, func(line []byte) []byte { return nil }, stop)

	if ok, errMsg := s.Send([]byte("ls\n")); !ok {
		t.Fatalf("Send: %s", errMsg)
	}

	s.Close()
	if len(errs) != 0 {
		t.Fatalf("unexpected error callbacks: %v", errs)
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	handlerSide, _ := transport.NewMockPair()
	var out bytes.Buffer
	s, err := New(2, handlerSide, transport.TCP, platform.Linux, platform.DefaultConfig(), nil, &out, strings.NewReader(""))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Open()
	s.Start()
	s.Close()
	s.Close() // must not panic or hang
}

func TestSessionErrorCallbackOnTransportFailure(t *testing.T) {
	handlerSide, shellSide := transport.NewMockPair()
	var out bytes.Buffer
	done := make(chan string, 1)
	s, err := New(3, handlerSide, transport.TCP, platform.Linux, platform.DefaultConfig(), func(s *Session, msg string) {
		select {
		case done <- msg:
		default:
		}
	}, &out, strings.NewReader(""))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Open()
	s.WaitOpen(time.Second)
	shellSide.Close() // kill the remote end out from under the channel

	if _, errMsg := s.Send([]byte("x")); errMsg == "" {
		t.Fatal("expected Send to report an error once the peer is gone")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected the error callback to fire once the peer is gone")
	}
}
