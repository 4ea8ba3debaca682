package manager

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/Danakane/Redcat/internal/platform"
	"github.com/Danakane/Redcat/internal/transport"
)

func TestManagerSelectAndResolve(t *testing.T) {
	m := New(&bytes.Buffer{}, strings.NewReader(""))
	defer m.Stop()

	handlerSide1, shellSide1 := transport.NewMockPair()
	go transport.ShellScript(shellSide1, false, func(line []byte) []byte { return nil }, nil)
	sess1, errMsg := m.buildAndInsertSession(handlerSide1, transport.TCP, platform.Linux, platform.DefaultConfig(), false)
	if errMsg != "" {
		t.Fatalf("buildAndInsertSession 1: %s", errMsg)
	}

	handlerSide2, shellSide2 := transport.NewMockPair()
	go transport.ShellScript(shellSide2, false, func(line []byte) []byte { return nil }, nil)
	sess2, errMsg := m.buildAndInsertSession(handlerSide2, transport.TCP, platform.Linux, platform.DefaultConfig(), false)
	if errMsg != "" {
		t.Fatalf("buildAndInsertSession 2: %s", errMsg)
	}

	if _, have := m.resolveID(""); have {
		t.Fatal("no session should be selected yet")
	}

	if ok, errMsg := m.SelectSession(sess1.ID.String()); !ok {
		t.Fatalf("SelectSession: %s", errMsg)
	}
	id, have := m.resolveID("")
	if !have || id != sess1.ID {
		t.Fatalf("resolveID(\"\") = %v, %v, want %v, true", id, have, sess1.ID)
	}

	if ok, errMsg := m.SelectSession(sess2.ID.String()); !ok {
		t.Fatalf("SelectSession: %s", errMsg)
	}
	id, have = m.resolveID("")
	if !have || id != sess2.ID {
		t.Fatalf("resolveID(\"\") after reselect = %v, %v, want %v, true", id, have, sess2.ID)
	}

	if ok, _ := m.SelectSession("none"); !ok {
		t.Fatal("SelectSession(none) should succeed")
	}
	if _, have := m.resolveID(""); have {
		t.Fatal("selection should be cleared")
	}

	if ok, _ := m.SelectSession("999"); ok {
		t.Fatal("selecting an unknown id should fail")
	}
}

func TestManagerKillSessionClearsSelection(t *testing.T) {
	m := New(&bytes.Buffer{}, strings.NewReader(""))
	defer m.Stop()

	handlerSide, shellSide := transport.NewMockPair()
	go transport.ShellScript(shellSide, false, func(line []byte) []byte { return nil }, nil)
	sess, errMsg := m.buildAndInsertSession(handlerSide, transport.TCP, platform.Linux, platform.DefaultConfig(), true)
	if errMsg != "" {
		t.Fatalf("buildAndInsertSession: %s", errMsg)
	}

	if ok, errMsg := m.Kill("session", sess.ID.String()); !ok {
		t.Fatalf("Kill: %s", errMsg)
	}
	if _, have := m.resolveID(""); have {
		t.Fatal("killing the selected session should clear the selection")
	}
	if ok, _ := m.Kill("session", sess.ID.String()); ok {
		t.Fatal("killing an already-removed session should fail")
	}
}

func TestManagerReaperKillsBrokenSession(t *testing.T) {
	m := New(&bytes.Buffer{}, strings.NewReader(""))
	defer m.Stop()

	handlerSide, shellSide := transport.NewMockPair()
	go transport.ShellScript(shellSide, false, func(line []byte) []byte { return nil }, nil)
	sess, errMsg := m.buildAndInsertSession(handlerSide, transport.TCP, platform.Linux, platform.DefaultConfig(), true)
	if errMsg != "" {
		t.Fatalf("buildAndInsertSession: %s", errMsg)
	}

	m.onSessionError(sess, "simulated transport failure")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		m.sessionsMu.Lock()
		_, found := m.sessions[sess.ID]
		m.sessionsMu.Unlock()
		if !found {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("reaper never removed the broken session")
}

func TestManagerKillListener(t *testing.T) {
	m := New(&bytes.Buffer{}, strings.NewReader(""))
	defer m.Stop()

	if ok, errMsg := m.Listen(true, "127.0.0.1", 18765, transport.TCP, platform.Linux, platform.DefaultConfig(), nil); !ok {
		t.Fatalf("Listen: %s", errMsg)
	}

	m.listenersMu.Lock()
	var lid string
	for id := range m.listeners {
		lid = id.String()
	}
	m.listenersMu.Unlock()
	if lid == "" {
		t.Fatal("expected a registered listener")
	}

	if ok, errMsg := m.Kill("listener", lid); !ok {
		t.Fatalf("Kill listener: %s", errMsg)
	}

	if ok, _ := m.Kill("listener", lid); ok {
		t.Fatal("killing an already-removed listener should fail")
	}
}

func TestManagerShowUnknownKind(t *testing.T) {
	m := New(&bytes.Buffer{}, strings.NewReader(""))
	defer m.Stop()

	if ok, _ := m.Show("bogus"); ok {
		t.Fatal("Show with an unknown kind should fail")
	}
}

func TestManagerDownloadMapsMissingSelection(t *testing.T) {
	m := New(&bytes.Buffer{}, strings.NewReader(""))
	defer m.Stop()

	if ok, errMsg := m.Download("/etc/passwd", "/tmp/x", ""); ok || errMsg == "" {
		t.Fatal("Download with no session selected should fail with a message")
	}
}
