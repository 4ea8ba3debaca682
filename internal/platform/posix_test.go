package platform

import (
	"encoding/base64"
	"regexp"
	"strings"
	"testing"

	"github.com/Danakane/Redcat/internal/channel"
	"github.com/Danakane/Redcat/internal/transaction"
	"github.com/Danakane/Redcat/internal/transport"
)

// frameRe pulls the three tokens and the inner payload back out of a
// buildPosix-framed line so the scripted mock shell can answer like a
// real one would.
var frameRe = regexp.MustCompile(`^echo (\S+); (.+) && echo (\S+); echo (\S+)$`)

// scriptPosixShell answers both raw probes (which) and framed
// transactions the way a real non-echoing POSIX shell (post PTY-upgrade,
// post disable_echo) would: start/output/control/end, nothing extra.
func scriptPosixShell(fakeFiles map[string]string) func(line []byte) []byte {
	return func(line []byte) []byte {
		trimmed := strings.TrimRight(string(line), "\r\n")
		// raw, unframed probes (Interactive/getPTY send these directly,
		// bypassing the transaction framer since framing would deadlock
		// on a command whose own output never contains the end token).
		if strings.HasPrefix(trimmed, "which ") {
			bin := strings.TrimPrefix(trimmed, "which ")
			if bin == "bash" {
				return []byte("/bin/" + bin + "\n")
			}
			// which(1) prints nothing and exits 1 on a miss; send a lone
			// newline so WaitData wakes immediately instead of riding out
			// its full timeout, while Retrieve still correctly shows no
			// match for bin.
			return []byte("\n")
		}
		m := frameRe.FindStringSubmatch(trimmed)
		if m == nil {
			return nil
		}
		start, cmd, control, end := m[1], m[2], m[3], m[4]
		var out string
		switch {
		case cmd == "whoami":
			out = "redcat-user\n"
		case cmd == "hostname":
			out = "redcat-host\n"
		case strings.HasPrefix(cmd, "head -c1 "):
			path := extractQuoted(cmd)
			if _, ok := fakeFiles[path]; !ok {
				return []byte(start + "\nhead: No such file\n" + end + "\n")
			}
			out = ""
		case strings.HasPrefix(cmd, "base64 ") && !strings.Contains(cmd, "-d"):
			path := extractQuoted(cmd)
			out = base64.StdEncoding.EncodeToString([]byte(fakeFiles[path])) + "\n"
		case strings.HasPrefix(cmd, "touch "), strings.HasPrefix(cmd, "echo ") && strings.Contains(cmd, ">"):
			out = ""
		case strings.HasPrefix(cmd, "base64 -d"):
			out = ""
		case strings.HasPrefix(cmd, "rm -f"):
			out = ""
		default:
			out = ""
		}
		return []byte(start + "\n" + out + control + "\n" + end + "\n")
	}
}

func extractQuoted(cmd string) string {
	start := strings.IndexByte(cmd, '\'')
	if start < 0 {
		return ""
	}
	end := strings.LastIndexByte(cmd, '\'')
	if end <= start {
		return ""
	}
	return strings.ReplaceAll(cmd[start+1:end], `'\''`, "'")
}

func newScriptedLinux(t *testing.T, respond func(line []byte) []byte) (*linuxPlatform, func()) {
	t.Helper()
	handlerSide, shellSide := transport.NewMockPair()
	ch := channel.New(handlerSide, transport.TCP)
	ok, errMsg := ch.Open()
	if !ok {
		t.Fatalf("opening mock channel: %s", errMsg)
	}
	stop := make(chan struct{})
	// echo=false: these tests pin hasPTY=true to skip PTY-upgrade probing,
	// which per spec.md means disable_echo has already run and the remote
	// is not echoing input back (§4.4 "handle_echo... when the remote
	// shell is not yet in a non-echoing PTY").
	go transport.ShellScript(shellSide, false, respond, stop)

	p := newLinux(ch, DefaultConfig())
	p.hasPTY = true
	return p, func() { close(stop); ch.Close() }
}

func TestLinuxWhoami(t *testing.T) {
	p, cleanup := newScriptedLinux(t, scriptPosixShell(nil))
	defer cleanup()

	tok := channel.NewLockToken()
	ok, errMsg, user := p.Whoami(tok)
	if !ok {
		t.Fatalf("Whoami failed: %s", errMsg)
	}
	if user != "redcat-user" {
		t.Fatalf("got user %q, want redcat-user", user)
	}
}

func TestLinuxHostname(t *testing.T) {
	p, cleanup := newScriptedLinux(t, scriptPosixShell(nil))
	defer cleanup()

	tok := channel.NewLockToken()
	ok, errMsg, host := p.Hostname(tok)
	if !ok {
		t.Fatalf("Hostname failed: %s", errMsg)
	}
	if host != "redcat-host" {
		t.Fatalf("got host %q, want redcat-host", host)
	}
}

func TestLinuxDownloadMissingFile(t *testing.T) {
	p, cleanup := newScriptedLinux(t, scriptPosixShell(nil))
	defer cleanup()

	tok := channel.NewLockToken()
	ok, errMsg, data := p.Download(tok, "/etc/nope", nil)
	if !ok {
		t.Fatalf("Download transaction failed unexpectedly: %s", errMsg)
	}
	if errMsg == "" || data != nil {
		t.Fatalf("expected a remote-not-found errMsg and nil data, got errMsg=%q data=%v", errMsg, data)
	}
}

func TestLinuxDownloadExisting(t *testing.T) {
	p, cleanup := newScriptedLinux(t, scriptPosixShell(map[string]string{"/etc/hostname": "redcat-host\n"}))
	defer cleanup()

	tok := channel.NewLockToken()
	ok, errMsg, data := p.Download(tok, "/etc/hostname", nil)
	if !ok || errMsg != "" {
		t.Fatalf("Download failed: ok=%v errMsg=%s", ok, errMsg)
	}
	if string(data) != "redcat-host\n" {
		t.Fatalf("got data %q, want %q", data, "redcat-host\n")
	}
}

func TestLinuxUpload(t *testing.T) {
	p, cleanup := newScriptedLinux(t, scriptPosixShell(nil))
	defer cleanup()

	tok := channel.NewLockToken()
	ok, errMsg := p.Upload(tok, "/tmp/dropped", []byte("hello redcat"), nil)
	if !ok {
		t.Fatalf("Upload failed: %s", errMsg)
	}
}

func TestBuildPosixFraming(t *testing.T) {
	tokens, err := transaction.NewTokens()
	if err != nil {
		t.Fatalf("minting tokens: %v", err)
	}
	framed := buildPosix([]byte("id"), tokens)
	want := "echo " + tokens.Start + "; id && echo " + tokens.Control + "; echo " + tokens.End + "\n"
	if string(framed) != want {
		t.Fatalf("got %q, want %q", framed, want)
	}
}

func TestInteractiveTogglesOnce(t *testing.T) {
	p, cleanup := newScriptedLinux(t, scriptPosixShell(nil))
	defer cleanup()
	if p.IsInteractive() {
		t.Fatal("platform should start non-interactive")
	}
	tok := channel.NewLockToken()
	if !p.Interactive(tok, true, "1") {
		t.Fatal("Interactive(true) should report interactive")
	}
	if p.Interactive(tok, true, "1") != true {
		t.Fatal("repeated Interactive(true) should be a no-op returning true")
	}
	if p.Interactive(tok, false, "1") {
		t.Fatal("Interactive(false) should leave interactive mode")
	}
}
