package platform

import (
	"os"

	"golang.org/x/term"
)

// termState captures the local controlling terminal's attributes across a
// raw-mode round trip. Grounded on an other_examples file exercising
// golang.org/x/term (the teacher repo itself never touches a local tty:
// its whole job is driving a *remote* shell, so this concern has no
// teacher analogue and is filled in from the rest of the pack).
type termState struct {
	fd   int
	saved *term.State
}

// makeRaw puts the local stdin tty into raw mode so keystrokes pass
// through to the remote shell uninterpreted (spec.md §4.4.1 "raw_on").
// Returns nil if stdin isn't a terminal (e.g. under redirection in tests),
// in which case restoreTerm is a no-op.
func makeRaw() *termState {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil
	}
	return &termState{fd: fd, saved: saved}
}

func restoreTerm(s *termState) {
	if s == nil {
		return
	}
	_ = term.Restore(s.fd, s.saved)
}

// termSize reports the local terminal's (columns, rows), forwarded to the
// remote `stty` so the remote line discipline matches the local display
// (spec.md §4.4.1). Falls back to a direct ioctl probe when x/term's own
// size query comes back empty (observed under some headless CI ttys),
// and to a conservative default when neither works.
func termSize() (cols, rows int) {
	fd := int(os.Stdin.Fd())
	if w, h, err := term.GetSize(fd); err == nil && w > 0 && h > 0 {
		return w, h
	}
	if w, h, ok := sysWinsizeFallback(fd); ok {
		return w, h
	}
	return 80, 24
}
