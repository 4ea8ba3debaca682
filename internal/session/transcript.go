package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Danakane/Redcat/internal/logx"
	"github.com/Danakane/Redcat/internal/redcatdir"
)

// Transcript appends everything a session reads from and writes to its
// remote shell to one append-only file per session, so an operator can
// review a full engagement after the fact. Grounded on the teacher's
// file_persister.go: a thin struct wrapping a directory path, opening
// and writing a file per save, generalized from a single JSON blob per
// profile/pairing to one append-only log per session.
type Transcript struct {
	f *os.File
}

// OpenTranscript creates (or appends to, if restarted with the same id)
// ~/.redcat/logs/session-<id>.log and returns a Transcript that writes
// to it. A nil *Transcript is safe to use: every method is a no-op, so
// a directory-resolution failure degrades to "no transcript" rather
// than failing session construction.
func OpenTranscript(sessionID string) *Transcript {
	dir, err := redcatdir.LogDir()
	if err != nil {
		logx.Get().Warning("transcript logging disabled, could not resolve log directory: ", err)
		return &Transcript{}
	}
	path := filepath.Join(dir, fmt.Sprintf("session-%s.log", sessionID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		logx.Get().Warning("transcript logging disabled, could not open ", path, ": ", err)
		return &Transcript{}
	}
	fmt.Fprintf(f, "\n----- session opened %s -----\n", time.Now().UTC().Format(time.RFC3339))
	return &Transcript{f: f}
}

// Write appends data verbatim, prefixed neither with a timestamp nor a
// direction marker -- a transcript is meant to replay exactly what the
// operator saw or typed, not to be a structured audit log.
func (t *Transcript) Write(data []byte) {
	if t == nil || t.f == nil || len(data) == 0 {
		return
	}
	t.f.Write(data)
}

func (t *Transcript) Close() {
	if t == nil || t.f == nil {
		return
	}
	fmt.Fprintf(t.f, "\n----- session closed %s -----\n", time.Now().UTC().Format(time.RFC3339))
	t.f.Close()
}
