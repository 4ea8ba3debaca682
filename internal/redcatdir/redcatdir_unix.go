//go:build !windows

// Package redcatdir resolves the one thing Redcat keeps on disk outside of
// an explicit CLI flag: a per-engagement transcript/log directory. It is
// grounded on the teacher's dir_unix.go/dir_windows.go (UnsudoedHomeDir,
// KrDir) sudo-aware home directory lookup, generalized from pairing/key
// storage (a Non-goal here) to session logging.
package redcatdir

import (
	"os"
	"os/user"
	"path/filepath"

	"github.com/Danakane/Redcat/internal/logx"
)

// UnsudoedHomeDir finds the home directory of the logged-in user even when
// invoked via sudo, so session logs land in the operator's home rather
// than root's.
func UnsudoedHomeDir() (home string) {
	userName := os.Getenv("SUDO_USER")
	if userName == "" {
		userName = os.Getenv("USER")
	}
	u, err := user.Lookup(userName)
	if err == nil && u != nil {
		home = u.HomeDir
	} else {
		logx.Get().Notice("falling back to $HOME")
		home = os.Getenv("HOME")
	}
	return
}

// LogDir returns (creating if needed) ~/.redcat/logs.
func LogDir() (path string, err error) {
	path = filepath.Join(UnsudoedHomeDir(), ".redcat", "logs")
	err = os.MkdirAll(path, os.FileMode(0700))
	return
}
