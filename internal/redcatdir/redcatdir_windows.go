//go:build windows

package redcatdir

import (
	"os"
	"os/user"
	"path/filepath"

	"github.com/Danakane/Redcat/internal/logx"
)

// UnsudoedHomeDir returns the current user's home directory.
func UnsudoedHomeDir() (home string) {
	u, err := user.Current()
	if err == nil && u != nil {
		home = u.HomeDir
	} else {
		logx.Get().Notice("falling back to $HOME")
		home = os.Getenv("HOME")
	}
	return
}

// LogDir returns (creating if needed) %LOCALAPPDATA%\Redcat\logs.
func LogDir() (path string, err error) {
	path = filepath.Join(UnsudoedHomeDir(), "appdata", "local", "Redcat", "logs")
	err = os.MkdirAll(path, os.FileMode(0700))
	return
}
