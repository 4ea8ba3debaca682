//go:build windows

package platform

// sysWinsizeFallback has no TIOCGWINSZ equivalent wired on Windows; the
// caller's 80x24 default applies instead.
func sysWinsizeFallback(fd int) (cols, rows int, ok bool) {
	return 0, 0, false
}
