//go:build !windows

package platform

import "golang.org/x/sys/unix"

// sysWinsizeFallback asks the kernel directly via TIOCGWINSZ, used when
// x/term's GetSize comes back empty (SPEC_FULL.md §2: some headless CI
// ttys report a size through the ioctl that a higher-level query misses).
func sysWinsizeFallback(fd int) (cols, rows int, ok bool) {
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil || ws.Col == 0 || ws.Row == 0 {
		return 0, 0, false
	}
	return int(ws.Col), int(ws.Row), true
}
