//go:build windows

package transport

import (
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

// WinPipeTransport carries a Channel over a local named pipe instead of a
// TCP socket, grounded on the teacher's Windows agent transport
// (src/common/socket/socket_windows.go, winio.ListenPipe), generalized
// from the agent-forwarding pipe to a local pipe relay for chaining
// Redcat through another process on the same Windows host (SPEC_FULL.md
// §2's domain-stack wiring for go-winio).
type WinPipeTransport struct {
	conn net.Conn
}

var _ Transport = (*WinPipeTransport)(nil)

func pipeName(id string) string {
	return fmt.Sprintf(`\\.\pipe\redcat-%s`, id)
}

// ListenWinPipe binds a named pipe for session id.
type WinPipeListener struct {
	ln net.Listener
}

func ListenWinPipe(id string) (l *WinPipeListener, err error) {
	ln, err := winio.ListenPipe(pipeName(id), nil)
	if err != nil {
		return nil, err
	}
	return &WinPipeListener{ln: ln}, nil
}

func (l *WinPipeListener) Accept() (t *WinPipeTransport, err error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return &WinPipeTransport{conn: conn}, nil
}

func (l *WinPipeListener) Close() error {
	return l.ln.Close()
}

// DialWinPipe connects to an already-bound named pipe.
func DialWinPipe(id string) (t *WinPipeTransport, err error) {
	conn, err := winio.DialPipe(pipeName(id), nil)
	if err != nil {
		return nil, err
	}
	return &WinPipeTransport{conn: conn}, nil
}

func (t *WinPipeTransport) Send(data []byte) (ok bool, errMsg string) {
	return sendAll(t.conn, data)
}

func (t *WinPipeTransport) Recv(max int) (ok bool, errMsg string, data []byte) {
	return recvDeadlineRead(t.conn, max)
}

func (t *WinPipeTransport) RemoteAddr() string {
	return fmtAddr(t.conn.RemoteAddr())
}

func (t *WinPipeTransport) LocalAddr() string {
	return fmtAddr(t.conn.LocalAddr())
}

func (t *WinPipeTransport) Close() error {
	return t.conn.Close()
}
