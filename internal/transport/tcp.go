package transport

import (
	"fmt"
	"net"

	"github.com/Danakane/Redcat/internal/logx"
)

// TCPTransport wraps a plain net.Conn. Connect resolves host to address
// family candidates (spec.md §4.1: "IPv6 then IPv4 preferred") and tries
// each until one connects, matching the teacher's socket dial helpers
// generalized from a UNIX domain socket to a routable TCP endpoint.
type TCPTransport struct {
	conn net.Conn
}

var _ Transport = (*TCPTransport)(nil)

// DialTCP tries every resolved address for host:port, IPv6 candidates
// first, returning the first that connects.
func DialTCP(host string, port int) (t *TCPTransport, err error) {
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}
	addrs := orderV6First(ips)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses found for host %q", host)
	}
	var lastErr error
	for _, ip := range addrs {
		conn, dialErr := net.Dial("tcp", net.JoinHostPort(ip.String(), fmt.Sprintf("%d", port)))
		if dialErr == nil {
			return &TCPTransport{conn: conn}, nil
		}
		lastErr = dialErr
	}
	return nil, lastErr
}

func orderV6First(ips []net.IP) []net.IP {
	var v6, v4 []net.IP
	for _, ip := range ips {
		if ip.To4() == nil {
			v6 = append(v6, ip)
		} else {
			v4 = append(v4, ip)
		}
	}
	return append(v6, v4...)
}

// TCPListener holds the one socket ListenTCP binds with net.Listen on
// host:port; host is not resolved into separate per-family sockets.
type TCPListener struct {
	listeners []net.Listener
}

// backlog is accepted for parity with spec.md §4.1's accept() contract;
// Go's net package does not expose the listen() backlog knob portably, so
// the OS default applies regardless of the value passed here.
func ListenTCP(host string, port int, backlog int) (l *TCPListener, err error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPListener{listeners: []net.Listener{ln}}, nil
}

// Accept blocks until a peer connects on the bound socket.
func (l *TCPListener) Accept() (t *TCPTransport, err error) {
	conn, err := l.listeners[0].Accept()
	if err != nil {
		return nil, err
	}
	return &TCPTransport{conn: conn}, nil
}

func (l *TCPListener) Close() error {
	var firstErr error
	for _, ln := range l.listeners {
		if err := ln.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *TCPTransport) Send(data []byte) (ok bool, errMsg string) {
	return sendAll(t.conn, data)
}

func (t *TCPTransport) Recv(max int) (ok bool, errMsg string, data []byte) {
	return recvDeadlineRead(t.conn, max)
}

func (t *TCPTransport) RemoteAddr() string {
	return fmtAddr(t.conn.RemoteAddr())
}

func (t *TCPTransport) LocalAddr() string {
	return fmtAddr(t.conn.LocalAddr())
}

func (t *TCPTransport) Close() error {
	logx.Get().Debug("closing tcp transport to ", t.RemoteAddr())
	if cw, ok := t.conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	return t.conn.Close()
}
