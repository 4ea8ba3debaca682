package transport

import (
	"net"
	"sync"
	"time"
)

// PipeTransport adapts an in-memory net.Pipe() half to the Transport
// interface, used to drive the property suite's "cooperative mock shell"
// scenarios (spec.md §8 S1-S3) without a real TCP/TLS socket. Grounded on
// the teacher's test-double transports (transport_mock_pair.go,
// transport_mock_response.go): a struct implementing the production
// interface, guarded by its own mutex, built for deterministic tests.
type PipeTransport struct {
	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

var _ Transport = (*PipeTransport)(nil)

// NewMockPair returns two connected PipeTransports: one to stand in for
// the handler side, one to stand in for a scripted remote shell.
func NewMockPair() (handlerSide, shellSide *PipeTransport) {
	a, b := net.Pipe()
	return &PipeTransport{conn: a}, &PipeTransport{conn: b}
}

func (t *PipeTransport) Send(data []byte) (ok bool, errMsg string) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return false, ErrClosed.Error()
	}
	return sendAll(t.conn, data)
}

func (t *PipeTransport) Recv(max int) (ok bool, errMsg string, data []byte) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return false, ErrClosed.Error(), nil
	}
	return recvDeadlineRead(t.conn, max)
}

func (t *PipeTransport) RemoteAddr() string { return "mock-remote" }
func (t *PipeTransport) LocalAddr() string  { return "mock-local" }

func (t *PipeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.conn.Close()
}

// ShellScript drives shellSide as a trivial cooperative (or hostile) mock
// shell for tests: it echoes every byte it receives when echo is true,
// and runs respond against whatever it has accumulated since the last
// newline, writing respond's return value back.
func ShellScript(shellSide *PipeTransport, echo bool, respond func(line []byte) []byte, stop <-chan struct{}) {
	var buf []byte
	for {
		select {
		case <-stop:
			return
		default:
		}
		ok, _, data := shellSide.Recv(4096)
		if !ok {
			return
		}
		if len(data) == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		if echo {
			shellSide.Send(data)
		}
		buf = append(buf, data...)
		for {
			idx := indexByte(buf, '\n')
			if idx < 0 {
				break
			}
			line := buf[:idx]
			buf = buf[idx+1:]
			if out := respond(line); len(out) > 0 {
				shellSide.Send(out)
			}
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
