// Package channel implements spec.md §3/§4.2: the Channel lifecycle FSM,
// its byte queue (no size bound: it grows until Retrieve or Purge drains
// it), its re-entrant transaction lock, and the
// process-wide GlobalChannelRegister that owns the single central reader
// goroutine. Grounded on the teacher's pair.go (an embedded-sync.Mutex
// struct whose exported methods Lock/Unlock around shared state) and
// notify.go (a goroutine that starts on demand and exits when its work
// queue empties).
package channel

import (
	"fmt"
	"sync"
	"time"

	"github.com/Danakane/Redcat/internal/transport"
)

// State is the Channel lifecycle FSM (spec.md §3): monotone except into
// the terminal Error state.
type State int

const (
	Closed State = iota
	Opening
	Open
	Closing
	Error
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// ErrorCallback is invoked with the failing channel and an error message
// when a send, recv, or transaction observes a transport failure.
type ErrorCallback func(ch *Channel, msg string)

// LoggerCallback is invoked once a channel reaches Open.
type LoggerCallback func(ch *Channel)

// Channel represents one live byte-stream peer (spec.md §3).
type Channel struct {
	mu sync.Mutex // guards state and the two callbacks

	state     State
	transport transport.Transport
	protocol  transport.Protocol

	queue    [][]byte
	queueMu  sync.Mutex
	hasData  chan struct{} // closed+replaced to broadcast "queue non-empty"
	openCh   chan struct{} // closed once, on reaching Open
	openOnce sync.Once

	txLock reentrantMutex

	onError  ErrorCallback
	onLogger LoggerCallback
}

// New wraps an already-established transport (the connect/accept logic
// lives in Manager/Listener per spec.md §4.1/§4.6; Channel itself only
// drives the FSM and queue around whatever transport it is handed).
func New(t transport.Transport, proto transport.Protocol) *Channel {
	return &Channel{
		transport: t,
		protocol:  proto,
		state:     Opening,
		hasData:   make(chan struct{}),
		openCh:    make(chan struct{}),
	}
}

// SetCallbacks installs the error and connection-established hooks. Must
// be called before Open to avoid racing the central reader.
func (c *Channel) SetCallbacks(onError ErrorCallback, onLogger LoggerCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = onError
	c.onLogger = onLogger
}

// State returns the current lifecycle state. Safe to call without a lock
// per spec.md §5 ("observers tolerate lagging observations").
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Open drives Opening -> Open, registers with the global reader, and
// invokes the connection-established hook.
func (c *Channel) Open() (ok bool, errMsg string) {
	if c.transport == nil {
		c.setState(Error)
		return false, "no transport to open"
	}
	c.setState(Open)
	c.openOnce.Do(func() { close(c.openCh) })
	Register(c)
	c.mu.Lock()
	hook := c.onLogger
	c.mu.Unlock()
	if hook != nil {
		hook(c)
	}
	return true, ""
}

// Close sets Closing, deregisters from the global reader so the central
// reader stops draining this channel, closes the transport, then sets
// Closed. Never returns an observable panic; idempotent (spec.md
// invariant 5).
func (c *Channel) Close() {
	c.mu.Lock()
	if c.state == Closed || c.state == Closing {
		c.mu.Unlock()
		return
	}
	c.state = Closing
	c.mu.Unlock()

	Unregister(c)
	if c.transport != nil {
		_ = c.transport.Close()
	}
	c.setState(Closed)
}

// Send delegates to the transport. Fails fast once the channel is not Open.
func (c *Channel) Send(data []byte) (ok bool, errMsg string) {
	if c.State() != Open {
		return false, "channel is not open"
	}
	ok, errMsg = c.transport.Send(data)
	if !ok {
		c.fail(errMsg)
	}
	return
}

func (c *Channel) fail(msg string) {
	c.mu.Lock()
	if c.state == Error || c.state == Closed || c.state == Closing {
		c.mu.Unlock()
		return
	}
	c.state = Error
	hook := c.onError
	c.mu.Unlock()
	Unregister(c)
	if hook != nil {
		hook(c, msg)
	}
}

// appendQueue is called only by the central reader (via recvOnce), which
// holds txLock for the channel it's touching. ExecTransaction's tail-drain
// phase keeps its bytes in its own scratch buffer and never queues them.
func (c *Channel) appendQueue(data []byte) {
	if len(data) == 0 {
		return
	}
	c.queueMu.Lock()
	c.queue = append(c.queue, data)
	old := c.hasData
	c.hasData = make(chan struct{})
	c.queueMu.Unlock()
	close(old)
}

// Retrieve dequeues up to n queued chunks (0 = all), concatenated in FIFO
// order, and clears the has-data signal if the queue drains empty.
func (c *Channel) Retrieve(n int) []byte {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if n <= 0 || n > len(c.queue) {
		n = len(c.queue)
	}
	var out []byte
	for i := 0; i < n; i++ {
		out = append(out, c.queue[i]...)
	}
	c.queue = c.queue[n:]
	return out
}

// Purge clears the queue without returning its contents.
func (c *Channel) Purge() {
	c.queueMu.Lock()
	c.queue = nil
	c.queueMu.Unlock()
}

// QueueLen reports how many chunks (not bytes) are queued, for tests and
// the reaper's liveness checks.
func (c *Channel) QueueLen() int {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	return len(c.queue)
}

// WaitOpen blocks until the channel reaches Open, or timeout elapses
// (0 = wait forever). Level-triggered per spec.md §4.2.
func (c *Channel) WaitOpen(timeout time.Duration) bool {
	if c.State() == Open {
		return true
	}
	if timeout <= 0 {
		<-c.openCh
		return true
	}
	select {
	case <-c.openCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// WaitData blocks until the queue becomes non-empty, or timeout elapses.
func (c *Channel) WaitData(timeout time.Duration) bool {
	for {
		c.queueMu.Lock()
		nonEmpty := len(c.queue) > 0
		sig := c.hasData
		c.queueMu.Unlock()
		if nonEmpty {
			return true
		}
		if timeout <= 0 {
			<-sig
			continue
		}
		select {
		case <-sig:
		case <-time.After(timeout):
			return false
		}
	}
}

// RemoteAddr/LocalAddr surface the underlying transport endpoints.
func (c *Channel) RemoteAddr() string {
	if c.transport == nil {
		return ""
	}
	return c.transport.RemoteAddr()
}

func (c *Channel) LocalAddr() string {
	if c.transport == nil {
		return ""
	}
	return c.transport.LocalAddr()
}

func (c *Channel) Protocol() transport.Protocol { return c.protocol }

// recvOnce is invoked only by the central reader with the transaction
// lock held non-blockingly (register.go). It never blocks longer than
// the transport's own poll interval.
func (c *Channel) recvOnce() {
	ok, errMsg, data := c.transport.Recv(0)
	if !ok {
		c.fail(errMsg)
		return
	}
	c.appendQueue(data)
}

// reentrantMutex is a hand-rolled re-entrant lock: Go's sync.Mutex is not
// reentrant, but spec.md §4.2/§9 requires one (the Windows upload path and
// the POSIX PTY-upgrade path each take the transaction lock and then call
// helpers that also run framed transactions). Grounded on the teacher's
// pair.go mutex-guarded-struct idiom, extended with an owner/depth pair
// since plain embedding can't express reentrancy.
type reentrantMutex struct {
	mu    sync.Mutex
	owner uint64
	depth int
}

var goroutineSeq uint64
var goroutineSeqMu sync.Mutex

// a cooperative "who am I" token: Go has no public goroutine id, so
// callers that need reentrancy (ExecTransaction calling itself, or a
// platform helper calling ExecTransaction again) pass the same token
// they were given, rather than relying on runtime introspection.
type LockToken uint64

func newLockToken() LockToken {
	goroutineSeqMu.Lock()
	defer goroutineSeqMu.Unlock()
	goroutineSeq++
	return LockToken(goroutineSeq)
}

func (m *reentrantMutex) tryLock(tok LockToken) (acquired bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depth > 0 && m.owner == uint64(tok) {
		m.depth++
		return true
	}
	if m.depth > 0 {
		return false
	}
	m.owner = uint64(tok)
	m.depth = 1
	return true
}

// lock blocks until acquired (spinning on the poll interval, matching the
// rest of the subsystem's quantum-based waits).
func (m *reentrantMutex) lock(tok LockToken) {
	for !m.tryLock(tok) {
		time.Sleep(time.Millisecond)
	}
}

func (m *reentrantMutex) unlock(tok LockToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != uint64(tok) || m.depth == 0 {
		panic(fmt.Sprintf("channel: unlock by non-owner token %d (owner %d depth %d)", tok, m.owner, m.depth))
	}
	m.depth--
	if m.depth == 0 {
		m.owner = 0
	}
}

// NewLockToken mints a token identifying one logical call chain for
// re-entrant transaction locking; callers nest further transactions by
// threading the same token through.
func NewLockToken() LockToken { return newLockToken() }

// WithTransactionLock runs f while holding the channel's re-entrant
// transaction lock under tok, releasing it afterward even on panic.
func (c *Channel) WithTransactionLock(tok LockToken, f func()) {
	c.txLock.lock(tok)
	defer c.txLock.unlock(tok)
	f()
}
