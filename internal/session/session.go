// Package session wraps one Channel+Platform pair into the reader/writer
// goroutine pump an interactive operator drives: a reader goroutine
// prints whatever the remote side emits, a writer goroutine forwards
// operator keystrokes byte-by-byte under the channel's transaction lock,
// taken with the session's own lock token. The session's platform
// transactions run under that same token, so the re-entrant lock lets
// keystrokes through while one of them is in flight; it does exclude the
// central reader, which holds its own token. Grounded on
// _examples/original_source/session.py, translated into the teacher's
// goroutine idiom (panics.Go-wrapped loops, an explicit stop channel
// instead of a threading.Event).
package session

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Danakane/Redcat/internal/channel"
	"github.com/Danakane/Redcat/internal/ids"
	"github.com/Danakane/Redcat/internal/logx"
	"github.com/Danakane/Redcat/internal/panics"
	"github.com/Danakane/Redcat/internal/platform"
	"github.com/Danakane/Redcat/internal/transport"
)

// ErrorCallback is invoked when the underlying channel fails.
type ErrorCallback func(s *Session, errMsg string)

// Session is one live remote-shell connection: a Channel carrying bytes,
// a Platform adapter interpreting them, and the reader/writer pump that
// makes the pair interactive from a terminal's point of view.
type Session struct {
	ID ids.SessionID

	mu       sync.Mutex
	ch       *channel.Channel
	plat     platform.Platform
	lockTok  channel.LockToken
	running  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	onError ErrorCallback

	out io.Writer // where the reader pump prints remote output (stdout in production, a buffer in tests)
	in  *bufio.Reader // where the writer pump reads operator keystrokes from (stdin in production)

	user, host string // cached on first Whoami/Hostname call

	transcript *Transcript
}

// New constructs a Session over an already-dialed/accepted transport,
// builds the channel and platform adapter for it, and wires the error
// callback through to the caller (spec.md §4.6: the manager is notified
// when a session's channel fails).
func New(id ids.SessionID, t transport.Transport, proto transport.Protocol, platformName platform.Name, cfg platform.Config, onError ErrorCallback, out io.Writer, in io.Reader) (*Session, error) {
	ch := channel.New(t, proto)
	plat, err := platform.New(platformName, ch, cfg)
	if err != nil {
		return nil, fmt.Errorf("building platform adapter: %w", err)
	}
	s := &Session{
		ID:         id,
		ch:         ch,
		plat:       plat,
		lockTok:    channel.NewLockToken(),
		stopCh:     make(chan struct{}),
		onError:    onError,
		out:        out,
		in:         bufio.NewReader(in),
		transcript: OpenTranscript(id.String()),
	}
	ch.SetCallbacks(func(c *channel.Channel, msg string) {
		if s.onError != nil {
			s.onError(s, msg)
		}
	}, nil)
	return s, nil
}

func (s *Session) RemoteAddr() string { return s.ch.RemoteAddr() }
func (s *Session) LocalAddr() string  { return s.ch.LocalAddr() }
func (s *Session) IsOpen() bool       { return s.ch.State() == channel.Open }
func (s *Session) IsInteractive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plat.IsInteractive()
}
func (s *Session) Platform() platform.Platform { return s.plat }
func (s *Session) LockToken() channel.LockToken { return s.lockTok }

// Open brings the underlying channel to the Open state.
func (s *Session) Open() (ok bool, errMsg string) {
	return s.ch.Open()
}

// WaitOpen blocks until Open is reached or timeout elapses.
func (s *Session) WaitOpen(timeout time.Duration) bool {
	return s.ch.WaitOpen(timeout)
}

// Interactive toggles PTY/raw-mode interactivity on the underlying
// platform, serialized with a lock so a concurrent reader/writer pair
// never races a mode transition (spec.md §4.4.1).
func (s *Session) Interactive(value bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plat.Interactive(s.lockTok, value, s.ID.String())
}

// Whoami/Hostname are cached after their first successful call, since
// they never change across a session's lifetime.
func (s *Session) Whoami() (ok bool, errMsg, user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user != "" {
		return true, "", s.user
	}
	ok, errMsg, user = s.plat.Whoami(s.lockTok)
	if ok && errMsg == "" {
		s.user = user
	}
	return
}

func (s *Session) Hostname() (ok bool, errMsg, host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.host != "" {
		return true, "", s.host
	}
	ok, errMsg, host = s.plat.Hostname(s.lockTok)
	if ok && errMsg == "" {
		s.host = host
	}
	return
}

// Download/Upload pass straight through to the platform adapter.
func (s *Session) Download(remotePath string, progress func(sent, total int)) (ok bool, errMsg string, data []byte) {
	return s.plat.Download(s.lockTok, remotePath, progress)
}

func (s *Session) Upload(remotePath string, data []byte, progress func(sent, total int)) (ok bool, errMsg string) {
	return s.plat.Upload(s.lockTok, remotePath, data, progress)
}

// Send forwards raw bytes to the remote shell, taking the channel's
// transaction lock under the session's token the same way the operator's
// keystroke writer pump does. That waits out lock holders with another
// token (the central reader); transactions run through this session's
// platform share the token, so Send does not wait for them.
func (s *Session) Send(data []byte) (ok bool, errMsg string) {
	var res bool
	var msg string
	s.ch.WithTransactionLock(s.lockTok, func() {
		res, msg = s.ch.Send(data)
	})
	return res, msg
}

// Start launches the reader and writer pump goroutines (original_source
// session.py's __run_reader/__run_writer, translated to goroutines
// guarded by panics.Go so a pump failure is logged, not fatal).
func (s *Session) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(2)
	panics.Go(logx.Get(), func() { defer s.wg.Done(); s.runReader() })
	panics.Go(logx.Get(), func() { defer s.wg.Done(); s.runWriter() })
}

// Stop signals both pumps to exit and waits for them.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.Wait()
}

// Wait blocks until both pumps have exited on their own -- operator
// Ctrl-D, a send failure, or an external Stop -- without itself
// requesting that they stop. Mirrors original_source/session.py's
// wait_stop: the manager calls this to ride out a foreground session
// until the operator ends it, then calls Interactive(false) to leave
// raw mode.
func (s *Session) Wait() {
	s.wg.Wait()
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Close stops the pumps (if running), drops interactive mode, and closes
// the underlying channel. Safe to call more than once.
func (s *Session) Close() {
	s.Stop()
	s.Interactive(false)
	s.ch.Close()
	s.transcript.Close()
}

const readerPollInterval = 20 * time.Millisecond

func (s *Session) runReader() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		if !s.ch.WaitData(readerPollInterval) {
			continue
		}
		data := s.ch.Retrieve(0)
		if len(data) > 0 {
			if s.out != nil {
				s.out.Write(data)
			}
			s.transcript.Write(data)
		}
	}
}

func (s *Session) runWriter() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		b, err := s.in.ReadByte()
		if err != nil {
			s.stopOnce.Do(func() { close(s.stopCh) })
			return
		}
		if b == 0x04 { // Ctrl-D
			s.stopOnce.Do(func() { close(s.stopCh) })
			return
		}
		out := []byte{b}
		if b == 0x1B { // ESC: hold and accumulate a CSI sequence so it forwards atomically
			if next, err := s.in.ReadByte(); err == nil {
				out = append(out, next)
				if next == '[' {
					for {
						fb, err := s.in.ReadByte()
						if err != nil {
							break
						}
						out = append(out, fb)
						if fb >= 0x40 && fb <= 0x7E {
							break
						}
					}
				}
			}
		}
		ok, _ := s.Send(out)
		if !ok {
			s.stopOnce.Do(func() { close(s.stopCh) })
			return
		}
		s.transcript.Write(out)
	}
}
