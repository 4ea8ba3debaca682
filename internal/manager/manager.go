// Package manager implements spec.md §4.7: the Manager registry of
// sessions and listeners, the broken-peer reaper, and the on-new-channel
// callback that turns an accepted connection into a registered Session.
// Grounded on _examples/original_source/manager.py, translated from its
// dict+lock-per-map shape into the teacher's own sync.Mutex-guarded-map
// idiom (pair.go) and its background-goroutine lifecycle (notify.go).
package manager

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Danakane/Redcat/internal/ids"
	"github.com/Danakane/Redcat/internal/logx"
	"github.com/Danakane/Redcat/internal/panics"
	"github.com/Danakane/Redcat/internal/platform"
	"github.com/Danakane/Redcat/internal/session"
	"github.com/Danakane/Redcat/internal/transport"
)

// reaperInterval matches spec.md §4.7's "every ~10 ms" reaper cadence.
const reaperInterval = 10 * time.Millisecond

// onNewChannelTimeout is spec.md §4.7's "waits for ready (15s timeout)"
// for a session spawned from a background listener's accepted channel.
const onNewChannelTimeout = 15 * time.Second

// Manager owns every live Session and Listener for one redcat process.
// Public operations return (ok, error) as spec.md §4.7 specifies.
type Manager struct {
	sessionsMu   sync.Mutex
	sessions     map[ids.SessionID]*session.Session
	sessionIDs   ids.Counter
	selectedID   ids.SessionID
	hasSelected  bool

	listenersMu sync.Mutex
	listeners   map[ids.ListenerID]*Listener
	listenerIDs ids.Counter

	brokenMu        sync.Mutex
	brokenSessions  []ids.SessionID
	brokenListeners []ids.ListenerID

	stopReaper chan struct{}
	reaperOnce sync.Once

	stdout io.Writer
	stdin  io.Reader
}

// New constructs an empty Manager and starts its reaper goroutine.
func New(stdout io.Writer, stdin io.Reader) *Manager {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stdin == nil {
		stdin = os.Stdin
	}
	m := &Manager{
		sessions:   map[ids.SessionID]*session.Session{},
		listeners:  map[ids.ListenerID]*Listener{},
		stopReaper: make(chan struct{}),
		stdout:     stdout,
		stdin:      stdin,
	}
	panics.Go(logx.Get(), m.runReaper)
	return m
}

// Clear stops every listener and session, per original_source/manager.py
// Manager.clear (used on process shutdown).
func (m *Manager) Clear() {
	m.listenersMu.Lock()
	lsts := make([]*Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		lsts = append(lsts, l)
	}
	m.listeners = map[ids.ListenerID]*Listener{}
	m.listenersMu.Unlock()
	for _, l := range lsts {
		l.Stop()
	}

	m.sessionsMu.Lock()
	sesss := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sesss = append(sesss, s)
	}
	m.sessions = map[ids.SessionID]*session.Session{}
	m.hasSelected = false
	m.sessionsMu.Unlock()
	for _, s := range sesss {
		s.Close()
	}
}

// Stop halts the reaper goroutine and tears everything down.
func (m *Manager) Stop() {
	m.reaperOnce.Do(func() { close(m.stopReaper) })
	m.Clear()
}

func (m *Manager) reportBrokenSession(id ids.SessionID) {
	m.brokenMu.Lock()
	m.brokenSessions = append(m.brokenSessions, id)
	m.brokenMu.Unlock()
}

// runReaper decouples failure handling from the goroutine that detected
// it (typically the channel's central reader), matching spec.md §4.7.
func (m *Manager) runReaper() {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopReaper:
			return
		case <-ticker.C:
			m.brokenMu.Lock()
			sessIDs := m.brokenSessions
			m.brokenSessions = nil
			lstIDs := m.brokenListeners
			m.brokenListeners = nil
			m.brokenMu.Unlock()
			for _, id := range sessIDs {
				m.Kill("session", id.String())
			}
			for _, id := range lstIDs {
				m.Kill("listener", id.String())
			}
		}
	}
}

// Connect implements spec.md §4.7's foreground connect: build a session,
// open it, wait for it, go interactive on the calling goroutine, run
// until the writer pump stops, then drop back to non-interactive.
func (m *Manager) Connect(host string, port int, proto transport.Protocol, platformName platform.Name, cfg platform.Config, tlsCfg *transport.Config) (ok bool, errMsg string) {
	t, err := transport.Dial(host, port, proto, tlsCfg)
	if err != nil {
		return false, fmt.Sprintf("connecting to %s:%d: %v", host, port, err)
	}
	sess, insErr := m.buildAndInsertSession(t, proto, platformName, cfg, true)
	if insErr != "" {
		return false, insErr
	}
	sess.Interactive(true)
	sess.Start()
	sess.Wait() // blocks until Ctrl-D or a transport failure stops the writer pump
	sess.Interactive(false)
	return true, ""
}

// Listen implements spec.md §4.7's listen operation, in either the
// foreground (single accept, blocking) or background (registered
// listener, accepts delivered asynchronously) mode.
func (m *Manager) Listen(background bool, host string, port int, proto transport.Protocol, platformName platform.Name, cfg platform.Config, tlsCfg *transport.Config) (ok bool, errMsg string) {
	if !background {
		lst, err := transport.Listen(host, port, 1, proto, tlsCfg)
		if err != nil {
			return false, fmt.Sprintf("binding %s:%d: %v", host, port, err)
		}
		defer lst.Close()
		t, err := lst.Accept()
		if err != nil {
			return false, fmt.Sprintf("accepting connection: %v", err)
		}
		sess, insErr := m.buildAndInsertSession(t, proto, platformName, cfg, true)
		if insErr != "" {
			return false, insErr
		}
		sess.Interactive(true)
		sess.Start()
		sess.Wait()
		sess.Interactive(false)
		return true, ""
	}

	lst, err := transport.Listen(host, port, 16, proto, tlsCfg)
	if err != nil {
		return false, fmt.Sprintf("binding %s:%d: %v", host, port, err)
	}
	id := ids.ListenerID(m.listenerIDs.Next())
	l := newListener(id, host, port, proto, platformName, lst, func(t transport.Transport, p transport.Protocol, pn platform.Name) {
		m.onNewChannel(t, p, pn, cfg)
	})
	m.listenersMu.Lock()
	m.listeners[id] = l
	m.listenersMu.Unlock()
	l.Start()
	return true, ""
}

// onNewChannel realizes spec.md §4.7's background-listener callback:
// build the session, open it, wait up to 15s, briefly toggle interactive
// mode to realize PTY upgrade, then insert and (if nothing is selected)
// select it. Any failure tears the partial session down without
// inserting it.
func (m *Manager) onNewChannel(t transport.Transport, proto transport.Protocol, platformName platform.Name, cfg platform.Config) {
	id := ids.SessionID(m.sessionIDs.Next())
	sess, err := session.New(id, t, proto, platformName, cfg, m.onSessionError, m.stdout, m.stdin)
	if err != nil {
		t.Close()
		logx.Get().Error("building session for new channel: ", err)
		return
	}
	if ok, errMsg := sess.Open(); !ok {
		sess.Close()
		logx.Get().Error("opening new channel's session: ", errMsg)
		return
	}
	if !sess.WaitOpen(onNewChannelTimeout) {
		sess.Close()
		logx.Get().Error("new channel's session never reached open within the deadline")
		return
	}
	sess.Interactive(true)
	sess.Interactive(false)

	m.sessionsMu.Lock()
	m.sessions[id] = sess
	if !m.hasSelected {
		m.selectedID = id
		m.hasSelected = true
	}
	m.sessionsMu.Unlock()
}

func (m *Manager) onSessionError(s *session.Session, msg string) {
	logx.Get().Warning("session ", s.ID, " reported an error: ", msg)
	m.reportBrokenSession(s.ID)
}

func (m *Manager) buildAndInsertSession(t transport.Transport, proto transport.Protocol, platformName platform.Name, cfg platform.Config, selectIfNone bool) (*session.Session, string) {
	id := ids.SessionID(m.sessionIDs.Next())
	sess, err := session.New(id, t, proto, platformName, cfg, m.onSessionError, m.stdout, m.stdin)
	if err != nil {
		t.Close()
		return nil, fmt.Sprintf("building session: %v", err)
	}
	if ok, errMsg := sess.Open(); !ok {
		return nil, errMsg
	}
	if !sess.WaitOpen(0) {
		sess.Close()
		return nil, "session never reached open"
	}
	m.sessionsMu.Lock()
	m.sessions[id] = sess
	if selectIfNone && !m.hasSelected {
		m.selectedID = id
		m.hasSelected = true
	}
	m.sessionsMu.Unlock()
	return sess, ""
}

// Kill terminates and removes a session or listener by id; if the killed
// session was selected, the selection is cleared.
func (m *Manager) Kill(kind, idStr string) (ok bool, errMsg string) {
	switch kind {
	case "session":
		id, err := parseSessionID(idStr)
		if err != nil {
			return false, fmt.Sprintf("invalid session id %q", idStr)
		}
		m.sessionsMu.Lock()
		sess, found := m.sessions[id]
		if !found {
			m.sessionsMu.Unlock()
			return false, fmt.Sprintf("unknown session id %s", idStr)
		}
		delete(m.sessions, id)
		if m.hasSelected && m.selectedID == id {
			m.hasSelected = false
		}
		m.sessionsMu.Unlock()
		sess.Close()
		return true, ""
	case "listener":
		id, err := parseListenerID(idStr)
		if err != nil {
			return false, fmt.Sprintf("invalid listener id %q", idStr)
		}
		m.listenersMu.Lock()
		l, found := m.listeners[id]
		if !found {
			m.listenersMu.Unlock()
			return false, fmt.Sprintf("unknown listener id %s", idStr)
		}
		delete(m.listeners, id)
		m.listenersMu.Unlock()
		l.Stop()
		return true, ""
	default:
		return false, fmt.Sprintf("unknown kill target %q", kind)
	}
}

// SelectSession sets the selected session; "none" clears the selection.
func (m *Manager) SelectSession(idStr string) (ok bool, errMsg string) {
	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()
	if idStr == "none" || idStr == "-1" {
		m.hasSelected = false
		return true, ""
	}
	id, err := parseSessionID(idStr)
	if err != nil {
		return false, fmt.Sprintf("unknown session id %s", idStr)
	}
	if _, found := m.sessions[id]; !found {
		return false, fmt.Sprintf("unknown session id %s", idStr)
	}
	m.selectedID = id
	m.hasSelected = true
	return true, ""
}

func (m *Manager) resolveID(idStr string) (ids.SessionID, bool) {
	if idStr == "" {
		m.sessionsMu.Lock()
		defer m.sessionsMu.Unlock()
		return m.selectedID, m.hasSelected
	}
	id, err := parseSessionID(idStr)
	if err != nil {
		return 0, false
	}
	return id, true
}

// RemoteShell re-enters interactive mode on an existing session.
func (m *Manager) RemoteShell(idStr string) (ok bool, errMsg string) {
	id, have := m.resolveID(idStr)
	if !have {
		return false, fmt.Sprintf("unknown session id %s", idStr)
	}
	m.sessionsMu.Lock()
	sess, found := m.sessions[id]
	m.sessionsMu.Unlock()
	if !found {
		return false, fmt.Sprintf("unknown session id %s", idStr)
	}
	sess.Interactive(true)
	sess.Start()
	sess.Wait()
	sess.Interactive(false)
	return true, ""
}

// Download delegates to the session's platform, then writes the bytes to
// a local file, mapping stdlib fs errors to structured failures the way
// original_source/manager.py maps Python's FileNotFoundError/
// PermissionError/IsADirectoryError.
func (m *Manager) Download(remote, local, idStr string) (ok bool, errMsg string) {
	id, have := m.resolveID(idStr)
	if !have {
		if idStr == "" {
			return false, "no session selected for the download operation"
		}
		return false, fmt.Sprintf("unknown session id %s", idStr)
	}
	m.sessionsMu.Lock()
	sess, found := m.sessions[id]
	m.sessionsMu.Unlock()
	if !found {
		return false, fmt.Sprintf("unknown session id %s", idStr)
	}
	dlOk, dlErr, data := sess.Download(remote, nil)
	if !dlOk {
		return false, "download operation failed"
	}
	if dlErr != "" {
		return false, dlErr
	}
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return false, mapWriteFileError(local, err)
	}
	return true, ""
}

// Upload reads a local file and delegates to the session's platform.
func (m *Manager) Upload(local, remote, idStr string) (ok bool, errMsg string) {
	id, have := m.resolveID(idStr)
	if !have {
		if idStr == "" {
			return false, "no session selected for the upload operation"
		}
		return false, fmt.Sprintf("unknown session id %s", idStr)
	}
	m.sessionsMu.Lock()
	sess, found := m.sessions[id]
	m.sessionsMu.Unlock()
	if !found {
		return false, fmt.Sprintf("unknown session id %s", idStr)
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return false, mapReadFileError(local, err)
	}
	return sess.Upload(remote, data, nil)
}

// Show implements spec.md §4.7's CSV-ish table rows for the (external,
// out-of-scope) table renderer.
func (m *Manager) Show(kind string) (ok bool, errMsg string) {
	var rows []string
	switch kind {
	case "sessions":
		m.sessionsMu.Lock()
		defer m.sessionsMu.Unlock()
		for id, sess := range m.sessions {
			_, _, user := sess.Whoami()
			rows = append(rows, fmt.Sprintf("%s,%s,%s,%s", id.String(), user, sess.RemoteAddr(), sess.Platform().Name()))
		}
		return true, strings.Join(rows, "\n")
	case "listeners":
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		for id, l := range m.listeners {
			rows = append(rows, fmt.Sprintf("%s,@%s:%d,%s,%s", id.String(), l.Host, l.Port, l.PlatformName, l.BindTag))
		}
		return true, strings.Join(rows, "\n")
	default:
		return false, fmt.Sprintf("unknown show target %q", kind)
	}
}

// GetSessionInfo formats "session <id>: <user>@<host>" for the prompt.
func (m *Manager) GetSessionInfo(idStr string) string {
	id, have := m.resolveID(idStr)
	if !have {
		return ""
	}
	m.sessionsMu.Lock()
	sess, found := m.sessions[id]
	m.sessionsMu.Unlock()
	if !found {
		return ""
	}
	_, _, user := sess.Whoami()
	_, _, host := sess.Hostname()
	return fmt.Sprintf("session %s: %s@%s", id.String(), user, host)
}

func parseSessionID(s string) (ids.SessionID, error) {
	var n uint64
	_, err := fmt.Sscanf(s, "%d", &n)
	return ids.SessionID(n), err
}

func parseListenerID(s string) (ids.ListenerID, error) {
	var n uint64
	_, err := fmt.Sscanf(s, "%d", &n)
	return ids.ListenerID(n), err
}

func mapWriteFileError(path string, err error) string {
	if os.IsNotExist(err) {
		return fmt.Sprintf("cannot write local file %s: parent directory not found", path)
	}
	if os.IsPermission(err) {
		return fmt.Sprintf("don't have permission to write local file %s", path)
	}
	return err.Error()
}

func mapReadFileError(path string, err error) string {
	if os.IsNotExist(err) {
		return fmt.Sprintf("local file %s not found", path)
	}
	if os.IsPermission(err) {
		return fmt.Sprintf("don't have permission to read local file %s", path)
	}
	return err.Error()
}
