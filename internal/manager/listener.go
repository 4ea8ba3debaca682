package manager

import (
	"fmt"
	"sync"

	"github.com/Danakane/Redcat/internal/ids"
	"github.com/Danakane/Redcat/internal/logx"
	"github.com/Danakane/Redcat/internal/panics"
	"github.com/Danakane/Redcat/internal/platform"
	"github.com/Danakane/Redcat/internal/transport"
)

// NewChannelFunc is invoked once per accepted connection, asynchronously,
// from the listener's own accept-loop goroutine (spec.md §4.6).
type NewChannelFunc func(t transport.Transport, proto transport.Protocol, platformName platform.Name)

// Listener binds one address and runs an accept loop on its own
// goroutine, handing each accepted connection to a callback. Grounded on
// original_source/manager.py's background-listener thread (a
// thread+stop-event pair stored alongside the bind parameters) translated
// to a goroutine plus a stop channel, and on the teacher's own
// accept-loop style in src/common/socket (Accept() returning a fresh
// Transport per connection).
type Listener struct {
	ID           ids.ListenerID
	BindTag      string // stable display tag, independent of the per-process counter ID
	Host         string
	Port         int
	Protocol     transport.Protocol
	PlatformName platform.Name

	lst      transport.Listener
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	onNew    NewChannelFunc
}

func newListener(id ids.ListenerID, host string, port int, proto transport.Protocol, platformName platform.Name, lst transport.Listener, onNew NewChannelFunc) *Listener {
	return &Listener{
		ID:           id,
		BindTag:      ids.NewBindTag(),
		Host:         host,
		Port:         port,
		Protocol:     proto,
		PlatformName: platformName,
		lst:          lst,
		stopCh:       make(chan struct{}),
		onNew:        onNew,
	}
}

// Start launches the accept loop.
func (l *Listener) Start() (ok bool, errMsg string) {
	l.wg.Add(1)
	panics.Go(logx.Get(), func() {
		defer l.wg.Done()
		l.runAcceptLoop()
	})
	return true, ""
}

func (l *Listener) runAcceptLoop() {
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}
		t, err := l.lst.Accept()
		if err != nil {
			logx.Get().Warning(fmt.Sprintf("listener %s: accept failed: %s", l.ID, err))
			continue
		}
		select {
		case <-l.stopCh:
			t.Close()
			return
		default:
		}
		if l.onNew != nil {
			l.onNew(t, l.Protocol, l.PlatformName)
		}
	}
}

// Stop signals the accept loop, joins it, and closes the bound socket.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.lst.Close()
	l.wg.Wait()
}
