package channel

import (
	"sync"
	"time"

	"github.com/Danakane/Redcat/internal/logx"
	"github.com/Danakane/Redcat/internal/panics"
)

// readerQuantum bounds how long the central reader dwells on one sweep of
// the channel set before looping again (spec.md §4.2: "bounded slice
// (10 ms)").
const readerQuantum = 10 * time.Millisecond

// globalRegister is the process-wide singleton described in spec.md §3
// (GlobalChannelRegister): it owns exactly one reader goroutine that
// polls every open channel and drains whichever are readable. Grounded on
// the teacher's notify.go StartNotifyCleanup: a goroutine that spawns on
// first registration and exits once its work queue (here, the channel
// set) empties, respawning on the next registration.
type registry struct {
	mu       sync.Mutex
	channels map[*Channel]LockToken
	running  bool
}

var globalRegister = &registry{channels: map[*Channel]LockToken{}}

// Register adds ch to the set the central reader polls, spawning the
// reader goroutine if it isn't already running.
func Register(ch *Channel) {
	globalRegister.mu.Lock()
	defer globalRegister.mu.Unlock()
	if _, already := globalRegister.channels[ch]; already {
		return
	}
	globalRegister.channels[ch] = NewLockToken()
	if !globalRegister.running {
		globalRegister.running = true
		panics.Go(logx.Get(), runCentralReader)
	}
}

// Unregister removes ch; called on close or on error so the central
// reader no longer drains a dead channel.
func Unregister(ch *Channel) {
	globalRegister.mu.Lock()
	defer globalRegister.mu.Unlock()
	delete(globalRegister.channels, ch)
}

func (r *registry) snapshot() map[*Channel]LockToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[*Channel]LockToken, len(r.channels))
	for ch, tok := range r.channels {
		out[ch] = tok
	}
	return out
}

func (r *registry) isEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	empty := len(r.channels) == 0
	if empty {
		r.running = false
	}
	return empty
}

// runCentralReader is the single reader goroutine owned by the register.
// While the channel set is non-empty it polls every registered channel
// each quantum: a channel whose transaction lock is currently held is
// skipped (not blocked on) so a long-running transaction cannot stall
// delivery to other sessions, matching spec.md §4.2/§5 exactly.
func runCentralReader() {
	for {
		for ch, tok := range globalRegister.snapshot() {
			if ch.State() != Open {
				continue
			}
			if !ch.txLock.tryLock(tok) {
				continue // a transaction holds the lock this round; skip, don't block
			}
			ch.recvOnce()
			ch.txLock.unlock(tok)
		}
		if globalRegister.isEmpty() {
			return
		}
		time.Sleep(readerQuantum)
	}
}

// Count reports how many channels the register currently tracks; used by
// tests to assert registration/deregistration without reaching into
// unexported state from another package.
func Count() int {
	globalRegister.mu.Lock()
	defer globalRegister.mu.Unlock()
	return len(globalRegister.channels)
}
