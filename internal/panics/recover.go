// Package panics contains the single helper every background goroutine in
// Redcat (central reader, reaper, listener accept loop, session reader and
// writer threads) is wrapped in, so a panic in one session cannot take the
// operator's REPL down with it.
package panics

import (
	"fmt"
	"runtime/debug"

	"github.com/op/go-logging"
)

// RecoverToLog runs f and logs, rather than propagates, any panic.
func RecoverToLog(log *logging.Logger, f func()) {
	defer func() {
		if x := recover(); x != nil {
			if log != nil {
				log.Error(fmt.Sprintf("run time panic: %v", x))
				log.Error(string(debug.Stack()))
			}
		}
	}()
	f()
}

// Go starts f in its own goroutine, guarded by RecoverToLog.
func Go(log *logging.Logger, f func()) {
	go RecoverToLog(log, f)
}
