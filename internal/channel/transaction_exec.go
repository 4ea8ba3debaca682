package channel

import (
	"bytes"
	"time"

	"github.com/Danakane/Redcat/internal/transaction"
)

// pollSlice bounds one iteration of the executor's raw read loop while it
// is waiting on a marker; the transport itself already caps a single Recv
// at its own poll interval, so this just keeps the loop from spinning
// hot when Recv briefly returns no data.
const pollSlice = time.Millisecond

// ExecTransaction is the heart of the subsystem (spec.md §4.3): it sends
// the already-framed buffer, discards the shell's own echo of the command
// when handleEcho is set, waits for the start and end sentinels, and
// returns the bytes strictly between them along with whether the control
// marker (remote command success) was present.
//
// It runs under the channel's re-entrant transaction lock for its full
// duration, excluding the central reader for that channel — any bytes
// that arrive during the transaction are necessarily part of its own
// frame and are consumed here, never left for the reader to print
// (spec.md invariant 4).
func (c *Channel) ExecTransaction(tok LockToken, tx *transaction.Transaction) (transportOk bool, cmdOk bool, data []byte) {
	var scratch []byte
	var resTransportOk, resCmdOk bool
	var resData []byte

	c.WithTransactionLock(tok, func() {
		deadline := time.Now().Add(tx.Timeout)

		sendOk, sendErr := c.transport.Send(tx.Framed)
		if !sendOk {
			c.fail(sendErr)
			resTransportOk, resCmdOk, resData = false, false, nil
			return
		}

		readUntil := func(marker string, dl time.Time) (ok bool) {
			if marker == "" {
				return true
			}
			for {
				if idx := bytes.Index(scratch, []byte(marker)); idx >= 0 {
					return true
				}
				if time.Now().After(dl) {
					return false
				}
				rok, rerr, chunk := c.transport.Recv(0)
				if !rok {
					c.fail(rerr)
					return false
				}
				scratch = append(scratch, chunk...)
				if len(chunk) == 0 {
					time.Sleep(pollSlice)
				}
			}
		}

		// Echo-discard phase: only when the remote shell is not yet in a
		// non-echoing PTY. We read until the *first* End token shows up
		// (the line-disciplined echo of our own framed command contains
		// it) and throw everything up to and including it away.
		if tx.HandleEcho {
			if !readUntil(tx.Tokens.End, deadline) {
				c.timeoutFail()
				resTransportOk, resCmdOk, resData = false, false, nil
				return
			}
			idx := bytes.Index(scratch, []byte(tx.Tokens.End))
			scratch = scratch[idx+len(tx.Tokens.End):]
		}

		// Await-start phase.
		if !readUntil(tx.Tokens.Start, deadline) {
			c.timeoutFail()
			resTransportOk, resCmdOk, resData = false, false, nil
			return
		}

		// Await-end phase: keep reading (scratch already contains Start;
		// look for an End after it) until the closing marker appears.
		for {
			startIdx := bytes.Index(scratch, []byte(tx.Tokens.Start))
			afterStart := scratch[startIdx+len(tx.Tokens.Start):]
			if bytes.Contains(afterStart, []byte(tx.Tokens.End)) {
				break
			}
			if time.Now().After(deadline) {
				c.timeoutFail()
				resTransportOk, resCmdOk, resData = false, false, nil
				return
			}
			rok, rerr, chunk := c.transport.Recv(0)
			if !rok {
				c.fail(rerr)
				resTransportOk, resCmdOk, resData = false, false, nil
				return
			}
			scratch = append(scratch, chunk...)
			if len(chunk) == 0 {
				time.Sleep(pollSlice)
			}
		}

		// Drain-tail phase: read non-blockingly until the transport
		// yields nothing for one poll interval, so residue doesn't
		// pollute the next transaction.
		for {
			rok, rerr, chunk := c.transport.Recv(0)
			if !rok {
				c.fail(rerr)
				break
			}
			if len(chunk) == 0 {
				break
			}
			scratch = append(scratch, chunk...)
		}

		startIdx := bytes.Index(scratch, []byte(tx.Tokens.Start))
		afterStart := scratch[startIdx+len(tx.Tokens.Start):]
		endIdx := bytes.Index(afterStart, []byte(tx.Tokens.End))
		extracted := afterStart[:endIdx]

		cmdOk := bytes.Contains(extracted, []byte(tx.Tokens.Control))
		if cmdOk {
			extracted = bytes.Replace(extracted, []byte(tx.Tokens.Control), nil, 1)
		}
		resTransportOk, resCmdOk, resData = true, cmdOk, extracted
	})
	return resTransportOk, resCmdOk, resData
}

// timeoutFail transitions the channel to Error with the message spec.md
// §4.3 mandates on a stuck transaction.
func (c *Channel) timeoutFail() {
	c.fail("channel's transaction timeout")
}
