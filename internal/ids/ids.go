// Package ids provides the typed identifiers and random-token generation
// used across Redcat: SessionID/ListenerID (DESIGN NOTES §9: "string-typed
// ids... map to a typed SessionId(u64)"), and the transaction sentinel
// tokens (start/end/control), grounded on the teacher's crypto/rand-backed
// nonce generation in krypto.go, generalized away from NaCl sealing.
package ids

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync/atomic"

	uuid "github.com/satori/go.uuid"
)

// SessionID identifies one Session in a Manager's registry.
type SessionID uint64

func (id SessionID) String() string {
	return fmt.Sprintf("%d", uint64(id))
}

// ListenerID identifies one Listener in a Manager's registry.
type ListenerID uint64

func (id ListenerID) String() string {
	return fmt.Sprintf("%d", uint64(id))
}

// Counter mints monotonically increasing ids starting at 0.
type Counter struct {
	next uint64
}

// Next returns the next id and advances the counter. Safe for concurrent use.
func (c *Counter) Next() uint64 {
	return atomic.AddUint64(&c.next, 1) - 1
}

// MinTokenBytes is the minimum raw entropy backing a transaction token
// (spec.md §3: "≥ 8 bytes so collisions with normal output are negligible").
const MinTokenBytes = 16

// NewToken returns a fresh base64-encoded random token of at least
// MinTokenBytes of entropy. Tokens must be regenerated per transaction.
func NewToken() (string, error) {
	buf := make([]byte, MinTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating random token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// NewBindTag mints a random display tag for a background listener,
// distinct from its small counter-assigned ListenerID: a listener that
// outlives the process it was created in (logged, referenced in a
// report) is easier to recognize by a stable-looking tag than by a
// counter that restarts at zero every run. Grounded on the teacher's
// pair.go use of satori/go.uuid for deriving a per-pairing queue name.
func NewBindTag() string {
	return uuid.Must(uuid.NewV4()).String()
}

// MustNewToken is NewToken but panics on failure; used only where the
// caller has no error-returning path (e.g. struct literal initializers in
// tests) and a failure of crypto/rand indicates a broken host.
func MustNewToken() string {
	tok, err := NewToken()
	if err != nil {
		panic(err)
	}
	return tok
}
