// Package transaction implements the one-shot value and ANSI-stripping
// post-processing step of spec.md §4.3. The framing itself (OS-specific
// shell one-liners) and the executor algorithm (which needs the channel's
// transport and queue) live in internal/platform and internal/channel
// respectively; this package owns what is platform-independent: token
// generation and the Transaction value itself.
package transaction

import (
	"fmt"
	"regexp"
	"time"

	"github.com/Danakane/Redcat/internal/ids"
)

// DefaultTimeout is the transaction deadline absent an explicit override
// (spec.md §5: "Every transaction has a hard deadline (default 30 s)").
const DefaultTimeout = 30 * time.Second

// Tokens holds the three independent random sentinels that bracket one
// transaction. Start, End and Control must never collide (spec.md §3).
type Tokens struct {
	Start   string
	End     string
	Control string
}

// NewTokens mints three fresh, distinct base64 tokens. Collision between
// two independently-random ≥16-byte tokens is astronomically unlikely,
// but NewTokens still checks and re-rolls defensively since the
// executor's correctness (spec.md invariant "start ≠ end ≠ control")
// depends on it.
func NewTokens() (Tokens, error) {
	for attempt := 0; attempt < 8; attempt++ {
		start, err := ids.NewToken()
		if err != nil {
			return Tokens{}, err
		}
		end, err := ids.NewToken()
		if err != nil {
			return Tokens{}, err
		}
		control, err := ids.NewToken()
		if err != nil {
			return Tokens{}, err
		}
		if start != end && end != control && start != control {
			return Tokens{Start: start, End: end, Control: control}, nil
		}
	}
	return Tokens{}, fmt.Errorf("failed to mint three distinct tokens after 8 attempts")
}

// Transaction is a one-shot framed command: payload bytes, the
// precomputed framed buffer a Platform built for it, whether the remote
// shell's line-discipline echo must be discarded, and the deadline the
// channel's executor must honor.
type Transaction struct {
	Payload    []byte
	Framed     []byte
	Tokens     Tokens
	HandleEcho bool
	Timeout    time.Duration
}

// New mints tokens and asks build to frame payload with them.
func New(payload []byte, handleEcho bool, timeout time.Duration, build func(payload []byte, tok Tokens) []byte) (*Transaction, error) {
	tok, err := NewTokens()
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Transaction{
		Payload:    payload,
		Framed:     build(payload, tok),
		Tokens:     tok,
		HandleEcho: handleEcho,
		Timeout:    timeout,
	}, nil
}

// ansiPattern matches CSI-style escape sequences. Applied as a standalone,
// testable step per spec.md §9's resolution of the "retry on ANSI
// pollution" open question: strip, don't blindly retry.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)

// StripANSI removes terminal escape sequences from transaction output.
func StripANSI(data []byte) []byte {
	return ansiPattern.ReplaceAll(data, nil)
}
