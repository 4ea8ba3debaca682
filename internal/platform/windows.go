package platform

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/Danakane/Redcat/internal/channel"
	"github.com/Danakane/Redcat/internal/transaction"
)

// windowsPlatform implements spec.md §4.4's Windows variant: cmd.exe
// framing with CRLF line endings, a ConPTY-based PTY upgrade, and
// PowerShell base64 transfer. Grounded on original_source/platform.py's
// Windows class (the "raindrop" helper name and its SUCCESS sentinel, the
// fixed 10s ConPTY-ready timeout) combined with SPEC_FULL.md §6's
// decision to keep upload/download symmetric with the POSIX adapter.
type windowsPlatform struct {
	base
	localTerm *termState
}

func newWindows(ch *channel.Channel, cfg Config) *windowsPlatform {
	p := &windowsPlatform{}
	p.ch = ch
	p.cfg = cfg
	p.build = func(payload []byte, tok transaction.Tokens) []byte {
		return buildWindows(payload, tok, p.hasPTY)
	}
	return p
}

func (p *windowsPlatform) Name() Name { return Windows }

// buildWindows frames a command for cmd.exe: spec.md §4.4 Windows variant
// chains the control echo inside a short-circuiting `&&` the same way the
// POSIX frame does, wrapped in parens so the surrounding `&` sequencing
// still fires the sentinel echoes regardless of payload's exit status.
// Once a PTY has been upgraded the remote line discipline is already
// CRLF-normalizing, so the frame switches to bare `\r` (hasPTY mirrors
// original_source/platform/windows.py's branch on self._has_pty).
func buildWindows(payload []byte, tok transaction.Tokens, hasPTY bool) []byte {
	end := "\r\n"
	if hasPTY {
		end = "\r"
	}
	return []byte(fmt.Sprintf("echo %s & (%s && echo %s) & echo %s%s",
		tok.Start, string(payload), tok.Control, tok.End, end))
}

func (p *windowsPlatform) SendCmd(cmd string, wait time.Duration) (ok bool, errMsg string) {
	ok, errMsg = p.ch.Send([]byte(cmd + "\r\n"))
	if wait > 0 {
		time.Sleep(wait)
	}
	return
}

// raindropReadySentinel is emitted by the ConPTY launcher helper once the
// pseudo console is attached and ready to accept input, matching
// original_source/platform.py's Windows.get_pty().
const raindropReadySentinel = "SUCCESS: pty ready!"

// getPTY runs the raindrop helper already present on the remote host;
// cfg.PTYUpgradeTimeout (10s when unset) bounds how long it waits for
// raindropReadySentinel before giving up on the upgrade and continuing
// without a PTY.
func (p *windowsPlatform) getPTY(tok channel.LockToken) bool {
	if p.hasPTY {
		return true
	}
	deadline := p.cfg.PTYUpgradeTimeout
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	p.ch.Purge()
	p.ch.Send([]byte("raindrop.exe -ready-sentinel \"" + raindropReadySentinel + "\"\r\n"))
	if !p.ch.WaitData(deadline) {
		return false
	}
	time.Sleep(200 * time.Millisecond)
	out := p.ch.Retrieve(0)
	if strings.Contains(string(out), raindropReadySentinel) {
		p.hasPTY = true
	}
	return p.hasPTY
}

// Interactive implements the Windows variant of spec.md §4.4.1: there is
// no echo/history suppression step (cmd.exe already doesn't echo over a
// raw socket the way a POSIX tty does), so the state machine reduces to
// an attempted ConPTY upgrade plus local raw-mode toggling.
func (p *windowsPlatform) Interactive(tok channel.LockToken, value bool, sessionID string) bool {
	p.modeLock.Lock()
	defer p.modeLock.Unlock()
	if p.interactive == value {
		return p.interactive
	}
	if value {
		p.localTerm = makeRaw()
		if !p.hasPTY {
			p.getPTY(tok)
		}
		p.ch.WaitData(2 * time.Second)
		time.Sleep(200 * time.Millisecond)
		p.ch.Purge()
		p.interactive = true
	} else {
		restoreTerm(p.localTerm)
		p.interactive = false
	}
	return p.interactive
}

func (p *windowsPlatform) Whoami(tok channel.LockToken) (ok bool, errMsg string, user string) {
	ok, cmdOk, data := p.Exec(tok, []byte("whoami"), !p.hasPTY, 0)
	if !ok {
		return false, "transaction failed", ""
	}
	if !cmdOk {
		return true, "remote command failed", ""
	}
	return true, "", strings.TrimSpace(string(data))
}

func (p *windowsPlatform) Hostname(tok channel.LockToken) (ok bool, errMsg string, host string) {
	ok, cmdOk, data := p.Exec(tok, []byte("hostname"), !p.hasPTY, 0)
	if !ok {
		return false, "transaction failed", ""
	}
	if !cmdOk {
		return true, "remote command failed", ""
	}
	return true, "", strings.TrimSpace(string(data))
}

// psEncodeFmt/psDecodeFmt mirror the one-liners original_source uses so
// file transfer works without requiring certutil or any third binary.
const psEncodeFmt = "powershell -NoProfile -Command \"[Convert]::ToBase64String([IO.File]::ReadAllBytes('%s'))\""
const psDecodeFmt = "powershell -NoProfile -Command \"[IO.File]::WriteAllBytes('%s', [Convert]::FromBase64String('%s'))\""

var windowsDownloadErrors = map[string]string{
	"File Not Found":       "remote file not found",
	"Cannot find path":     "remote file not found",
	"Access is denied":     "permission denied reading remote file",
	"cannot find the path": "remote file not found",
}

func (p *windowsPlatform) Download(tok channel.LockToken, remotePath string, progress func(sent, total int)) (ok bool, errMsg string, data []byte) {
	probe := fmt.Sprintf("dir %s", remotePath)
	txOk, cmdOk, out := p.Exec(tok, []byte(probe), !p.hasPTY, 0)
	if !txOk {
		return false, "transaction failed", nil
	}
	if !cmdOk {
		for needle, msg := range windowsDownloadErrors {
			if strings.Contains(string(out), needle) {
				return true, msg, nil
			}
		}
		return true, "remote read probe failed", nil
	}
	txOk, cmdOk, out = p.Exec(tok, []byte(fmt.Sprintf(psEncodeFmt, remotePath)), !p.hasPTY, 60*time.Second)
	if !txOk {
		return false, "transaction failed", nil
	}
	if !cmdOk {
		return true, "remote read failed (missing file or access denied)", nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(out)))
	if err != nil {
		return false, fmt.Sprintf("decoding transferred bytes: %v", err), nil
	}
	return true, "", decoded
}

const windowsUploadChunkSize = 4096

func (p *windowsPlatform) Upload(tok channel.LockToken, remotePath string, data []byte, progress func(sent, total int)) (ok bool, errMsg string) {
	encoded := base64.StdEncoding.EncodeToString(data)
	chunks := chunkString(encoded, windowsUploadChunkSize)

	var ok2 bool
	p.ch.WithTransactionLock(tok, func() {
		ok2 = true
		for i, chunk := range chunks {
			var cmd string
			if i == 0 {
				cmd = fmt.Sprintf("powershell -NoProfile -Command \"Set-Content -Path '%s.b64' -Value '%s' -NoNewline\"", remotePath, chunk)
			} else {
				cmd = fmt.Sprintf("powershell -NoProfile -Command \"Add-Content -Path '%s.b64' -Value '%s' -NoNewline\"", remotePath, chunk)
			}
			txOk, cmdOk, _ := p.Exec(tok, []byte(cmd), !p.hasPTY, 0)
			if !txOk || !cmdOk {
				ok2 = false
				errMsg = fmt.Sprintf("upload failed at chunk %d/%d", i+1, len(chunks))
				return
			}
			if progress != nil {
				progress(i+1, len(chunks))
			}
			if p.cfg.ChunkDelay > 0 {
				time.Sleep(p.cfg.ChunkDelay)
			}
		}
		decodeCmd := fmt.Sprintf("powershell -NoProfile -Command \"[IO.File]::WriteAllBytes('%s', [Convert]::FromBase64String([IO.File]::ReadAllText('%s.b64')))\"", remotePath, remotePath)
		txOk, cmdOk, _ := p.Exec(tok, []byte(decodeCmd), !p.hasPTY, 60*time.Second)
		if !txOk || !cmdOk {
			ok2 = false
			errMsg = "remote base64 decode failed"
			return
		}
		p.Exec(tok, []byte(fmt.Sprintf("del %s.b64", remotePath)), !p.hasPTY, 0)
	})
	return ok2, errMsg
}
