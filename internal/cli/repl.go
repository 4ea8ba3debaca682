// Package cli implements the interactive command loop an operator drives
// once redcat is running: the argparse/readline surface spec.md marks
// out of scope, stubbed down to a bufio.Scanner reading lines from stdin
// and dispatching straight into a Manager method. Grounded on
// _examples/original_source/engine.py's Engine.run/__call dispatch table,
// translated from its argparse-per-command subparsers into a plain
// switch over whitespace-split fields (strings.Fields; no quoting).
package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Danakane/Redcat/internal/logx"
	"github.com/Danakane/Redcat/internal/manager"
	"github.com/Danakane/Redcat/internal/platform"
	"github.com/Danakane/Redcat/internal/term"
	"github.com/Danakane/Redcat/internal/transport"
)

// REPL reads operator command lines and dispatches them to a Manager.
// It owns nothing beyond the Manager reference: sessions, listeners and
// the reaper all live and run independently of whether the REPL is
// reading a prompt or blocked inside a foreground Connect/Listen/shell.
type REPL struct {
	mgr *manager.Manager
	out io.Writer
	in  *bufio.Scanner

	tlsCfg transport.Config
}

// New builds a REPL over an already-constructed Manager.
func New(mgr *manager.Manager, out io.Writer, in io.Reader) *REPL {
	return &REPL{mgr: mgr, out: out, in: bufio.NewScanner(in)}
}

// SetTLSConfig stores the cert/key/ca-cert material passed along to
// Manager.Connect/Listen. The REPL's "connect" and "listen" commands take
// no protocol argument and always use tcp, so this material has no effect
// on them.
func (r *REPL) SetTLSConfig(cfg transport.Config) { r.tlsCfg = cfg }

func (r *REPL) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *REPL) prompt() string {
	info := r.mgr.GetSessionInfo("")
	host := "@localhost"
	if info != "" {
		if idx := strings.Index(info, ": "); idx >= 0 {
			host = "@" + info[idx+2:]
		}
	}
	return term.Yellow("["+host+"]") + " " + term.Green("redcat") + "> "
}

// Run reads and dispatches lines until stdin closes or "exit" is issued.
// Mirrors original_source/engine.py's Engine.run: EOF on a blank prompt
// drops into the selected session's shell rather than quitting, since an
// operator's Ctrl-D there usually means "back out of the REPL into my
// shell", not "tear everything down".
func (r *REPL) Run() {
	for {
		r.printf("%s", r.prompt())
		if !r.in.Scan() {
			r.printf("\n")
			if ok, _ := r.mgr.RemoteShell(""); !ok {
				return
			}
			continue
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}
		if line == "exit" {
			r.mgr.Stop()
			return
		}
		if ok, errMsg := r.dispatch(line); !ok {
			if errMsg == "" {
				errMsg = "unspecified error"
			}
			r.printf("%s\n", term.Errorf("%s", errMsg))
		}
	}
}

func (r *REPL) dispatch(line string) (ok bool, errMsg string) {
	fields := strings.Fields(line)
	name := fields[0]
	args := fields[1:]
	switch name {
	case "help":
		r.printHelp()
		return true, ""
	case "clear":
		r.mgr.Clear()
		return true, ""
	case "connect":
		return r.cmdConnect(args)
	case "listen":
		return r.cmdListen(args)
	case "kill":
		return r.cmdKill(args)
	case "show":
		return r.cmdShow(args)
	case "session":
		return r.cmdSession(args)
	case "shell":
		return r.cmdShell(args)
	case "download":
		return r.cmdDownload(args)
	case "upload":
		return r.cmdUpload(args)
	default:
		return false, fmt.Sprintf("unknown command %q", name)
	}
}

func (r *REPL) printHelp() {
	r.printf("\n")
	for _, row := range [][2]string{
		{"connect <addr> <port> [-m platform] [-b]", "connect to a remote bind shell"},
		{"listen [addr] <port> [-m platform] [-b]", "listen for a reverse shell"},
		{"kill <session|listener> <id>", "kill the session or listener for a given id"},
		{"show <sessions|listeners>", "show available sessions or listeners"},
		{"session <id>", "select the session for a given id (-1 to unselect)"},
		{"shell [id]", "spawn a remote shell for a given session id"},
		{"download <rfile> <lfile> [id]", "download a file from the remote host"},
		{"upload <lfile> <rfile> [id]", "upload a file to the remote host"},
		{"clear", "kill every session and listener"},
		{"exit", "exit redcat"},
	} {
		r.printf("  %-42s %s\n", row[0], row[1])
	}
	r.printf("\n")
}

func parsePlatformFlag(args []string) (rest []string, name platform.Name) {
	name = platform.Linux
	for i := 0; i < len(args); i++ {
		if args[i] == "-m" || args[i] == "--platform" {
			if i+1 < len(args) {
				if strings.EqualFold(args[i+1], string(platform.Windows)) {
					name = platform.Windows
				}
				args = append(args[:i], args[i+2:]...)
				break
			}
		}
	}
	return args, name
}

func hasFlag(args []string, short, long string) (rest []string, found bool) {
	for i, a := range args {
		if a == short || a == long {
			return append(append([]string{}, args[:i]...), args[i+1:]...), true
		}
	}
	return args, false
}

func (r *REPL) cmdConnect(args []string) (bool, string) {
	args, background := hasFlag(args, "-b", "--background")
	args, platformName := parsePlatformFlag(args)
	if len(args) < 2 {
		return false, "usage: connect <addr> <port> [-m platform] [-b]"
	}
	port, err := strconv.Atoi(args[1])
	if err != nil {
		return false, fmt.Sprintf("invalid port %q", args[1])
	}
	if background {
		go func() {
			if ok, errMsg := r.mgr.Connect(args[0], port, transport.TCP, platformName, platform.DefaultConfig(), &r.tlsCfg); !ok {
				logx.Get().Error("background connect to ", args[0], ":", port, " failed: ", errMsg)
			}
		}()
		return true, ""
	}
	return r.mgr.Connect(args[0], port, transport.TCP, platformName, platform.DefaultConfig(), &r.tlsCfg)
}

func (r *REPL) cmdListen(args []string) (bool, string) {
	args, background := hasFlag(args, "-b", "--background")
	args, platformName := parsePlatformFlag(args)
	if len(args) < 1 {
		return false, "usage: listen [addr] <port> [-m platform] [-b]"
	}
	addr := ""
	portStr := args[0]
	if len(args) >= 2 {
		addr = args[0]
		portStr = args[1]
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return false, fmt.Sprintf("invalid port %q", portStr)
	}
	return r.mgr.Listen(background, addr, port, transport.TCP, platformName, platform.DefaultConfig(), &r.tlsCfg)
}

func (r *REPL) cmdKill(args []string) (bool, string) {
	if len(args) < 2 {
		return false, "usage: kill <session|listener> <id>"
	}
	return r.mgr.Kill(args[0], args[1])
}

func (r *REPL) cmdShow(args []string) (bool, string) {
	if len(args) < 1 {
		return false, "usage: show <sessions|listeners>"
	}
	ok, serialized := r.mgr.Show(args[0])
	if !ok {
		return false, serialized
	}
	if serialized != "" {
		r.printf("\n%s\n\n", serialized)
	} else {
		r.printf("\n(none)\n\n")
	}
	return true, ""
}

func (r *REPL) cmdSession(args []string) (bool, string) {
	if len(args) < 1 {
		return false, "usage: session <id>"
	}
	return r.mgr.SelectSession(args[0])
}

func (r *REPL) cmdShell(args []string) (bool, string) {
	id := ""
	if len(args) > 0 {
		id = args[0]
	}
	return r.mgr.RemoteShell(id)
}

func (r *REPL) cmdDownload(args []string) (bool, string) {
	if len(args) < 2 {
		return false, "usage: download <rfile> <lfile> [id]"
	}
	id := ""
	if len(args) > 2 {
		id = args[2]
	}
	return r.mgr.Download(args[0], args[1], id)
}

func (r *REPL) cmdUpload(args []string) (bool, string) {
	if len(args) < 2 {
		return false, "usage: upload <lfile> <rfile> [id]"
	}
	id := ""
	if len(args) > 2 {
		id = args[2]
	}
	return r.mgr.Upload(args[0], args[1], id)
}
