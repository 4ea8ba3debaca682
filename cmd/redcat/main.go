// Command redcat is the operator-facing entry point: parse the one-shot
// connect/listen flags, optionally establish that first session or
// listener, then hand control to the REPL. Grounded on
// _examples/original_source/rc.py, translated from argparse's
// flag/choices/default machinery into urfave/cli (matching the teacher's
// own ksh.go usage of the same library).
package main

import (
	"fmt"
	"os"

	"github.com/op/go-logging"
	"github.com/urfave/cli"

	"github.com/Danakane/Redcat/internal/logx"
	"github.com/Danakane/Redcat/internal/manager"
	"github.com/Danakane/Redcat/internal/platform"
	clirepl "github.com/Danakane/Redcat/internal/cli"
	"github.com/Danakane/Redcat/internal/term"
	"github.com/Danakane/Redcat/internal/transport"
)

func main() {
	logx.Setup("redcat", logging.NOTICE, false)

	app := cli.NewApp()
	app.Name = "redcat"
	app.Usage = "a remote shell handler for CTFs, pentests and red team engagements"
	app.Version = "1.0.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "bind, l", Usage: "use bind mode"},
		cli.StringFlag{Name: "platform, m", Value: string(platform.Linux), Usage: "expected platform (linux or windows)"},
		cli.StringFlag{Name: "protocol", Value: string(transport.TCP), Usage: "channel protocol (tcp, ssl or pipe)"},
		cli.StringFlag{Name: "cert", Usage: "path of certificate for the ssl shell listener"},
		cli.StringFlag{Name: "key", Usage: "path of private key of the listener certificate"},
		cli.StringFlag{Name: "password", Usage: "password of the private key"},
		cli.StringFlag{Name: "ca-cert", Usage: "CA certificate of the ssl reverse shell"},
	}
	app.ArgsUsage = "[host] [port]"
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Println(term.Errorf("%s", err))
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	bind := c.Bool("bind")
	protocol := transport.Protocol(c.String("protocol"))
	if protocol != transport.TCP && protocol != transport.SSL && protocol != transport.Pipe {
		return cli.NewExitError(term.Errorf("unknown protocol %q, expected tcp, ssl or pipe", c.String("protocol")), 1)
	}

	platformName := platform.Linux
	if c.String("platform") == string(platform.Windows) {
		platformName = platform.Windows
	}

	tlsCfg := transport.Config{
		CertFile: c.String("cert"),
		KeyFile:  c.String("key"),
		Password: c.String("password"),
		CACert:   c.String("ca-cert"),
	}
	if protocol == transport.TCP && (tlsCfg.CertFile != "" || tlsCfg.KeyFile != "" || tlsCfg.Password != "" || tlsCfg.CACert != "") {
		return cli.NewExitError(term.Errorf("--cert, --key, --password and --ca-cert require --protocol ssl"), 1)
	}
	if bind && protocol == transport.SSL && (tlsCfg.CertFile == "" || tlsCfg.KeyFile == "") {
		return cli.NewExitError(term.Errorf("bind mode with --protocol ssl requires --cert and --key"), 1)
	}

	mgr := manager.New(os.Stdout, os.Stdin)
	defer mgr.Stop()
	repl := clirepl.New(mgr, os.Stdout, os.Stdin)
	repl.SetTLSConfig(tlsCfg)

	host := c.Args().Get(0)
	portArg := c.Args().Get(1)
	// A pipe id takes the place of host:port -- it has no port of its own.
	if protocol == transport.Pipe || portArg != "" {
		port := 0
		if protocol != transport.Pipe {
			var err error
			port, err = parsePort(portArg)
			if err != nil {
				return cli.NewExitError(term.Errorf("%s", err), 1)
			}
		}
		var ok bool
		var errMsg string
		if bind {
			ok, errMsg = mgr.Listen(false, host, port, protocol, platformName, platform.DefaultConfig(), &tlsCfg)
		} else {
			if host == "" {
				return cli.NewExitError(term.Errorf("redcat requires a host in connect mode"), 1)
			}
			ok, errMsg = mgr.Connect(host, port, protocol, platformName, platform.DefaultConfig(), &tlsCfg)
		}
		if !ok {
			fmt.Println(term.Errorf("%s", errMsg))
			return nil
		}
	}

	repl.Run()
	return nil
}

func parsePort(s string) (int, error) {
	var port int
	if _, err := fmt.Sscanf(s, "%d", &port); err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}
