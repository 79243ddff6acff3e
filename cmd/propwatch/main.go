// Package main provides the propwatch CLI entrypoint.
//
// Usage:
//
//	propwatch <command> [subcommand] [options]
//
// Exit codes for watch and replay:
//   - 0: a termination value was reached
//   - 1: the watch failed
//   - 2: the watch was canceled or timed out
//   - 3: invalid flags or config
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/propwatch/cli/cmd"
	"github.com/pithecene-io/propwatch/types"
)

// commit is stamped with -ldflags "-X main.commit=...".
var commit = "unknown"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		os.Exit(exitFailed)
	}
}

const exitFailed = 1

func newApp() *cli.App {
	return &cli.App{
		Name:           "propwatch",
		Usage:          "Watch managed object properties through a property collector",
		Version:        types.Version + " (" + commit + ")",
		ExitErrHandler: exitErrHandler,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Minimum log level on stderr: debug, info, warn, error",
				Value:   "warn",
				EnvVars: []string{"PROPWATCH_LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			cmd.WatchCommand(),
			cmd.RetrieveCommand(),
			cmd.ReplayCommand(),
			cmd.ServeCommand(),
			cmd.InspectCommand(),
			cmd.VersionCommand(commit),
		},
		// --until takes path=v1,v2; the commas must reach the command.
		DisableSliceFlagSeparator: true,
	}
}

func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code, msg := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus maps a command error to a process exit code and the line
// printed to stderr. cli.Exit errors keep their code; a bare
// cli.Exit("", n) prints nothing.
func exitStatus(err error) (int, string) {
	var coder cli.ExitCoder
	if !errors.As(err, &coder) {
		return exitFailed, "Error: " + err.Error()
	}
	code := coder.ExitCode()
	msg := coder.Error()
	if msg == "" || msg == fmt.Sprintf("exit status %d", code) {
		msg = ""
	}
	return code, msg
}
