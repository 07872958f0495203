package main

import (
	"fmt"
	"io"
	"os"

	"qrbatch/internal/version"
)

type command interface {
	Run(args []string) int
}

type commandDeps struct {
	Stdout         io.Writer
	Stderr         io.Writer
	Lookup         func(string) (string, bool)
	RunServer      func(args []string) int
	RunZonesImport func(args []string) int
	RunHistory     func(args []string) int
	RunCheckConfig func(args []string) int
}

func defaultCommandDeps() commandDeps {
	deps := commandDeps{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Lookup: os.LookupEnv,
	}
	deps.RunServer = func(args []string) int { return runServer(args, deps) }
	deps.RunZonesImport = func(args []string) int { return runZonesImport(args, deps) }
	deps.RunHistory = func(args []string) int { return runHistory(args, deps) }
	deps.RunCheckConfig = func(args []string) int { return runCheckConfig(args, deps) }
	return deps
}

type funcCommand func(args []string) int

func (f funcCommand) Run(args []string) int {
	return f(args)
}

type usageCommand struct {
	out  io.Writer
	code int
	msg  string
}

func (c usageCommand) Run([]string) int {
	if c.msg != "" {
		fmt.Fprintln(c.out, c.msg)
	}
	fmt.Fprint(c.out, usageText)
	return c.code
}

const usageText = `usage: qrbatch [command] [flags]

commands:
  serve                          run the HTTP server (default)
  zones import <csv> [-o file]   normalize a zone sheet into a catalog
  history                        print every reservation, newest first
  check-config                   show resolved settings and their sources
  version                        print build information
`

// resolveCommand picks the subcommand. Anything that is not a known
// subcommand, including bare flags, runs the server.
func resolveCommand(args []string, deps commandDeps) (command, []string) {
	if len(args) == 0 {
		return funcCommand(deps.RunServer), args
	}
	switch args[0] {
	case "serve":
		return funcCommand(deps.RunServer), args[1:]
	case "zones":
		if len(args) > 1 && args[1] == "import" {
			return funcCommand(deps.RunZonesImport), args[2:]
		}
		return usageCommand{out: deps.Stderr, code: 2, msg: "unknown zones subcommand"}, nil
	case "history":
		return funcCommand(deps.RunHistory), args[1:]
	case "check-config":
		return funcCommand(deps.RunCheckConfig), args[1:]
	case "version", "--version":
		return funcCommand(func([]string) int {
			fmt.Fprintln(deps.Stdout, version.Get())
			return 0
		}), nil
	case "help":
		return usageCommand{out: deps.Stdout}, nil
	}
	return funcCommand(deps.RunServer), args
}
