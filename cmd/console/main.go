// Command console opens sessions on remote devices through a session
// gateway: run commands, move files and watch the session's message log.
package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd/console
var Version = "dev"

// stdin feeds the interactive shell. Tests replace it.
var stdin io.Reader = os.Stdin

const usage = `console - remote device console over a session gateway

Usage:
  console <command> [options]

Commands:
  exec <command> [args...]   Run a command on the device and print its output
  shell                      Interactive session (commands, ls, get, put, rm)
  ls <path>                  List a directory on the device
  get <remote> [local]       Download a file (stdout when local is omitted)
  put <local> <remote>       Upload a file
  rm <path>                  Delete a file on the device
  watch                      Print the session message log until interrupted
  discover                   Find gateways on the local network (mDNS)
  recent                     List recently used sessions
  version                    Print the version

Run 'console <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "exec":
		return runExec(args[2:], stdout, stderr)
	case "shell":
		return runShell(args[2:], stdout, stderr)
	case "ls":
		return runList(args[2:], stdout, stderr)
	case "get":
		return runGet(args[2:], stdout, stderr)
	case "put":
		return runPut(args[2:], stdout, stderr)
	case "rm":
		return runRemove(args[2:], stdout, stderr)
	case "watch":
		return runWatch(args[2:], stdout, stderr)
	case "discover":
		return runDiscover(args[2:], stdout, stderr)
	case "recent":
		return runRecent(args[2:], stdout, stderr)
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "console %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
