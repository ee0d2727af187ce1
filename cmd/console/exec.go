package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/pseudocoder/console/internal/console"
)

// sessionFunc runs with a connected session and returns the exit code.
type sessionFunc func(ctx context.Context, s *console.Session, args []string) int

// withSession parses the common flags, connects the session and runs fn
// with the positional arguments. ctx is cancelled on SIGINT/SIGTERM.
func withSession(fs *pflag.FlagSet, c *commonFlags, args []string, minArgs int, stderr io.Writer, fn sessionFunc) int {
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	rest := fs.Args()
	if len(rest) < minArgs {
		fs.Usage()
		return 1
	}

	a, code, ok := setup(fs, c, stderr)
	if !ok {
		return code
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := a.openSession(ctx, a.cfg.DeviceID, c.session)
	if err != nil {
		printError(stderr, err)
		return 1
	}
	defer s.Close()

	return fn(ctx, s, rest)
}

// runExec runs one command and mirrors its output and exit code.
// Usage: console exec [options] <command> [args...]
func runExec(args []string, stdout, stderr io.Writer) int {
	fs, c := newFlagSet("exec", "exec [options] <command> [args...]", stderr)
	// Everything after the command belongs to the remote command.
	fs.SetInterspersed(false)

	return withSession(fs, c, args, 1, stderr, func(ctx context.Context, s *console.Session, rest []string) int {
		id, err := s.SendCommand(rest[0], rest[1:])
		if err != nil {
			printError(stderr, err)
			return 1
		}

		waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		result, err := s.AwaitCommand(waitCtx, id)
		if err != nil {
			printError(stderr, fmt.Errorf("waiting for %s: %w", id, err))
			return 1
		}

		io.WriteString(stdout, result.Stdout)
		if result.Stderr != "" {
			io.WriteString(stderr, result.Stderr)
			if !strings.HasSuffix(result.Stderr, "\n") {
				fmt.Fprintln(stderr)
			}
		}
		return exitCode(result.ExitCode)
	})
}

// exitCode maps a remote exit status onto a local one.
func exitCode(remote int) int {
	if remote < 0 || remote > 255 {
		return 1
	}
	return remote
}
