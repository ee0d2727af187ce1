package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/pseudocoder/console/internal/console"
)

const shellHelp = `Commands:
  <command> [args...]    Run a command on the device
  ls <path>              List a directory
  get <remote> <local>   Download a file
  put <local> <remote>   Upload a file
  rm <path>              Delete a file
  pending                Show commands still waiting for output
  status                 Show the connection status
  clear                  Clear the message log
  help                   Show this help
  exit                   Leave the shell
`

// runShell reads lines from stdin and runs them on the device, one at a
// time. Frames the device sends on its own are printed as they arrive.
// Usage: console shell [options]
func runShell(args []string, stdout, stderr io.Writer) int {
	fs, c := newFlagSet("shell", "shell [options]", stderr)

	return withSession(fs, c, args, 0, stderr, func(ctx context.Context, s *console.Session, _ []string) int {
		p := newLogPrinter(stdout, s)
		// The user already sees what they typed.
		p.skip[console.EntryCommand] = true

		followCtx, stopFollow := context.WithCancel(ctx)
		followed := make(chan struct{})
		go func() {
			defer close(followed)
			p.follow(followCtx)
		}()
		defer func() {
			stopFollow()
			<-followed
			p.flush()
		}()

		p.printf("Connected to %s. Type 'help' for commands, 'exit' to quit.\n", s.Key())

		sh := &shell{s: s, p: p, stderr: stderr, c: c}
		lines := bufio.NewScanner(stdin)
		for lines.Scan() {
			if ctx.Err() != nil {
				return 130
			}
			if done := sh.exec(ctx, lines.Text()); done {
				return 0
			}
		}
		return 0
	})
}

type shell struct {
	s      *console.Session
	p      *logPrinter
	c      *commonFlags
	stderr io.Writer
}

// exec runs one input line and reports whether the shell should exit.
func (sh *shell) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "exit", "quit":
		return true
	case "help":
		sh.p.printf("%s", shellHelp)
	case "status":
		st := sh.s.Status()
		sh.p.printf("%s (attempts %d)\n", st.Status, st.ReconnectAttempts)
	case "clear":
		sh.s.ClearMessages()
	case "pending":
		for _, pc := range sh.s.PendingCommands() {
			sh.p.printf("%s  %s\n", pc.CommandID, strings.Join(append([]string{pc.Command}, pc.Args...), " "))
		}
	case "ls":
		sh.fileOp(ctx, fields, func() (string, error) { return sh.s.RequestFileList(fields[1]) }, true)
	case "get":
		sh.get(ctx, fields)
	case "put":
		sh.put(ctx, fields)
	case "rm":
		sh.fileOp(ctx, fields, func() (string, error) { return sh.s.RequestFileDelete(fields[1]) }, false)
	default:
		sh.command(ctx, fields)
	}
	return false
}

func (sh *shell) command(ctx context.Context, fields []string) {
	id, err := sh.s.SendCommand(fields[0], fields[1:])
	if err != nil {
		sh.p.flush()
		printError(sh.stderr, err)
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, sh.c.timeout)
	defer cancel()
	if _, err := sh.s.AwaitCommand(waitCtx, id); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			sh.p.printf("%s still running; its output will appear when it arrives\n", id)
			return
		}
		sh.p.flush()
		printError(sh.stderr, err)
		return
	}
	sh.p.flush()
}

// fileOp runs a single-path file operation and waits for it.
func (sh *shell) fileOp(ctx context.Context, fields []string, start func() (string, error), listing bool) {
	if len(fields) < 2 {
		sh.p.printf("usage: %s\n", usageOf(fields[0]))
		return
	}
	op, err := awaitOp(ctx, sh.s, sh.c.timeout, start)
	sh.p.flush()
	if err != nil {
		printError(sh.stderr, err)
		return
	}
	if listing {
		sh.p.mu.Lock()
		printListing(sh.p.w, op.Files)
		sh.p.mu.Unlock()
	}
}

func (sh *shell) get(ctx context.Context, fields []string) {
	if len(fields) < 3 {
		sh.p.printf("usage: %s\n", usageOf("get"))
		return
	}
	op, err := awaitOp(ctx, sh.s, sh.c.timeout, func() (string, error) { return sh.s.RequestFileDownload(fields[1]) })
	sh.p.flush()
	if err != nil {
		printError(sh.stderr, err)
		return
	}
	if err := os.WriteFile(fields[2], []byte(op.Content), 0644); err != nil {
		printError(sh.stderr, err)
	}
}

func (sh *shell) put(ctx context.Context, fields []string) {
	if len(fields) < 3 {
		sh.p.printf("usage: %s\n", usageOf("put"))
		return
	}
	data, err := os.ReadFile(fields[1])
	if err != nil {
		printError(sh.stderr, err)
		return
	}
	_, err = awaitOp(ctx, sh.s, sh.c.timeout, func() (string, error) { return sh.s.RequestFileUpload(fields[2], string(data)) })
	sh.p.flush()
	if err != nil {
		printError(sh.stderr, err)
	}
}

func usageOf(cmd string) string {
	switch cmd {
	case "ls":
		return "ls <path>"
	case "rm":
		return "rm <path>"
	case "get":
		return "get <remote> <local>"
	case "put":
		return "put <local> <remote>"
	}
	return cmd
}
