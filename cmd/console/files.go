package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pseudocoder/console/internal/console"
	"github.com/pseudocoder/console/internal/protocol"
	"github.com/pseudocoder/console/internal/session"
)

// awaitOp waits for a file operation started by start, bounded by timeout.
func awaitOp(ctx context.Context, s *console.Session, timeout time.Duration, start func() (string, error)) (session.FileOperation, error) {
	id, err := start()
	if err != nil {
		return session.FileOperation{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.AwaitFileOperation(waitCtx, id)
}

// runList prints a remote directory listing.
// Usage: console ls [options] <path>
func runList(args []string, stdout, stderr io.Writer) int {
	fs, c := newFlagSet("ls", "ls [options] <path>", stderr)

	return withSession(fs, c, args, 1, stderr, func(ctx context.Context, s *console.Session, rest []string) int {
		op, err := awaitOp(ctx, s, c.timeout, func() (string, error) { return s.RequestFileList(rest[0]) })
		if err != nil {
			printError(stderr, err)
			return 1
		}
		printListing(stdout, op.Files)
		return 0
	})
}

func printListing(w io.Writer, files []protocol.FileEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tSIZE\tNAME")
	for _, f := range files {
		kind := "file"
		if f.IsDir {
			kind = "dir"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", kind, f.Size, f.Name)
	}
	tw.Flush()
}

// runGet downloads a remote file to a local path, or to stdout.
// Usage: console get [options] <remote> [local]
func runGet(args []string, stdout, stderr io.Writer) int {
	fs, c := newFlagSet("get", "get [options] <remote> [local]", stderr)

	return withSession(fs, c, args, 1, stderr, func(ctx context.Context, s *console.Session, rest []string) int {
		op, err := awaitOp(ctx, s, c.timeout, func() (string, error) { return s.RequestFileDownload(rest[0]) })
		if err != nil {
			printError(stderr, err)
			return 1
		}

		if len(rest) < 2 || rest[1] == "-" {
			io.WriteString(stdout, op.Content)
			return 0
		}
		if err := os.WriteFile(rest[1], []byte(op.Content), 0644); err != nil {
			printError(stderr, fmt.Errorf("write %s: %w", rest[1], err))
			return 1
		}
		fmt.Fprintf(stdout, "Downloaded %s to %s (%d bytes)\n", rest[0], rest[1], op.TransferredSize)
		return 0
	})
}

// runPut uploads a local file.
// Usage: console put [options] <local> <remote>
func runPut(args []string, stdout, stderr io.Writer) int {
	fs, c := newFlagSet("put", "put [options] <local> <remote>", stderr)

	return withSession(fs, c, args, 2, stderr, func(ctx context.Context, s *console.Session, rest []string) int {
		data, err := os.ReadFile(rest[0])
		if err != nil {
			printError(stderr, fmt.Errorf("read %s: %w", rest[0], err))
			return 1
		}

		op, err := awaitOp(ctx, s, c.timeout, func() (string, error) { return s.RequestFileUpload(rest[1], string(data)) })
		if err != nil {
			printError(stderr, err)
			return 1
		}
		fmt.Fprintf(stdout, "Uploaded %s to %s (%d bytes)\n", rest[0], rest[1], op.TotalSize)
		return 0
	})
}

// runRemove deletes a remote file.
// Usage: console rm [options] <path>
func runRemove(args []string, stdout, stderr io.Writer) int {
	fs, c := newFlagSet("rm", "rm [options] <path>", stderr)

	return withSession(fs, c, args, 1, stderr, func(ctx context.Context, s *console.Session, rest []string) int {
		if _, err := awaitOp(ctx, s, c.timeout, func() (string, error) { return s.RequestFileDelete(rest[0]) }); err != nil {
			printError(stderr, err)
			return 1
		}
		fmt.Fprintf(stdout, "Deleted %s\n", rest[0])
		return 0
	})
}
