package main

import (
	"context"
	"io"

	"github.com/pseudocoder/console/internal/console"
)

// runWatch prints the message log of a session until interrupted.
// Usage: console watch [options]
func runWatch(args []string, stdout, stderr io.Writer) int {
	fs, c := newFlagSet("watch", "watch [options]", stderr)
	jsonOutput := fs.Bool("json", false, "Print entries as JSON lines")

	return withSession(fs, c, args, 0, stderr, func(ctx context.Context, s *console.Session, _ []string) int {
		p := newLogPrinter(stdout, s)
		p.jsonOutput = *jsonOutput
		p.timestamps = true
		p.follow(ctx)
		return 0
	})
}
