package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pseudocoder/console/internal/console"
)

// logPrinter writes new message log entries of a session to w. All writes
// to w, including ones from printf, go through its lock.
type logPrinter struct {
	mu         sync.Mutex
	w          io.Writer
	s          *console.Session
	last       int
	jsonOutput bool
	timestamps bool
	skip       map[console.EntryKind]bool
}

func newLogPrinter(w io.Writer, s *console.Session) *logPrinter {
	return &logPrinter{w: w, s: s, skip: make(map[console.EntryKind]bool)}
}

// flush prints every entry newer than the last one printed.
func (p *logPrinter) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.s.Messages() {
		if e.Seq <= p.last {
			continue
		}
		p.last = e.Seq
		if p.skip[e.Kind] {
			continue
		}
		p.writeLocked(e)
	}
}

func (p *logPrinter) writeLocked(e console.LogEntry) {
	if p.jsonOutput {
		data, err := json.Marshal(e)
		if err != nil {
			return
		}
		fmt.Fprintf(p.w, "%s\n", data)
		return
	}
	if p.timestamps {
		fmt.Fprintf(p.w, "[%s] ", e.Time.Format("15:04:05"))
	}
	fmt.Fprintln(p.w, formatEntry(e))
}

// follow flushes on every change until ctx ends or the session closes.
func (p *logPrinter) follow(ctx context.Context) {
	p.flush()
	changes := p.s.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			p.flush()
		}
	}
}

func (p *logPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func formatEntry(e console.LogEntry) string {
	text := strings.TrimRight(e.Text, "\n")
	switch e.Kind {
	case console.EntryError:
		return "error: " + text
	case console.EntrySystem:
		return "-- " + text
	case console.EntryReceived:
		return "<- " + text
	default:
		return text
	}
}
