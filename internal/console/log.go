package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/pseudocoder/console/internal/protocol"
	"github.com/pseudocoder/console/internal/session"
)

// EntryKind classifies a line of the message log.
type EntryKind string

const (
	// EntryCommand is the local echo of a command the user issued.
	EntryCommand EntryKind = "command"

	// EntryOutput is the stdout of a command that exited 0.
	EntryOutput EntryKind = "output"

	// EntryError is a failed command or an error frame from the device.
	EntryError EntryKind = "error"

	// EntrySystem reports connection and file operation events.
	EntrySystem EntryKind = "system"

	// EntryReceived is any other frame from the device.
	EntryReceived EntryKind = "received"
)

// LogEntry is one line of the UI message log.
type LogEntry struct {
	Seq       int
	Kind      EntryKind
	Text      string
	CommandID string
	Time      time.Time
}

func commandLine(command string, args []string) string {
	if len(args) == 0 {
		return "$ " + command
	}
	return "$ " + command + " " + strings.Join(args, " ")
}

// resultEntry classifies a command result by exit code.
func resultEntry(r *protocol.CommandResult) (EntryKind, string) {
	if r.ExitCode == 0 {
		return EntryOutput, r.Stdout
	}
	text := r.Stderr
	if text == "" {
		text = r.Stdout
	}
	if text == "" {
		text = fmt.Sprintf("exit code %d", r.ExitCode)
	}
	return EntryError, text
}

func statusText(st session.ConnectionStatus) string {
	switch st.Status {
	case session.StatusConnecting:
		if st.ReconnectAttempts > 0 {
			return fmt.Sprintf("reconnecting (attempt %d)", st.ReconnectAttempts)
		}
		return "connecting"
	case session.StatusConnected:
		return "connected"
	case session.StatusDisconnected:
		return "disconnected"
	case session.StatusError:
		if st.Error != "" {
			return "connection error: " + st.Error
		}
		return "connection error"
	default:
		return string(st.Status)
	}
}

func fileOpText(op session.FileOperation) string {
	if op.Status == session.OpSuccess {
		return fmt.Sprintf("%s %s succeeded", op.Type, op.Path)
	}
	return fmt.Sprintf("%s %s failed: %s", op.Type, op.Path, op.Error)
}
