package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/pseudocoder/console/internal/config"
	"github.com/pseudocoder/console/internal/storage"
)

// runRecent lists the sessions recorded in the recent connections store.
// Usage: console recent [--limit N] [--json]
func runRecent(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("recent", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Config file (default ~/.devconsole/config.toml)")
	storePath := fs.String("store", "", "Recent connections database (default ~/.devconsole/console.db)")
	limit := fs.Int("limit", 20, "Maximum number of sessions to show")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: console recent [options]\n\nList recently used sessions.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	file, err := config.Load(*configPath)
	if err != nil {
		printError(stderr, err)
		return 1
	}
	cfg := file.WithDefaults()
	if fs.Changed("store") {
		cfg.StorePath = *storePath
	}

	// Listing must not create an empty database as a side effect.
	if _, err := os.Stat(cfg.StorePath); os.IsNotExist(err) {
		fmt.Fprintln(stdout, "No recent sessions.")
		return 0
	}

	store, err := storage.NewSQLiteStore(cfg.StorePath, nil)
	if err != nil {
		printError(stderr, err)
		return 1
	}
	defer store.Close()

	conns, err := store.ListConnections(*limit)
	if err != nil {
		printError(stderr, err)
		return 1
	}

	if *jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.Encode(conns)
		return 0
	}

	if len(conns) == 0 {
		fmt.Fprintln(stdout, "No recent sessions.")
		return 0
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tSESSION\tSTATUS\tLAST CONNECTED\tUPDATED")
	for _, conn := range conns {
		status := conn.Status
		if conn.LastError != "" {
			status += " (" + conn.LastError + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			conn.DeviceID, conn.SessionID, status,
			formatTime(conn.LastConnectedAt), formatTime(conn.UpdatedAt))
	}
	tw.Flush()
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
