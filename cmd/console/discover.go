package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/pseudocoder/console/internal/mdns"
)

// discoverFunc is replaced in tests; browsing needs multicast.
var discoverFunc = mdns.Discover

// runDiscover browses the local network for session gateways.
// Usage: console discover [--wait 3s] [--json]
func runDiscover(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("discover", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	wait := fs.Duration("wait", 3*time.Second, "How long to browse")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: console discover [options]\n\nFind session gateways advertising %s.\n\nOptions:\n", mdns.ServiceType)
		fs.PrintDefaults()
	}
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *wait)
	defer cancel()

	gateways, err := discoverFunc(ctx)
	if err != nil {
		printError(stderr, err)
		return 1
	}

	if *jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.Encode(gateways)
		return 0
	}

	if len(gateways) == 0 {
		fmt.Fprintln(stdout, "No gateways found.")
		return 0
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tTLS\tVERSION")
	for _, gw := range gateways {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", gw.Name, gw.Addr(), gw.TLS, gw.Version)
	}
	tw.Flush()
	fmt.Fprintln(stdout, "\nUse one with: console shell --gateway <address> --device <id>")
	return 0
}
