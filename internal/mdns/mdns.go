// Package mdns discovers session gateways on the local network.
//
// Gateways advertise themselves with DNS-SD:
//   - Service type: _devconsole._tcp
//   - TXT records with version, name and tls
//
// Discovery only reveals presence; devices still authenticate with their
// own credentials.
package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service type of session gateways.
// Follows the standard Bonjour naming convention: _<service>._<protocol>
const ServiceType = "_devconsole._tcp"

// Gateway is a session gateway found via mDNS.
type Gateway struct {
	// Name is the human-readable name of the gateway. The TXT name record
	// wins over the DNS-SD instance name.
	Name string

	// Host is the IP address, IPv4 preferred.
	Host string

	// Port is the gateway port.
	Port int

	// TLS is set when the gateway advertises tls=1 and expects wss://.
	TLS bool

	// Version is the advertised protocol version.
	Version string
}

// Addr returns host:port, suitable for config.Config.GatewayAddr.
func (g Gateway) Addr() string {
	return net.JoinHostPort(g.Host, strconv.Itoa(g.Port))
}

// Discover browses for gateways until ctx is done and returns what it
// found, deduplicated by address and sorted by name.
func Discover(ctx context.Context) ([]Gateway, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		found = make(map[string]Gateway)
		mu    sync.Mutex
		wg    sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			gw, ok := fromEntry(entry)
			if !ok {
				continue
			}
			mu.Lock()
			found[gw.Addr()] = gw
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-ctx.Done()

	// zeroconf closes entries once ctx is done.
	wg.Wait()

	gateways := make([]Gateway, 0, len(found))
	for _, gw := range found {
		gateways = append(gateways, gw)
	}
	sort.Slice(gateways, func(i, j int) bool {
		if gateways[i].Name != gateways[j].Name {
			return gateways[i].Name < gateways[j].Name
		}
		return gateways[i].Addr() < gateways[j].Addr()
	})
	return gateways, nil
}

// fromEntry converts a resolved service entry. Entries without an address
// are skipped.
func fromEntry(entry *zeroconf.ServiceEntry) (Gateway, bool) {
	gw := Gateway{
		Name: entry.Instance,
		Port: entry.Port,
	}

	switch {
	case len(entry.AddrIPv4) > 0:
		gw.Host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		gw.Host = entry.AddrIPv6[0].String()
	default:
		return Gateway{}, false
	}

	applyTXT(&gw, entry.Text)
	return gw, true
}

func applyTXT(gw *Gateway, records []string) {
	for _, txt := range records {
		key, value, ok := strings.Cut(txt, "=")
		if !ok || value == "" {
			continue
		}
		switch key {
		case "name":
			gw.Name = value
		case "version":
			gw.Version = value
		case "tls":
			gw.TLS = value == "1" || value == "true"
		}
	}
}
