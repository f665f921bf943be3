package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/ricirt/offline-sync/internal/domain"
)

// Probe takes one raw sample of the network path.
type Probe interface {
	Probe(ctx context.Context) (domain.RawLink, error)
}

// ProbeFunc adapts a plain function to Probe.
type ProbeFunc func(ctx context.Context) (domain.RawLink, error)

func (f ProbeFunc) Probe(ctx context.Context) (domain.RawLink, error) { return f(ctx) }

// InterfaceProbe inspects the host's network interfaces and reports the best
// non-loopback link that is up. It cannot see the backend, so Reachable
// mirrors LinkUp; combine it with HTTPProbe for a real reachability check.
type InterfaceProbe struct {
	list func(ctx context.Context) (psnet.InterfaceStatList, error)
}

func NewInterfaceProbe() *InterfaceProbe {
	return &InterfaceProbe{list: psnet.InterfacesWithContext}
}

func (p *InterfaceProbe) Probe(ctx context.Context) (domain.RawLink, error) {
	ifaces, err := p.list(ctx)
	if err != nil {
		return domain.RawLink{}, fmt.Errorf("list interfaces: %w", err)
	}
	return linkFromInterfaces(ifaces), nil
}

// transportRank orders transports so broadband wins over cellular.
var transportRank = map[domain.Transport]int{
	domain.TransportEthernet: 4,
	domain.TransportWiFi:     3,
	domain.TransportCellular: 2,
	domain.TransportUnknown:  1,
}

func linkFromInterfaces(ifaces psnet.InterfaceStatList) domain.RawLink {
	best := domain.RawLink{Transport: domain.TransportNone}
	for _, iface := range ifaces {
		if !hasFlag(iface.Flags, "up") || hasFlag(iface.Flags, "loopback") || len(iface.Addrs) == 0 {
			continue
		}
		t := InterfaceTransport(iface.Name)
		if transportRank[t] > transportRank[best.Transport] {
			best = domain.RawLink{LinkUp: true, Transport: t, Reachable: true}
		}
	}
	return best
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

// InterfaceTransport guesses the transport from a kernel interface name.
func InterfaceTransport(name string) domain.Transport {
	n := strings.ToLower(name)
	switch {
	case strings.HasPrefix(n, "wl"), strings.HasPrefix(n, "wifi"):
		return domain.TransportWiFi
	case strings.HasPrefix(n, "eth"), strings.HasPrefix(n, "enp"),
		strings.HasPrefix(n, "ens"), strings.HasPrefix(n, "eno"):
		return domain.TransportEthernet
	case strings.HasPrefix(n, "rmnet"), strings.HasPrefix(n, "wwan"),
		strings.HasPrefix(n, "ccmni"), strings.HasPrefix(n, "pdp_ip"):
		return domain.TransportCellular
	default:
		return domain.TransportUnknown
	}
}

// HTTPProbe checks that the backend answers at all. Any response below 500
// counts as reachable; transport errors and 5xx do not.
type HTTPProbe struct {
	url    string
	client *http.Client
}

func NewHTTPProbe(url string, timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{url: url, client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProbe) Probe(ctx context.Context) (domain.RawLink, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return domain.RawLink{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return domain.RawLink{LinkUp: true, Transport: domain.TransportUnknown}, nil
	}
	resp.Body.Close()

	return domain.RawLink{
		LinkUp:    true,
		Transport: domain.TransportUnknown,
		Reachable: resp.StatusCode < http.StatusInternalServerError,
	}, nil
}

// CompositeProbe takes the link from one probe and reachability from another.
// The reachability probe is skipped while the link is down.
type CompositeProbe struct {
	Link      Probe
	Reachable Probe
}

func (p CompositeProbe) Probe(ctx context.Context) (domain.RawLink, error) {
	link, err := p.Link.Probe(ctx)
	if err != nil {
		return domain.RawLink{}, err
	}
	if !link.LinkUp || p.Reachable == nil {
		return link, nil
	}
	reach, err := p.Reachable.Probe(ctx)
	if err != nil {
		link.Reachable = false
		return link, nil
	}
	link.Reachable = reach.Reachable
	return link, nil
}

var (
	_ Probe = (*InterfaceProbe)(nil)
	_ Probe = (*HTTPProbe)(nil)
	_ Probe = CompositeProbe{}
)
