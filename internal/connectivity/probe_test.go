package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/ricirt/offline-sync/internal/domain"
)

func TestInterfaceTransport(t *testing.T) {
	tests := []struct {
		name string
		want domain.Transport
	}{
		{"wlan0", domain.TransportWiFi},
		{"wlp2s0", domain.TransportWiFi},
		{"eth0", domain.TransportEthernet},
		{"enp3s0", domain.TransportEthernet},
		{"rmnet_data0", domain.TransportCellular},
		{"pdp_ip0", domain.TransportCellular},
		{"tun0", domain.TransportUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InterfaceTransport(tt.name); got != tt.want {
				t.Fatalf("InterfaceTransport(%q) = %s, want %s", tt.name, got, tt.want)
			}
		})
	}
}

func TestInterfaceProbe_PrefersBroadband(t *testing.T) {
	addr := psnet.InterfaceAddrList{{Addr: "10.0.0.2/24"}}
	p := &InterfaceProbe{list: func(context.Context) (psnet.InterfaceStatList, error) {
		return psnet.InterfaceStatList{
			{Name: "lo", Flags: []string{"up", "loopback"}, Addrs: addr},
			{Name: "rmnet0", Flags: []string{"up"}, Addrs: addr},
			{Name: "wlan0", Flags: []string{"up", "broadcast"}, Addrs: addr},
			{Name: "eth0", Flags: []string{"broadcast"}, Addrs: addr},
		}, nil
	}}

	raw, err := p.Probe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !raw.LinkUp || raw.Transport != domain.TransportWiFi {
		t.Fatalf("expected wifi link, got %+v", raw)
	}
}

func TestInterfaceProbe_NoUsableLink(t *testing.T) {
	p := &InterfaceProbe{list: func(context.Context) (psnet.InterfaceStatList, error) {
		return psnet.InterfaceStatList{{Name: "lo", Flags: []string{"up", "loopback"}}}, nil
	}}
	raw, err := p.Probe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if raw.LinkUp || raw.Transport != domain.TransportNone {
		t.Fatalf("expected no link, got %+v", raw)
	}
}

func TestHTTPProbe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNoContent)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	p := NewHTTPProbe(srv.URL, time.Second)
	raw, err := p.Probe(context.Background())
	if err != nil || !raw.Reachable {
		t.Fatalf("expected reachable, got %+v err=%v", raw, err)
	}

	status.Store(http.StatusServiceUnavailable)
	raw, _ = p.Probe(context.Background())
	if raw.Reachable {
		t.Fatal("5xx must count as unreachable")
	}

	srv.Close()
	raw, err = p.Probe(context.Background())
	if err != nil || raw.Reachable {
		t.Fatalf("closed server must be unreachable without error, got %+v err=%v", raw, err)
	}
}

func TestCompositeProbe(t *testing.T) {
	wifi := ProbeFunc(func(context.Context) (domain.RawLink, error) {
		return domain.RawLink{LinkUp: true, Transport: domain.TransportWiFi, Reachable: true}, nil
	})
	down := ProbeFunc(func(context.Context) (domain.RawLink, error) {
		return domain.RawLink{Transport: domain.TransportNone}, nil
	})
	unreachable := ProbeFunc(func(context.Context) (domain.RawLink, error) {
		return domain.RawLink{LinkUp: true}, nil
	})
	var reachCalled bool
	failing := ProbeFunc(func(context.Context) (domain.RawLink, error) {
		reachCalled = true
		return domain.RawLink{}, errors.New("boom")
	})

	raw, _ := CompositeProbe{Link: wifi, Reachable: unreachable}.Probe(context.Background())
	if raw.Reachable || raw.Transport != domain.TransportWiFi {
		t.Fatalf("expected wifi without reachability, got %+v", raw)
	}

	raw, _ = CompositeProbe{Link: wifi, Reachable: failing}.Probe(context.Background())
	if raw.Reachable {
		t.Fatal("failed reachability probe must report unreachable")
	}

	reachCalled = false
	raw, _ = CompositeProbe{Link: down, Reachable: failing}.Probe(context.Background())
	if reachCalled || raw.LinkUp {
		t.Fatalf("reachability must be skipped while link is down, got %+v", raw)
	}
}
