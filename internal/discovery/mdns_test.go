package discovery

import (
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func entry(instance, host string, port int, v4 []net.IP, v6 []net.IP, txt ...string) *zeroconf.ServiceEntry {
	return &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: instance, Service: ServiceType, Domain: ServiceDomain},
		HostName:      host,
		Port:          port,
		Text:          txt,
		AddrIPv4:      v4,
		AddrIPv6:      v6,
	}
}

func TestParseServiceEntry(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		entry      *zeroconf.ServiceEntry
		wantNil    bool
		wantIP     string
		wantPort   int
		wantScheme string
		wantMode   string
	}{
		{
			name:       "rest endpoint over https",
			entry:      entry("orders", "build-box.local.", 8443, []net.IP{net.ParseIP("192.168.4.16")}, nil, "scheme=https", "mode=rest"),
			wantIP:     "192.168.4.16",
			wantPort:   8443,
			wantScheme: "https",
			wantMode:   "rest",
		},
		{
			name:       "scheme defaults to http",
			entry:      entry("files", "nas.local.", 8080, []net.IP{net.ParseIP("10.0.0.5")}, nil, "mode=normal"),
			wantIP:     "10.0.0.5",
			wantPort:   8080,
			wantScheme: "http",
			wantMode:   "normal",
		},
		{
			name:       "IPv4 preferred over IPv6",
			entry:      entry("calc", "calc.local.", 80, []net.IP{net.ParseIP("172.16.0.1")}, []net.IP{net.ParseIP("fe80::1")}),
			wantIP:     "172.16.0.1",
			wantPort:   80,
			wantScheme: "http",
		},
		{
			name:       "IPv6 fallback",
			entry:      entry("calc", "calc.local.", 80, nil, []net.IP{net.ParseIP("fe80::1")}),
			wantIP:     "fe80::1",
			wantPort:   80,
			wantScheme: "http",
		},
		{
			name:    "no address",
			entry:   entry("ghost", "ghost.local.", 80, nil, nil),
			wantNil: true,
		},
		{
			name:    "no port",
			entry:   entry("ghost", "ghost.local.", 0, []net.IP{net.ParseIP("10.0.0.9")}, nil),
			wantNil: true,
		},
		{
			name:    "nil entry",
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := parseServiceEntry(tt.entry, now)
			if tt.wantNil {
				if ep != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", ep)
				}
				return
			}
			if ep == nil {
				t.Fatal("parseServiceEntry() = nil")
			}
			if ep.IP != tt.wantIP || ep.Port != tt.wantPort || ep.Scheme != tt.wantScheme || ep.Mode != tt.wantMode {
				t.Errorf("got %s:%d %s %s, want %s:%d %s %s",
					ep.IP, ep.Port, ep.Scheme, ep.Mode, tt.wantIP, tt.wantPort, tt.wantScheme, tt.wantMode)
			}
			if ep.Instance != tt.entry.Instance || !ep.DiscoveredAt.Equal(now) {
				t.Errorf("instance %q discovered %v", ep.Instance, ep.DiscoveredAt)
			}
		})
	}
}

func TestParseServiceEntryMetadata(t *testing.T) {
	ep := parseServiceEntry(entry("calc", "calc.local.", 8080, []net.IP{net.ParseIP("10.0.0.2")}, nil,
		"scheme=http", "mode=soap", "path=/calculator", "flag", "eq=a=b"), time.Now())
	want := map[string]string{
		"scheme": "http",
		"mode":   "soap",
		"path":   "/calculator",
		"flag":   "",
		"eq":     "a=b",
	}
	if !reflect.DeepEqual(ep.Metadata, want) {
		t.Errorf("Metadata = %v, want %v", ep.Metadata, want)
	}
}

func TestInfoRecords(t *testing.T) {
	got := Info{Scheme: "https", Mode: "soap", Path: "/calculator"}.records()
	want := []string{"scheme=https", "mode=soap", "path=/calculator"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("records() = %v, want %v", got, want)
	}
	if got := (Info{}).records(); len(got) != 0 {
		t.Errorf("empty Info records = %v", got)
	}
}

func TestAdvertiseRequiresInstance(t *testing.T) {
	if _, err := Advertise("", 8080, Info{}); err == nil {
		t.Error("Advertise() accepted an empty instance")
	}
}

func TestNewScanner(t *testing.T) {
	if s := NewScanner(); s.Timeout != DefaultScanTimeout {
		t.Errorf("Timeout = %v, want %v", s.Timeout, DefaultScanTimeout)
	}
}
