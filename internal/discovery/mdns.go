package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type forestNET servers announce
	ServiceType = "_forestnet._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for endpoint discovery
	DefaultScanTimeout = 5 * time.Second
)

// Info is what a server announces about itself.
type Info struct {
	Scheme  string
	Mode    string
	Version string
	// Path is the SOAP endpoint path, when the server runs in SOAP mode
	Path string
}

// records renders info as TXT records.
func (i Info) records() []string {
	var txt []string
	add := func(k, v string) {
		if v != "" {
			txt = append(txt, k+"="+v)
		}
	}
	add("scheme", i.Scheme)
	add("mode", i.Mode)
	add("version", i.Version)
	add("path", i.Path)
	return txt
}

// Advertisement is a running mDNS registration.
type Advertisement struct {
	server *zeroconf.Server
	once   sync.Once
}

// Advertise announces an endpoint on port under instance until Shutdown.
func Advertise(instance string, port int, info Info) (*Advertisement, error) {
	if instance == "" {
		return nil, fmt.Errorf("instance name is required")
	}
	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, info.records(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	return &Advertisement{server: server}, nil
}

// Shutdown withdraws the announcement. Calling it twice is harmless.
func (a *Advertisement) Shutdown() {
	a.once.Do(a.server.Shutdown)
}

// Scanner browses for forestNET endpoints.
type Scanner struct {
	// Timeout is the maximum time to wait for answers
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// browse delivers every parsed endpoint to found until ctx ends or found
// returns false. found is never called after browse returns.
func (s *Scanner) browse(ctx context.Context, found func(*Endpoint) bool) error {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	var (
		mu      sync.Mutex
		stopped bool
	)
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			ep := parseServiceEntry(entry, time.Now())
			if ep == nil {
				continue
			}
			mu.Lock()
			if !stopped && !found(ep) {
				cancel()
			}
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	mu.Lock()
	stopped = true
	mu.Unlock()
	return nil
}

// Scan collects every endpoint that answers within the timeout. Repeated
// announcements of one instance are reported once.
func (s *Scanner) Scan(ctx context.Context) ([]*Endpoint, error) {
	var (
		endpoints []*Endpoint
		seen      = make(map[string]bool)
	)
	err := s.browse(ctx, func(ep *Endpoint) bool {
		if !seen[ep.Instance] {
			seen[ep.Instance] = true
			endpoints = append(endpoints, ep)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return endpoints, nil
}

// WaitFor returns the endpoint announced as instance, or an error when it
// does not show up within the timeout.
func (s *Scanner) WaitFor(ctx context.Context, instance string) (*Endpoint, error) {
	var match *Endpoint
	err := s.browse(ctx, func(ep *Endpoint) bool {
		if ep.Instance == instance {
			match = ep
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, fmt.Errorf("endpoint %s not found within %s", instance, s.Timeout)
	}
	return match, nil
}

// parseServiceEntry converts a zeroconf service entry to an Endpoint.
// Returns nil when the entry carries no usable address or port.
func parseServiceEntry(entry *zeroconf.ServiceEntry, now time.Time) *Endpoint {
	if entry == nil || entry.Port == 0 {
		return nil
	}

	// Prefer IPv4
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}

	scheme := metadata["scheme"]
	if scheme == "" {
		scheme = "http"
	}

	return &Endpoint{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		Scheme:       scheme,
		Mode:         metadata["mode"],
		Metadata:     metadata,
		DiscoveredAt: now,
	}
}
