package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Endpoint is a forestNET server found on the network.
type Endpoint struct {
	// Instance is the advertised instance name (e.g., "orders")
	Instance string

	// Hostname is the mDNS hostname (e.g., "build-box.local.")
	Hostname string

	// IP is the first IPv4 address, or IPv6 when none was announced
	IP string

	Port int

	// Scheme and Mode come from the TXT records
	Scheme string
	Mode   string

	// Metadata holds every TXT record as key/value
	Metadata map[string]string

	DiscoveredAt time.Time
}

// String returns a human-readable description of the endpoint.
func (e *Endpoint) String() string {
	return fmt.Sprintf("%s (%s, %s) at %s", e.Instance, e.Scheme, e.Mode, e.Address())
}

// Address returns ip:port.
func (e *Endpoint) Address() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(e.Port))
}

// URL returns the base URL of the endpoint.
func (e *Endpoint) URL() string {
	return e.Scheme + "://" + e.Address()
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (e *Endpoint) GetMetadata(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}
