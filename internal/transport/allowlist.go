package transport

import (
	"net"
	"net/netip"
)

// AllowList holds the source prefixes permitted to connect. An empty list
// allows every peer.
type AllowList []netip.Prefix

// Allows reports whether addr falls inside one of the prefixes.
func (a AllowList) Allows(addr net.Addr) bool {
	if len(a) == 0 {
		return true
	}
	ip, ok := addrIP(addr)
	if !ok {
		return false
	}
	for _, p := range a {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

func addrIP(addr net.Addr) (netip.Addr, bool) {
	if addr == nil {
		return netip.Addr{}, false
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		ip, ok := netip.AddrFromSlice(tcp.IP)
		return ip.Unmap(), ok
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.Addr{}, false
	}
	return ap.Addr().Unmap(), true
}
