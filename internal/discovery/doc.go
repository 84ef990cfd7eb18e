// Package discovery announces forestNET endpoints over multicast DNS and
// finds them again.
//
// A running server registers itself under the "_forestnet._tcp" service type
// with TXT records describing its scheme and mode:
//
//	adv, err := discovery.Advertise("orders", 8443, discovery.Info{Scheme: "https", Mode: "rest"})
//	if err != nil {
//	    return err
//	}
//	defer adv.Shutdown()
//
// Clients browse for the same service type:
//
//	endpoints, err := discovery.NewScanner().Scan(ctx)
//	for _, ep := range endpoints {
//	    fmt.Println(ep.URL())
//	}
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Endpoints must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
