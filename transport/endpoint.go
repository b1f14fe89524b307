package transport

import (
	"fmt"
	"net"
)

// Endpoint is a UDP address and port. The zero value is a placeholder and
// reports invalid.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

// EndpointPair carries a node's local endpoint together with the external
// endpoint its NAT maps it to. External may be unset when the NAT type is
// unknown or symmetric.
type EndpointPair struct {
	Local    Endpoint
	External Endpoint
}

// NewEndpoint builds an endpoint from an IP and port.
func NewEndpoint(ip net.IP, port uint16) Endpoint {
	return Endpoint{IP: ip, Port: port}
}

// EndpointFromUDPAddr converts a net.UDPAddr.
func EndpointFromUDPAddr(addr *net.UDPAddr) Endpoint {
	if addr == nil {
		return Endpoint{}
	}
	return Endpoint{IP: addr.IP, Port: uint16(addr.Port)}
}

// ParseEndpoint parses "host:port" into an endpoint.
func ParseEndpoint(s string) (Endpoint, error) {
	addr, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", s, err)
	}
	return EndpointFromUDPAddr(addr), nil
}

// IsValid distinguishes usable endpoints from placeholders.
func (e Endpoint) IsValid() bool {
	return len(e.IP) != 0 && !e.IP.IsUnspecified() && e.Port != 0
}

// UDPAddr converts the endpoint for use with the net package.
func (e Endpoint) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: e.IP, Port: int(e.Port)}
}

// Equal reports whether two endpoints name the same address and port.
func (e Endpoint) Equal(other Endpoint) bool {
	return e.Port == other.Port && e.IP.Equal(other.IP)
}

func (e Endpoint) String() string {
	if len(e.IP) == 0 {
		return fmt.Sprintf(":%d", e.Port)
	}
	return fmt.Sprintf("%s:%d", e.IP.String(), e.Port)
}

// OnPrivateNetwork reports whether the endpoint's address is on an RFC1918
// (or otherwise non-global) network.
func OnPrivateNetwork(e Endpoint) bool {
	if len(e.IP) == 0 {
		return false
	}
	return e.IP.IsPrivate() || e.IP.IsLoopback() || e.IP.IsLinkLocalUnicast()
}

// GetLocalIP determines the preferred outbound IP of this host. When no
// route is available it falls back to the first non-loopback IPv4
// interface address, and returns nil when there is none.
func GetLocalIP() net.IP {
	// A UDP "dial" assigns a source address without sending anything.
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return localInterfaceIP()
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP
	}
	return nil
}

func localInterfaceIP() net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip := ipNet.IP.To4(); ip != nil {
			return ip
		}
	}
	return nil
}
