// Package ice implements the single-socket, host-candidates-only ICE
// agent this module's signaling surface needs (component C6): no TURN
// relay, no server-reflexive gathering (no STUN server is configured),
// just connectivity checks between host candidates on both sides.
package ice

import (
	"fmt"
	"hash/fnv"
	"net"
)

const (
	typeHost = "host"
	typePrflx = "prflx"
)

// Candidate is a local or remote ICE candidate, RFC 8445 section 5.1.
type Candidate struct {
	Foundation string
	Component  int
	Protocol   string
	Priority   uint32
	Address    net.IP
	Port       int
	Type       string
}

func (c Candidate) key() string {
	return fmt.Sprintf("%s|%s|%d|%s", c.Type, c.Protocol, c.Port, c.Address.String())
}

func (c Candidate) String() string {
	return fmt.Sprintf("candidate:%s %d %s %d %s %d typ %s",
		c.Foundation, c.Component, c.Protocol, c.Priority, c.Address, c.Port, c.Type)
}

// HostPriority computes the RFC 8445 section 5.1.2 priority for a host
// candidate: type preference 126, local preference 65535 (no multihoming
// disambiguation needed -- every candidate shares the one bound socket),
// component 1.
func HostPriority(component int) uint32 {
	const typePreference = 126
	const localPreference = 65535
	return uint32(typePreference<<24 | localPreference<<8 | (256 - component))
}

func peerReflexivePriority(component int) uint32 {
	const typePreference = 110
	const localPreference = 65535
	return uint32(typePreference<<24 | localPreference<<8 | (256 - component))
}

func foundation(typ, protocol string, addr net.IP) string {
	h := fnv.New64()
	fmt.Fprintf(h, "%s/%s/%s", typ, protocol, addr.String())
	sum := h.Sum(nil)
	return fmt.Sprintf("%x", sum)[:8]
}

// GatherHostCandidates enumerates every unicast address on an up,
// non-loopback interface and returns one host candidate per address bound
// to port (the single RTP/RTCP socket's local port), component 1. mDNS
// .local hostnames never appear here since Go's net.Interface.Addrs
// reports numeric addresses, not hostnames. Link-local addresses are
// filtered explicitly, and only addresses with an IPv4 form are kept.
func GatherHostCandidates(port int) ([]Candidate, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if !isUsableHostAddress(ipNet.IP) {
				continue
			}
			out = append(out, Candidate{
				Foundation: foundation(typeHost, "udp", ipNet.IP),
				Component:  1,
				Protocol:   "udp",
				Priority:   HostPriority(1),
				Address:    ipNet.IP,
				Port:       port,
				Type:       typeHost,
			})
		}
	}
	return out, nil
}

// isUsableHostAddress rejects loopback, unspecified (0.0.0.0/[::]), and
// link-local addresses, and anything without an IPv4 form -- this module's
// UDP ingress is IPv4-only (section 6), so native IPv6 addresses are
// dropped, while an IPv4-mapped IPv6 address passes as the IPv4 address it
// maps.
func isUsableHostAddress(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return false
	}
	return ip.To4() != nil
}
