// Package tcpproxy implements the TCP proxy filter's connection state
// machine: route matching against a downstream connection's addresses,
// host selection against a membership engine's priority set, and the
// connect/retry/idle/deferred-flush lifecycle of one proxied
// connection.
package tcpproxy

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// PortRange is an inclusive [Low, High] port range.
type PortRange struct {
	Low, High uint16
}

func (r PortRange) contains(port uint16) bool {
	return port >= r.Low && port <= r.High
}

// ParsePortRanges parses a "a-b,c-d,e" spec into a list of inclusive
// ranges, in declaration order.
func ParsePortRanges(spec string) ([]PortRange, error) {
	if spec == "" {
		return nil, nil
	}
	parts := strings.Split(spec, ",")
	ranges := make([]PortRange, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		low, high, err := parsePortRangePart(part)
		if err != nil {
			return nil, fmt.Errorf("tcpproxy: invalid port range %q: %w", part, err)
		}
		ranges = append(ranges, PortRange{Low: low, High: high})
	}
	return ranges, nil
}

func parsePortRangePart(part string) (uint16, uint16, error) {
	if idx := strings.IndexByte(part, '-'); idx >= 0 {
		lowStr, highStr := part[:idx], part[idx+1:]
		low, err := strconv.ParseUint(lowStr, 10, 16)
		if err != nil {
			return 0, 0, err
		}
		high, err := strconv.ParseUint(highStr, 10, 16)
		if err != nil {
			return 0, 0, err
		}
		if high < low {
			return 0, 0, fmt.Errorf("high %d below low %d", high, low)
		}
		return uint16(low), uint16(high), nil
	}
	p, err := strconv.ParseUint(part, 10, 16)
	if err != nil {
		return 0, 0, err
	}
	return uint16(p), uint16(p), nil
}

func anyRangeContains(ranges []PortRange, port uint16) bool {
	if len(ranges) == 0 {
		return true
	}
	for _, r := range ranges {
		if r.contains(port) {
			return true
		}
	}
	return false
}

func anyPrefixContains(prefixes []netip.Prefix, addr netip.Addr) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Route matches a downstream connection's addresses against optional
// CIDR/port criteria and names the cluster to proxy to when it matches.
type Route struct {
	Cluster           string
	DestinationIPList []netip.Prefix
	DestinationPorts  []PortRange
	SourceIPList      []netip.Prefix
	SourcePorts       []PortRange
}

// Matches reports whether the route matches the given downstream local
// (destination) and remote (source) addresses.
func (r Route) Matches(dst, src net.Addr) bool {
	dstAddr, dstPort, ok := addrPort(dst)
	if !ok {
		return false
	}
	srcAddr, srcPort, ok := addrPort(src)
	if !ok {
		return false
	}
	if !anyPrefixContains(r.DestinationIPList, dstAddr) {
		return false
	}
	if !anyRangeContains(r.DestinationPorts, dstPort) {
		return false
	}
	if !anyPrefixContains(r.SourceIPList, srcAddr) {
		return false
	}
	if !anyRangeContains(r.SourcePorts, srcPort) {
		return false
	}
	return true
}

func addrPort(a net.Addr) (netip.Addr, uint16, bool) {
	tcp, ok := a.(*net.TCPAddr)
	if !ok {
		return netip.Addr{}, 0, false
	}
	addr, ok := netip.AddrFromSlice(tcp.IP)
	if !ok {
		return netip.Addr{}, 0, false
	}
	return addr.Unmap(), uint16(tcp.Port), true
}

// RouteTable matches a downstream connection to a cluster name using
// first-match-wins over routes in declaration order.
type RouteTable struct {
	Routes []Route
}

// ErrNoRoute is returned by Match when no configured route applies.
type ErrNoRoute struct{}

func (ErrNoRoute) Error() string { return "tcpproxy: no route matched downstream connection" }

// Match finds the first route whose criteria matches dst/src, or
// ErrNoRoute if none do. A single-cluster listener passes a RouteTable
// with one Route naming that cluster and no CIDR/port lists, which
// matches unconditionally.
func (t RouteTable) Match(dst, src net.Addr) (string, error) {
	for _, r := range t.Routes {
		if r.Matches(dst, src) {
			return r.Cluster, nil
		}
	}
	return "", ErrNoRoute{}
}
