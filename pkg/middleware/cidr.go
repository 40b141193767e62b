package middleware

import (
	"log/slog"
	"net"
	"net/netip"
)

// cidrSet is a list of network prefixes matched against peer addresses.
type cidrSet []netip.Prefix

// parseCIDRs parses cidrs, logging and skipping invalid entries.
func parseCIDRs(cidrs []string, logger *slog.Logger) cidrSet {
	set := make(cidrSet, 0, len(cidrs))
	for _, cidr := range cidrs {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			logger.Warn("invalid CIDR, skipping",
				slog.String("cidr", cidr),
				slog.String("error", err.Error()),
			)
			continue
		}
		set = append(set, p.Masked())
	}
	return set
}

func (s cidrSet) contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range s {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// containsRemote reports whether a RemoteAddr-style "host:port" (or bare
// host) falls inside the set.
func (s cidrSet) containsRemote(remote string) bool {
	addr, ok := remoteAddr(remote)
	return ok && s.contains(addr)
}

func remoteAddr(remote string) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
