// Package threatfeed fetches allow/deny IP lists from an external
// collaborator and caches them in Redis so multiple process instances
// sharing one Redis don't all hammer the upstream feed. On fetch
// failure the previously cached lists remain in effect.
package threatfeed

import (
	"context"
	"net"
)

// AllowDenyLists is the parsed result of a threat-intel fetch: CIDR
// ranges and bare IPs to allow or deny. cmd/sentryd copies AllowCIDRs
// into the rule engine's allowlist (never alert); DenyCIDRs is carried
// and cached, but the rule engine does not read it.
type AllowDenyLists struct {
	AllowCIDRs []*net.IPNet
	DenyCIDRs  []*net.IPNet
}

// Source fetches the current allow/deny lists from an external
// collaborator (a management API, a shared file, a vendor feed). The
// core only consumes the resulting CIDR sets.
type Source interface {
	Fetch(ctx context.Context) (*AllowDenyLists, error)
}

// ParseCIDRs converts a list of CIDR or bare-IP strings into IPNets,
// treating a bare IP as a /32 (or /128 for IPv6).
func ParseCIDRs(raw []string) ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(raw))
	for _, s := range raw {
		if s == "" {
			continue
		}
		if _, ipnet, err := net.ParseCIDR(s); err == nil {
			out = append(out, ipnet)
			continue
		}
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, &net.ParseError{Type: "CIDR address", Text: s}
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return out, nil
}
