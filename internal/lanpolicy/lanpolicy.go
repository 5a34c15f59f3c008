// Package lanpolicy gates which peer addresses a session is allowed to
// reach while the daemon is running in LAN-offline mode: loopback,
// link-local and private ranges are always reachable; public addresses are
// denied unless the policy explicitly allows them.
package lanpolicy

import (
	"fmt"
	"net"
)

// Decision is the outcome of classifying one peer address.
type Decision struct {
	Allowed bool
	Reason  string
}

// AddressClass is the priority-ordered bucket an IP falls into.
type AddressClass int

const (
	ClassLoopback AddressClass = iota
	ClassLinkLocal
	ClassPrivate
	ClassPublic
)

func (c AddressClass) String() string {
	switch c {
	case ClassLoopback:
		return "loopback"
	case ClassLinkLocal:
		return "link-local"
	case ClassPrivate:
		return "private"
	default:
		return "public"
	}
}

// Policy configures which address classes a peer may occupy.
type Policy struct {
	AllowLoopback  bool
	AllowLinkLocal bool
	AllowPrivate   bool
	DenyPublic     bool
	OfflineMode    bool
}

// Default returns the policy a freshly started LAN-offline daemon uses:
// every private-network class reachable, public addresses denied.
func Default() Policy {
	return Policy{
		AllowLoopback:  true,
		AllowLinkLocal: true,
		AllowPrivate:   true,
		DenyPublic:     true,
		OfflineMode:    true,
	}
}

// Classify buckets ip into the address class that determines its policy
// disposition, in priority order: loopback, then link-local, then private,
// else public.
func Classify(ip net.IP) AddressClass {
	if ip.IsLoopback() {
		return ClassLoopback
	}
	if ip.IsLinkLocalUnicast() {
		return ClassLinkLocal
	}
	if isPrivate(ip) {
		return ClassPrivate
	}
	return ClassPublic
}

// isPrivate recognizes IPv4 RFC1918 space and IPv6 unique-local (fc00::/7).
// net.IP.IsPrivate covers both as of Go 1.17, but the ranges are spelled out
// here to keep the classification contract explicit and spec-traceable.
func isPrivate(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		return v4[0] == 10 ||
			(v4[0] == 172 && v4[1]&0xf0 == 16) ||
			(v4[0] == 192 && v4[1] == 168)
	}
	return len(ip) == net.IPv6len && ip[0]&0xfe == 0xfc
}

// EvaluatePeer classifies addr under the policy and returns Allow/Deny.
// When OfflineMode is false every address is allowed regardless of class.
func (p Policy) EvaluatePeer(addr net.Addr) Decision {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Decision{Allowed: false, Reason: fmt.Sprintf("unparseable address %q", addr.String())}
	}
	return p.evaluateIP(ip)
}

// EvaluateIP is EvaluatePeer for a bare net.IP, convenient for tests and for
// callers that have already resolved an address.
func (p Policy) EvaluateIP(ip net.IP) Decision {
	return p.evaluateIP(ip)
}

func (p Policy) evaluateIP(ip net.IP) Decision {
	if !p.OfflineMode {
		return Decision{Allowed: true, Reason: "offline mode disabled"}
	}

	class := Classify(ip)
	switch class {
	case ClassLoopback:
		if p.AllowLoopback {
			return Decision{Allowed: true, Reason: "loopback allowed"}
		}
		return Decision{Allowed: false, Reason: "loopback denied by policy"}
	case ClassLinkLocal:
		if p.AllowLinkLocal {
			return Decision{Allowed: true, Reason: "link-local allowed"}
		}
		return Decision{Allowed: false, Reason: "link-local denied by policy"}
	case ClassPrivate:
		if p.AllowPrivate {
			return Decision{Allowed: true, Reason: "private allowed"}
		}
		return Decision{Allowed: false, Reason: "private denied by policy"}
	default:
		if p.DenyPublic {
			return Decision{Allowed: false, Reason: "public address denied in offline mode"}
		}
		return Decision{Allowed: true, Reason: "public allowed by policy"}
	}
}

// Denial describes the first peer a ValidatePeerSet call rejected.
type Denial struct {
	Addr   net.Addr
	Reason string
}

func (d *Denial) Error() string {
	return fmt.Sprintf("peer %s denied: %s", d.Addr, d.Reason)
}

// ValidatePeerSet succeeds iff every peer in addrs is Allow under p; on the
// first denial it returns a *Denial naming the offending address.
func (p Policy) ValidatePeerSet(addrs []net.Addr) error {
	for _, addr := range addrs {
		d := p.EvaluatePeer(addr)
		if !d.Allowed {
			return &Denial{Addr: addr, Reason: d.Reason}
		}
	}
	return nil
}
