package sipnet

import (
	"fmt"
	"net"
	"strconv"
)

// EndPoint identifies one side of a SIP message exchange: a protocol, an
// address, and a port, plus two opaque identifiers that let the host (the SIP
// transaction layer) pin a response to the exact channel/connection a
// request arrived on. ChannelID and ConnectionID are hints only — equality
// for routing purposes (IsSocketEqual) ignores them.
type EndPoint struct {
	Protocol Protocol
	IP       net.IP
	Port     int
	Hostname string

	ChannelID    string
	ConnectionID string
}

// String renders the textual form protocol:address:port.
func (e EndPoint) String() string {
	host := e.Hostname
	if host == "" {
		if e.IP != nil {
			host = e.IP.String()
		}
	}
	return fmt.Sprintf("%s:%s", e.Protocol.String(), net.JoinHostPort(host, strconv.Itoa(e.Port)))
}

// Addr renders the "host:port" form used for net.Dial/Listen and as a pool
// lookup key.
func (e EndPoint) Addr() string {
	host := e.Hostname
	if host == "" && e.IP != nil {
		host = e.IP.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(e.Port))
}

// IsSocketEqual compares two end-points for routing purposes: protocol,
// address and port only. ChannelID/ConnectionID are hints and are ignored,
// which is what lets an end-point parsed out of a SIP URI match back to a
// live channel connection.
func IsSocketEqual(a, b EndPoint) bool {
	if a.Protocol != b.Protocol || a.Port != b.Port {
		return false
	}
	if a.IP != nil && b.IP != nil {
		return a.IP.Equal(b.IP)
	}
	return a.Addr() == b.Addr()
}

// addressFamilyMatches reports whether ep's bound IP belongs to family,
// which must be "ip4" or "ip6". A nil (unresolved) IP matches both; a
// wildcard such as 0.0.0.0 or :: matches only its own family.
func addressFamilyMatches(ep EndPoint, family string) bool {
	if ep.IP == nil {
		return true
	}
	switch family {
	case "ip4":
		return ep.IP.To4() != nil
	case "ip6":
		return ep.IP.To4() == nil
	default:
		return false
	}
}

// ParseAddr splits a "host:port" string into its host and integer port parts.
func ParseAddr(addr string) (host string, port int, err error) {
	host, pstr, err := net.SplitHostPort(addr)
	if err != nil {
		return host, 0, err
	}
	port, err = strconv.Atoi(pstr)
	return host, port, err
}
