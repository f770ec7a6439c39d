package sipnet

import "strings"

// Protocol tags one of the four wire transports this package carries SIP
// messages over. TLS and WSS add a security layer on top of TCP and WS
// respectively; WS and WSS are framed WebSocket transports.
type Protocol int

const (
	UDP Protocol = iota
	TCP
	TLS
	WS
	WSS
)

// String renders the protocol the way it appears in a Via header / EndPoint
// textual form: upper case.
func (p Protocol) String() string {
	switch p {
	case UDP:
		return "UDP"
	case TCP:
		return "TCP"
	case TLS:
		return "TLS"
	case WS:
		return "WS"
	case WSS:
		return "WSS"
	default:
		return "UNKNOWN"
	}
}

// DefaultPort returns the well known SIP port for the protocol: 5060 for
// unencrypted transports, 5061 for TLS/WSS.
func (p Protocol) DefaultPort() int {
	switch p {
	case TLS, WSS:
		return 5061
	default:
		return 5060
	}
}

// IsReliable reports whether the transport guarantees in-order delivery.
// Only UDP is unreliable.
func (p Protocol) IsReliable() bool {
	return p != UDP
}

// IsStreamed reports whether the transport requires the stream framer (C2)
// to slice a byte stream into discrete messages. WS/WSS carry one message per
// WebSocket frame on the server-accept path and therefore are not streamed,
// but the client channel (C7) still runs received bytes through the framer to
// tolerate peers that batch messages into one frame (spec.md §4.7).
func (p Protocol) IsStreamed() bool {
	return p == TCP || p == TLS
}

// IsSecure reports whether the transport performs a TLS handshake.
func (p Protocol) IsSecure() bool {
	return p == TLS || p == WSS
}

// ParseProtocol parses a case-insensitive protocol tag such as "udp" or "TLS".
func ParseProtocol(s string) (Protocol, bool) {
	switch strings.ToUpper(s) {
	case "UDP":
		return UDP, true
	case "TCP":
		return TCP, true
	case "TLS":
		return TLS, true
	case "WS":
		return WS, true
	case "WSS":
		return WSS, true
	default:
		return 0, false
	}
}

// networkToLower renders the protocol tag the way net.Dial/net.Listen expects
// it: lower-case "tcp"/"udp", with "tls"/"ws"/"wss" treated as "tcp" once the
// base socket is established (the TLS/WebSocket layer is added on top).
func networkToLower(p Protocol) string {
	switch p {
	case UDP:
		return "udp"
	default:
		return "tcp"
	}
}
