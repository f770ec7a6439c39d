package sipnet

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// udpChannel is the C3 datagram channel of spec.md §4.3: one bound UDP
// socket, no connection state, and a failed-destination set that
// short-circuits sends to a peer that recently produced an ICMP
// port/host-unreachable instead of paying for another syscall and timeout.
type udpChannel struct {
	base      baseChannel
	conn      *net.UDPConn
	dualStack bool

	failedMu sync.Mutex
	failed   map[string]time.Time // EndPoint.Addr() -> expiry
}

// NewUDPChannel binds a UDP socket at bind and starts its receive loop.
// handler is invoked once per datagram from a single goroutine owned by the
// channel; it must not block for long, per spec.md §5. dualStack, per
// spec.md §4.3's `new(bind_addr, dual_stack?)`, declares that bind is the
// IPv6 wildcard on a dual-stack-capable OS; SendAsync then rewrites IPv4
// destinations into their ::ffff:a.b.c.d form before sending. A zero-value
// log falls back to DefaultLogger().
func NewUDPChannel(bind EndPoint, handler MessageHandler, dualStack bool, cfg Config, log zerolog.Logger, metrics *Metrics) (*udpChannel, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", bind.Addr())
	if err != nil {
		return nil, newErr("NewUDPChannel", KindBindError, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, newErr("NewUDPChannel", KindBindError, err)
	}
	// Port 0 asks the OS to pick an ephemeral port; reflect the actual
	// bound address back into bind so ListeningEndPoint/ContactURIFor
	// report it correctly.
	bind.IP, bind.Port = conn.LocalAddr().(*net.UDPAddr).IP, conn.LocalAddr().(*net.UDPAddr).Port

	ch := &udpChannel{
		base:      newBaseChannel(UDP, bind, handler, cfg, log, metrics),
		conn:      conn,
		dualStack: dualStack,
		failed:    make(map[string]time.Time),
	}
	go ch.receiveLoop()
	return ch, nil
}

func (ch *udpChannel) receiveLoop() {
	buf := make([]byte, MaxSIPMessageBytes)
	for {
		n, remoteAddr, err := ch.conn.ReadFromUDP(buf)
		if err != nil {
			if ch.base.isClosed() {
				return
			}
			ch.base.log.Warn().Err(err).Msg("udp read failed")
			continue
		}
		ch.base.metrics.incDatagramsReceived(ch.base.id)

		if isKeepAlive(buf[:n]) {
			continue
		}

		msg := make([]byte, n)
		copy(msg, buf[:n])

		remote := EndPoint{
			Protocol: UDP,
			IP:       remoteAddr.IP,
			Port:     remoteAddr.Port,
			ChannelID: ch.base.id,
		}
		ch.base.handler(ch, ch.base.ListeningEndPoint(), remote, msg)
	}
}

func (ch *udpChannel) isFailed(key string) bool {
	ch.failedMu.Lock()
	defer ch.failedMu.Unlock()
	expiry, ok := ch.failed[key]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(ch.failed, key)
		return false
	}
	return true
}

func (ch *udpChannel) markFailed(key string) {
	ch.failedMu.Lock()
	ch.failed[key] = time.Now().Add(ch.base.config.UDPFailedDestinationTTL)
	n := len(ch.failed)
	ch.failedMu.Unlock()
	ch.base.metrics.setFailedDestinations(ch.base.id, n)
}

// SendAsync writes data as a single datagram to dst. mayConnect and hint are
// accepted for interface symmetry with the stream channels but are no-ops:
// UDP has no connection to reuse or gate (spec.md §4.3).
func (ch *udpChannel) SendAsync(dst EndPoint, data []byte, mayConnect bool, hint string) error {
	if ch.base.isClosed() {
		return newErr("SendAsync", KindDisconnecting, nil)
	}

	key := dst.Addr()
	if ch.isFailed(key) {
		return newErr("SendAsync", KindConnectionRefused, nil)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", key)
	if err != nil {
		return newErr("SendAsync", KindFault, err)
	}
	if ch.dualStack {
		udpAddr.IP = dualStackMap(udpAddr.IP)
	}

	_, err = ch.conn.WriteToUDP(data, udpAddr)
	if err != nil {
		if isDestinationUnreachable(err) {
			ch.markFailed(key)
			return newErr("SendAsync", KindConnectionRefused, err)
		}
		return newErr("SendAsync", KindFault, err)
	}
	ch.base.metrics.incDatagramsSent(ch.base.id)
	return nil
}

func (ch *udpChannel) SendSecureAsync(dst EndPoint, data []byte, expectedServerName string, mayConnect bool, hint string) error {
	return newErr("SendSecureAsync", KindNotImplemented, nil)
}

func (ch *udpChannel) HasConnectionByID(id string) bool           { return false }
func (ch *udpChannel) HasConnectionByEndpoint(ep EndPoint) bool   { return false }
func (ch *udpChannel) HasConnectionByURI(uri string) bool         { return false }

func (ch *udpChannel) SupportsAddressFamily(family string) bool {
	return addressFamilyMatches(ch.base.bind, family)
}

func (ch *udpChannel) SupportsProtocol(p Protocol) bool { return ch.base.SupportsProtocol(p) }
func (ch *udpChannel) ListeningEndPoint() EndPoint      { return ch.base.ListeningEndPoint() }
func (ch *udpChannel) ChannelID() string                { return ch.base.ChannelID() }

func (ch *udpChannel) ContactURIFor(destination EndPoint) EndPoint {
	return ch.base.ListeningEndPoint()
}

func (ch *udpChannel) Close() error {
	ch.base.markClosed()
	return ch.conn.Close()
}

// isDestinationUnreachable reports whether err carries a POSIX
// ECONNREFUSED/EHOSTUNREACH/ENETUNREACH, the errno values a UDP socket
// surfaces from a delayed ICMP response (spec.md §4.3's "failed
// destination" trigger).
func isDestinationUnreachable(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}

// dualStackMap rewrites an IPv4 address into its IPv4-in-IPv6 form
// (::ffff:a.b.c.d, the ::ffff:0:0/96 prefix) so a socket bound to the IPv6
// wildcard can reach it, per spec.md §4.3's dual-stack send rule. ip that is
// already IPv6, or not a valid address at all, is returned unchanged.
func dualStackMap(ip net.IP) net.IP {
	v4 := ip.To4()
	if v4 == nil {
		return ip
	}
	addr, ok := netip.AddrFromSlice(v4)
	if !ok {
		return ip
	}
	var mapped [16]byte
	mapped[10], mapped[11] = 0xff, 0xff
	a4 := addr.As4()
	copy(mapped[12:], a4[:])
	return net.IP(netip.AddrFrom16(mapped).AsSlice())
}
