package sipnet

import (
	"crypto/tls"
	"net"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

// wsServerChannel is the C6 WebSocket server channel of spec.md §4.6: a
// plain TCP listener upgraded per-connection to the WebSocket protocol via
// gobwas/ws, after which each inbound frame carries exactly one SIP message
// (RFC 7118) — no stream framer needed on this path, unlike C4/C5. The TLS
// variant (WSS) is selected at construction by the presence of a server
// certificate, per spec.md §4.6: NewWSServerChannelTLS wraps the listener
// in tls.Listen the same way channel_tls.go wraps channel_tcp.go.
type wsServerChannel struct {
	base     baseChannel
	listener net.Listener
	pool     *connectionPool
	pruner   *pruner
	secure   bool
}

func NewWSServerChannel(bind EndPoint, handler MessageHandler, cfg Config, log zerolog.Logger, metrics *Metrics) (*wsServerChannel, error) {
	ln, err := net.Listen("tcp", bind.Addr())
	if err != nil {
		return nil, newErr("NewWSServerChannel", KindBindError, err)
	}
	return newWSServerChannel(WS, ln, bind, handler, cfg, log, metrics, false)
}

// NewWSServerChannelTLS binds a TLS-wrapped listener and upgrades accepted
// connections the same way NewWSServerChannel does, yielding the WSS
// variant of C6. tlsConfig must carry at least one server certificate.
func NewWSServerChannelTLS(bind EndPoint, handler MessageHandler, tlsConfig *tls.Config, cfg Config, log zerolog.Logger, metrics *Metrics) (*wsServerChannel, error) {
	ln, err := tls.Listen("tcp", bind.Addr(), tlsConfig)
	if err != nil {
		return nil, newErr("NewWSServerChannelTLS", KindBindError, err)
	}
	return newWSServerChannel(WSS, ln, bind, handler, cfg, log, metrics, true)
}

func newWSServerChannel(protocol Protocol, ln net.Listener, bind EndPoint, handler MessageHandler, cfg Config, log zerolog.Logger, metrics *Metrics, secure bool) (*wsServerChannel, error) {
	if a, ok := ln.Addr().(*net.TCPAddr); ok {
		bind.IP, bind.Port = a.IP, a.Port
	}

	ch := &wsServerChannel{
		base:     newBaseChannel(protocol, bind, handler, cfg, log, metrics),
		listener: ln,
		pool:     newConnectionPool(),
		secure:   secure,
	}
	ch.pruner = startPruner(ch.pool, ch.base.config, ch.base.id, ch.base.metrics, ch.base.log, ch.base.done)
	go ch.acceptLoop()
	return ch, nil
}

func (ch *wsServerChannel) acceptLoop() {
	for {
		conn, err := ch.listener.Accept()
		if err != nil {
			if ch.base.isClosed() {
				return
			}
			ch.base.log.Warn().Err(err).Msg("ws accept failed")
			continue
		}

		if _, err := ws.Upgrade(conn); err != nil {
			ch.base.log.Warn().Err(err).Msg("ws upgrade failed")
			_ = conn.Close()
			continue
		}

		remote := tcpAddrToEndPoint(conn.RemoteAddr(), ch.base.protocol)
		sc := newStreamConn(conn, Accepted, remote, false)
		sc.writeFrame = wsServerWriteFrame
		sc.readFrame = wsServerReadFrame
		ch.pool.Add(sc)
		ch.base.metrics.setStreamConnsOpen(ch.base.id, Accepted, ch.pool.Len())
		go ch.readLoop(sc)
	}
}

// wsServerWriteFrame sends b as a single unmasked text frame, per RFC 6455
// §5.1 (a server never masks its frames).
func wsServerWriteFrame(conn net.Conn, b []byte) error {
	return wsutil.WriteServerMessage(conn, ws.OpText, b)
}

// wsServerReadFrame reads one client frame (control frames are handled
// transparently by wsutil) and copies its payload into b.
func wsServerReadFrame(conn net.Conn, b []byte) (int, error) {
	data, err := wsutil.ReadClientText(conn)
	if err != nil {
		return 0, err
	}
	return copy(b, data), nil
}

func (ch *wsServerChannel) readLoop(sc *streamConn) {
	defer func() {
		ch.pool.Delete(sc.id)
		_ = sc.Close()
		ch.base.metrics.setStreamConnsOpen(ch.base.id, sc.direction, ch.pool.Len())
	}()

	raw := make([]byte, MaxSIPMessageBytes)
	for {
		n, err := sc.read(raw)
		if err != nil {
			if !ch.base.isClosed() {
				ch.base.log.Debug().Err(err).Str("connection_id", sc.id).Msg("ws connection closed")
			}
			return
		}
		if n == 0 || isKeepAlive(raw[:n]) {
			continue
		}

		msg := make([]byte, n)
		copy(msg, raw[:n])

		local := ch.base.ListeningEndPoint()
		remote := sc.remote
		remote.ConnectionID = sc.id
		ch.base.handler(ch, local, remote, msg)
	}
}

func (ch *wsServerChannel) SendAsync(dst EndPoint, data []byte, mayConnect bool, hint string) error {
	if ch.base.isClosed() {
		return newErr("SendAsync", KindDisconnecting, nil)
	}
	var sc *streamConn
	if hint != "" {
		sc = ch.pool.Get(hint)
	}
	if sc == nil {
		sc = ch.pool.GetByEndpoint(dst)
	}
	if sc == nil {
		// C6 never dials out: a SIP WebSocket server only ever replies on
		// the connection the peer opened to it, per spec.md §4.6.
		return newErr("SendAsync", KindNotConnected, nil)
	}
	if err := sc.Write(data); err != nil {
		return newErr("SendAsync", KindFault, err)
	}
	return nil
}

// SendSecureAsync is only meaningful on the WSS variant (spec.md §6); the
// certificate/SNI negotiation already happened at accept time, so this
// behaves exactly like SendAsync once the secure gate passes.
func (ch *wsServerChannel) SendSecureAsync(dst EndPoint, data []byte, expectedServerName string, mayConnect bool, hint string) error {
	if !ch.secure {
		return newErr("SendSecureAsync", KindNotImplemented, nil)
	}
	return ch.SendAsync(dst, data, mayConnect, hint)
}

func (ch *wsServerChannel) HasConnectionByID(id string) bool {
	return ch.pool.Get(id) != nil
}

func (ch *wsServerChannel) HasConnectionByEndpoint(ep EndPoint) bool {
	return ch.pool.GetByEndpoint(ep) != nil
}

func (ch *wsServerChannel) HasConnectionByURI(uri string) bool { return false }

func (ch *wsServerChannel) SupportsAddressFamily(family string) bool {
	return addressFamilyMatches(ch.base.bind, family)
}

func (ch *wsServerChannel) SupportsProtocol(p Protocol) bool { return ch.base.SupportsProtocol(p) }
func (ch *wsServerChannel) ListeningEndPoint() EndPoint      { return ch.base.ListeningEndPoint() }
func (ch *wsServerChannel) ChannelID() string                { return ch.base.ChannelID() }

func (ch *wsServerChannel) ContactURIFor(destination EndPoint) EndPoint {
	return ch.base.ListeningEndPoint()
}

func (ch *wsServerChannel) Close() error {
	ch.base.markClosed()
	ch.pruner.Stop()
	err := ch.listener.Close()
	ch.pool.Clear()
	return err
}
