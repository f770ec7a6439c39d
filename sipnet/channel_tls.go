package sipnet

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// tlsChannel is the C5 stream-secure channel of spec.md §4.5: identical
// dispatch and pooling discipline to C4, with a TLS handshake (bounded by
// TLSHandshakeTimeout) wrapped around both the accept and dial paths.
type tlsChannel struct {
	base      baseChannel
	listener  net.Listener
	pool      *connectionPool
	parser    MessageParser
	pruner    *pruner
	tlsConfig *tls.Config
}

// NewTLSChannel binds a TLS listener at bind using tlsConfig for the server
// handshake (it must carry at least one certificate). If
// cfg.BypassCertificateValidation is set, the client-side dial path accepts
// an invalid peer certificate — development use only, per spec.md §6.
func NewTLSChannel(bind EndPoint, handler MessageHandler, parser MessageParser, tlsConfig *tls.Config, cfg Config, log zerolog.Logger, metrics *Metrics) (*tlsChannel, error) {
	ln, err := tls.Listen("tcp", bind.Addr(), tlsConfig)
	if err != nil {
		return nil, newErr("NewTLSChannel", KindBindError, err)
	}
	if a, ok := ln.Addr().(*net.TCPAddr); ok {
		bind.IP, bind.Port = a.IP, a.Port
	}

	ch := &tlsChannel{
		base:      newBaseChannel(TLS, bind, handler, cfg, log, metrics),
		listener:  ln,
		pool:      newConnectionPool(),
		parser:    parser,
		tlsConfig: tlsConfig,
	}
	ch.pruner = startPruner(ch.pool, ch.base.config, ch.base.id, ch.base.metrics, ch.base.log, ch.base.done)
	go ch.acceptLoop()
	return ch, nil
}

func (ch *tlsChannel) acceptLoop() {
	for {
		conn, err := ch.listener.Accept()
		if err != nil {
			if ch.base.isClosed() {
				return
			}
			ch.base.log.Warn().Err(err).Msg("tls accept failed")
			continue
		}

		tlsConn, ok := conn.(*tls.Conn)
		if !ok {
			_ = conn.Close()
			continue
		}
		if err := ch.handshake(tlsConn); err != nil {
			ch.base.log.Warn().Err(err).Msg("tls handshake failed")
			_ = conn.Close()
			continue
		}
		ch.adopt(tlsConn, Accepted)
	}
}

func (ch *tlsChannel) handshake(conn *tls.Conn) error {
	ctx, cancel := context.WithTimeout(context.Background(), ch.base.config.TLSHandshakeTimeout)
	defer cancel()

	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)
	defer conn.SetDeadline(noDeadline)

	return conn.HandshakeContext(ctx)
}

func (ch *tlsChannel) adopt(conn net.Conn, dir Direction) *streamConn {
	remote := tcpAddrToEndPoint(conn.RemoteAddr(), TLS)
	sc := newStreamConn(conn, dir, remote, !ch.base.config.DisableLocalLoopbackCheck)
	ch.pool.Add(sc)
	ch.base.metrics.setStreamConnsOpen(ch.base.id, dir, ch.pool.Len())
	go ch.readLoop(sc)
	return sc
}

func (ch *tlsChannel) readLoop(sc *streamConn) {
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
				ch.base.log.Debug().Err(err).Str("connection_id", sc.id).Msg("tls connection closed")
			}
			return
		}

		messages, ferr := sc.buf.ExtractMessages(ch.parser, raw[:n])
		for _, msg := range messages {
			if isKeepAlive(msg) {
				continue
			}
			local := ch.base.ListeningEndPoint()
			remote := sc.remote
			remote.ConnectionID = sc.id
			ch.base.handler(ch, local, remote, msg)
		}
		if ferr != nil {
			ch.base.metrics.incFramingErrors(ch.base.id)
			ch.base.log.Warn().Err(ferr).Str("connection_id", sc.id).Msg("stream framing error, closing connection")
			return
		}
	}
}

func (ch *tlsChannel) SendAsync(dst EndPoint, data []byte, mayConnect bool, hint string) error {
	return ch.sendAsync(dst, data, mayConnect, hint, "")
}

// SendSecureAsync behaves like SendAsync but additionally verifies the
// peer's certificate carries expectedServerName (SNI) on a freshly dialed
// connection, per spec.md §4.5. An already-pooled connection is reused
// as-is: its identity was verified at dial or accept time.
func (ch *tlsChannel) SendSecureAsync(dst EndPoint, data []byte, expectedServerName string, mayConnect bool, hint string) error {
	return ch.sendAsync(dst, data, mayConnect, hint, expectedServerName)
}

func (ch *tlsChannel) sendAsync(dst EndPoint, data []byte, mayConnect bool, hint, expectedServerName string) error {
	if ch.base.isClosed() {
		return newErr("SendAsync", KindDisconnecting, nil)
	}
	if hint != "" {
		if sc := ch.pool.Get(hint); sc != nil {
			return ch.writeOrDrop(sc, data)
		}
	}
	if sc := ch.pool.GetByEndpoint(dst); sc != nil {
		return ch.writeOrDrop(sc, data)
	}
	if !mayConnect {
		return newErr("SendAsync", KindNotConnected, nil)
	}
	if !ch.base.config.DisableLocalLoopbackCheck && IsSocketEqual(dst, ch.base.ListeningEndPoint()) {
		return newErr("SendAsync", KindFault, errSelfConnect)
	}

	sc, err := ch.dial(dst, expectedServerName)
	if err != nil {
		return err
	}
	return ch.writeOrDrop(sc, data)
}

func (ch *tlsChannel) writeOrDrop(sc *streamConn, data []byte) error {
	if err := sc.Write(data); err != nil {
		return newErr("SendAsync", KindFault, err)
	}
	return nil
}

func (ch *tlsChannel) dial(dst EndPoint, expectedServerName string) (*streamConn, error) {
	sc, err := ch.pool.dialSingleflight(dst.Addr(), func() (*streamConn, error) {
		ctx, cancel := context.WithTimeout(context.Background(), ch.base.config.TCPConnectTimeout+ch.base.config.TLSHandshakeTimeout)
		defer cancel()

		var d net.Dialer
		rawConn, dialErr := d.DialContext(ctx, "tcp", dst.Addr())
		if dialErr != nil {
			if ctx.Err() != nil {
				return nil, newErr("dial", KindTimedOut, dialErr)
			}
			return nil, newErr("dial", KindConnectionRefused, dialErr)
		}

		clientCfg := ch.clientTLSConfig(dst, expectedServerName)
		tlsConn := tls.Client(rawConn, clientCfg)
		if hsErr := ch.handshake(tlsConn); hsErr != nil {
			_ = rawConn.Close()
			return nil, newErr("dial", KindProtocolNotSupported, hsErr)
		}

		return ch.adopt(tlsConn, Initiated), nil
	})
	if err != nil {
		return nil, err
	}
	return sc, nil
}

// clientTLSConfig derives a per-dial client config from the channel's base
// tlsConfig: ServerName set to the SIP destination's host (or the caller's
// expectedServerName override for send_secure_async), and
// InsecureSkipVerify honouring the BypassCertificateValidation toggle.
func (ch *tlsChannel) clientTLSConfig(dst EndPoint, expectedServerName string) *tls.Config {
	c := ch.tlsConfig.Clone()
	serverName := expectedServerName
	if serverName == "" {
		serverName = dst.Hostname
	}
	c.ServerName = serverName
	if ch.base.config.BypassCertificateValidation {
		c.InsecureSkipVerify = true
	}
	return c
}

func (ch *tlsChannel) HasConnectionByID(id string) bool {
	return ch.pool.Get(id) != nil
}

func (ch *tlsChannel) HasConnectionByEndpoint(ep EndPoint) bool {
	return ch.pool.GetByEndpoint(ep) != nil
}

func (ch *tlsChannel) HasConnectionByURI(uri string) bool { return false }

func (ch *tlsChannel) SupportsAddressFamily(family string) bool {
	return addressFamilyMatches(ch.base.bind, family)
}

func (ch *tlsChannel) SupportsProtocol(p Protocol) bool { return ch.base.SupportsProtocol(p) }
func (ch *tlsChannel) ListeningEndPoint() EndPoint      { return ch.base.ListeningEndPoint() }
func (ch *tlsChannel) ChannelID() string                { return ch.base.ChannelID() }

func (ch *tlsChannel) ContactURIFor(destination EndPoint) EndPoint {
	return ch.base.ListeningEndPoint()
}

func (ch *tlsChannel) Close() error {
	ch.base.markClosed()
	ch.pruner.Stop()
	err := ch.listener.Close()
	ch.pool.Clear()
	return err
}

var noDeadline time.Time
