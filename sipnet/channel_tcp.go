package sipnet

import (
	"context"
	"errors"
	"net"

	"github.com/rs/zerolog"
)

// tcpChannel is the C4 stream-plain channel of spec.md §4.4: a listener
// accepting inbound connections, a pool of outbound-or-inbound
// streamConns keyed by connection_id, and the send dispatch rule "hint ->
// reuse by endpoint -> may_connect gate -> dial".
type tcpChannel struct {
	base     baseChannel
	listener net.Listener
	pool     *connectionPool
	parser   MessageParser
	pruner   *pruner
}

// NewTCPChannel binds a TCP listener at bind and starts accepting
// connections. parser is the host's SIP framing function (spec.md §1); each
// connection's receive loop calls it repeatedly on the accumulated bytes to
// slice the byte stream into discrete messages.
func NewTCPChannel(bind EndPoint, handler MessageHandler, parser MessageParser, cfg Config, log zerolog.Logger, metrics *Metrics) (*tcpChannel, error) {
	ln, err := net.Listen("tcp", bind.Addr())
	if err != nil {
		return nil, newErr("NewTCPChannel", KindBindError, err)
	}
	if a, ok := ln.Addr().(*net.TCPAddr); ok {
		bind.IP, bind.Port = a.IP, a.Port
	}

	ch := &tcpChannel{
		base:     newBaseChannel(TCP, bind, handler, cfg, log, metrics),
		listener: ln,
		pool:     newConnectionPool(),
		parser:   parser,
	}
	ch.pruner = startPruner(ch.pool, ch.base.config, ch.base.id, ch.base.metrics, ch.base.log, ch.base.done)
	go ch.acceptLoop()
	return ch, nil
}

func (ch *tcpChannel) acceptLoop() {
	for {
		conn, err := ch.listener.Accept()
		if err != nil {
			if ch.base.isClosed() {
				return
			}
			ch.base.log.Warn().Err(err).Msg("tcp accept failed")
			continue
		}
		ch.adopt(conn, Accepted)
	}
}

func (ch *tcpChannel) adopt(conn net.Conn, dir Direction) *streamConn {
	remote := tcpAddrToEndPoint(conn.RemoteAddr(), TCP)
	sc := newStreamConn(conn, dir, remote, !ch.base.config.DisableLocalLoopbackCheck)
	ch.pool.Add(sc)
	ch.base.metrics.setStreamConnsOpen(ch.base.id, dir, ch.pool.Len())
	go ch.readLoop(sc)
	return sc
}

func (ch *tcpChannel) readLoop(sc *streamConn) {
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
				ch.base.log.Debug().Err(err).Str("connection_id", sc.id).Msg("tcp connection closed")
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

// SendAsync implements spec.md §4.4's dispatch rule: a hinted connection_id
// is tried first, then an existing connection to dst by endpoint, and only
// if neither exists and mayConnect is true does it dial out.
func (ch *tcpChannel) SendAsync(dst EndPoint, data []byte, mayConnect bool, hint string) error {
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

	sc, err := ch.dial(dst)
	if err != nil {
		return err
	}
	return ch.writeOrDrop(sc, data)
}

func (ch *tcpChannel) writeOrDrop(sc *streamConn, data []byte) error {
	if err := sc.Write(data); err != nil {
		return newErr("SendAsync", KindFault, err)
	}
	return nil
}

func (ch *tcpChannel) dial(dst EndPoint) (*streamConn, error) {
	sc, err := ch.pool.dialSingleflight(dst.Addr(), func() (*streamConn, error) {
		ctx, cancel := context.WithTimeout(context.Background(), ch.base.config.TCPConnectTimeout)
		defer cancel()

		var d net.Dialer
		conn, dialErr := d.DialContext(ctx, "tcp", dst.Addr())
		if dialErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, newErr("dial", KindTimedOut, dialErr)
			}
			return nil, newErr("dial", KindConnectionRefused, dialErr)
		}
		return ch.adopt(conn, Initiated), nil
	})
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func (ch *tcpChannel) SendSecureAsync(dst EndPoint, data []byte, expectedServerName string, mayConnect bool, hint string) error {
	return newErr("SendSecureAsync", KindNotImplemented, nil)
}

func (ch *tcpChannel) HasConnectionByID(id string) bool {
	return ch.pool.Get(id) != nil
}

func (ch *tcpChannel) HasConnectionByEndpoint(ep EndPoint) bool {
	return ch.pool.GetByEndpoint(ep) != nil
}

func (ch *tcpChannel) HasConnectionByURI(uri string) bool { return false }

func (ch *tcpChannel) SupportsAddressFamily(family string) bool {
	return addressFamilyMatches(ch.base.bind, family)
}

func (ch *tcpChannel) SupportsProtocol(p Protocol) bool { return ch.base.SupportsProtocol(p) }
func (ch *tcpChannel) ListeningEndPoint() EndPoint      { return ch.base.ListeningEndPoint() }
func (ch *tcpChannel) ChannelID() string                { return ch.base.ChannelID() }

func (ch *tcpChannel) ContactURIFor(destination EndPoint) EndPoint {
	return ch.base.ListeningEndPoint()
}

func (ch *tcpChannel) Close() error {
	ch.base.markClosed()
	ch.pruner.Stop()
	err := ch.listener.Close()
	ch.pool.Clear()
	return err
}

var errSelfConnect = errors.New("refusing to connect to own listening address")

func tcpAddrToEndPoint(addr net.Addr, protocol Protocol) EndPoint {
	host, port, err := ParseAddr(addr.String())
	if err != nil {
		return EndPoint{Protocol: protocol, Hostname: addr.String()}
	}
	return EndPoint{Protocol: protocol, IP: net.ParseIP(host), Hostname: host, Port: port}
}
