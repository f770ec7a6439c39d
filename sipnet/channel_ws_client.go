package sipnet

import (
	"context"
	"crypto/tls"
	"hash/fnv"
	"net"
	"net/url"
	"strconv"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

// wsClientChannel is the C7 WebSocket client channel of spec.md §4.7: unlike
// C4/C5/C6 it never listens, and its connections are opened by dialling a
// wss:// or ws:// URI. uriIndex maps an fnv hash of the dial URI to the live
// connection_id and serves HasConnectionByURI only, grounded in the same
// "stable short key over an unbounded string" idiom used for Call-ID
// indices elsewhere. SendAsync and SendSecureAsync find a connection by
// hint, then by remote end-point (host:port), so two URIs that resolve to
// the same end-point are not told apart on the send path.
type wsClientChannel struct {
	base   baseChannel
	pool   *connectionPool
	parser MessageParser

	mu        sync.RWMutex
	uriIndex  map[uint64]string
	tlsConfig *tls.Config
}

// NewWSClientChannel constructs the C7 client channel. parser is the same
// stream-framing collaborator C2/C4/C5 use: per spec.md §4.7/§6, a WebSocket
// binary/text frame boundary on the client-dialled side is not trusted to
// align with a SIP message boundary, so readLoop routes received bytes
// through a StreamBuffer exactly like the TCP/TLS read loops rather than
// treating one frame as one message the way the server side (C6) does.
func NewWSClientChannel(bind EndPoint, handler MessageHandler, parser MessageParser, cfg Config, log zerolog.Logger, metrics *Metrics) *wsClientChannel {
	ch := &wsClientChannel{
		base:     newBaseChannel(WS, bind, handler, cfg, log, metrics),
		pool:     newConnectionPool(),
		parser:   parser,
		uriIndex: make(map[uint64]string),
	}
	return ch
}

// SetTLSConfig installs the base tls.Config used for wss:// dials (cloned
// and given a per-dial ServerName by DialURI/DialURISecure); without one,
// wss:// dials fall back to gobwas/ws's own default TLS handling.
func (ch *wsClientChannel) SetTLSConfig(cfg *tls.Config) {
	ch.mu.Lock()
	ch.tlsConfig = cfg
	ch.mu.Unlock()
}

func uriHash(uri string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(uri))
	return h.Sum64()
}

// DialURI opens a new outbound WebSocket connection to uri (e.g.
// "wss://proxy.example.com:7443/ws") and starts its receive loop. Per
// spec.md §4.7 this is the explicit connection-establishment entry point for
// C7: subsequent SendAsync calls reuse the resulting connection by hint or
// remote end-point, exactly as C4/C5 do.
func (ch *wsClientChannel) DialURI(ctx context.Context, uri string) (Connection, error) {
	return ch.dialURI(ctx, uri, "")
}

// DialURISecure is DialURI's SendSecureAsync counterpart (spec.md §6): for a
// wss:// uri it overrides the handshake's SNI with expectedServerName and
// honours Config.BypassCertificateValidation, mirroring channel_tls.go's
// clientTLSConfig. For a plain ws:// uri it behaves exactly like DialURI.
func (ch *wsClientChannel) DialURISecure(ctx context.Context, uri, expectedServerName string) (Connection, error) {
	return ch.dialURI(ctx, uri, expectedServerName)
}

func (ch *wsClientChannel) dialURI(ctx context.Context, uri, expectedServerName string) (Connection, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, newErr("DialURI", KindFault, err)
	}

	var (
		conn net.Conn
	)
	if parsed.Scheme == "wss" {
		dialer := ws.Dialer{TLSConfig: ch.clientTLSConfig(parsed.Hostname(), expectedServerName)}
		conn, _, _, err = dialer.Dial(ctx, uri)
	} else {
		conn, _, _, err = ws.Dial(ctx, uri)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, newErr("DialURI", KindTimedOut, err)
		}
		return nil, newErr("DialURI", KindConnectionRefused, err)
	}

	remote := wsURLToEndPoint(parsed)
	sc := newStreamConn(conn, Initiated, remote, false)
	sc.writeFrame = wsClientWriteFrame
	sc.readFrame = wsClientReadFrame

	ch.pool.Add(sc)
	ch.mu.Lock()
	ch.uriIndex[uriHash(uri)] = sc.id
	ch.mu.Unlock()
	ch.base.metrics.setStreamConnsOpen(ch.base.id, Initiated, ch.pool.Len())

	go ch.readLoop(sc)
	return sc, nil
}

// clientTLSConfig mirrors channel_tls.go's clientTLSConfig for the WSS
// dial path: ServerName defaults to the dialed host unless the caller
// overrode it via DialURISecure, and BypassCertificateValidation toggles
// InsecureSkipVerify for development use (spec.md §4.5/§6).
func (ch *wsClientChannel) clientTLSConfig(host, expectedServerName string) *tls.Config {
	var c *tls.Config
	ch.mu.RLock()
	if ch.tlsConfig != nil {
		c = ch.tlsConfig.Clone()
	}
	ch.mu.RUnlock()
	if c == nil {
		c = &tls.Config{}
	}
	serverName := expectedServerName
	if serverName == "" {
		serverName = host
	}
	c.ServerName = serverName
	if ch.base.config.BypassCertificateValidation {
		c.InsecureSkipVerify = true
	}
	return c
}

func wsURLToEndPoint(u *url.URL) EndPoint {
	protocol := WS
	port := 80
	if u.Scheme == "wss" {
		protocol = WSS
		port = 443
	}
	host := u.Hostname()
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	return EndPoint{Protocol: protocol, Hostname: host, IP: net.ParseIP(host), Port: port}
}

// wsClientWriteFrame sends b as a single masked text frame: RFC 6455 §5.1
// requires every client-to-server frame to be masked.
func wsClientWriteFrame(conn net.Conn, b []byte) error {
	return wsutil.WriteClientMessage(conn, ws.OpText, b)
}

func wsClientReadFrame(conn net.Conn, b []byte) (int, error) {
	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		return 0, err
	}
	return copy(b, data), nil
}

func (ch *wsClientChannel) readLoop(sc *streamConn) {
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
				ch.base.log.Debug().Err(err).Str("connection_id", sc.id).Msg("ws client connection closed")
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
			ch.base.log.Warn().Err(ferr).Str("connection_id", sc.id).Msg("ws client stream framing error, closing connection")
			return
		}
	}
}

// SendAsync never dials: mayConnect is honoured only through DialURI. This
// mirrors spec.md §4.7's rule that the WebSocket client channel's
// connections are established explicitly, never implicitly from a send.
func (ch *wsClientChannel) SendAsync(dst EndPoint, data []byte, mayConnect bool, hint string) error {
	if ch.base.isClosed() {
		return newErr("SendAsync", KindDisconnecting, nil)
	}
	sc := ch.lookup(dst, hint)
	if sc == nil {
		return newErr("SendAsync", KindNotConnected, nil)
	}
	if err := sc.Write(data); err != nil {
		return newErr("SendAsync", KindFault, err)
	}
	return nil
}

// SendSecureAsync is meaningful only for wss:// peers (spec.md §6): the
// pooled connection's certificate was already verified at DialURISecure
// time, so this reuses it exactly like SendAsync once the found connection
// is confirmed WSS. A plain ws:// peer gets NotImplemented, matching every
// other non-TLS variant. There is no implicit dial here either — C7
// connections are always established explicitly via DialURI, per spec.md
// §4.7.
func (ch *wsClientChannel) SendSecureAsync(dst EndPoint, data []byte, expectedServerName string, mayConnect bool, hint string) error {
	if ch.base.isClosed() {
		return newErr("SendSecureAsync", KindDisconnecting, nil)
	}
	sc := ch.lookup(dst, hint)
	if sc == nil {
		return newErr("SendSecureAsync", KindNotConnected, nil)
	}
	if sc.remote.Protocol != WSS {
		return newErr("SendSecureAsync", KindNotImplemented, nil)
	}
	if err := sc.Write(data); err != nil {
		return newErr("SendSecureAsync", KindFault, err)
	}
	return nil
}

func (ch *wsClientChannel) lookup(dst EndPoint, hint string) *streamConn {
	if hint != "" {
		if sc := ch.pool.Get(hint); sc != nil {
			return sc
		}
	}
	return ch.pool.GetByEndpoint(dst)
}

func (ch *wsClientChannel) HasConnectionByID(id string) bool {
	return ch.pool.Get(id) != nil
}

func (ch *wsClientChannel) HasConnectionByEndpoint(ep EndPoint) bool {
	return ch.pool.GetByEndpoint(ep) != nil
}

// HasConnectionByURI is meaningful only for C7 among the four variants.
func (ch *wsClientChannel) HasConnectionByURI(uri string) bool {
	ch.mu.RLock()
	id, ok := ch.uriIndex[uriHash(uri)]
	ch.mu.RUnlock()
	if !ok {
		return false
	}
	return ch.pool.Get(id) != nil
}

func (ch *wsClientChannel) SupportsAddressFamily(family string) bool {
	return addressFamilyMatches(ch.base.bind, family)
}

func (ch *wsClientChannel) SupportsProtocol(p Protocol) bool { return ch.base.SupportsProtocol(p) }
func (ch *wsClientChannel) ListeningEndPoint() EndPoint      { return ch.base.ListeningEndPoint() }
func (ch *wsClientChannel) ChannelID() string                { return ch.base.ChannelID() }

func (ch *wsClientChannel) ContactURIFor(destination EndPoint) EndPoint {
	return ch.base.ListeningEndPoint()
}

func (ch *wsClientChannel) Close() error {
	ch.base.markClosed()
	ch.pool.Clear()
	return nil
}
