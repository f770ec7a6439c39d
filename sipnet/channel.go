package sipnet

import (
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// MessageHandler is the single callback the host (a SIP transaction layer)
// registers to receive complete SIP messages. Per spec.md's DESIGN NOTES,
// this replaces a mutable event-field/listener-list design: it is injected
// once at channel construction. local carries the actual local address used
// — for UDP that may be the wildcard address when packet-info is
// unavailable (spec.md §9 Open Questions).
type MessageHandler func(ch Channel, local, remote EndPoint, data []byte)

// Channel is the polymorphic transport abstraction of spec.md §4: one
// interface, five concrete variants (datagram, stream-plain, stream-secure,
// websocket-server, websocket-client), sharing lifecycle and state through
// composition (the baseChannel type below) rather than a base class.
type Channel interface {
	// SendAsync queues bytes for delivery to dst. hint, if non-empty, names
	// a connection_id the caller wants reused (used by the host to pin a
	// response to the request's originating connection). mayConnect
	// encodes SIP's rule that only requests may open a new connection.
	SendAsync(dst EndPoint, data []byte, mayConnect bool, hint string) error

	// SendSecureAsync is only meaningful for TLS and WSS; other variants
	// return a KindNotImplemented error.
	SendSecureAsync(dst EndPoint, data []byte, expectedServerName string, mayConnect bool, hint string) error

	HasConnectionByID(id string) bool
	HasConnectionByEndpoint(ep EndPoint) bool
	// HasConnectionByURI is only meaningful for the WebSocket client
	// channel (C7); other variants always return false.
	HasConnectionByURI(uri string) bool

	SupportsAddressFamily(family string) bool
	SupportsProtocol(p Protocol) bool

	ListeningEndPoint() EndPoint
	// ContactURIFor selects the local end-point that should appear in a
	// Contact header when sending to destination — relevant when the
	// channel is bound on a wildcard address.
	ContactURIFor(destination EndPoint) EndPoint

	ChannelID() string

	Close() error
}

var channelIDCounter atomic.Int64

func nextChannelID() string {
	return strconv.FormatInt(channelIDCounter.Add(1), 10)
}

// baseChannel is the shared state bag every concrete Channel variant
// composes in, per spec.md's DESIGN NOTES ("shared state lives in a
// composition field, not a base [class]"): bind address, protocol tag, IDs,
// and the closed flag plus its cancellation signal.
type baseChannel struct {
	id       string
	protocol Protocol
	bind     EndPoint
	handler  MessageHandler
	config   Config
	log      zerolog.Logger
	metrics  *Metrics

	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

func newBaseChannel(protocol Protocol, bind EndPoint, handler MessageHandler, cfg Config, log zerolog.Logger, metrics *Metrics) baseChannel {
	cfg.applyDefaults()
	bind.Protocol = protocol
	id := nextChannelID()
	if reflect.DeepEqual(log, zerolog.Logger{}) {
		log = defaultLogger
	}
	return baseChannel{
		id:       id,
		protocol: protocol,
		bind:     bind,
		handler:  handler,
		config:   cfg,
		log:      log.With().Str("channel_id", id).Str("protocol", protocol.String()).Logger(),
		metrics:  metrics,
		done:     make(chan struct{}),
	}
}

func (b *baseChannel) ChannelID() string { return b.id }

func (b *baseChannel) isClosed() bool {
	return b.closed.Load()
}

// markClosed flips the closed flag and closes the done channel exactly
// once, fanning the cancellation out to every task the channel spawned
// (accept loop, receive loop, pruner), per spec.md §5.
func (b *baseChannel) markClosed() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.done)
	})
}

func (b *baseChannel) SupportsProtocol(p Protocol) bool {
	return p == b.protocol
}

func (b *baseChannel) ListeningEndPoint() EndPoint {
	ep := b.bind
	ep.ChannelID = b.id
	return ep
}
