package sipnet

import (
	"crypto/tls"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Direction tags whether a stream connection (C4/C5/C6/C7) was accepted from
// a listener or initiated by an outbound dial, per spec.md §3.
type Direction int

const (
	Accepted Direction = iota
	Initiated
)

func (d Direction) String() string {
	if d == Accepted {
		return "accepted"
	}
	return "initiated"
}

// Connection is one live TCP/TLS/WebSocket session. It is the stream
// connection bookkeeping object from spec.md §3: a connection_id, direction,
// remote end-point, underlying socket, and a last-transmission timestamp the
// pruner consults.
type Connection interface {
	// ID is the connection_id, unique per channel.
	ID() string
	RemoteEndPoint() EndPoint
	LocalAddr() net.Addr
	Direction() Direction

	// Write serialises and sends raw bytes on this connection. Per spec.md
	// §5, sends on one connection are serialised: Write may be called from
	// several goroutines at once, and the implementation serialises the
	// calls internally so their bytes do not interleave.
	Write(b []byte) error

	LastTransmissionAt() time.Time

	// Close tears the connection down following the channel's close
	// discipline (Linger-0 RST for TCP/TLS where supported). Idempotent.
	Close() error
}

// streamConn is the concrete Connection implementation shared by C4/C5/C6/C7.
// The read/write hooks let C6/C7 (WebSocket) swap in frame-aware read/write
// while C4/C5 (TCP/TLS) use the raw net.Conn — this is the
// "(slice, offset) pairs or explicit hooks, not a base class" composition
// spec.md's DESIGN NOTES ask for in place of inheritance.
type streamConn struct {
	id        string
	direction Direction
	local     EndPoint
	remote    EndPoint
	conn      net.Conn

	buf *StreamBuffer

	writeMu sync.Mutex
	lastTx  atomic.Int64 // unix nano

	closeOnce sync.Once
	closeErr  error
	lingerOff bool

	writeFrame func(net.Conn, []byte) error
	readFrame  func(net.Conn, []byte) (int, error)
}

func newConnectionID() string {
	return uuid.NewString()
}

func rawWrite(c net.Conn, b []byte) error {
	n, err := c.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	return nil
}

func rawRead(c net.Conn, b []byte) (int, error) {
	return c.Read(b)
}

func newStreamConn(conn net.Conn, direction Direction, remote EndPoint, lingerOff bool) *streamConn {
	sc := &streamConn{
		id:         newConnectionID(),
		direction:  direction,
		conn:       conn,
		remote:     remote,
		buf:        NewStreamBuffer(),
		lingerOff:  lingerOff,
		writeFrame: rawWrite,
		readFrame:  rawRead,
	}
	sc.touch()
	return sc
}

func (c *streamConn) ID() string               { return c.id }
func (c *streamConn) RemoteEndPoint() EndPoint { return c.remote }
func (c *streamConn) LocalAddr() net.Addr      { return c.conn.LocalAddr() }
func (c *streamConn) Direction() Direction     { return c.direction }

func (c *streamConn) LastTransmissionAt() time.Time {
	return time.Unix(0, c.lastTx.Load())
}

func (c *streamConn) touch() {
	c.lastTx.Store(time.Now().UnixNano())
}

func (c *streamConn) Write(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.writeFrame(c.conn, b); err != nil {
		return err
	}
	c.touch()
	return nil
}

// read is called from the connection's own receive loop only (single
// writer, per spec.md §5) so it does not need writeMu.
func (c *streamConn) read(b []byte) (int, error) {
	n, err := c.readFrame(c.conn, b)
	if n > 0 {
		c.touch()
	}
	return n, err
}

func (c *streamConn) Close() error {
	c.closeOnce.Do(func() {
		raw := c.conn
		if tlsConn, ok := raw.(*tls.Conn); ok {
			raw = tlsConn.NetConn()
		}
		if tc, ok := raw.(*net.TCPConn); ok && c.lingerOff {
			// Linger(0) makes Close send a TCP RST instead of FIN-ACK,
			// avoiding TIME_WAIT on platforms that honour it (spec.md
			// §4.4; documented non-functional on Linux in spec.md §9).
			_ = tc.SetLinger(0)
		}
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
