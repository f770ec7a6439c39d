// Package transporttest provides net.Conn test doubles for exercising
// sipnet's channel implementations without a real socket.
package transporttest

import (
	"io"
	"net"
)

// PipeConn wraps a net.Conn (typically one end of net.Pipe) and overrides
// its local/remote address reporting, embedding net.Conn and only
// overriding the LocalAddr and RemoteAddr methods.
type PipeConn struct {
	net.Conn
	LAddr net.TCPAddr
	RAddr net.TCPAddr
}

func (c *PipeConn) LocalAddr() net.Addr  { return &c.LAddr }
func (c *PipeConn) RemoteAddr() net.Addr { return &c.RAddr }

// NewLoopback returns two PipeConns wired to each other via net.Pipe, so
// writes on one are readable from the other — useful for driving a
// streamConn's read loop from a test without a real listener. client is
// addressed as clientAddr talking to serverAddr and vice versa.
func NewLoopback(clientAddr, serverAddr net.TCPAddr) (client, server *PipeConn) {
	c, s := net.Pipe()
	client = &PipeConn{Conn: c, LAddr: clientAddr, RAddr: serverAddr}
	server = &PipeConn{Conn: s, LAddr: serverAddr, RAddr: clientAddr}
	return client, server
}

// Listener is an in-memory net.Listener test double: Accept blocks on a
// channel the test feeds directly.
type Listener struct {
	LAddr net.TCPAddr
	Conns chan net.Conn
}

func NewListener(addr net.TCPAddr) *Listener {
	return &Listener{LAddr: addr, Conns: make(chan net.Conn, 8)}
}

func (l *Listener) Accept() (net.Conn, error) {
	c, ok := <-l.Conns
	if !ok {
		return nil, io.EOF
	}
	return c, nil
}

func (l *Listener) Close() error {
	return nil
}

func (l *Listener) Addr() net.Addr {
	return &l.LAddr
}
