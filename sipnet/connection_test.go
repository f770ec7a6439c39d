package sipnet

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipsorcery-org/sipsorcery-sub011/sipnet/transporttest"
)

func TestStreamConnWriteAndRead(t *testing.T) {
	client, server := transporttest.NewLoopback(
		net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 15060},
		net.TCPAddr{IP: net.ParseIP("192.0.2.1"), Port: 5060},
	)

	remote := EndPoint{Protocol: TCP, IP: net.ParseIP("192.0.2.1"), Port: 5060}
	sc := newStreamConn(client, Initiated, remote, false)
	defer sc.Close()

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, err := server.Read(buf)
		require.NoError(t, err)
		done <- buf[:n]
	}()

	require.NoError(t, sc.Write([]byte("hello")))

	select {
	case got := <-done:
		assert.Equal(t, "hello", string(got))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for write to arrive")
	}
}

func TestStreamConnTouchUpdatesLastTransmission(t *testing.T) {
	client, _ := transporttest.NewLoopback(net.TCPAddr{}, net.TCPAddr{})
	sc := newStreamConn(client, Accepted, EndPoint{}, false)
	defer sc.Close()

	first := sc.LastTransmissionAt()
	time.Sleep(time.Millisecond)
	sc.touch()
	assert.True(t, sc.LastTransmissionAt().After(first))
}

func TestStreamConnCloseIsIdempotent(t *testing.T) {
	client, _ := transporttest.NewLoopback(net.TCPAddr{}, net.TCPAddr{})
	sc := newStreamConn(client, Accepted, EndPoint{}, false)
	assert.NoError(t, sc.Close())
	assert.NoError(t, sc.Close())
}

func TestStreamConnDirectionString(t *testing.T) {
	assert.Equal(t, "accepted", Accepted.String())
	assert.Equal(t, "initiated", Initiated.String())
}
