package sipnet

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipsorcery-org/sipsorcery-sub011/sipnet/transporttest"
)

func newTestStreamConn(remote EndPoint) *streamConn {
	client, _ := transporttest.NewLoopback(net.TCPAddr{}, net.TCPAddr{})
	return newStreamConn(client, Initiated, remote, false)
}

func TestConnectionPoolAddGetDelete(t *testing.T) {
	p := newConnectionPool()
	remote := EndPoint{Protocol: TCP, IP: net.ParseIP("192.0.2.9"), Port: 5060}
	sc := newTestStreamConn(remote)

	p.Add(sc)
	assert.Equal(t, sc, p.Get(sc.id))
	assert.Equal(t, sc, p.GetByEndpoint(remote))
	assert.Equal(t, 1, p.Len())

	p.Delete(sc.id)
	assert.Nil(t, p.Get(sc.id))
	assert.Equal(t, 0, p.Len())
}

func TestConnectionPoolGetByEndpointMiss(t *testing.T) {
	p := newConnectionPool()
	assert.Nil(t, p.GetByEndpoint(EndPoint{Port: 1}))
}

func TestConnectionPoolCloseAndDelete(t *testing.T) {
	p := newConnectionPool()
	sc := newTestStreamConn(EndPoint{Port: 5060})
	p.Add(sc)

	require.NoError(t, p.CloseAndDelete(sc.id))
	assert.Nil(t, p.Get(sc.id))
	// closing an id no longer present is a no-op, not an error.
	require.NoError(t, p.CloseAndDelete(sc.id))
}

func TestConnectionPoolRangeSnapshot(t *testing.T) {
	p := newConnectionPool()
	for i := 0; i < 3; i++ {
		p.Add(newTestStreamConn(EndPoint{Port: i}))
	}

	var seen int
	p.Range(func(c *streamConn) { seen++ })
	assert.Equal(t, 3, seen)
}

func TestConnectionPoolClear(t *testing.T) {
	p := newConnectionPool()
	sc := newTestStreamConn(EndPoint{Port: 5060})
	p.Add(sc)
	p.Clear()
	assert.Equal(t, 0, p.Len())
}

func TestConnectionPoolDialSingleflightCollapsesConcurrentDials(t *testing.T) {
	p := newConnectionPool()
	var calls atomic.Int64

	var wg sync.WaitGroup
	results := make([]*streamConn, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sc, err := p.dialSingleflight("peer", func() (*streamConn, error) {
				calls.Add(1)
				return newTestStreamConn(EndPoint{Port: 5060}), nil
			})
			require.NoError(t, err)
			results[i] = sc
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}
