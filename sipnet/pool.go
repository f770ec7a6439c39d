package sipnet

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// connectionPool is a stream-channel's connection_id -> Connection mapping
// (spec.md §3). A secondary lookup by remote end-point is a linear scan,
// which spec.md explicitly allows given pool size <= MaxStreamConnections.
//
// Concurrent dials to the same destination are collapsed with singleflight,
// grounded in sip/transport_connection_pool.go's addSingleflight — this
// keeps "hint set -> reuse -> may_connect gate -> dial" (spec.md §4.4) from
// racing two dials to the same peer when two sends land concurrently.
type connectionPool struct {
	mu sync.RWMutex
	m  map[string]*streamConn
	sf singleflight.Group
}

func newConnectionPool() *connectionPool {
	return &connectionPool{
		m: make(map[string]*streamConn),
	}
}

func (p *connectionPool) Add(c *streamConn) {
	p.mu.Lock()
	p.m[c.id] = c
	p.mu.Unlock()
}

func (p *connectionPool) Get(id string) *streamConn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.m[id]
}

// GetByEndpoint scans the pool for a live connection whose remote end-point
// matches ep under IsSocketEqual. Linear scan is acceptable per spec.md §3.
func (p *connectionPool) GetByEndpoint(ep EndPoint) *streamConn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.m {
		if IsSocketEqual(c.remote, ep) {
			return c
		}
	}
	return nil
}

func (p *connectionPool) Delete(id string) {
	p.mu.Lock()
	delete(p.m, id)
	p.mu.Unlock()
}

// CloseAndDelete removes id from the pool and closes the connection. Safe to
// call more than once for the same id.
func (p *connectionPool) CloseAndDelete(id string) error {
	p.mu.Lock()
	c, ok := p.m[id]
	delete(p.m, id)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Close()
}

// Len reports the current pool size, surfaced as a gauge via
// Metrics.setStreamConnsOpen. MaxStreamConnections itself is not actively
// enforced here: spec.md §8 leaves the OS accept queue to absorb any excess
// beyond it.
func (p *connectionPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.m)
}

// Range iterates a snapshot of the pool's connections; used by the pruner
// (C8) to find idle entries without holding the pool lock across Close().
func (p *connectionPool) Range(f func(*streamConn)) {
	p.mu.RLock()
	snapshot := make([]*streamConn, 0, len(p.m))
	for _, c := range p.m {
		snapshot = append(snapshot, c)
	}
	p.mu.RUnlock()

	for _, c := range snapshot {
		f(c)
	}
}

// Clear closes and removes every pooled connection; used by Channel.Close.
func (p *connectionPool) Clear() {
	p.mu.Lock()
	conns := p.m
	p.m = make(map[string]*streamConn)
	p.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// dialSingleflight collapses concurrent dials to the same key into one
// in-flight attempt; every caller gets the same resulting connection.
func (p *connectionPool) dialSingleflight(key string, do func() (*streamConn, error)) (*streamConn, error) {
	v, err, _ := p.sf.Do(key, func() (interface{}, error) {
		return do()
	})
	if err != nil {
		return nil, err
	}
	return v.(*streamConn), nil
}
