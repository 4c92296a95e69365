package transport

import (
	"sync"
	"time"
)

// connectionPool is a TTL-evicting pool of outbound/inbound
// connection-oriented sockets, keyed by remote address. Simplified
// from a request/response channel-actor design to the mutex+map
// pattern used by every other index in this module (registrar, dialog,
// call, subscription): same Put/Get/Drop/TTL behavior, one lock
// instead of a serving goroutine per pool.
type connectionPool struct {
	mu    sync.Mutex
	conns map[string]*pooledConn
}

type pooledConn struct {
	conn  Connection
	timer *time.Timer
}

func newConnectionPool() *connectionPool {
	return &connectionPool{conns: make(map[string]*pooledConn)}
}

// Put indexes conn under key, arming a TTL eviction timer that closes
// and drops it ttl after this Put; Get does not extend the timer.
func (p *connectionPool) Put(key string, conn Connection, ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.conns[key]; ok {
		existing.timer.Stop()
	}
	pc := &pooledConn{conn: conn}
	pc.timer = time.AfterFunc(ttl, func() { p.drop(key, conn) })
	p.conns[key] = pc
}

// Get returns the pooled connection for key, if any.
func (p *connectionPool) Get(key string) (Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pc, ok := p.conns[key]
	if !ok {
		return nil, false
	}
	return pc.conn, true
}

// Drop removes and closes the connection at key, if present.
func (p *connectionPool) Drop(key string) {
	p.mu.Lock()
	pc, ok := p.conns[key]
	if ok {
		delete(p.conns, key)
	}
	p.mu.Unlock()
	if ok {
		pc.timer.Stop()
		_ = pc.conn.Close()
	}
}

// drop is the TTL timer callback: it only removes the entry if it
// still points at the same connection (a newer Put for the same key
// would otherwise be evicted by a stale timer).
func (p *connectionPool) drop(key string, conn Connection) {
	p.mu.Lock()
	pc, ok := p.conns[key]
	if ok && pc.conn == conn {
		delete(p.conns, key)
	} else {
		ok = false
	}
	p.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

// All returns every pooled connection, for shutdown draining.
func (p *connectionPool) All() []Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Connection, 0, len(p.conns))
	for _, pc := range p.conns {
		out = append(out, pc.conn)
	}
	return out
}

// Len reports the number of pooled connections.
func (p *connectionPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}
