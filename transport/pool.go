// Package transport also provides a basic connection pool (ConnPool).
//
// The protocol is strictly one-in-flight per connection (no pipelining), so
// a caller issuing concurrent calls borrows a whole *Conn per call rather
// than multiplexing one socket — this pool is the borrow/return structure
// that makes that affordable.
//
// Pool design: uses a buffered channel as a natural FIFO queue.
// Buffered channels are concurrency-safe, and blocking on empty is built-in.
package transport

import (
	"fmt"
	"sync"
)

// ConnPool manages a pool of reusable one-shot connections to a single
// address.
type ConnPool struct {
	mu       sync.Mutex
	conns    chan *PoolConn       // Buffered channel as pool — FIFO, goroutine-safe
	maxConns int                  // Maximum number of connections
	curConns int                  // Currently created connections (may be < maxConns)
	factory  func() (*Conn, error) // Connection factory function
}

// PoolConn wraps a *Conn with pool metadata.
type PoolConn struct {
	*Conn
	pool     *ConnPool
	unusable bool // set by the caller once the connection has failed
}

// Unusable marks the connection so Put closes and discards it instead of
// returning it to the pool. Callers set this after any transport or wire
// error — any failure other than a clean NACK or a server-reported error
// means the socket must not be reused.
func (c *PoolConn) Unusable() { c.unusable = true }

// NewConnPool creates a connection pool with the given max size.
// Connections are created lazily — the pool starts empty and grows on demand.
func NewConnPool(maxConns int, factory func() (*Conn, error)) *ConnPool {
	return &ConnPool{
		conns:    make(chan *PoolConn, maxConns),
		maxConns: maxConns,
		factory:  factory,
	}
}

// Get retrieves a connection from the pool.
// Strategy:
//  1. Try to get an existing connection from the channel (non-blocking select)
//  2. If pool is empty but under limit, create a new connection
//  3. If pool is empty and at limit, block until one is returned
func (p *ConnPool) Get() (*PoolConn, error) {
	select {
	case c := <-p.conns:
		return c, nil
	default:
		p.mu.Lock()
		if p.curConns < p.maxConns {
			c, err := p.createNew()
			p.mu.Unlock()
			return c, err
		}
		p.mu.Unlock()
		return <-p.conns, nil
	}
}

// Put returns a connection to the pool.
// If the connection is marked unusable (error occurred), it's closed and discarded.
func (p *ConnPool) Put(c *PoolConn) {
	if c.unusable {
		c.Close()
		p.mu.Lock()
		p.curConns--
		p.mu.Unlock()
		return
	}
	p.conns <- c
}

// Close shuts down the pool and closes all idle connections. Connections
// currently checked out via Get are not tracked here and must be closed by
// their holder.
func (p *ConnPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	close(p.conns)
	for c := range p.conns {
		c.Close()
		p.curConns--
	}
	return nil
}

// createNew dials a new connection via the factory function.
// Protected by mutex to prevent exceeding maxConns under concurrent access.
func (p *ConnPool) createNew() (*PoolConn, error) {
	if p.curConns >= p.maxConns {
		return nil, fmt.Errorf("protorpc/transport: connection pool exhausted")
	}

	conn, err := p.factory()
	if err != nil {
		return nil, err
	}

	p.curConns++
	return &PoolConn{
		Conn: conn,
		pool: p,
	}, nil
}
