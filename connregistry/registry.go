// Package connregistry implements the server's single source of truth for
// connection liveness: a concurrent descriptor → connection-record table
// with last-activity tracking and idle-sweep candidate collection
// (spec.md §4.5).
package connregistry

import (
	"sync"
	"sync/atomic"
	"time"

	"protorpc/transport"
)

// Record is a connection's shared state. The registry, the acceptor, and
// any worker holding a reference may all read it; only the worker that owns
// the descriptor at a given moment (guaranteed exclusive by the reactor's
// one-shot arming) may mutate State.
type Record struct {
	ID   int64
	Fd   int
	Conn *transport.Conn

	lastActivity atomic.Int64 // UnixNano

	// State is the owner-defined per-connection payload — the server
	// package stores its state-machine phase, bound handler, and pending
	// buffers here. The registry itself never looks inside it.
	State any
}

// Touch records activity now, resetting the idle-sweep clock.
func (r *Record) Touch() {
	r.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the last time Touch was called.
func (r *Record) LastActivity() time.Time {
	return time.Unix(0, r.lastActivity.Load())
}

// Registry is the concurrent descriptor → *Record table.
type Registry struct {
	mu     sync.Mutex
	byFd   map[int]*Record
	nextID atomic.Int64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byFd: make(map[int]*Record)}
}

// Len returns the current number of tracked connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byFd)
}

// Insert allocates a monotonic connection ID, creates a Record for fd/conn,
// and adds it to the table. The caller is expected to have already decided
// admission (spec.md's maxConnections check happens before Insert).
func (r *Registry) Insert(fd int, conn *transport.Conn) *Record {
	rec := &Record{
		ID:   r.nextID.Add(1),
		Fd:   fd,
		Conn: conn,
	}
	rec.Touch()

	r.mu.Lock()
	r.byFd[fd] = rec
	r.mu.Unlock()
	return rec
}

// Get returns the record for fd, or nil if it is not (or no longer) tracked.
func (r *Registry) Get(fd int) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byFd[fd]
}

// Erase removes fd from the table and returns its record, or nil if it was
// already gone. Erase is the linearization point for teardown: only the
// caller that receives a non-nil Record here is allowed to close the
// underlying descriptor, which keeps concurrent teardown attempts from the
// worker, the idle sweeper, and the shutdown path idempotent.
func (r *Registry) Erase(fd int) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byFd[fd]
	if !ok {
		return nil
	}
	delete(r.byFd, fd)
	return rec
}

// IdleSince collects every record whose last activity predates cutoff.
// It releases the lock before returning so the caller can tear each one
// down (close, erase) without holding the registry mutex during I/O.
func (r *Registry) IdleSince(cutoff time.Time) []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idle []*Record
	for _, rec := range r.byFd {
		if rec.LastActivity().Before(cutoff) {
			idle = append(idle, rec)
		}
	}
	return idle
}

// All returns a snapshot of every currently tracked record, used by
// shutdown to close every open connection.
func (r *Registry) All() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]*Record, 0, len(r.byFd))
	for _, rec := range r.byFd {
		all = append(all, rec)
	}
	return all
}
