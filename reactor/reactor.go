// Package reactor implements the event multiplexer: a single epoll-driven
// goroutine that accepts connections, dispatches readiness events to a fixed
// worker pool, and periodically sweeps idle connections (spec.md §4.3,
// §4.4, §4.5).
package reactor

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"protorpc/connregistry"
	"protorpc/transport"
	"protorpc/workerpool"
)

// Callbacks lets the caller (rpcserver) own the connection state machine
// without the reactor knowing anything about the wire protocol.
type Callbacks struct {
	// OnAccept runs once, synchronously in the acceptor goroutine, right
	// after a connection is registered and armed for read.
	OnAccept func(rec *connregistry.Record)

	// OnReadable runs in a worker goroutine when epoll reports rec's
	// descriptor readable. It returns the epoll mask to re-arm the
	// descriptor with, or a non-nil error to tear the connection down.
	OnReadable func(rec *connregistry.Record) (rearm uint32, err error)

	// OnClose runs once a connection is torn down, for any reason:
	// protocol error, idle timeout, or shutdown. err is nil on a clean
	// shutdown-driven close.
	OnClose func(rec *connregistry.Record, err error)
}

// Config controls reactor sizing and timing. Zero values are replaced by
// the defaults noted below.
type Config struct {
	Threads        int           // worker pool size. Default 4.
	MaxEpollEvents int           // epoll_wait batch size. Default 64.
	MaxConnections int           // admission ceiling. Default 4096.
	IdleTimeout    time.Duration // per-connection idle ceiling. Default 60s.
	SweepInterval  time.Duration // minimum gap between idle sweeps. Default 5s.
	WaitTimeoutMs  int           // epoll_wait timeout. Default 100ms.
}

func (c *Config) setDefaults() {
	if c.Threads <= 0 {
		c.Threads = 4
	}
	if c.MaxEpollEvents <= 0 {
		c.MaxEpollEvents = 64
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 4096
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
	if c.WaitTimeoutMs <= 0 {
		c.WaitTimeoutMs = 100
	}
}

// Reactor owns the listener, the epoll set, the connection registry, and
// the worker pool that runs every dispatched readiness callback.
type Reactor struct {
	cfg      Config
	listener *transport.Listener
	epoll    *transport.Epoll
	registry *connregistry.Registry
	pool     *workerpool.Pool
	cb       Callbacks
	log      *zap.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New builds a Reactor around an already-listening socket. Call Start to
// begin serving.
func New(cfg Config, listener *transport.Listener, registry *connregistry.Registry, cb Callbacks, log *zap.Logger) (*Reactor, error) {
	cfg.setDefaults()

	epoll, err := transport.NewEpoll()
	if err != nil {
		return nil, err
	}
	if err := epoll.Add(listener.Fd(), transport.ListenerEvent); err != nil {
		epoll.Close()
		return nil, err
	}

	return &Reactor{
		cfg:      cfg,
		listener: listener,
		epoll:    epoll,
		registry: registry,
		pool:     workerpool.New(cfg.Threads),
		cb:       cb,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start launches the acceptor/dispatch goroutine. It returns immediately.
func (r *Reactor) Start() {
	go r.loop()
}

// Stop idempotently shuts the reactor down: it stops accepting and
// dispatching, closes every tracked connection, drains the worker pool,
// and closes the epoll set and listener. It returns the aggregate of every
// independent close error encountered (nil if all of them succeeded).
func (r *Reactor) Stop() error {
	var stopErr error
	r.stopOnce.Do(func() {
		close(r.stopCh)
		<-r.doneCh

		var errs error

		// Close every tracked connection's fd before joining the worker
		// pool below. A worker parked in a deadline-less wire.Recv on a
		// silent peer (spec.md §9's open question) only unblocks once its
		// fd is pulled out from under it — the idle sweep that would
		// otherwise reclaim it stopped running when the acceptor loop
		// above exited, so pool.Wait() would otherwise hang forever on
		// that one stuck worker.
		for _, rec := range r.registry.All() {
			if erased := r.registry.Erase(rec.Fd); erased != nil {
				errs = multierr.Append(errs, r.epoll.Del(rec.Fd))
				errs = multierr.Append(errs, rec.Conn.Close())
				if r.cb.OnClose != nil {
					r.cb.OnClose(rec, nil)
				}
			}
		}

		r.pool.Stop()
		r.pool.Wait()

		errs = multierr.Append(errs, r.epoll.Close())
		errs = multierr.Append(errs, r.listener.Close())
		stopErr = errs
	})
	return stopErr
}

func (r *Reactor) loop() {
	defer close(r.doneCh)

	events := make([]unix.EpollEvent, r.cfg.MaxEpollEvents)
	lastSweep := time.Now()

	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		ready, err := r.epoll.Wait(events, r.cfg.WaitTimeoutMs)
		if err != nil {
			if r.log != nil {
				r.log.Error("epoll_wait failed", zap.Error(err))
			}
			continue
		}

		for _, ev := range ready {
			fd := int(ev.Fd)
			if fd == r.listener.Fd() {
				r.acceptPending()
				continue
			}
			r.dispatch(fd)
		}

		if time.Since(lastSweep) >= r.cfg.SweepInterval {
			r.sweep()
			lastSweep = time.Now()
		}
	}
}

// acceptPending drains every connection currently queued on the listener.
func (r *Reactor) acceptPending() {
	for {
		conn, peer, err := r.listener.Accept()
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return
			}
			if r.log != nil {
				r.log.Error("accept4 failed", zap.Error(err))
			}
			return
		}

		if r.registry.Len() >= r.cfg.MaxConnections {
			if r.log != nil {
				r.log.Warn("rejecting connection, at capacity", zap.String("peer", peer), zap.Int("limit", r.cfg.MaxConnections))
			}
			conn.Close()
			continue
		}

		rec := r.registry.Insert(conn.Fd(), conn)
		if err := r.epoll.Add(conn.Fd(), transport.ReadOneshot); err != nil {
			r.registry.Erase(conn.Fd())
			conn.Close()
			if r.log != nil {
				r.log.Error("epoll_ctl(ADD) failed for accepted connection", zap.Error(err))
			}
			continue
		}

		if r.cb.OnAccept != nil {
			r.cb.OnAccept(rec)
		}
	}
}

// dispatch hands a ready descriptor to the worker pool. The actual I/O and
// any re-arming happen off the reactor goroutine.
func (r *Reactor) dispatch(fd int) {
	rec := r.registry.Get(fd)
	if rec == nil {
		return
	}

	r.pool.Submit(func() {
		rearm, err := r.cb.OnReadable(rec)
		if err != nil {
			r.teardown(rec, err)
			return
		}
		if err := r.epoll.Mod(fd, rearm); err != nil {
			r.teardown(rec, err)
		}
	})
}

// sweep tears down every connection idle for longer than IdleTimeout.
func (r *Reactor) sweep() {
	cutoff := time.Now().Add(-r.cfg.IdleTimeout)
	for _, rec := range r.registry.IdleSince(cutoff) {
		r.teardown(rec, transport.ErrTimeout)
	}
}

// teardown is the single path by which a connection leaves the registry
// and epoll set outside of Stop. Erase is the linearization point: if two
// callers race (a worker's error path and a concurrent idle sweep), only
// one observes a non-nil record back and performs the actual close.
func (r *Reactor) teardown(rec *connregistry.Record, cause error) {
	erased := r.registry.Erase(rec.Fd)
	if erased == nil {
		return
	}
	r.epoll.Del(rec.Fd)
	rec.Conn.Close()
	if r.cb.OnClose != nil {
		r.cb.OnClose(rec, cause)
	}
}
