// Package rpcserver implements the server half of the protocol: the
// per-connection READ_NAME → SEND_ACK|SEND_NACK → READ_REQ → SEND_RESP
// state machine (spec.md §4.6), wired onto the reactor's epoll-driven
// dispatch and the connection registry's liveness tracking.
package rpcserver

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"protorpc/connregistry"
	"protorpc/reactor"
	"protorpc/transport"
	"protorpc/wire"
)

// Discovery is the narrow surface rpcserver needs from a service-discovery
// backend. protorpc/discovery's Sidecar (wrapping its etcd-backed registry)
// satisfies it structurally — rpcserver never imports that package, keeping discovery
// strictly an optional sidecar to the core engine (spec.md's serialization
// library is out of scope; this mirrors that same boundary for discovery).
type Discovery interface {
	Register(serviceName, addr string, ttlSeconds int) error
	Deregister(serviceName, addr string) error
}

// Config enumerates server tuning knobs (spec.md §6 "Server configuration").
type Config struct {
	ThreadsCount   int // required, >= 1: worker pool size.
	MaxEpollEvents int // default 64.
	MaxConnections int // default 4096.
	IdleTimeoutSec int // default 60.
	Backlog        int // default 512.
	Verbose        bool
}

func (c *Config) setDefaults() {
	if c.MaxEpollEvents <= 0 {
		c.MaxEpollEvents = 64
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 4096
	}
	if c.IdleTimeoutSec <= 0 {
		c.IdleTimeoutSec = 60
	}
	if c.Backlog <= 0 {
		c.Backlog = transport.DefaultBacklog
	}
}

// Server owns the handler registry, the connection registry, and the
// reactor that drives both.
type Server struct {
	cfg      Config
	handlers *Registry
	conns    *connregistry.Registry
	log      *zap.Logger

	reactor  *reactor.Reactor
	listener *transport.Listener

	discovery     Discovery
	advertiseAddr string
	serviceName   string

	middlewares []Middleware
}

// Middleware wraps a HandlerFunc with cross-cutting behavior (logging, rate
// limiting) around the single bound handler a request resolved to — the
// middleware layer never sees REQ_NAME lookup or framing. protorpc/middleware
// builds concrete Middleware values against this type.
type Middleware func(next HandlerFunc) HandlerFunc

// Use appends mw to the server's middleware chain. Middlewares apply in the
// order they are added: the first one added runs outermost.
func (s *Server) Use(mw Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

func (s *Server) applyMiddlewares(h HandlerFunc) HandlerFunc {
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		h = s.middlewares[i](h)
	}
	return h
}

// NewServer creates a server with an empty handler registry. Bind handlers
// onto it with the package-level Bind function before calling Start.
func NewServer(cfg Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		handlers: NewRegistry(),
		conns:    connregistry.New(),
		log:      log,
	}
}

// Handlers returns the registry Bind calls should target.
func (s *Server) Handlers() *Registry { return s.handlers }

// Listener returns the server's listening socket, useful for reading back
// an ephemeral port chosen with Start("tcp", "0").
func (s *Server) Listener() *transport.Listener { return s.listener }

// UseDiscovery registers the server with an external discovery backend
// under serviceName/advertiseAddr once Start succeeds, and deregisters it
// on Stop. advertiseAddr is the routable address published to discovery,
// distinct from the listen address Start is given.
func (s *Server) UseDiscovery(d Discovery, serviceName, advertiseAddr string) {
	s.discovery = d
	s.serviceName = serviceName
	s.advertiseAddr = advertiseAddr
}

// Start listens on network ("tcp", "unix", or "unix-abstract") at addr (a
// TCP port number, a filesystem path, or an abstract-namespace name,
// respectively), then launches the reactor. It
// returns once the listener and epoll set are ready; the reactor continues
// accepting and dispatching on its own goroutine until Stop is called.
func (s *Server) Start(network, addr string) error {
	if s.cfg.ThreadsCount < 1 {
		return fmt.Errorf("rpcserver: ThreadsCount must be >= 1")
	}
	s.cfg.setDefaults()
	s.handlers.Freeze()

	listener, err := s.listen(network, addr)
	if err != nil {
		return err
	}
	s.listener = listener

	cb := reactor.Callbacks{
		OnAccept:   s.onAccept,
		OnReadable: s.onReadable,
		OnClose:    s.onClose,
	}
	re, err := reactor.New(reactor.Config{
		Threads:        s.cfg.ThreadsCount,
		MaxEpollEvents: s.cfg.MaxEpollEvents,
		MaxConnections: s.cfg.MaxConnections,
		IdleTimeout:    time.Duration(s.cfg.IdleTimeoutSec) * time.Second,
	}, listener, s.conns, cb, s.log)
	if err != nil {
		listener.Close()
		return err
	}
	s.reactor = re
	s.reactor.Start()

	if s.discovery != nil {
		if err := s.discovery.Register(s.serviceName, s.advertiseAddr, 10); err != nil {
			s.log.Warn("discovery registration failed", zap.Error(err))
		}
	}

	return nil
}

func (s *Server) listen(network, addr string) (*transport.Listener, error) {
	switch network {
	case "tcp":
		port, err := parsePort(addr)
		if err != nil {
			return nil, err
		}
		return transport.ListenTCP(port, s.cfg.Backlog)
	case "unix":
		return transport.ListenUnix(addr, s.cfg.Backlog)
	case "unix-abstract":
		return transport.ListenUnixAbstract(addr, s.cfg.Backlog)
	default:
		return nil, fmt.Errorf("rpcserver: unknown network %q", network)
	}
}

func parsePort(addr string) (int, error) {
	var port int
	if _, err := fmt.Sscanf(addr, "%d", &port); err != nil {
		return 0, fmt.Errorf("rpcserver: invalid TCP port %q: %w", addr, err)
	}
	return port, nil
}

// Stop idempotently tears the reactor, every open connection, and the
// listener down, and deregisters from discovery if configured.
func (s *Server) Stop() {
	if s.discovery != nil {
		if err := s.discovery.Deregister(s.serviceName, s.advertiseAddr); err != nil {
			s.log.Warn("discovery deregistration failed", zap.Error(err))
		}
	}
	if s.reactor != nil {
		if err := s.reactor.Stop(); err != nil {
			s.log.Warn("reactor shutdown reported errors", zap.Error(err))
		}
	}
}

func (s *Server) onAccept(rec *connregistry.Record) {
	if s.cfg.Verbose {
		s.log.Info("accepted connection", zap.Int64("connId", rec.ID), zap.Int("fd", rec.Fd))
	}
}

func (s *Server) onClose(rec *connregistry.Record, err error) {
	if s.cfg.Verbose || err != nil {
		s.log.Info("connection closed", zap.Int64("connId", rec.ID), zap.Error(err))
	}
}

// onReadable runs one full READ_NAME…SEND_RESP cycle for rec, then re-arms
// for the next request. It blocks forever on each step (spec.md §9 open
// question: kept rather than introducing per-read deadlines, since a stuck
// peer's connection is eventually reclaimed by the idle sweep, not by this
// worker unblocking on its own).
func (s *Server) onReadable(rec *connregistry.Record) (uint32, error) {
	conn := rec.Conn
	var blockForever time.Time

	nameBytes, err := wire.RecvData(conn, wire.REQ_NAME, blockForever)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", phaseReadName, err)
	}
	rec.Touch()

	handler, notFoundMsg := s.handlers.lookup(string(nameBytes))
	if handler == nil {
		if err := wire.SendCode(conn, wire.NACK, blockForever); err != nil {
			return 0, fmt.Errorf("%s: %w", phaseSendNack, err)
		}
		if err := wire.SendData(conn, wire.ERR, []byte(notFoundMsg), blockForever); err != nil {
			return 0, fmt.Errorf("%s: %w", phaseSendNack, err)
		}
		return transport.ReadOneshot, nil
	}

	if err := wire.SendCode(conn, wire.ACK, blockForever); err != nil {
		return 0, fmt.Errorf("%s: %w", phaseSendAck, err)
	}

	reqBytes, err := wire.RecvData(conn, wire.REQ, blockForever)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", phaseReadReq, err)
	}
	md, err := wire.RecvMetadata(conn, blockForever)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", phaseReadReq, err)
	}
	rec.Touch()

	ctx := newContext(md)
	respBytes := s.applyMiddlewares(handler)(ctx, reqBytes)

	if err := wire.SendData(conn, wire.RESP, respBytes, blockForever); err != nil {
		return 0, fmt.Errorf("%s: %w", phaseSendResp, err)
	}
	if err := wire.SendData(conn, wire.ERR, []byte(ctx.Err()), blockForever); err != nil {
		return 0, fmt.Errorf("%s: %w", phaseSendResp, err)
	}
	rec.Touch()

	return transport.ReadOneshot, nil
}
