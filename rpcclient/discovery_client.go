package rpcclient

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"protorpc/codec"
	"protorpc/discovery"
	"protorpc/loadbalance"
	"protorpc/transport"
)

// DiscoveringClient is the client-side counterpart to
// rpcserver.Server.UseDiscovery: it resolves a service name through a
// discovery.ServiceRegistry, picks an instance via a loadbalance.Balancer,
// and keeps a transport.ConnPool of reusable one-shot connections per
// resolved address rather than dialing fresh on every call.
type DiscoveringClient struct {
	registry    discovery.ServiceRegistry
	balancer    loadbalance.Balancer
	serviceName string
	network     string
	dialTimeout time.Duration
	poolSize    int

	mu    sync.Mutex
	pools map[string]*transport.ConnPool
}

// NewDiscoveringClient builds a client that, on every call, discovers the
// current instance list for serviceName over registry, narrows it to one
// address with balancer, and dials through network ("tcp", "unix", or
// "unix-abstract"). poolSize bounds how many connections are kept open per
// resolved address at once.
func NewDiscoveringClient(registry discovery.ServiceRegistry, balancer loadbalance.Balancer, serviceName, network string, poolSize int) *DiscoveringClient {
	if poolSize <= 0 {
		poolSize = 4
	}
	return &DiscoveringClient{
		registry:    registry,
		balancer:    balancer,
		serviceName: serviceName,
		network:     network,
		dialTimeout: 5 * time.Second,
		poolSize:    poolSize,
		pools:       make(map[string]*transport.ConnPool),
	}
}

// poolFor returns the ConnPool for addr, creating one lazily on first use.
func (dc *DiscoveringClient) poolFor(addr string) *transport.ConnPool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if p, ok := dc.pools[addr]; ok {
		return p
	}
	p := transport.NewConnPool(dc.poolSize, func() (*transport.Conn, error) {
		return dial(dc.network, addr, time.Now().Add(dc.dialTimeout))
	})
	dc.pools[addr] = p
	return p
}

// Close closes every pooled connection to every address this client has
// ever resolved, aggregating whatever independent close errors occur.
func (dc *DiscoveringClient) Close() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	var errs error
	for _, p := range dc.pools {
		errs = multierr.Append(errs, p.Close())
	}
	return errs
}

// DiscoverAndCall resolves dc.serviceName, picks an instance, borrows a
// pooled connection to it, and runs the call sequence. The connection is
// returned to the pool afterward — marked unusable only when the failure
// left the socket in a non-reusable state (anything but a NACK or a
// server-reported error, per spec.md §4.8).
//
// Like Call, DiscoverAndCall is a package-level function: Go methods
// cannot carry their own type parameters.
func DiscoverAndCall[Req, Resp any](dc *DiscoveringClient, reqName string, mc codec.MessageCodec, req *Req, md map[string]string, timeoutMs int) (*Resp, error) {
	instances, err := dc.registry.Discover(dc.serviceName)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: discover %q: %w", dc.serviceName, err)
	}
	inst, err := dc.balancer.Pick(instances)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: pick instance for %q: %w", dc.serviceName, err)
	}

	pool := dc.poolFor(inst.Addr)
	pc, err := pool.Get()
	if err != nil {
		return nil, fmt.Errorf("rpcclient: get pooled connection to %s: %w", inst.Addr, err)
	}

	resp, err := callOnConn[Req, Resp](pc.Conn, reqName, mc, req, md, timeoutMs)
	if err != nil && !isReusableErr(err) {
		pc.Unusable()
	}
	pool.Put(pc)
	return resp, err
}
