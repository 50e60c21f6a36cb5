// Package discovery is an optional sidecar for publishing and finding
// server instances in a distributed deployment. It sits outside the RPC
// core (wire/transport/reactor/rpcserver never import it); a server wires
// it in through the narrow rpcserver.Discovery interface, and a client
// wires it in through rpcclient.DiscoveringClient together with a
// loadbalance.Balancer.
package discovery

// ServiceInstance describes one reachable server for a service name.
type ServiceInstance struct {
	Addr    string
	Weight  int // used by loadbalance's weighted-random picker
	Version string
}

// ServiceRegistry is the full discovery surface: register/deregister an
// instance, list current instances, and watch for changes.
type ServiceRegistry interface {
	Register(serviceName string, instance ServiceInstance, ttlSeconds int64) error
	Deregister(serviceName, addr string) error
	Discover(serviceName string) ([]ServiceInstance, error)
	Watch(serviceName string) <-chan []ServiceInstance
}

// Sidecar adapts a full ServiceRegistry plus a fixed instance description
// (weight, version) down to the narrow two-string-plus-ttl shape
// rpcserver.Discovery expects, so rpcserver never needs to know about
// ServiceInstance.
type Sidecar struct {
	Registry ServiceRegistry
	Instance ServiceInstance
}

// Register publishes addr under serviceName, filling in the Sidecar's
// configured weight/version.
func (s *Sidecar) Register(serviceName, addr string, ttlSeconds int) error {
	inst := s.Instance
	inst.Addr = addr
	return s.Registry.Register(serviceName, inst, int64(ttlSeconds))
}

// Deregister removes addr from serviceName's instance list.
func (s *Sidecar) Deregister(serviceName, addr string) error {
	return s.Registry.Deregister(serviceName, addr)
}
