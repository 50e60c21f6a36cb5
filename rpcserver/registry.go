package rpcserver

import (
	"fmt"
	"sync"

	"protorpc/codec"
)

// HandlerFunc is the uniform shape every bound handler is adapted to: it
// consumes the raw request payload and a Context, and produces the raw
// response payload. Decode/encode around the user's typed callback happens
// in the adapter Bind builds (spec.md §4.7, §9 "dynamic dispatch of typed
// handlers").
type HandlerFunc func(ctx *Context, reqBytes []byte) []byte

// Registry maps a request type name to its bound handler. Binding only
// happens during server setup; Freeze makes it read-only thereafter.
// Lookups still take the registry mutex.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	frozen   bool
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

func (r *Registry) bind(name string, fn HandlerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("rpcserver: cannot register %q after the server has started", name)
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("rpcserver: request name %q is already registered", name)
	}
	r.handlers[name] = fn
	return nil
}

// Freeze forbids further registration. Called once by Server.Start.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// lookup returns the handler bound to name, or the exact not-found message
// the wire protocol sends back to the client on NACK.
func (r *Registry) lookup(name string) (HandlerFunc, string) {
	r.mu.Lock()
	fn, ok := r.handlers[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Sprintf("Unknown request: '%s'", name)
	}
	return fn, ""
}

// Bind registers a typed handler for reqName. It is a package-level
// function rather than a Registry method because Go methods cannot carry
// their own type parameters. The returned adapter decodes the request with
// mc, invokes fn, and encodes the response, mapping decode/encode failures
// to the exact historical error strings this protocol has always used.
func Bind[Req, Resp any](reg *Registry, reqName string, mc codec.MessageCodec, fn func(ctx *Context, req *Req) (*Resp, error)) error {
	adapter := func(ctx *Context, reqBytes []byte) []byte {
		var req Req
		if err := mc.Unmarshal(reqBytes, &req); err != nil {
			ctx.SetError("Failed to read protobuf request message")
			return []byte{}
		}

		resp, err := fn(ctx, &req)
		if err != nil {
			ctx.SetError(err.Error())
			return []byte{}
		}

		respBytes, err := mc.Marshal(resp)
		if err != nil {
			ctx.SetError("Failed to write protobuf response message")
			return []byte{}
		}
		return respBytes
	}
	return reg.bind(reqName, adapter)
}
