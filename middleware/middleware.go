// Package middleware provides cross-cutting wrappers around a bound
// handler: logging and rate limiting on the server side, retry on the
// client side.
package middleware

import "protorpc/rpcserver"

// Chain composes multiple server-side middlewares into one, applied in
// the order given: the first middleware runs outermost.
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//	Execution order: A.before → B.before → C.before → handler → C.after → B.after → A.after
func Chain(middlewares ...rpcserver.Middleware) rpcserver.Middleware {
	return func(next rpcserver.HandlerFunc) rpcserver.HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
