package middleware

import (
	"golang.org/x/time/rate"

	"protorpc/rpcserver"
)

// RateLimitMiddleware gates handler dispatch with a token bucket. This is
// per-request admission control above the already-dispatched state
// machine, not wire-level flow control — the protocol itself has no
// backpressure signal, per spec.md's non-goals. A denied request still
// gets a normal RESP/ERR exchange; it just carries an error instead of
// reaching the bound handler.
func RateLimitMiddleware(r float64, burst int) rpcserver.Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next rpcserver.HandlerFunc) rpcserver.HandlerFunc {
		return func(ctx *rpcserver.Context, reqBytes []byte) []byte {
			if !limiter.Allow() {
				ctx.SetError("rate limit exceeded")
				return []byte{}
			}
			return next(ctx, reqBytes)
		}
	}
}
