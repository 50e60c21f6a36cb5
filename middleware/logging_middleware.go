package middleware

import (
	"time"

	"go.uber.org/zap"

	"protorpc/rpcserver"
)

// LoggingMiddleware logs request size, duration, and the trailing ERR
// string (if any) around every dispatched handler invocation.
func LoggingMiddleware(log *zap.Logger) rpcserver.Middleware {
	return func(next rpcserver.HandlerFunc) rpcserver.HandlerFunc {
		return func(ctx *rpcserver.Context, reqBytes []byte) []byte {
			start := time.Now()
			respBytes := next(ctx, reqBytes)
			duration := time.Since(start)

			if ctx.Err() != "" {
				log.Info("request failed",
					zap.Duration("duration", duration),
					zap.Int("reqBytes", len(reqBytes)),
					zap.String("error", ctx.Err()))
			} else {
				log.Debug("request completed",
					zap.Duration("duration", duration),
					zap.Int("reqBytes", len(reqBytes)),
					zap.Int("respBytes", len(respBytes)))
			}
			return respBytes
		}
	}
}
