package middleware

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"protorpc/codec"
	"protorpc/rpcclient"
	"protorpc/transport"
)

// RetryCall dials a fresh connection and calls reqName, retrying with
// exponential backoff on transport-level failures (timeout, reset,
// not-connected). A retry always redials: rpcclient.Call closes its socket
// on any error other than a NACK or a server-reported error (spec.md §4.8),
// so reusing the same *Client would just fail again immediately.
//
// RetryCall cannot be a rpcserver.Middleware-shaped wrapper because Call
// carries its own type parameters; Go function values can't be
// re-parameterized after the fact, so retry lives as its own generic entry
// point instead.
//
// A *rpcclient.NackError or *rpcclient.ServerError is never retried: both
// mean the server was reachable and answered definitively.
func RetryCall[Req, Resp any](network, addr string, reqName string, mc codec.MessageCodec, req *Req, md map[string]string, timeoutMs int, maxRetries int, baseDelay time.Duration, log *zap.Logger) (*Resp, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := dialAndCall[Req, Resp](network, addr, reqName, mc, req, md, timeoutMs)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		if attempt < maxRetries {
			if log != nil {
				log.Info("retrying call", zap.String("reqName", reqName), zap.Int("attempt", attempt+1), zap.Error(err))
			}
			time.Sleep(baseDelay * time.Duration(1<<attempt))
		}
	}
	return nil, lastErr
}

func dialAndCall[Req, Resp any](network, addr, reqName string, mc codec.MessageCodec, req *Req, md map[string]string, timeoutMs int) (*Resp, error) {
	ms := timeoutMs
	if ms <= 0 {
		ms = rpcclient.DefaultTimeoutMs
	}
	c, err := rpcclient.Dial(network, addr, time.Now().Add(time.Duration(ms)*time.Millisecond))
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return rpcclient.Call[Req, Resp](c, reqName, mc, req, md, timeoutMs)
}

func isRetryable(err error) bool {
	return errors.Is(err, transport.ErrTimeout) ||
		errors.Is(err, transport.ErrConnectionReset) ||
		errors.Is(err, transport.ErrNotConnected)
}
