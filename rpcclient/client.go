// Package rpcclient implements the synchronous call sequencer: a single
// connection speaking the REQ_NAME/ACK-NACK/REQ/METADATA/RESP/ERR exchange
// with a deadline recomputed at every step (spec.md §4.8).
package rpcclient

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"protorpc/codec"
	"protorpc/transport"
	"protorpc/wire"
)

// DefaultTimeoutMs is the suggested per-call timeout when a caller has no
// sharper requirement (spec.md §6).
const DefaultTimeoutMs = 5000

// oneHourMs is what a timeout of 0 (or any negative value) normalizes to
// (spec.md §3).
const oneHourMs = 3600_000

// Client owns a single connection. The design assumes single-threaded use
// per instance (spec.md §5); the mutex below is a cheap defensive measure
// against interleaved frames if a caller shares one across goroutines
// anyway, not a feature the protocol depends on.
type Client struct {
	mu   sync.Mutex
	conn *transport.Conn
}

// Dial opens a connection over the named transport ("tcp", "unix", or
// "unix-abstract") within deadline.
func Dial(network, addr string, deadline time.Time) (*Client, error) {
	conn, err := dial(network, addr, deadline)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func dial(network, addr string, deadline time.Time) (*transport.Conn, error) {
	switch network {
	case "tcp":
		host, port, err := splitHostPort(addr)
		if err != nil {
			return nil, err
		}
		return transport.DialTCP(host, port, deadline)
	case "unix":
		return transport.DialUnix(addr, deadline)
	case "unix-abstract":
		return transport.DialUnixAbstract(addr, deadline)
	default:
		return nil, fmt.Errorf("rpcclient: unknown network %q", network)
	}
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("rpcclient: invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("rpcclient: invalid address %q: %w", addr, err)
	}
	return host, port, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call runs the full eight-step call sequence and decodes the response.
// timeoutMs of 0 is normalized to one hour, matching the server's own
// zero-value-deadline-means-forever convention in the transport layer. On
// any error other than a NACK or a server-reported failure, Call closes c's
// connection itself — per spec.md §4.8, only those two outcomes leave the
// socket in a reusable state.
//
// Call is a package-level function, not a Client method, because Go
// methods cannot carry their own type parameters.
func Call[Req, Resp any](c *Client, reqName string, mc codec.MessageCodec, req *Req, md map[string]string, timeoutMs int) (*Resp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := callOnConn[Req, Resp](c.conn, reqName, mc, req, md, timeoutMs)
	if err != nil && !isReusableErr(err) {
		c.conn.Close()
	}
	return resp, err
}

// isReusableErr reports whether err leaves the connection it occurred on
// still usable: a NACK or a definitive server-side failure both mean the
// peer answered in-protocol and is ready for the next REQ_NAME.
func isReusableErr(err error) bool {
	var nackErr *NackError
	var serverErr *ServerError
	return errors.As(err, &nackErr) || errors.As(err, &serverErr)
}

// callOnConn runs the eight-step call sequence over an already-connected
// conn and decodes the response, without ever closing conn itself — the
// caller (Call, or the pooled DiscoverAndCall path) owns that decision,
// since a pooled connection's lifecycle belongs to its ConnPool.
func callOnConn[Req, Resp any](conn *transport.Conn, reqName string, mc codec.MessageCodec, req *Req, md map[string]string, timeoutMs int) (*Resp, error) {
	if timeoutMs <= 0 {
		timeoutMs = oneHourMs
	}
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)

	reqBytes, err := mc.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: encode request: %w", err)
	}

	// Every step below reuses the same absolute deadline: transport.Conn's
	// Send/Recv already recompute their own remaining-time budget from
	// "now" on each blocking wait, which is exactly the "remaining =
	// deadline - now" recomputation the original call sequencer performs
	// between steps — no separate bookkeeping needed here.
	if err := wire.SendData(conn, wire.REQ_NAME, []byte(reqName), deadline); err != nil {
		return nil, err
	}

	code, err := wire.RecvAnyCode(conn, deadline)
	if err != nil {
		return nil, err
	}
	if code == wire.NACK {
		errBytes, err := wire.RecvData(conn, wire.ERR, deadline)
		if err != nil {
			return nil, err
		}
		return nil, &NackError{Message: string(errBytes)}
	}
	if code != wire.ACK {
		return nil, &wire.ProtocolMismatchError{Got: code, Want: wire.ACK}
	}

	if err := wire.SendData(conn, wire.REQ, reqBytes, deadline); err != nil {
		return nil, err
	}
	if err := wire.SendMetadata(conn, md, deadline); err != nil {
		return nil, err
	}

	respBytes, err := wire.RecvData(conn, wire.RESP, deadline)
	if err != nil {
		return nil, err
	}
	errBytes, err := wire.RecvData(conn, wire.ERR, deadline)
	if err != nil {
		return nil, err
	}
	if len(errBytes) > 0 {
		return nil, &ServerError{Message: string(errBytes)}
	}

	var resp Resp
	if err := mc.Unmarshal(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("rpcclient: decode response: %w", err)
	}
	return &resp, nil
}
