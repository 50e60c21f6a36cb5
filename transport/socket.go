package transport

import (
	"time"

	"golang.org/x/sys/unix"
)

// Conn is a single raw, non-blocking stream socket (TCP or Unix-domain).
// All reads and writes on the underlying fd go through golang.org/x/sys/unix
// directly rather than net.Conn: the reactor needs one-shot epoll arming on
// this exact fd, and net.Conn hides the fd behind its own internal poller.
type Conn struct {
	fd int
}

// NewConn wraps an already-connected, non-blocking fd.
func NewConn(fd int) *Conn { return &Conn{fd: fd} }

// Fd returns the underlying file descriptor.
func (c *Conn) Fd() int { return c.fd }

// Close closes the underlying fd.
func (c *Conn) Close() error { return unix.Close(c.fd) }

// Recv reads exactly len(buf) bytes, waiting for readiness with the
// remaining time to deadline on every iteration. A zero deadline blocks
// forever — the policy the connection state machine's workers rely on,
// since they already monopolize the fd via one-shot arming.
func (c *Conn) Recv(buf []byte, deadline time.Time) error {
	var total int
	for total < len(buf) {
		if err := c.waitReadable(deadline); err != nil {
			return err
		}

		n, err := unix.Read(c.fd, buf[total:])
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return &IOError{Op: "read", Err: err}
		}
		if n == 0 {
			if total == 0 {
				return ErrNotConnected
			}
			return ErrConnectionReset
		}
		total += n
	}
	return nil
}

// Send writes exactly len(buf) bytes, waiting for writability with the
// remaining time to deadline on every iteration.
func (c *Conn) Send(buf []byte, deadline time.Time) error {
	var total int
	for total < len(buf) {
		if err := c.waitWritable(deadline); err != nil {
			return err
		}

		n, err := unix.Write(c.fd, buf[total:])
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			if err == unix.EPIPE || err == unix.ECONNRESET {
				return ErrConnectionReset
			}
			return &IOError{Op: "write", Err: err}
		}
		total += n
	}
	return nil
}

func (c *Conn) waitReadable(deadline time.Time) error {
	return c.wait(unix.POLLIN, deadline)
}

func (c *Conn) waitWritable(deadline time.Time) error {
	return c.wait(unix.POLLOUT, deadline)
}

// wait blocks until the fd is ready for the given event or the deadline
// elapses. EINTR does not consume the deadline beyond the time actually
// spent; it simply re-polls with the recomputed remaining time.
func (c *Conn) wait(events int16, deadline time.Time) error {
	for {
		timeoutMs := -1
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return ErrTimeout
			}
			timeoutMs = int(remaining.Milliseconds())
			if timeoutMs == 0 {
				timeoutMs = 1
			}
		}

		fds := []unix.PollFd{{Fd: int32(c.fd), Events: events}}
		n, err := unix.Poll(fds, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return &IOError{Op: "poll", Err: err}
		}
		if n == 0 {
			return ErrTimeout
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 && fds[0].Revents&events == 0 {
			return ErrConnectionReset
		}
		return nil
	}
}
