package transport

import "golang.org/x/sys/unix"

// Readiness event masks used when arming a descriptor. EventOneshot is
// always combined with EventRead: the collapsed per-invocation state
// machine (rpcserver.onReadable) never arms a descriptor for writability
// separately, since transport.Conn.Send already blocks internally on its
// own poll-based wait — there is only ever one re-arm mask, ReadOneshot
// (spec.md §4.3).
const (
	EventRead     = unix.EPOLLIN
	EventRDHUP    = unix.EPOLLRDHUP
	EventOneshot  = unix.EPOLLONESHOT
	ReadOneshot   = EventRead | EventRDHUP | EventOneshot
	ListenerEvent = EventRead
)

// Epoll wraps a single epoll instance. It is safe for concurrent Add/Mod/Del
// calls from multiple goroutines; Linux serializes epoll_ctl internally, and
// the one-shot arming discipline above it ensures callers never race on the
// same descriptor.
type Epoll struct {
	fd int
}

// NewEpoll creates a fresh epoll instance (the "readiness-notification set"
// of spec.md §4.3).
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, &IOError{Op: "epoll_create1", Err: err}
	}
	return &Epoll{fd: fd}, nil
}

// Close closes the epoll instance.
func (e *Epoll) Close() error { return unix.Close(e.fd) }

// Add registers fd for the given event mask.
func (e *Epoll) Add(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return &IOError{Op: "epoll_ctl(ADD)", Err: err}
	}
	return nil
}

// Mod re-arms fd for the given event mask. The reactor calls it with the
// mask its OnReadable callback returns (ReadOneshot) after each cycle.
func (e *Epoll) Mod(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return &IOError{Op: "epoll_ctl(MOD)", Err: err}
	}
	return nil
}

// Del removes fd from the set. Called instead of re-arming when a worker
// tears a connection down.
func (e *Epoll) Del(fd int) error {
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return &IOError{Op: "epoll_ctl(DEL)", Err: err}
	}
	return nil
}

// Wait blocks up to timeoutMs for up to len(events) ready descriptors,
// returning the events actually observed. EINTR is retried transparently.
func (e *Epoll) Wait(events []unix.EpollEvent, timeoutMs int) ([]unix.EpollEvent, error) {
	for {
		n, err := unix.EpollWait(e.fd, events, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, &IOError{Op: "epoll_wait", Err: err}
		}
		return events[:n], nil
	}
}
