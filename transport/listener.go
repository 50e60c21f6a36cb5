package transport

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const DefaultBacklog = 512

// Listener is a non-blocking listening socket. The reactor arms its fd for
// read in the epoll set and calls Accept() only when epoll reports it ready.
type Listener struct {
	fd int
}

// Fd returns the listening socket's file descriptor.
func (l *Listener) Fd() int { return l.fd }

// Close closes the listening socket.
func (l *Listener) Close() error { return unix.Close(l.fd) }

// Port returns the bound TCP port, useful when ListenTCP was given port 0
// to let the kernel choose one.
func (l *Listener) Port() (int, error) {
	sa, err := unix.Getsockname(l.fd)
	if err != nil {
		return 0, &IOError{Op: "getsockname", Err: err}
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	default:
		return 0, fmt.Errorf("not a TCP listener")
	}
}

// Accept accepts one pending connection as a non-blocking Conn plus a
// human-readable peer address for logging.
func (l *Listener) Accept() (*Conn, string, error) {
	nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK)
	if err != nil {
		return nil, "", &IOError{Op: "accept4", Err: err}
	}
	return NewConn(nfd), peerAddr(sa), nil
}

func peerAddr(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port)
	case *unix.SockaddrUnix:
		return "unix:" + a.Name
	default:
		return "unknown"
	}
}

// ListenTCP opens a non-blocking TCP v4 listener on the wildcard address at
// the given port, with SO_REUSEADDR set, per spec.md's "TCP v4 on a wildcard
// address" requirement.
func ListenTCP(port int, backlog int) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, &IOError{Op: "socket", Err: err}
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, &IOError{Op: "setsockopt(SO_REUSEADDR)", Err: err}
	}

	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, &IOError{Op: "bind", Err: err}
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, &IOError{Op: "listen", Err: err}
	}
	return &Listener{fd: fd}, nil
}

// ListenUnix opens a non-blocking Unix-domain listener at a filesystem path,
// pre-unlinking any stale socket entry left over from a prior run.
func ListenUnix(path string, backlog int) (*Listener, error) {
	return listenUnixAddr(&unix.SockaddrUnix{Name: path}, path, backlog)
}

// ListenUnixAbstract opens a non-blocking Unix-domain listener in the
// abstract namespace: the kernel identifies these sockets by a name with no
// filesystem backing, addressed with a leading NUL byte.
func ListenUnixAbstract(name string, backlog int) (*Listener, error) {
	return listenUnixAddr(&unix.SockaddrUnix{Name: "\x00" + name}, "", backlog)
}

func listenUnixAddr(addr *unix.SockaddrUnix, unlinkPath string, backlog int) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, &IOError{Op: "socket", Err: err}
	}

	if unlinkPath != "" {
		if err := os.Remove(unlinkPath); err != nil && !os.IsNotExist(err) {
			unix.Close(fd)
			return nil, &IOError{Op: "unlink", Err: err}
		}
	}

	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, &IOError{Op: "bind", Err: err}
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, &IOError{Op: "listen", Err: err}
	}
	return &Listener{fd: fd}, nil
}
