package transport

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// DialTCP opens a non-blocking TCP connection to host:port, waiting up to
// deadline for the connect to complete.
func DialTCP(host string, port int, deadline time.Time) (*Conn, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, &IOError{Op: "socket", Err: err}
	}

	ip, err := parseIPv4(host)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	addr := &unix.SockaddrInet4{Port: port, Addr: ip}
	return finishDial(fd, unix.Connect(fd, addr), deadline)
}

// DialUnix opens a non-blocking connection to a Unix-domain socket at a
// filesystem path.
func DialUnix(path string, deadline time.Time) (*Conn, error) {
	return dialUnixAddr(&unix.SockaddrUnix{Name: path}, deadline)
}

// DialUnixAbstract opens a non-blocking connection to an abstract-namespace
// Unix-domain socket.
func DialUnixAbstract(name string, deadline time.Time) (*Conn, error) {
	return dialUnixAddr(&unix.SockaddrUnix{Name: "\x00" + name}, deadline)
}

func dialUnixAddr(addr *unix.SockaddrUnix, deadline time.Time) (*Conn, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, &IOError{Op: "socket", Err: err}
	}
	return finishDial(fd, unix.Connect(fd, addr), deadline)
}

func finishDial(fd int, connectErr error, deadline time.Time) (*Conn, error) {
	c := NewConn(fd)
	if connectErr == nil {
		return c, nil
	}
	if connectErr != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, &IOError{Op: "connect", Err: connectErr}
	}

	if err := c.waitWritable(deadline); err != nil {
		unix.Close(fd)
		return nil, err
	}

	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		unix.Close(fd)
		return nil, &IOError{Op: "getsockopt(SO_ERROR)", Err: err}
	}
	if errno != 0 {
		unix.Close(fd)
		return nil, &IOError{Op: "connect", Err: unix.Errno(errno)}
	}
	return c, nil
}

func parseIPv4(host string) ([4]byte, error) {
	var out [4]byte
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip4", host)
		if err != nil {
			return out, &IOError{Op: "inet_pton", Err: fmt.Errorf("invalid address %q", host)}
		}
		ip = resolved.IP
	}
	v4 := ip.To4()
	if v4 == nil {
		return out, &IOError{Op: "inet_pton", Err: fmt.Errorf("%q is not an IPv4 address", host)}
	}
	copy(out[:], v4)
	return out, nil
}
