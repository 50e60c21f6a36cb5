package wire

import (
	"encoding/binary"
	"fmt"
	"time"

	"protorpc/transport"
)

// ProtocolMismatchError reports that a received control code did not match
// what the protocol state machine expected at this point.
type ProtocolMismatchError struct {
	Got, Want Code
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("received %s (%d) instead of %s (%d)", e.Got, uint32(e.Got), e.Want, uint32(e.Want))
}

// conn is the minimal socket surface wire needs: deadline-bound, fully
// blocking (until deadline) Send/Recv of an exact byte count. transport.Conn
// satisfies it.
type conn interface {
	Send(buf []byte, deadline time.Time) error
	Recv(buf []byte, deadline time.Time) error
}

var _ conn = (*transport.Conn)(nil)

// SendCode writes a bare 4-byte control frame.
func SendCode(c conn, code Code, deadline time.Time) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(code))
	return c.Send(buf[:], deadline)
}

// RecvCode reads a bare 4-byte control frame and validates it against
// expected, returning *ProtocolMismatchError if it differs.
func RecvCode(c conn, expected Code, deadline time.Time) error {
	got, err := recvRawCode(c, deadline)
	if err != nil {
		return err
	}
	if got != expected {
		return &ProtocolMismatchError{Got: got, Want: expected}
	}
	return nil
}

// RecvAnyCode reads a bare 4-byte control frame without validating it,
// returning the raw code so the caller can branch (e.g. ACK vs NACK).
func RecvAnyCode(c conn, deadline time.Time) (Code, error) {
	return recvRawCode(c, deadline)
}

func recvRawCode(c conn, deadline time.Time) (Code, error) {
	var buf [4]byte
	if err := c.Recv(buf[:], deadline); err != nil {
		return 0, err
	}
	return Code(binary.BigEndian.Uint32(buf[:])), nil
}

func sendUint32(c conn, v uint32, deadline time.Time) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return c.Send(buf[:], deadline)
}

func recvUint32(c conn, deadline time.Time) (uint32, error) {
	var buf [4]byte
	if err := c.Recv(buf[:], deadline); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// SendData writes code, then a u32 length, then the payload itself (the
// payload write is skipped entirely when len(data) == 0, though the length
// field is always sent).
func SendData(c conn, code Code, data []byte, deadline time.Time) error {
	if err := SendCode(c, code, deadline); err != nil {
		return err
	}
	if err := sendUint32(c, uint32(len(data)), deadline); err != nil {
		return err
	}
	if len(data) > 0 {
		if err := c.Send(data, deadline); err != nil {
			return err
		}
	}
	return nil
}

// RecvData reads a data frame whose code must equal expected, returning its
// payload. A zero-length payload is valid and returns a non-nil empty slice.
func RecvData(c conn, expected Code, deadline time.Time) ([]byte, error) {
	if err := RecvCode(c, expected, deadline); err != nil {
		return nil, err
	}
	length, err := recvUint32(c, deadline)
	if err != nil {
		return nil, err
	}
	data := make([]byte, length)
	if length > 0 {
		if err := c.Recv(data, deadline); err != nil {
			return nil, err
		}
	}
	return data, nil
}
