package wire

import (
	"bytes"
	"net"
	"testing"
	"time"
)

// pipeConn adapts a net.Conn (from net.Pipe) to the wire.conn interface so
// frame round-trips can be tested without a real socket.
type pipeConn struct{ net.Conn }

func (p pipeConn) Send(buf []byte, deadline time.Time) error {
	_, err := p.Write(buf)
	return err
}

func (p pipeConn) Recv(buf []byte, deadline time.Time) error {
	_, err := readFull(p.Conn, buf)
	return err
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestFrameRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte("hello world"),
		[]byte(""),
		bytes.Repeat([]byte{0xAB}, 4096),
	}

	for _, body := range cases {
		server, client := net.Pipe()
		done := make(chan struct{})

		go func() {
			defer close(done)
			if err := SendData(pipeConn{server}, REQ, body, time.Time{}); err != nil {
				t.Errorf("SendData: %v", err)
			}
		}()

		got, err := RecvData(pipeConn{client}, REQ, time.Time{})
		if err != nil {
			t.Fatalf("RecvData: %v", err)
		}
		<-done

		if !bytes.Equal(got, body) && !(len(got) == 0 && len(body) == 0) {
			t.Errorf("round trip mismatch: got %q want %q", got, body)
		}
	}
}

func TestRecvCodeMismatch(t *testing.T) {
	server, client := net.Pipe()
	go func() {
		SendCode(pipeConn{server}, NACK, time.Time{})
	}()

	err := RecvCode(pipeConn{client}, ACK, time.Time{})
	if err == nil {
		t.Fatal("expected mismatch error")
	}
	mismatch, ok := err.(*ProtocolMismatchError)
	if !ok {
		t.Fatalf("expected *ProtocolMismatchError, got %T: %v", err, err)
	}
	if mismatch.Got != NACK || mismatch.Want != ACK {
		t.Errorf("unexpected mismatch fields: %+v", mismatch)
	}
}

func TestCodeString(t *testing.T) {
	if ACK.String() != "ACK" {
		t.Errorf("ACK.String() = %q", ACK.String())
	}
	if Code(9999).String() == "" {
		t.Errorf("expected non-empty string for unknown code")
	}
}
