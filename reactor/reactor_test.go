package reactor

import (
	"sync"
	"testing"
	"time"

	"protorpc/connregistry"
	"protorpc/transport"
)

func TestReactorEchoesOneFrame(t *testing.T) {
	l, err := transport.ListenTCP(0, transport.DefaultBacklog)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	port, err := l.Port()
	if err != nil {
		t.Fatalf("Port: %v", err)
	}

	reg := connregistry.New()
	cb := Callbacks{
		OnReadable: func(rec *connregistry.Record) (uint32, error) {
			buf := make([]byte, 4)
			if err := rec.Conn.Recv(buf, time.Now().Add(2*time.Second)); err != nil {
				return 0, err
			}
			if err := rec.Conn.Send(buf, time.Now().Add(2*time.Second)); err != nil {
				return 0, err
			}
			return transport.ReadOneshot, nil
		},
	}
	re, err := New(Config{}, l, reg, cb, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	re.Start()
	defer re.Stop()

	deadline := time.Now().Add(2 * time.Second)
	c, err := transport.DialTCP("127.0.0.1", port, deadline)
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	defer c.Close()

	if err := c.Send([]byte("ping"), deadline); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := make([]byte, 4)
	if err := c.Recv(got, deadline); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(got) != "ping" {
		t.Errorf("echo = %q, want %q", got, "ping")
	}
}

func TestReactorRejectsOverCapacity(t *testing.T) {
	l, err := transport.ListenTCP(0, transport.DefaultBacklog)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	port, err := l.Port()
	if err != nil {
		t.Fatalf("Port: %v", err)
	}

	reg := connregistry.New()
	var mu sync.Mutex
	var closed []error
	cb := Callbacks{
		OnReadable: func(rec *connregistry.Record) (uint32, error) {
			return transport.ReadOneshot, nil
		},
		OnClose: func(rec *connregistry.Record, err error) {
			mu.Lock()
			closed = append(closed, err)
			mu.Unlock()
		},
	}
	re, err := New(Config{MaxConnections: 1}, l, reg, cb, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	re.Start()
	defer re.Stop()

	deadline := time.Now().Add(2 * time.Second)
	first, err := transport.DialTCP("127.0.0.1", port, deadline)
	if err != nil {
		t.Fatalf("DialTCP (first): %v", err)
	}
	defer first.Close()

	second, err := transport.DialTCP("127.0.0.1", port, deadline)
	if err != nil {
		t.Fatalf("DialTCP (second): %v", err)
	}
	defer second.Close()

	// The second connection should be accepted at the TCP level (kernel
	// backlog) and then immediately closed by the reactor once it's past
	// the MaxConnections=1 admission check.
	buf := make([]byte, 1)
	readDeadline := time.Now().Add(2 * time.Second)
	err = second.Recv(buf, readDeadline)
	if err == nil {
		t.Fatalf("expected the over-capacity connection to be closed, got no error")
	}

	time.Sleep(20 * time.Millisecond)
	if reg.Len() != 1 {
		t.Errorf("registry.Len() = %d, want 1 (only the admitted connection)", reg.Len())
	}
}

func TestReactorIdleSweepClosesStaleConnections(t *testing.T) {
	l, err := transport.ListenTCP(0, transport.DefaultBacklog)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	port, err := l.Port()
	if err != nil {
		t.Fatalf("Port: %v", err)
	}

	reg := connregistry.New()
	closedCh := make(chan error, 1)
	cb := Callbacks{
		OnReadable: func(rec *connregistry.Record) (uint32, error) {
			return transport.ReadOneshot, nil
		},
		OnClose: func(rec *connregistry.Record, err error) {
			closedCh <- err
		},
	}
	re, err := New(Config{IdleTimeout: 20 * time.Millisecond, SweepInterval: 10 * time.Millisecond, WaitTimeoutMs: 10}, l, reg, cb, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	re.Start()
	defer re.Stop()

	deadline := time.Now().Add(2 * time.Second)
	c, err := transport.DialTCP("127.0.0.1", port, deadline)
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	defer c.Close()

	select {
	case <-closedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("idle connection was never swept")
	}
}
