package connregistry

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"protorpc/transport"
)

func fakeConn(t *testing.T) (*transport.Conn, func()) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	a := transport.NewConn(fds[0])
	b := transport.NewConn(fds[1])
	return a, func() { b.Close() }
}

func TestInsertGetErase(t *testing.T) {
	c, closePeer := fakeConn(t)
	defer closePeer()
	defer c.Close()

	r := New()
	rec := r.Insert(c.Fd(), c)
	if rec.ID != 1 {
		t.Errorf("first record ID = %d, want 1", rec.ID)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	got := r.Get(c.Fd())
	if got != rec {
		t.Errorf("Get returned a different record than Insert produced")
	}

	erased := r.Erase(c.Fd())
	if erased != rec {
		t.Errorf("Erase returned a different record than Insert produced")
	}
	if r.Get(c.Fd()) != nil {
		t.Errorf("Get after Erase should return nil")
	}
	if r.Len() != 0 {
		t.Errorf("Len() after Erase = %d, want 0", r.Len())
	}
}

func TestEraseTwiceIsIdempotent(t *testing.T) {
	c, closePeer := fakeConn(t)
	defer closePeer()
	defer c.Close()

	r := New()
	r.Insert(c.Fd(), c)

	if r.Erase(c.Fd()) == nil {
		t.Fatal("first Erase should return the record")
	}
	if r.Erase(c.Fd()) != nil {
		t.Error("second Erase of the same fd should return nil")
	}
}

func TestIdleSinceCollectsOnlyStaleRecords(t *testing.T) {
	fresh, closeFresh := fakeConn(t)
	defer closeFresh()
	defer fresh.Close()
	stale, closeStale := fakeConn(t)
	defer closeStale()
	defer stale.Close()

	r := New()
	staleRec := r.Insert(stale.Fd(), stale)
	freshRec := r.Insert(fresh.Fd(), fresh)

	cutoff := time.Now()
	time.Sleep(5 * time.Millisecond)
	freshRec.Touch()

	idle := r.IdleSince(cutoff)
	if len(idle) != 1 || idle[0] != staleRec {
		t.Errorf("IdleSince(%v) = %v, want only the untouched record", cutoff, idle)
	}
}

func TestAllReturnsEverySnapshot(t *testing.T) {
	r := New()
	var conns []*transport.Conn
	for i := 0; i < 3; i++ {
		c, closePeer := fakeConn(t)
		defer closePeer()
		defer c.Close()
		conns = append(conns, c)
		r.Insert(c.Fd(), c)
	}

	if got := len(r.All()); got != 3 {
		t.Errorf("All() returned %d records, want 3", got)
	}
}
