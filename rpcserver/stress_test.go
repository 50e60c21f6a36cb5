package rpcserver

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"protorpc/codec"
	"protorpc/rpcclient"
)

func openFdCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("cannot read /proc/self/fd: %v", err)
	}
	return len(entries)
}

// TestS3StressAbstractSocketNoDescriptorLeak drives many concurrent callers
// against a single server over an abstract-namespace Unix socket and checks
// the process's open-descriptor count returns to baseline afterward
// (spec.md §8 S3).
func TestS3StressAbstractSocketNoDescriptorLeak(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in -short mode")
	}

	srv := NewServer(Config{ThreadsCount: 8}, zap.NewNop())
	if err := Bind(srv.Handlers(), "stress.Ping", codec.JSONCodec{}, func(ctx *Context, req *testPingRequest) (*testPingResponse, error) {
		return &testPingResponse{Msg: "Pong:" + req.From}, nil
	}); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	sockName := fmt.Sprintf("protorpc-stress-%d", time.Now().UnixNano())
	if err := srv.Start("unix-abstract", sockName); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)

	const goroutines = 20
	const callsPerGoroutine = 50

	baseline := openFdCount(t)

	var wg sync.WaitGroup
	errCh := make(chan error, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			c, err := rpcclient.Dial("unix-abstract", sockName, time.Now().Add(5*time.Second))
			if err != nil {
				errCh <- fmt.Errorf("goroutine %d: Dial: %w", g, err)
				return
			}
			defer c.Close()

			for i := 0; i < callsPerGoroutine; i++ {
				resp, err := rpcclient.Call[testPingRequest, testPingResponse](c, "stress.Ping", codec.JSONCodec{},
					&testPingRequest{From: fmt.Sprintf("g%d-%d", g, i)}, nil, 3000)
				if err != nil {
					errCh <- fmt.Errorf("goroutine %d call %d: %w", g, i, err)
					return
				}
				if resp.Msg == "" {
					errCh <- fmt.Errorf("goroutine %d call %d: empty response", g, i)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}

	// Give the server a moment to finish tearing down closed connections
	// before taking the post-run descriptor count.
	time.Sleep(100 * time.Millisecond)
	after := openFdCount(t)
	if after > baseline+2 {
		t.Errorf("open descriptor count after stress run = %d, baseline = %d: possible leak", after, baseline)
	}
}
